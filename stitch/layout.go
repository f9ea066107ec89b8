package stitch

import (
	"math"

	"github.com/paulmach/orb"
)

// LayoutModel holds the approximate placement of every tile as an
// axis-aligned integer box, parallel-array aligned one-to-one with the
// tile list, and answers overlap and intersection-region queries.
type LayoutModel struct {
	Dims  int
	Boxes []LayoutBox
}

// NewLayoutModel builds a LayoutModel over the given boxes for the given
// dimensionality (2 or 3).
func NewLayoutModel(dims int, boxes []LayoutBox) *LayoutModel {
	return &LayoutModel{Dims: dims, Boxes: boxes}
}

// bound projects a LayoutBox's first two axes to an orb.Bound, the same
// representation geojson_merge.go uses for planar feature extents. The
// third axis, if any, is dropped: orb has no native 3D bound type.
func boundOf(b LayoutBox) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(b.Origin[0]), float64(b.Origin[1])},
		Max: orb.Point{float64(b.Origin[0] + b.Extent[0]), float64(b.Origin[1] + b.Extent[1])},
	}
}

// Overlaps reports whether two boxes intersect on every axis and meet at
// only a single coordinate on at most one axis: corner-only or
// edge-only (single-coordinate) contact on two or more axes counts as
// non-overlapping, matching the LayoutModel.overlaps contract.
func Overlaps(dims int, a, b LayoutBox) bool {
	touchOnly := 0
	for i := 0; i < dims; i++ {
		aLo, aHi := a.Origin[i], a.Origin[i]+a.Extent[i]
		bLo, bHi := b.Origin[i], b.Origin[i]+b.Extent[i]
		lo := max(aLo, bLo)
		hi := min(aHi, bHi)
		if lo > hi {
			return false
		}
		if lo == hi {
			touchOnly++
		}
	}
	return touchOnly <= 1
}

// Intersection computes the expected physical overlap ROI inside each of
// two tiles, given their nominal layout boxes and pixel resolutions
// (which may differ from layout units), per §4.1:
//  1. centers of the two boxes in real coordinates,
//  2. contract the center-to-center displacement by (1-overlapRatio) per
//     axis,
//  3. place a hypothetical moving box at the contracted center,
//  4. clip the intersection of the reference box and the hypothetical
//     moving box against each, rescaled to each tile's own resolution.
//
// Returns (refROI, movROI, ok); ok is false when either ROI is empty after
// clamping.
func Intersection(dims int, refBox, movBox LayoutBox, refExtent, movExtent IVec, overlapRatio Vec) (LayoutBox, LayoutBox, bool) {
	refCenter := refBox.Center(dims)
	movCenter := movBox.Center(dims)

	disp := movCenter.Sub(refCenter)
	var contracted Vec
	for i := 0; i < dims; i++ {
		contracted[i] = disp[i] * (1 - overlapRatio[i])
	}
	hypoCenter := refCenter.Add(contracted)

	var hypoOrigin, hypoExtentF Vec
	for i := 0; i < dims; i++ {
		hypoExtentF[i] = float64(movBox.Extent[i])
		hypoOrigin[i] = hypoCenter[i] - hypoExtentF[i]/2
	}

	// Intersect reference box (in layout space) with the hypothetical
	// moving box (also in layout space).
	var loWorld, hiWorld Vec
	for i := 0; i < dims; i++ {
		refLo := float64(refBox.Origin[i])
		refHi := refLo + float64(refBox.Extent[i])
		movLo := hypoOrigin[i]
		movHi := movLo + hypoExtentF[i]
		loWorld[i] = math.Max(refLo, movLo)
		hiWorld[i] = math.Min(refHi, movHi)
		if loWorld[i] >= hiWorld[i] {
			return LayoutBox{}, LayoutBox{}, false
		}
	}

	refROI := rescaleROI(dims, loWorld, hiWorld, refBox, refExtent)
	movROI := rescaleROIShifted(dims, loWorld, hiWorld, refBox, movBox, hypoOrigin, movExtent)

	if !nonEmpty(dims, refROI) || !nonEmpty(dims, movROI) {
		return LayoutBox{}, LayoutBox{}, false
	}
	return refROI, movROI, true
}

// rescaleROI maps a world-space interval to reference-tile pixel
// coordinates, clamped to [0, extent).
func rescaleROI(dims int, loWorld, hiWorld Vec, box LayoutBox, extent IVec) LayoutBox {
	var roi LayoutBox
	for i := 0; i < dims; i++ {
		scale := float64(extent[i]) / float64(box.Extent[i])
		lo := (loWorld[i] - float64(box.Origin[i])) * scale
		hi := (hiWorld[i] - float64(box.Origin[i])) * scale
		roi.Origin[i], roi.Extent[i] = clampInterval(lo, hi, extent[i])
	}
	return roi
}

// rescaleROIShifted is the moving-tile analogue of rescaleROI: it maps
// the same world-space intersection interval into the moving tile's own
// pixel coordinates, using the hypothetical (contracted) box placement as
// the reference frame for the mapping (the moving tile's true content has
// not itself moved — only the overlap search uses the contracted center).
func rescaleROIShifted(dims int, loWorld, hiWorld Vec, refBox, movBox LayoutBox, hypoOrigin Vec, extent IVec) LayoutBox {
	var roi LayoutBox
	for i := 0; i < dims; i++ {
		scale := float64(extent[i]) / float64(movBox.Extent[i])
		lo := (loWorld[i] - hypoOrigin[i]) * scale
		hi := (hiWorld[i] - hypoOrigin[i]) * scale
		roi.Origin[i], roi.Extent[i] = clampInterval(lo, hi, extent[i])
	}
	return roi
}

func clampInterval(lo, hi float64, bound int) (int, int) {
	loI := int(math.Round(lo))
	hiI := int(math.Round(hi))
	if loI < 0 {
		loI = 0
	}
	if hiI > bound {
		hiI = bound
	}
	if hiI < loI {
		hiI = loI
	}
	return loI, hiI - loI
}

func nonEmpty(dims int, b LayoutBox) bool {
	for i := 0; i < dims; i++ {
		if b.Extent[i] <= 0 {
			return false
		}
	}
	return true
}

// OverlapRatio returns the fraction of the reference box's area/volume
// that the raw (uncontracted) intersection with the moving box covers.
// Occlusion culling ranks candidates by overlapArea instead, and
// subgraph-merge priors use SolverOptions.PriorWeight; neither calls this.
func OverlapRatio(dims int, a, b LayoutBox) float64 {
	overlapVol := 1.0
	aVol := 1.0
	for i := 0; i < dims; i++ {
		aLo, aHi := a.Origin[i], a.Origin[i]+a.Extent[i]
		bLo, bHi := b.Origin[i], b.Origin[i]+b.Extent[i]
		lo := max(aLo, bLo)
		hi := min(aHi, bHi)
		width := hi - lo
		if width < 0 {
			width = 0
		}
		overlapVol *= float64(width)
		aVol *= float64(a.Extent[i])
	}
	if aVol <= 0 {
		return 0
	}
	return overlapVol / aVol
}
