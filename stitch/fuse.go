package stitch

import (
	"fmt"
	"math"
	"sync"
)

// FuseMode selects the blend rule used to combine overlapping tile
// samples into one output cell.
type FuseMode string

const (
	FuseOverwrite      FuseMode = "overwrite"
	FuseMin            FuseMode = "min"
	FuseMax            FuseMode = "max"
	FuseAverage        FuseMode = "average"
	FuseLinear         FuseMode = "linear"
	FuseCenterPriority FuseMode = "center-priority"
)

// FuseOptions configures the Fuser.
type FuseOptions struct {
	Mode     FuseMode
	Subpixel bool // when false, sampling collapses to nearest-neighbour
}

// Fuser composes aligned tiles into an output canvas, sampling each tile
// with subpixel bilinear (2D) / trilinear (3D) interpolation and
// combining samples according to the selected blend mode.
type Fuser struct {
	Dims int
	Opts FuseOptions
}

// NewFuser constructs a Fuser.
func NewFuser(dims int, opts FuseOptions) *Fuser {
	return &Fuser{Dims: dims, Opts: opts}
}

// member is one tile placed at a real-valued offset within a component.
type member struct {
	tile   *Tile
	offset Vec
}

// FuseComponent composes every tile in one component into an output
// canvas. The component-wide sample min/max used by the 3D 8-bit
// quantisation path is derived here from the members' own loaded Tile.Min
// /Max (as populated by Codec.Read), never from a caller-supplied value;
// 2D output stays single-precision and is quantised only on write-out.
func (f *Fuser) FuseComponent(members []member) OutputImage {
	extent := canvasExtent(f.Dims, members)
	gmin, gmax := componentMinMax(members)

	n := extent[0] * extent[1]
	if f.Dims == 3 {
		n *= extent[2]
	}

	switch f.Opts.Mode {
	case FuseAverage:
		return f.fuseAverage(members, extent, n, gmin, gmax)
	case FuseLinear:
		return f.fuseLinear(members, extent, n, gmin, gmax)
	case FuseCenterPriority:
		return f.fuseCenterPriority(members, extent, n, gmin, gmax)
	default:
		return f.fuseSimple(members, extent, n, gmin, gmax)
	}
}

// componentMinMax collects the sample range actually present across a
// component's loaded tiles, i.e. the same Tile.Min/Max each codec's Read
// computes from real pixel data.
func componentMinMax(members []member) (gmin, gmax float32) {
	gmin, gmax = 1e30, -1e30
	for _, m := range members {
		if m.tile.Min < gmin {
			gmin = m.tile.Min
		}
		if m.tile.Max > gmax {
			gmax = m.tile.Max
		}
	}
	return gmin, gmax
}

func canvasExtent(dims int, members []member) IVec {
	var ext IVec
	for i := 0; i < dims; i++ {
		ext[i] = 0
	}
	if dims == 2 {
		ext[2] = 1
	}
	for _, m := range members {
		te := m.tile.Extent()
		for i := 0; i < dims; i++ {
			v := int(math.Ceil(m.offset[i])) + te[i]
			if v > ext[i] {
				ext[i] = v
			}
		}
	}
	return ext
}

// sample reads tile t at fractional output-local position p (already
// offset-subtracted so it is tile-local), using 2^dims-tap subpixel
// interpolation, or nearest-neighbour if subpixel is disabled. Floor
// neighbour indices are clamped to tile bounds at 0 and extent-1,
// correcting the original "prev_x wraps to min(1,extent-1)" quirk.
func (f *Fuser) sample(t *Tile, p Vec, ok *bool) float32 {
	ext := t.Extent()
	for i := 0; i < f.Dims; i++ {
		if p[i] < -0.5 || p[i] > float64(ext[i])-0.5 {
			*ok = false
			return 0
		}
	}
	*ok = true

	if !f.Opts.Subpixel {
		x := clampIdx(int(math.Round(p[0])), ext[0])
		y := clampIdx(int(math.Round(p[1])), ext[1])
		z := 0
		if f.Dims == 3 {
			z = clampIdx(int(math.Round(p[2])), ext[2])
		}
		return t.At(x, y, z)
	}

	ix, iy := math.Floor(p[0]), math.Floor(p[1])
	fx, fy := p[0]-ix, p[1]-iy
	x0, x1 := clampIdx(int(ix), ext[0]), clampIdx(int(ix)+1, ext[0])
	y0, y1 := clampIdx(int(iy), ext[1]), clampIdx(int(iy)+1, ext[1])

	if f.Dims == 2 {
		v00 := float64(t.At(x0, y0, 0))
		v10 := float64(t.At(x1, y0, 0))
		v01 := float64(t.At(x0, y1, 0))
		v11 := float64(t.At(x1, y1, 0))
		v0 := v00*(1-fx) + v10*fx
		v1 := v01*(1-fx) + v11*fx
		return float32(v0*(1-fy) + v1*fy)
	}

	iz := math.Floor(p[2])
	fz := p[2] - iz
	z0, z1 := clampIdx(int(iz), ext[2]), clampIdx(int(iz)+1, ext[2])
	v000 := float64(t.At(x0, y0, z0))
	v100 := float64(t.At(x1, y0, z0))
	v010 := float64(t.At(x0, y1, z0))
	v110 := float64(t.At(x1, y1, z0))
	v001 := float64(t.At(x0, y0, z1))
	v101 := float64(t.At(x1, y0, z1))
	v011 := float64(t.At(x0, y1, z1))
	v111 := float64(t.At(x1, y1, z1))

	v00 := v000*(1-fx) + v100*fx
	v10 := v010*(1-fx) + v110*fx
	v01 := v001*(1-fx) + v101*fx
	v11 := v011*(1-fx) + v111*fx
	v0 := v00*(1-fy) + v10*fy
	v1 := v01*(1-fy) + v11*fy
	return float32(v0*(1-fz) + v1*fz)
}

func clampIdx(v, extent int) int {
	if v < 0 {
		return 0
	}
	if v >= extent {
		return extent - 1
	}
	return v
}

func idx3(x, y, z int, ext IVec) int {
	return (z*ext[1]+y)*ext[0] + x
}

// quantize8 maps a sample into [0,255] using the component-wide min/max.
func quantize8(v, gmin, gmax float32) uint8 {
	if gmax <= gmin {
		return 0
	}
	f := (v - gmin) / (gmax - gmin)
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return uint8(math.Round(float64(f) * 255))
}

// fuseSimple implements Overwrite, Min, Max, and Center-priority's
// underlying write (priority handled separately since it needs a weight
// map) — here it backs Overwrite/Min/Max. For 3D output each sample is
// quantised to 8-bit as it is written (Overwrite/Min/Max have no
// precision-sensitive accumulation, so eager quantisation costs nothing
// here, unlike Average/Linear below).
func (f *Fuser) fuseSimple(members []member, extent IVec, n int, gmin, gmax float32) OutputImage {
	out := OutputImage{Extent: extent}
	if f.Dims == 3 {
		out.Samples8 = make([]uint8, n)
	} else {
		out.Samples32 = make([]float32, n)
	}
	written := make([]bool, n)

	for _, m := range members {
		f.walkFootprint(m, extent, func(ox, oy, oz int, v float32, ok bool) {
			if !ok {
				return
			}
			i := idx3(ox, oy, oz, extent)
			switch f.Opts.Mode {
			case FuseMin:
				if written[i] {
					if f.Dims == 3 {
						if quantize8(v, gmin, gmax) < out.Samples8[i] {
							out.Samples8[i] = quantize8(v, gmin, gmax)
						}
					} else if v < out.Samples32[i] {
						out.Samples32[i] = v
					}
				} else {
					f.write(&out, i, v, gmin, gmax)
				}
			case FuseMax:
				if written[i] {
					if f.Dims == 3 {
						if quantize8(v, gmin, gmax) > out.Samples8[i] {
							out.Samples8[i] = quantize8(v, gmin, gmax)
						}
					} else if v > out.Samples32[i] {
						out.Samples32[i] = v
					}
				} else {
					f.write(&out, i, v, gmin, gmax)
				}
			default: // Overwrite: last writer wins, tile order is serial.
				f.write(&out, i, v, gmin, gmax)
			}
			written[i] = true
		})
	}
	return out
}

func (f *Fuser) write(out *OutputImage, i int, v, gmin, gmax float32) {
	if f.Dims == 3 {
		out.Samples8[i] = quantize8(v, gmin, gmax)
	} else {
		out.Samples32[i] = v
	}
}

// fuseAverage builds a counts image in a pre-pass, then accumulates
// incoming/count[idx] per sample so the sum matches the mean without a
// second pass over the data.
func (f *Fuser) fuseAverage(members []member, extent IVec, n int, gmin, gmax float32) OutputImage {
	counts := make([]int, n)
	for _, m := range members {
		f.walkFootprint(m, extent, func(ox, oy, oz int, _ float32, ok bool) {
			if ok {
				counts[idx3(ox, oy, oz, extent)]++
			}
		})
	}

	accum := make([]float64, n)
	for _, m := range members {
		f.walkFootprint(m, extent, func(ox, oy, oz int, v float32, ok bool) {
			if !ok {
				return
			}
			i := idx3(ox, oy, oz, extent)
			c := counts[i]
			if c == 0 {
				return
			}
			accum[i] += float64(v) / float64(c)
		})
	}

	return finalize(f.Dims, extent, accum, gmin, gmax)
}

// fuseLinear builds a per-cell weight-sum image in a pre-pass using
// wi = (minDist(tile,srcPos)+1)^1.5, then accumulates
// incoming*wi/totalWeight per sample.
func (f *Fuser) fuseLinear(members []member, extent IVec, n int, gmin, gmax float32) OutputImage {
	weightSums := make([]float64, n)
	type hit struct {
		idx int
		w   float64
		v   float32
	}
	var hits []hit

	for _, m := range members {
		ext := m.tile.Extent()
		f.walkFootprintSrc(m, extent, func(ox, oy, oz int, src Vec, v float32, ok bool) {
			if !ok {
				return
			}
			w := linearWeight(f.Dims, src, ext)
			i := idx3(ox, oy, oz, extent)
			weightSums[i] += w
			hits = append(hits, hit{idx: i, w: w, v: v})
		})
	}

	accum := make([]float64, n)
	for _, h := range hits {
		total := weightSums[h.idx]
		if total == 0 {
			continue
		}
		accum[h.idx] += float64(h.v) * h.w / total
	}

	return finalize(f.Dims, extent, accum, gmin, gmax)
}

// linearWeight implements wi = (minDist(tile,srcPos)+1)^1.5, with minDist
// the product over axes of (min(src_i, extent_i - src_i - 1) + 1).
func linearWeight(dims int, src Vec, extent IVec) float64 {
	minDist := 1.0
	for i := 0; i < dims; i++ {
		d := math.Min(src[i], float64(extent[i])-src[i]-1)
		minDist *= d + 1
	}
	return math.Pow(minDist+1, 1.5)
}

// fuseCenterPriority retains, per output cell, the best weight seen so
// far (weight defined identically to the linear mode's per-sample
// weight) and writes a sample only when its weight strictly exceeds the
// stored weight. Where two members reach a cell with equal weight, the
// member visited first keeps it; there is no further tie-break.
func (f *Fuser) fuseCenterPriority(members []member, extent IVec, n int, gmin, gmax float32) OutputImage {
	bestWeight := make([]float64, n)
	for i := range bestWeight {
		bestWeight[i] = -1
	}
	accum := make([]float64, n)

	for _, m := range members {
		ext := m.tile.Extent()
		f.walkFootprintSrc(m, extent, func(ox, oy, oz int, src Vec, v float32, ok bool) {
			if !ok {
				return
			}
			w := linearWeight(f.Dims, src, ext)
			i := idx3(ox, oy, oz, extent)
			if w > bestWeight[i] {
				bestWeight[i] = w
				accum[i] = float64(v)
			}
		})
	}
	return finalize(f.Dims, extent, accum, gmin, gmax)
}

func finalize(dims int, extent IVec, accum []float64, gmin, gmax float32) OutputImage {
	out := OutputImage{Extent: extent}
	if dims == 3 {
		out.Samples8 = make([]uint8, len(accum))
		for i, v := range accum {
			out.Samples8[i] = quantize8(float32(v), gmin, gmax)
		}
	} else {
		out.Samples32 = make([]float32, len(accum))
		for i, v := range accum {
			out.Samples32[i] = float32(v)
		}
	}
	return out
}

// walkFootprint visits every output coordinate inside m's clipped
// footprint and invokes fn with the sampled value.
func (f *Fuser) walkFootprint(m member, extent IVec, fn func(ox, oy, oz int, v float32, ok bool)) {
	f.walkFootprintSrc(m, extent, func(ox, oy, oz int, _ Vec, v float32, ok bool) {
		fn(ox, oy, oz, v, ok)
	})
}

// walkFootprintSrc is walkFootprint plus the tile-local source position
// passed through, needed by the weighted blend modes.
func (f *Fuser) walkFootprintSrc(m member, extent IVec, fn func(ox, oy, oz int, src Vec, v float32, ok bool)) {
	te := m.tile.Extent()
	ix := int(math.Floor(m.offset[0]))
	iy := int(math.Floor(m.offset[1]))
	iz := 0
	if f.Dims == 3 {
		iz = int(math.Floor(m.offset[2]))
	}
	loX, hiX := max(0, ix), min(extent[0], ix+te[0]+1)
	loY, hiY := max(0, iy), min(extent[1], iy+te[1]+1)
	loZ, hiZ := 0, 1
	if f.Dims == 3 {
		loZ, hiZ = max(0, iz), min(extent[2], iz+te[2]+1)
	}

	for oz := loZ; oz < hiZ; oz++ {
		for oy := loY; oy < hiY; oy++ {
			for ox := loX; ox < hiX; ox++ {
				var src Vec
				src[0] = float64(ox) - m.offset[0]
				src[1] = float64(oy) - m.offset[1]
				if f.Dims == 3 {
					src[2] = float64(oz) - m.offset[2]
				}
				var ok bool
				v := f.sample(m.tile, src, &ok)
				fn(ox, oy, oz, src, v, ok)
			}
		}
	}
}

// memberSpec names a component member by tile id and placement offset,
// without holding its pixel data, so FuseAllParallel can defer loading
// each tile until the goroutine fusing its component actually needs it.
type memberSpec struct {
	id     int
	offset Vec
}

// FuseAllParallel fuses every component concurrently: each component is
// an independent output canvas, so components run on a bounded worker
// pool with no shared state between them. Within one component,
// FuseComponent itself still walks members serially — acceptable because
// components are usually the dominant source of parallelism in a
// multi-component mosaic; a single oversized 3D component does not yet
// split its z-range across workers. Each worker loads its own component's
// tiles via load just before fusing and lets them go out of scope once
// FuseComponent returns, so at most `workers` components' worth of tiles
// are resident at once rather than every tile in the pipeline.
func FuseAllParallel(f *Fuser, specs [][]memberSpec, load TileLoader, workers int) ([]OutputImage, error) {
	out := make([]OutputImage, len(specs))
	errs := make([]error, len(specs))
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i := range specs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			members := make([]member, len(specs[i]))
			for k, sp := range specs[i] {
				t, err := load(sp.id)
				if err != nil {
					errs[i] = fmt.Errorf("loading tile %d for component %d: %w", sp.id, i, err)
					return
				}
				members[k] = member{tile: t, offset: sp.offset}
			}
			out[i] = f.FuseComponent(members)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
