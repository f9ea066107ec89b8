// Package stitch stitches a collection of 2D or 3D grayscale image tiles
// into a single mosaic given only approximate tile positions. It infers
// pairwise translations via frequency-domain phase correlation, globally
// reconciles all pairwise shifts into one consistent set of absolute tile
// offsets, and composes the aligned tiles into an output volume.
package stitch

import (
	"fmt"
	"math"
)

// Mode selects whether the pipeline operates on 2D or 3D tiles.
type Mode string

const (
	Mode2D Mode = "2d"
	Mode3D Mode = "3d"
)

// Dims returns the number of spatial axes for the mode (2 or 3).
func (m Mode) Dims() int {
	if m == Mode3D {
		return 3
	}
	return 2
}

// Valid reports whether m is a recognised mode.
func (m Mode) Valid() bool {
	return m == Mode2D || m == Mode3D
}

// Vec is a fixed-size coordinate used for both integer and real values
// across 2D and 3D pipelines. Unused trailing axes are zero.
type Vec [3]float64

// IVec is the integer analogue of Vec, used for tile extents and origins.
type IVec [3]int

// Add returns the elementwise sum of two vectors.
func (v Vec) Add(o Vec) Vec {
	return Vec{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Sub returns the elementwise difference v - o.
func (v Vec) Sub(o Vec) Vec {
	return Vec{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Scale returns v scaled elementwise by s.
func (v Vec) Scale(s float64) Vec {
	return Vec{v[0] * s, v[1] * s, v[2] * s}
}

// Norm returns the Euclidean norm of v restricted to the first dims axes.
func (v Vec) Norm(dims int) float64 {
	sum := 0.0
	for i := 0; i < dims; i++ {
		sum += v[i] * v[i]
	}
	return math.Sqrt(sum)
}

// Tile is a dense in-memory grayscale image, 2D or 3D, held as a flat
// single-precision sample buffer in row-major (then plane-major for 3D)
// order.
type Tile struct {
	Width, Height, Depth int // Depth is 1 for 2D tiles.
	Data                 []float32
	Min, Max             float32
}

// Dims reports 2 or 3 depending on whether the tile has depth > 1 content,
// but callers should prefer the pipeline Mode for this decision; Dims here
// only reflects the physical buffer shape.
func (t *Tile) Dims() int {
	if t.Depth > 1 {
		return 3
	}
	return 2
}

// Extent returns the tile's (Width, Height, Depth) as an IVec, exactly as
// stored; 2D tiles carry Depth==1.
func (t *Tile) Extent() IVec {
	return IVec{t.Width, t.Height, t.Depth}
}

// At returns the sample at (x,y,z). For 2D tiles (Depth==1) z must be 0.
func (t *Tile) At(x, y, z int) float32 {
	idx := (z*t.Height+y)*t.Width + x
	return t.Data[idx]
}

// Set stores a sample at (x,y,z).
func (t *Tile) Set(x, y, z int, v float32) {
	idx := (z*t.Height+y)*t.Width + x
	t.Data[idx] = v
}

// TileHandle identifies a 3D tile's backing file without holding its pixel
// data resident. It is a reader identifier, not a pointer: handles are
// cheap to copy and ImageStore.ReadTile materialises a transient Tile on demand.
type TileHandle struct {
	Path                 string
	Width, Height, Depth int
	Min, Max             float32
}

func (h TileHandle) String() string {
	return fmt.Sprintf("%s[%dx%dx%d]", h.Path, h.Width, h.Height, h.Depth)
}

// LayoutBox is an axis-aligned integer box (rectangle in 2D, cuboid in 3D)
// giving a tile's approximate placement in the mosaic's coordinate frame.
type LayoutBox struct {
	Origin IVec
	Extent IVec
}

// Center returns the real-valued center of the box over dims axes.
func (b LayoutBox) Center(dims int) Vec {
	var c Vec
	for i := 0; i < dims; i++ {
		c[i] = float64(b.Origin[i]) + float64(b.Extent[i])/2
	}
	return c
}

// PairObservation is one inferred pairwise shift between tiles i and j,
// i<j, as produced by the Aligner and consumed/mutated (validity only) by
// the Solver.
type PairObservation struct {
	I, J   int
	Shift  Vec // mov - ref, in tile-local axes
	Weight float64
	Valid  bool
	Prior  bool // true for synthetic subgraph-merge edges
}

// Mirror returns the (J,I) observation implied by symmetry: negated shift,
// same weight and validity.
func (p PairObservation) Mirror() PairObservation {
	return PairObservation{I: p.J, J: p.I, Shift: p.Shift.Scale(-1), Weight: p.Weight, Valid: p.Valid, Prior: p.Prior}
}

// Component is a maximal set of tile indices connected by valid pair
// observations, sorted ascending.
type Component []int

// OffsetTable holds, for one component, the absolute real-valued offset of
// each member tile, indexed by tile id (not by position within Component).
type OffsetTable map[int]Vec

// OutputImage is a Fuser result: a dense output canvas for one component.
// Samples8 is populated for 3D output (quantised 8-bit), Samples32 for 2D
// output (single-precision, quantised only at write-out).
type OutputImage struct {
	Extent    IVec
	Samples8  []uint8
	Samples32 []float32
}
