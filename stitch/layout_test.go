package stitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverlapsRejectsCornerTouchOnly(t *testing.T) {
	a := LayoutBox{Origin: IVec{0, 0, 0}, Extent: IVec{10, 10, 0}}
	b := LayoutBox{Origin: IVec{10, 10, 0}, Extent: IVec{10, 10, 0}}
	assert.False(t, Overlaps(2, a, b), "corner-only contact on both axes must not count as overlap")
}

func TestOverlapsAcceptsEdgeOverlap(t *testing.T) {
	a := LayoutBox{Origin: IVec{0, 0, 0}, Extent: IVec{10, 10, 0}}
	b := LayoutBox{Origin: IVec{5, 0, 0}, Extent: IVec{10, 10, 0}}
	assert.True(t, Overlaps(2, a, b))
}

func TestOverlapsSelfOverlap(t *testing.T) {
	a := LayoutBox{Origin: IVec{3, 4, 0}, Extent: IVec{20, 20, 0}}
	assert.True(t, Overlaps(2, a, a), "a box must always overlap itself")
}

func TestIntersectionSymmetricTiles(t *testing.T) {
	ref := LayoutBox{Origin: IVec{0, 0, 0}, Extent: IVec{100, 100, 0}}
	mov := LayoutBox{Origin: IVec{80, 0, 0}, Extent: IVec{100, 100, 0}}

	refROI, movROI, ok := Intersection(2, ref, mov, IVec{100, 100, 1}, IVec{100, 100, 1}, Vec{0.2, 0.2, 0})
	assert.True(t, ok)
	assert.True(t, refROI.Extent[0] > 0 && refROI.Extent[1] > 0)
	assert.True(t, movROI.Extent[0] > 0 && movROI.Extent[1] > 0)
}

func TestIntersectionNoOverlapFails(t *testing.T) {
	ref := LayoutBox{Origin: IVec{0, 0, 0}, Extent: IVec{10, 10, 0}}
	mov := LayoutBox{Origin: IVec{1000, 1000, 0}, Extent: IVec{10, 10, 0}}
	_, _, ok := Intersection(2, ref, mov, IVec{10, 10, 1}, IVec{10, 10, 1}, Vec{0.2, 0.2, 0})
	assert.False(t, ok)
}

func TestOverlapRatioFullyContained(t *testing.T) {
	a := LayoutBox{Origin: IVec{0, 0, 0}, Extent: IVec{10, 10, 0}}
	b := LayoutBox{Origin: IVec{0, 0, 0}, Extent: IVec{10, 10, 0}}
	assert.InDelta(t, 1.0, OverlapRatio(2, a, b), 1e-9)
}
