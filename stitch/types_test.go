package stitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVecArithmetic(t *testing.T) {
	a := Vec{1, 2, 3}
	b := Vec{4, 5, 6}

	assert.Equal(t, Vec{5, 7, 9}, a.Add(b))
	assert.Equal(t, Vec{-3, -3, -3}, a.Sub(b))
	assert.Equal(t, Vec{2, 4, 6}, a.Scale(2))
}

func TestVecNormRestrictsToDims(t *testing.T) {
	v := Vec{3, 4, 100}
	assert.InDelta(t, 5.0, v.Norm(2), 1e-9)
}

func TestTileAtSet(t *testing.T) {
	tile := &Tile{Width: 3, Height: 2, Depth: 1, Data: make([]float32, 6)}
	tile.Set(1, 1, 0, 42)
	assert.Equal(t, float32(42), tile.At(1, 1, 0))
	assert.Equal(t, IVec{3, 2, 1}, tile.Extent())
}

func TestPairObservationMirror(t *testing.T) {
	o := PairObservation{I: 1, J: 2, Shift: Vec{1, 2, 3}, Weight: 0.9, Valid: true}
	m := o.Mirror()
	assert.Equal(t, 2, m.I)
	assert.Equal(t, 1, m.J)
	assert.Equal(t, Vec{-1, -2, -3}, m.Shift)
	assert.Equal(t, o.Weight, m.Weight)
	assert.True(t, m.Valid)
}

func TestModeDims(t *testing.T) {
	assert.Equal(t, 2, Mode2D.Dims())
	assert.Equal(t, 3, Mode3D.Dims())
	assert.True(t, Mode2D.Valid())
	assert.False(t, Mode("bogus").Valid())
}
