package stitch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignedUnwrap(t *testing.T) {
	extent := IVec{16, 16, 1}
	assert.Equal(t, IVec{3, 0, 0}, signedUnwrap(IVec{3, 0, 0}, 2, extent))
	assert.Equal(t, IVec{-4, 0, 0}, signedUnwrap(IVec{12, 0, 0}, 2, extent))
}

func TestDisambiguateProducesAllReflections(t *testing.T) {
	out := disambiguate(IVec{2, 3, 0}, 2)
	assert.Len(t, out, 4)
	assert.Contains(t, out, IVec{2, 3, 0})
	assert.Contains(t, out, IVec{-2, 3, 0})
	assert.Contains(t, out, IVec{2, -3, 0})
	assert.Contains(t, out, IVec{-2, -3, 0})
}

func TestFindPeaksToroidalWrap(t *testing.T) {
	extent := IVec{8, 8, 1}
	mag := make([]float64, 64)
	mag[0] = 10 // corner peak, wraps to neighbours at the far edges
	mag[5*8+5] = 7

	peaks := findPeaks(mag, 2, extent, 2)
	assert.Len(t, peaks, 2)
	assert.Equal(t, IVec{0, 0, 0}, peaks[0])
	assert.Equal(t, IVec{5, 5, 0}, peaks[1])
}

func TestPearsonScorePerfectMatch(t *testing.T) {
	ref := &Tile{Width: 4, Height: 4, Depth: 1, Data: make([]float32, 16)}
	for i := range ref.Data {
		ref.Data[i] = float32(i)
	}
	r := pearsonScore(ref, ref, Vec{0, 0, 0}, 2)
	assert.InDelta(t, 1.0, r, 1e-9)
}

func TestPearsonScoreRejectsTinyOverlap(t *testing.T) {
	ref := &Tile{Width: 100, Height: 100, Depth: 1, Data: make([]float32, 100*100)}
	mov := &Tile{Width: 100, Height: 100, Depth: 1, Data: make([]float32, 100*100)}
	for i := range ref.Data {
		ref.Data[i] = float32(i)
		mov.Data[i] = float32(i)
	}
	// Shift almost entirely past the tile: overlap is a single 99-sample
	// column, under 1% of the 10000-sample tile.
	r := pearsonScore(ref, mov, Vec{99, 1, 0}, 2)
	assert.Equal(t, 0.0, r)
}

// TestAlignPairRecoversKnownShift builds a reference tile and a moving
// tile that is a cropped, translated copy of it, places them with
// approximately correct layout boxes, and checks that AlignPair recovers
// the known translation within a few pixels.
func TestAlignPairRecoversKnownShift(t *testing.T) {
	const w, h = 64, 64
	ref := &Tile{Width: w, Height: h, Depth: 1, Data: make([]float32, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := math.Sin(float64(x)/3) * math.Cos(float64(y)/5)
			ref.Set(x, y, 0, float32(v*100))
		}
	}

	const dx, dy = 10, 6
	mov := &Tile{Width: w, Height: h, Depth: 1, Data: make([]float32, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := x+dx, y+dy
			var v float32
			if sx < w && sy < h {
				v = ref.At(sx, sy, 0)
			}
			mov.Set(x, y, 0, v)
		}
	}

	layout := NewLayoutModel(2, []LayoutBox{
		{Origin: IVec{0, 0, 0}, Extent: IVec{w, h, 0}},
		{Origin: IVec{dx, dy, 0}, Extent: IVec{w, h, 0}},
	})
	opts := DefaultAlignOptions()
	opts.CorrelationThreshold = 0.1
	aligner := NewAligner(2, layout, opts)

	obs := aligner.AlignPair(0, 1, ref, mov, layout.Boxes[0], layout.Boxes[1])
	assert.True(t, obs.Valid)
	assert.InDelta(t, dx, obs.Shift[0], 2)
	assert.InDelta(t, dy, obs.Shift[1], 2)
}
