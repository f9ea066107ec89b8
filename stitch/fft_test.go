package stitch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFFT1DRoundTrip(t *testing.T) {
	re := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	im := make([]float64, 8)
	orig := append([]float64{}, re...)

	fft1D(re, im, false)
	fft1D(re, im, true)

	for i := range orig {
		assert.InDelta(t, orig[i], re[i], 1e-9)
		assert.InDelta(t, 0, im[i], 1e-9)
	}
}

func TestFFTNDRoundTrip2D(t *testing.T) {
	extent := IVec{4, 4, 1}
	buf := newComplexBuf(2, extent)
	for i := range buf.re {
		buf.re[i] = float64(i % 5)
	}
	orig := append([]float64{}, buf.re...)

	fftND(buf, false)
	fftND(buf, true)

	for i := range orig {
		assert.InDelta(t, orig[i], buf.re[i], 1e-9)
		assert.InDelta(t, 0, buf.im[i], 1e-9)
	}
}

func TestFFTNDRoundTripRectangular2D(t *testing.T) {
	extent := IVec{8, 4, 1}
	buf := newComplexBuf(2, extent)
	for i := range buf.re {
		buf.re[i] = float64(i%7) - 3
	}
	orig := append([]float64{}, buf.re...)

	fftND(buf, false)
	fftND(buf, true)

	for i := range orig {
		assert.InDelta(t, orig[i], buf.re[i], 1e-9)
		assert.InDelta(t, 0, buf.im[i], 1e-9)
	}
}

func TestFFTNDRoundTrip3D(t *testing.T) {
	extent := IVec{4, 4, 4}
	buf := newComplexBuf(3, extent)
	for i := range buf.re {
		buf.re[i] = math.Sin(float64(i))
	}
	orig := append([]float64{}, buf.re...)

	fftND(buf, false)
	fftND(buf, true)

	for i := range orig {
		assert.InDelta(t, orig[i], buf.re[i], 1e-9)
	}
}

func TestNextPow2(t *testing.T) {
	assert.Equal(t, 1, nextPow2(1))
	assert.Equal(t, 8, nextPow2(5))
	assert.Equal(t, 16, nextPow2(16))
}

func TestMagnitudeOfImpulseIsFlat(t *testing.T) {
	extent := IVec{8, 8, 1}
	buf := newComplexBuf(2, extent)
	buf.re[0] = 1
	fftND(buf, false)
	mag := buf.magnitude()
	for _, m := range mag {
		assert.InDelta(t, 1.0, m, 1e-9, "the transform of a unit impulse has unit magnitude everywhere")
	}
}
