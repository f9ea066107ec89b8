package stitch

import "math"

// complexBuf is a flat row-major (then plane-major for 3D) buffer of
// complex samples, addressed the same way Tile addresses real samples.
type complexBuf struct {
	dims   int
	extent IVec
	re, im []float64
}

func newComplexBuf(dims int, extent IVec) *complexBuf {
	n := extent[0] * extent[1]
	if dims == 3 {
		n *= extent[2]
	}
	return &complexBuf{dims: dims, extent: extent, re: make([]float64, n), im: make([]float64, n)}
}

// fft1D performs an in-place, iterative radix-2 Cooley-Tukey FFT (or its
// inverse) over re/im of length n, which must be a power of two. This is
// the only primitive transform; N-D transforms are built from it by
// running it over every line along each axis in turn (see fftND) rather
// than by a dedicated multi-dimensional algorithm.
func fft1D(re, im []float64, inverse bool) {
	n := len(re)
	if n <= 1 {
		return
	}
	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j &^= bit
		}
		j |= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	sign := -1.0
	if inverse {
		sign = 1.0
	}

	for length := 2; length <= n; length <<= 1 {
		ang := sign * 2 * math.Pi / float64(length)
		wRe, wIm := math.Cos(ang), math.Sin(ang)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				aRe, aIm := re[start+k], im[start+k]
				bRe := re[start+k+half]*curRe - im[start+k+half]*curIm
				bIm := re[start+k+half]*curIm + im[start+k+half]*curRe
				re[start+k] = aRe + bRe
				im[start+k] = aIm + bIm
				re[start+k+half] = aRe - bRe
				im[start+k+half] = aIm - bIm
				nextRe := curRe*wRe - curIm*wIm
				nextIm := curRe*wIm + curIm*wRe
				curRe, curIm = nextRe, nextIm
			}
		}
	}

	if inverse {
		for i := range re {
			re[i] /= float64(n)
			im[i] /= float64(n)
		}
	}
}

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fftND performs a forward (or inverse) N-dimensional FFT in place by
// running fft1D along each axis in turn; each line along the active axis
// is gathered into a scratch line, transformed, and scattered back (see
// transformAxis). Every axis extent in buf.extent[:buf.dims] must be a
// power of two.
//
// The inverse transform walks the exact same axis order and uses the same
// line addressing as the forward transform: both operate on a buffer
// already shaped (extent[0], extent[1], [extent[2]]) and restore that same
// shape on return. This is the corrected behaviour called for by the open
// question in the design notes — the original source calls the inverse
// transform with the axis sizes swapped relative to the forward call, an
// asymmetry that only happens not to matter on square inputs.
func fftND(buf *complexBuf, inverse bool) {
	for axis := 0; axis < buf.dims; axis++ {
		transformAxis(buf, axis, inverse)
	}
}

// transformAxis runs fft1D along one axis of buf by gathering each line
// along that axis into a scratch buffer, transforming it, and scattering
// it back — equivalent to the transpose-transform-transpose schedule but
// expressed without materialising a full transposed copy.
func transformAxis(buf *complexBuf, axis int, inverse bool) {
	n := buf.extent[axis]
	lineRe := make([]float64, n)
	lineIm := make([]float64, n)

	w, h, d := buf.extent[0], buf.extent[1], buf.extent[2]
	if buf.dims == 2 {
		d = 1
	}

	idx := func(x, y, z int) int {
		return (z*h+y)*w + x
	}

	switch axis {
	case 0: // along x: for every (y,z), gather the x-line.
		for z := 0; z < d; z++ {
			for y := 0; y < h; y++ {
				for x := 0; x < n; x++ {
					i := idx(x, y, z)
					lineRe[x], lineIm[x] = buf.re[i], buf.im[i]
				}
				fft1D(lineRe, lineIm, inverse)
				for x := 0; x < n; x++ {
					i := idx(x, y, z)
					buf.re[i], buf.im[i] = lineRe[x], lineIm[x]
				}
			}
		}
	case 1: // along y
		for z := 0; z < d; z++ {
			for x := 0; x < w; x++ {
				for y := 0; y < n; y++ {
					i := idx(x, y, z)
					lineRe[y], lineIm[y] = buf.re[i], buf.im[i]
				}
				fft1D(lineRe, lineIm, inverse)
				for y := 0; y < n; y++ {
					i := idx(x, y, z)
					buf.re[i], buf.im[i] = lineRe[y], lineIm[y]
				}
			}
		}
	case 2: // along z (3D only)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for z := 0; z < n; z++ {
					i := idx(x, y, z)
					lineRe[z], lineIm[z] = buf.re[i], buf.im[i]
				}
				fft1D(lineRe, lineIm, inverse)
				for z := 0; z < n; z++ {
					i := idx(x, y, z)
					buf.re[i], buf.im[i] = lineRe[z], lineIm[z]
				}
			}
		}
	}
}

// magnitude returns |z| for every element as a real-valued image with the
// same extent as buf.
func (b *complexBuf) magnitude() []float64 {
	out := make([]float64, len(b.re))
	for i := range out {
		out[i] = math.Hypot(b.re[i], b.im[i])
	}
	return out
}
