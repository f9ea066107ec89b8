package stitch

import (
	"log"
	"math"
	"sort"
	"sync"
)

// AlignOptions configures one Aligner run. OverlapRatio,
// CorrelationThreshold, CheckPeaks, DimensionMask and UsePhaseCorrelation
// are set from the JSON configuration (§6); UsePrior, PriorSigmas and
// OcclusionCullAngleDeg have no configuration key and keep the values set
// in code.
type AlignOptions struct {
	OverlapRatio          Vec
	CorrelationThreshold  float64
	CheckPeaks            int
	DimensionMask         [3]bool
	UsePhaseCorrelation   bool
	PriorSigmas           Vec
	UsePrior              bool
	OcclusionCullAngleDeg float64
}

// DefaultAlignOptions returns the configuration defaults named in §6.
func DefaultAlignOptions() AlignOptions {
	return AlignOptions{
		OverlapRatio:          Vec{0.2, 0.2, 0.2},
		CorrelationThreshold:  0.3,
		CheckPeaks:            5,
		DimensionMask:         [3]bool{true, true, true},
		UsePhaseCorrelation:   true,
		OcclusionCullAngleDeg: 20,
	}
}

// Aligner performs frequency-domain phase correlation between candidate
// overlapping tile pairs and scores each candidate shift by normalized
// cross-correlation. It is stateless apart from a shared progress counter
// used only for logging — the counter is owned by this Aligner instance,
// not a process-wide singleton.
type Aligner struct {
	Dims      int
	Layout    *LayoutModel
	Opts      AlignOptions
	Progress  *ProgressCounter
	Telemetry *TelemetryPublisher // optional; nil disables MQTT mirroring
}

// NewAligner constructs an Aligner over the given layout and options.
func NewAligner(dims int, layout *LayoutModel, opts AlignOptions) *Aligner {
	return &Aligner{Dims: dims, Layout: layout, Opts: opts, Progress: NewProgressCounter()}
}

// pairCandidate is one accepted entry from the overlap map, ranked by
// overlap area for occlusion culling.
type pairCandidate struct {
	i, j int
	area int
}

// BuildOverlapPairs scans the upper triangle of the layout's boxes for
// geometric overlap and optionally culls occluded neighbours: for each
// reference tile, candidates are ranked by overlap area descending, and
// any candidate whose direction from the reference centre is within
// OcclusionCullAngleDeg of an already-accepted candidate is rejected.
func (a *Aligner) BuildOverlapPairs(cullOccluded bool) []pairCandidate {
	n := len(a.Layout.Boxes)
	byRef := make(map[int][]pairCandidate)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			bi, bj := a.Layout.Boxes[i], a.Layout.Boxes[j]
			if !Overlaps(a.Dims, bi, bj) {
				continue
			}
			area := overlapArea(a.Dims, bi, bj)
			byRef[i] = append(byRef[i], pairCandidate{i: i, j: j, area: area})
		}
	}

	if !cullOccluded {
		var out []pairCandidate
		for i := 0; i < n; i++ {
			out = append(out, byRef[i]...)
		}
		return out
	}

	var out []pairCandidate
	for i := 0; i < n; i++ {
		cands := byRef[i]
		sort.Slice(cands, func(x, y int) bool { return cands[x].area > cands[y].area })

		var accepted []pairCandidate
		var acceptedDirs []Vec
		center := a.Layout.Boxes[i].Center(a.Dims)

		for _, c := range cands {
			dir := a.Layout.Boxes[c.j].Center(a.Dims).Sub(center)
			occluded := false
			for _, ad := range acceptedDirs {
				if angleBetween(dir, ad, a.Dims) < a.Opts.OcclusionCullAngleDeg {
					occluded = true
					break
				}
			}
			if occluded {
				log.Printf("[ALIGN] culled j=%d occluded by an already-accepted neighbour of i=%d", c.j, i)
				continue
			}
			accepted = append(accepted, c)
			acceptedDirs = append(acceptedDirs, dir)
		}
		out = append(out, accepted...)
	}
	return out
}

func overlapArea(dims int, a, b LayoutBox) int {
	area := 1
	for i := 0; i < dims; i++ {
		aLo, aHi := a.Origin[i], a.Origin[i]+a.Extent[i]
		bLo, bHi := b.Origin[i], b.Origin[i]+b.Extent[i]
		lo, hi := max(aLo, bLo), min(aHi, bHi)
		w := hi - lo
		if w < 0 {
			w = 0
		}
		area *= w
	}
	return area
}

func angleBetween(a, b Vec, dims int) float64 {
	dot := 0.0
	for i := 0; i < dims; i++ {
		dot += a[i] * b[i]
	}
	na, nb := a.Norm(dims), b.Norm(dims)
	if na == 0 || nb == 0 {
		return 180
	}
	cos := dot / (na * nb)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// TileLoader materialises the tile identified by id on demand. Passed
// into AlignAll/FuseAllParallel instead of a preloaded []*Tile so 3D
// tiles can be decoded per use and released rather than held resident
// for the pipeline's whole lifetime.
type TileLoader func(id int) (*Tile, error)

// AlignAll registers every candidate overlapping pair in parallel using a
// fork-join worker pool over pair indices, and returns the observations in
// deterministic (i,j)-sorted order. Each worker loads only the two tiles
// its current pair needs, via load, and lets them go out of scope once
// AlignPair returns.
func (a *Aligner) AlignAll(load TileLoader, workers int) []PairObservation {
	pairs := a.BuildOverlapPairs(true)
	total := len(pairs)
	results := make([]PairObservation, total)

	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	idxCh := make(chan int)
	worker := func() {
		defer wg.Done()
		for idx := range idxCh {
			c := pairs[idx]
			refTile, err := load(c.i)
			if err != nil {
				log.Printf("[ALIGN] skipping pair %d-%d: loading tile %d: %v", c.i, c.j, c.i, err)
				obs := PairObservation{I: c.i, J: c.j, Valid: false}
				results[idx] = obs
				done := a.Progress.Increment()
				a.Telemetry.PublishProgress(done, total, obs)
				continue
			}
			movTile, err := load(c.j)
			if err != nil {
				log.Printf("[ALIGN] skipping pair %d-%d: loading tile %d: %v", c.i, c.j, c.j, err)
				obs := PairObservation{I: c.i, J: c.j, Valid: false}
				results[idx] = obs
				done := a.Progress.Increment()
				a.Telemetry.PublishProgress(done, total, obs)
				continue
			}
			obs := a.AlignPair(c.i, c.j, refTile, movTile, a.Layout.Boxes[c.i], a.Layout.Boxes[c.j])
			results[idx] = obs
			done := a.Progress.Increment()
			a.Telemetry.PublishProgress(done, total, obs)
			log.Printf("[ALIGN] progress %d/%d: %d-%d peak=%.3f", done, total, obs.I, obs.J, obs.Weight)
		}
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go worker()
	}
	for idx := range pairs {
		idxCh <- idx
	}
	close(idxCh)
	wg.Wait()

	sort.Slice(results, func(x, y int) bool {
		if results[x].I != results[y].I {
			return results[x].I < results[y].I
		}
		return results[x].J < results[y].J
	})
	return results
}

// AlignPair registers one pair (ref=i, mov=j, i<j) per §4.2 steps 1-15.
func (a *Aligner) AlignPair(i, j int, refTile, movTile *Tile, refBox, movBox LayoutBox) PairObservation {
	refExtent, movExtent := refTile.Extent(), movTile.Extent()

	refROI, movROI, ok := Intersection(a.Dims, refBox, movBox, refExtent, movExtent, a.Opts.OverlapRatio)
	if !ok {
		return PairObservation{I: i, J: j, Valid: false}
	}

	refCrop := cropTile(refTile, refROI)
	movCrop := cropTile(movTile, movROI)

	padExtent := IVec{}
	padExtent[0] = nextPow2(max(refCrop.Extent()[0], movCrop.Extent()[0]))
	padExtent[1] = nextPow2(max(refCrop.Extent()[1], movCrop.Extent()[1]))
	if a.Dims == 3 {
		padExtent[2] = nextPow2(max(refCrop.Extent()[2], movCrop.Extent()[2]))
	} else {
		padExtent[2] = 1
	}

	refBuf := padCentered(a.Dims, refCrop, padExtent)
	movBuf := padCentered(a.Dims, movCrop, padExtent)

	fftND(refBuf, false)
	fftND(movBuf, false)

	cross := crossPowerSpectrum(refBuf, movBuf, a.Opts.UsePhaseCorrelation)

	fftND(cross, true)

	if a.Opts.UsePrior {
		sigmas := a.Opts.PriorSigmas
		if sigmas == (Vec{}) {
			for k := 0; k < a.Dims; k++ {
				sigmas[k] = float64(padExtent[k]) / 4
			}
		}
		applyGaussianPrior(cross, a.Dims, sigmas)
	}

	mag := cross.magnitude()

	peaks := findPeaks(mag, a.Dims, padExtent, a.Opts.CheckPeaks)
	unwrapped := make([]IVec, len(peaks))
	for k, p := range peaks {
		unwrapped[k] = signedUnwrap(p, a.Dims, padExtent)
	}

	type candidate struct {
		shift Vec
		r     float64
	}
	var best candidate
	haveBest := false

	for _, u := range unwrapped {
		for _, refl := range disambiguate(u, a.Dims) {
			shift := Vec{float64(refl[0]), float64(refl[1]), float64(refl[2])}
			for k := 0; k < a.Dims; k++ {
				clampMag := 0.75 * float64(padExtent[k])
				if shift[k] > clampMag {
					shift[k] = clampMag
				}
				if shift[k] < -clampMag {
					shift[k] = -clampMag
				}
			}
			for k := 0; k < a.Dims; k++ {
				if !a.Opts.DimensionMask[k] {
					shift[k] = 0
				}
			}

			r := pearsonScore(refCrop, movCrop, shift, a.Dims)
			if r <= a.Opts.CorrelationThreshold {
				continue
			}
			if !haveBest || r > best.r {
				best = candidate{shift: shift, r: r}
				haveBest = true
			}
		}
	}

	if !haveBest {
		return PairObservation{I: i, J: j, Valid: false}
	}

	finalShift := best.shift
	for k := 0; k < a.Dims; k++ {
		finalShift[k] += float64(refROI.Origin[k] - movROI.Origin[k])
	}

	return PairObservation{I: i, J: j, Shift: finalShift, Weight: best.r, Valid: true}
}

// cropTile copies the sample region described by roi out of t into a new,
// densely packed Tile.
func cropTile(t *Tile, roi LayoutBox) *Tile {
	w, h, d := roi.Extent[0], roi.Extent[1], roi.Extent[2]
	if d == 0 {
		d = 1
	}
	out := &Tile{Width: w, Height: h, Depth: d, Data: make([]float32, w*h*d)}
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				sx, sy, sz := x+roi.Origin[0], y+roi.Origin[1], z+roi.Origin[2]
				out.Set(x, y, z, t.At(sx, sy, sz))
			}
		}
	}
	return out
}

// padCentered zero-pads t into a buffer of the given extent with t
// centred within it, and returns the buffer's forward-FFT-ready complex
// representation (imaginary part zero).
func padCentered(dims int, t *Tile, extent IVec) *complexBuf {
	buf := newComplexBuf(dims, extent)
	offX := (extent[0] - t.Width) / 2
	offY := (extent[1] - t.Height) / 2
	offZ := 0
	d := 1
	if dims == 3 {
		offZ = (extent[2] - t.Depth) / 2
		d = t.Depth
	}
	for z := 0; z < d; z++ {
		for y := 0; y < t.Height; y++ {
			for x := 0; x < t.Width; x++ {
				dx, dy, dz := x+offX, y+offY, z+offZ
				idx := (dz*extent[1]+dy)*extent[0] + dx
				buf.re[idx] = float64(t.At(x, y, z))
			}
		}
	}
	return buf
}

// crossPowerSpectrum forms C[k] = A[k] * conj(B[k]), optionally normalised
// to unit magnitude (substituting zero where the magnitude is below
// machine epsilon) for phase correlation, or left unnormalised for plain
// cross-correlation.
func crossPowerSpectrum(a, b *complexBuf, normalize bool) *complexBuf {
	out := newComplexBuf(a.dims, a.extent)
	for i := range a.re {
		cr := a.re[i]*b.re[i] + a.im[i]*b.im[i]
		ci := a.im[i]*b.re[i] - a.re[i]*b.im[i]
		if normalize {
			m := math.Hypot(cr, ci)
			if m < 0x1p-52 {
				cr, ci = 0, 0
			} else {
				cr, ci = cr/m, ci/m
			}
		}
		out.re[i], out.im[i] = cr, ci
	}
	return out
}

// applyGaussianPrior multiplies the correlation surface by a centred
// Gaussian measured from the DC corner wrapped into a signed frame
// [-N/2, N/2), per configured per-axis sigma.
func applyGaussianPrior(buf *complexBuf, dims int, sigmas Vec) {
	w, h, d := buf.extent[0], buf.extent[1], buf.extent[2]
	if dims == 2 {
		d = 1
	}
	for z := 0; z < d; z++ {
		sz := wrapSigned(z, d)
		for y := 0; y < h; y++ {
			sy := wrapSigned(y, h)
			for x := 0; x < w; x++ {
				sx := wrapSigned(x, w)
				g := gaussianN(dims, Vec{float64(sx), float64(sy), float64(sz)}, sigmas)
				idx := (z*h+y)*w + x
				buf.re[idx] *= g
				buf.im[idx] *= g
			}
		}
	}
}

func wrapSigned(v, n int) int {
	if v >= n/2 {
		return v - n
	}
	return v
}

func gaussianN(dims int, p, sigmas Vec) float64 {
	exp := 0.0
	for i := 0; i < dims; i++ {
		s := sigmas[i]
		if s <= 0 {
			continue
		}
		exp += (p[i] * p[i]) / (2 * s * s)
	}
	return math.Exp(-exp)
}

// findPeaks finds up to k local maxima of mag over a fully connected
// toroidal-wrap neighbourhood, returning them as integer coordinates
// sorted descending by magnitude (top-k insertion sorted list).
func findPeaks(mag []float64, dims int, extent IVec, k int) []IVec {
	w, h, d := extent[0], extent[1], extent[2]
	if dims == 2 {
		d = 1
	}
	idx := func(x, y, z int) int { return (z*h+y)*w + x }
	wrap := func(v, n int) int {
		if v < 0 {
			return v + n
		}
		if v >= n {
			return v - n
		}
		return v
	}

	type found struct {
		p IVec
		v float64
	}
	var top []found

	isLocalMax := func(x, y, z int) bool {
		val := mag[idx(x, y, z)]
		if dims == 2 {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					if mag[idx(wrap(x+dx, w), wrap(y+dy, h), z)] > val {
						return false
					}
				}
			}
			return true
		}
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 && dz == 0 {
						continue
					}
					if mag[idx(wrap(x+dx, w), wrap(y+dy, h), wrap(z+dz, d))] > val {
						return false
					}
				}
			}
		}
		return true
	}

	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if !isLocalMax(x, y, z) {
					continue
				}
				val := mag[idx(x, y, z)]
				pos := sort.Search(len(top), func(i int) bool { return top[i].v < val })
				top = append(top, found{})
				copy(top[pos+1:], top[pos:])
				top[pos] = found{p: IVec{x, y, z}, v: val}
				if len(top) > k {
					top = top[:k]
				}
			}
		}
	}

	out := make([]IVec, len(top))
	for i, f := range top {
		out[i] = f.p
	}
	return out
}

// signedUnwrap interprets each coordinate >= N/2 as negative: p = p - N.
func signedUnwrap(p IVec, dims int, extent IVec) IVec {
	var out IVec
	for i := 0; i < 3; i++ {
		out[i] = p[i]
	}
	for i := 0; i < dims; i++ {
		if p[i] >= extent[i]/2 {
			out[i] = p[i] - extent[i]
		}
	}
	return out
}

// disambiguate enumerates the 2^dims axis-flip reflections of an unwrapped
// peak.
func disambiguate(p IVec, dims int) []IVec {
	n := 1 << dims
	out := make([]IVec, n)
	for mask := 0; mask < n; mask++ {
		q := p
		for axis := 0; axis < dims; axis++ {
			if mask&(1<<axis) != 0 {
				q[axis] = -q[axis]
			}
		}
		out[mask] = q
	}
	return out
}

// pearsonScore computes Pearson's r of ref and mov samples over their
// geometric overlap after applying shift s, expressed in the coordinates
// of the two images passed in (AlignPair passes the ROI crops, so s is
// ROI-local and the ROI offset is added afterwards). Candidates whose
// overlap covers less than 1% of the smaller image's area/volume score 0.
func pearsonScore(ref, mov *Tile, s Vec, dims int) float64 {
	refExt, movExt := ref.Extent(), mov.Extent()
	dx, dy, dz := int(math.Round(s[0])), int(math.Round(s[1])), 0
	if dims == 3 {
		dz = int(math.Round(s[2]))
	}

	loX, hiX := max(0, dx), min(refExt[0], movExt[0]+dx)
	loY, hiY := max(0, dy), min(refExt[1], movExt[1]+dy)
	loZ, hiZ := 0, 1
	if dims == 3 {
		loZ, hiZ = max(0, dz), min(refExt[2], movExt[2]+dz)
	}
	if hiX <= loX || hiY <= loY || hiZ <= loZ {
		return 0
	}

	n := (hiX - loX) * (hiY - loY) * (hiZ - loZ)
	minArea := refExt[0] * refExt[1]
	movArea := movExt[0] * movExt[1]
	if dims == 3 {
		minArea *= refExt[2]
		movArea *= movExt[2]
	}
	if movArea < minArea {
		minArea = movArea
	}
	if float64(n) < 0.01*float64(minArea) {
		return 0
	}

	var sumA, sumB, sumAB, sumAA, sumBB float64
	count := 0.0
	for z := loZ; z < hiZ; z++ {
		for y := loY; y < hiY; y++ {
			for x := loX; x < hiX; x++ {
				a := float64(ref.At(x, y, z))
				b := float64(mov.At(x-dx, y-dy, z-dz))
				sumA += a
				sumB += b
				sumAB += a * b
				sumAA += a * a
				sumBB += b * b
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	num := count*sumAB - sumA*sumB
	den := math.Sqrt((count*sumAA - sumA*sumA) * (count*sumBB - sumB*sumB))
	if den == 0 {
		return 0
	}
	return num / den
}
