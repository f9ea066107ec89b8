package stitch

import (
	"log"
	"sort"
)

// SolverOptions configures the outlier eviction loop and optional
// subgraph merging.
type SolverOptions struct {
	RelativeErrorThreshold float64
	AbsoluteErrorThreshold float64
	MergeSubgraphs         bool
	PriorWeight            float64
	OverlapRatio           Vec // mirrors AlignOptions.OverlapRatio, used by mergeSubgraphs
}

// DefaultSolverOptions returns the configuration defaults named in §6.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		RelativeErrorThreshold: 2.5,
		AbsoluteErrorThreshold: 3.5,
		PriorWeight:            0.1,
		OverlapRatio:           Vec{0.2, 0.2, 0.2},
	}
}

// Solver aggregates pair observations into a weighted graph, decomposes
// it into connected components, solves a Laplacian least-squares system
// per component, iteratively evicts the worst-residual observation, and
// optionally links disjoint components via layout-derived priors.
type Solver struct {
	Dims      int
	NumTiles  int
	Layout    *LayoutModel
	Opts      SolverOptions
	Telemetry *TelemetryPublisher
}

// NewSolver constructs a Solver.
func NewSolver(dims, numTiles int, layout *LayoutModel, opts SolverOptions) *Solver {
	return &Solver{Dims: dims, NumTiles: numTiles, Layout: layout, Opts: opts}
}

// SolveResult is the Solver's output: one Component and one OffsetTable
// per connected component found.
type SolveResult struct {
	Components []Component
	Offsets    []OffsetTable
}

// Solve runs the full Solver pipeline: build graph, find components,
// solve each, then run the outlier eviction loop until stable, and
// finally merge disjoint subgraphs if enabled.
func (s *Solver) Solve(observations []PairObservation) (SolveResult, error) {
	valid := filterValid(observations)

	for {
		components := findComponents(s.NumTiles, valid)
		offsets, err := s.solveComponents(components, valid)
		if err != nil {
			return SolveResult{}, err
		}

		evictedAny, worst := s.checkOffsets(components, offsets, valid)
		if !evictedAny {
			if s.Opts.MergeSubgraphs && len(components) > 1 {
				merged := s.mergeSubgraphs(components, offsets, observations, valid)
				if merged != nil {
					valid = merged
					continue
				}
			}
			return SolveResult{Components: components, Offsets: offsets}, nil
		}

		for i := range valid {
			if valid[i].I == worst.I && valid[i].J == worst.J {
				valid[i].Valid = false
			}
		}
		valid = filterValid(valid)
	}
}

func filterValid(obs []PairObservation) []PairObservation {
	out := make([]PairObservation, 0, len(obs))
	for _, o := range obs {
		if o.Valid {
			out = append(out, o)
		}
	}
	return out
}

// findComponents performs depth-first traversal over the adjacency
// implied by valid observations, yielding a partition of tile indices.
// Each component is sorted ascending; the list of components is sorted
// by size descending.
func findComponents(numTiles int, valid []PairObservation) []Component {
	adj := make(map[int][]int, numTiles)
	for _, o := range valid {
		adj[o.I] = append(adj[o.I], o.J)
		adj[o.J] = append(adj[o.J], o.I)
	}

	visited := make([]bool, numTiles)
	var components []Component

	for start := 0; start < numTiles; start++ {
		if visited[start] {
			continue
		}
		var comp []int
		stack := []int{start}
		visited[start] = true
		for len(stack) > 0 {
			n := len(stack) - 1
			cur := stack[n]
			stack = stack[:n]
			comp = append(comp, cur)
			for _, nb := range adj[cur] {
				if !visited[nb] {
					visited[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		sort.Ints(comp)
		components = append(components, Component(comp))
	}

	sort.SliceStable(components, func(i, j int) bool { return len(components[i]) > len(components[j]) })
	return components
}

// solveComponents solves the Laplacian least-squares system for every
// component independently, per spatial axis.
func (s *Solver) solveComponents(components []Component, valid []PairObservation) ([]OffsetTable, error) {
	byPair := make(map[[2]int]PairObservation)
	for _, o := range valid {
		byPair[[2]int{o.I, o.J}] = o
	}

	result := make([]OffsetTable, len(components))
	for ci, comp := range components {
		table, err := s.solveOneComponent(comp, byPair)
		if err != nil {
			if se, ok := err.(*SolverDegeneracyError); ok {
				se.ComponentIndex = ci
			}
			return nil, err
		}
		result[ci] = table
	}
	return result, nil
}

func (s *Solver) solveOneComponent(comp Component, byPair map[[2]int]PairObservation) (OffsetTable, error) {
	m := len(comp)
	table := make(OffsetTable, m)
	if m == 0 {
		return table, ErrNoValidCandidate
	}
	if m == 1 {
		table[comp[0]] = Vec{}
		return table, nil
	}

	pos := make(map[int]int, m)
	for k, id := range comp {
		pos[id] = k
	}

	adj := make([][]float64, m)
	shift := make([][]Vec, m)
	for i := range adj {
		adj[i] = make([]float64, m)
		shift[i] = make([]Vec, m)
	}
	for _, id := range comp {
		for _, other := range comp {
			if id == other {
				continue
			}
			if o, ok := byPair[[2]int{min(id, other), max(id, other)}]; ok {
				a, b := pos[id], pos[other]
				var sh Vec
				if id < other {
					sh = o.Shift
				} else {
					sh = o.Shift.Scale(-1)
				}
				adj[a][b] = o.Weight
				shift[a][b] = sh
			}
		}
	}

	offsets := make([]Vec, m)
	for axis := 0; axis < s.Dims; axis++ {
		x, err := solveAxis(adj, shift, axis, m)
		if err != nil {
			if se, ok := err.(*SolverDegeneracyError); ok {
				se.Axis = axis
			}
			return nil, err
		}
		for k := 0; k < m; k++ {
			offsets[k][axis] = x[k]
		}
	}

	for axis := 0; axis < s.Dims; axis++ {
		minV := offsets[0][axis]
		for _, o := range offsets {
			if o[axis] < minV {
				minV = o[axis]
			}
		}
		for k := range offsets {
			offsets[k][axis] -= minV
		}
	}

	for k, id := range comp {
		table[id] = offsets[k]
	}
	return table, nil
}

// solveAxis builds and solves the (m-1)x(m-1) weighted graph Laplacian
// system for one spatial axis: the last component member's offset is
// fixed at zero, L[i,i] = sum_k adj[i,k], L[i,j] = -adj[i,j], and
// b[i] = -sum_j adj[i,j]*shift[i,j] over the same row (restricted to the first
// m-1 nodes). The fixed node's offset (zero) is appended afterward.
func solveAxis(adj [][]float64, shift [][]Vec, axis, m int) ([]float64, error) {
	if m == 1 {
		return []float64{0}, nil
	}
	n := m - 1
	lap := make([][]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		lap[i] = make([]float64, n)
		rowSum := 0.0
		bi := 0.0
		for k := 0; k < m; k++ {
			w := adj[i][k]
			if w == 0 {
				continue
			}
			rowSum += w
			bi -= w * shift[i][k][axis]
			if k < n {
				lap[i][k] -= w
			}
		}
		lap[i][i] += rowSum
		b[i] = bi
	}

	x, err := gaussianEliminate(lap, b)
	if err != nil {
		return nil, err
	}
	return append(x, 0), nil
}

// gaussianEliminate solves Ax=b by partial-pivot Gaussian elimination
// with back-substitution on an augmented matrix held as one slice per row.
func gaussianEliminate(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	aug := make([][]float64, n)
	for i := range aug {
		aug[i] = make([]float64, n+1)
		copy(aug[i], a[i])
		aug[i][n] = b[i]
	}

	for col := 0; col < n; col++ {
		pivot := col
		maxVal := abs(aug[col][col])
		for r := col + 1; r < n; r++ {
			if v := abs(aug[r][col]); v > maxVal {
				pivot, maxVal = r, v
			}
		}
		if maxVal < 1e-12 {
			return nil, &SolverDegeneracyError{}
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		for r := col + 1; r < n; r++ {
			factor := aug[r][col] / aug[col][col]
			for c := col; c <= n; c++ {
				aug[r][c] -= factor * aug[col][c]
			}
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := aug[i][n]
		for j := i + 1; j < n; j++ {
			sum -= aug[i][j] * x[j]
		}
		x[i] = sum / aug[i][i]
	}
	return x, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// checkOffsets computes per-component residual statistics over currently
// valid observations and reports whether the worst one should be evicted.
func (s *Solver) checkOffsets(components []Component, offsets []OffsetTable, valid []PairObservation) (bool, PairObservation) {
	memberOf := make(map[int]int, s.NumTiles)
	for ci, comp := range components {
		for _, id := range comp {
			memberOf[id] = ci
		}
	}

	type stats struct {
		sumDst, maxDst     float64
		sumErr, maxErr     float64
		n                  int
		worst              PairObservation
		worstDst           float64
	}
	perComp := make(map[int]*stats)

	for _, o := range valid {
		ci, ok := memberOf[o.I]
		if !ok {
			continue
		}
		table := offsets[ci]
		diff := table[o.J].Sub(table[o.I]).Sub(o.Shift)
		dst := diff.Norm(s.Dims)
		errv := dst * dst * o.Weight

		st, ok := perComp[ci]
		if !ok {
			st = &stats{}
			perComp[ci] = st
		}
		st.sumDst += dst
		st.sumErr += errv
		st.n++
		if dst > st.maxDst {
			st.maxDst = dst
		}
		if errv > st.maxErr {
			st.maxErr = errv
		}
		if dst > st.worstDst {
			st.worstDst = dst
			st.worst = o
		}
	}

	for ci, st := range perComp {
		if st.n == 0 {
			continue
		}
		meanErr := st.sumErr / float64(st.n)
		maxErr := st.maxErr
		if (meanErr*s.Opts.RelativeErrorThreshold < maxErr && maxErr > 0.95) || meanErr > s.Opts.AbsoluteErrorThreshold {
			log.Printf("[SOLVE] component %d: evicting pair %d-%d (meanErr=%.4f maxErr=%.4f)", ci, st.worst.I, st.worst.J, meanErr, maxErr)
			if s.Telemetry != nil {
				s.Telemetry.PublishEviction(ci, st.worst, meanErr, maxErr)
			}
			return true, st.worst
		}
	}
	return false, PairObservation{}
}

// mergeSubgraphs synthesises, for every overlap-map edge spanning two
// distinct components, a prior PairObservation whose shift equals the
// layout-space displacement contracted by (1-overlapRatio) and whose
// weight is the configured prior weight, then returns the augmented
// observation list for one more solve pass. Returns nil if no
// cross-component overlap edges exist.
func (s *Solver) mergeSubgraphs(components []Component, offsets []OffsetTable, all []PairObservation, valid []PairObservation) []PairObservation {
	memberOf := make(map[int]int, s.NumTiles)
	for ci, comp := range components {
		for _, id := range comp {
			memberOf[id] = ci
		}
	}

	overlapRatio := s.Opts.OverlapRatio
	if overlapRatio == (Vec{}) {
		overlapRatio = Vec{0.2, 0.2, 0.2}
	}
	added := false
	out := append([]PairObservation{}, valid...)

	for i := 0; i < s.NumTiles; i++ {
		for j := i + 1; j < s.NumTiles; j++ {
			ci, okI := memberOf[i]
			cj, okJ := memberOf[j]
			if !okI || !okJ || ci == cj {
				continue
			}
			if !Overlaps(s.Dims, s.Layout.Boxes[i], s.Layout.Boxes[j]) {
				continue
			}
			disp := s.Layout.Boxes[j].Center(s.Dims).Sub(s.Layout.Boxes[i].Center(s.Dims))
			var contracted Vec
			for k := 0; k < s.Dims; k++ {
				contracted[k] = disp[k] * (1 - overlapRatio[k])
			}
			out = append(out, PairObservation{I: i, J: j, Shift: contracted, Weight: s.Opts.PriorWeight, Valid: true, Prior: true})
			added = true
		}
	}

	if !added {
		return nil
	}
	return out
}
