package stitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindComponentsPartitionsAndSortsBySize(t *testing.T) {
	valid := []PairObservation{
		{I: 0, J: 1, Weight: 1, Valid: true},
		{I: 1, J: 2, Weight: 1, Valid: true},
		{I: 3, J: 4, Weight: 1, Valid: true},
	}
	comps := findComponents(5, valid)
	assert.Len(t, comps, 2)
	assert.Equal(t, Component{0, 1, 2}, comps[0], "larger component first")
	assert.Equal(t, Component{3, 4}, comps[1])
}

func TestFindComponentsIsolatedTile(t *testing.T) {
	comps := findComponents(3, nil)
	assert.Len(t, comps, 3)
	for _, c := range comps {
		assert.Len(t, c, 1)
	}
}

func TestGaussianEliminateSolvesSimpleSystem(t *testing.T) {
	// [2 1][x]   [5]
	// [1 3][y] = [10]
	a := [][]float64{{2, 1}, {1, 3}}
	b := []float64{5, 10}
	x, err := gaussianEliminate(a, b)
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, x[0], 1e-9)
	assert.InDelta(t, 3.0, x[1], 1e-9)
}

func TestGaussianEliminateDetectsSingular(t *testing.T) {
	a := [][]float64{{1, 1}, {1, 1}}
	b := []float64{1, 1}
	_, err := gaussianEliminate(a, b)
	assert.Error(t, err)
	var degErr *SolverDegeneracyError
	assert.ErrorAs(t, err, &degErr)
}

// TestSolveChainOfThree checks a simple three-tile chain: 0-1 shift (10,0),
// 1-2 shift (10,0). The solved offsets should be consistent: tile 2 ends up
// at (20,0) relative to tile 0, after the per-axis gauge fix subtracts the
// minimum.
func TestSolveChainOfThree(t *testing.T) {
	layout := NewLayoutModel(2, []LayoutBox{
		{Origin: IVec{0, 0, 0}, Extent: IVec{10, 10, 0}},
		{Origin: IVec{10, 0, 0}, Extent: IVec{10, 10, 0}},
		{Origin: IVec{20, 0, 0}, Extent: IVec{10, 10, 0}},
	})
	solver := NewSolver(2, 3, layout, DefaultSolverOptions())

	obs := []PairObservation{
		{I: 0, J: 1, Shift: Vec{10, 0, 0}, Weight: 1, Valid: true},
		{I: 1, J: 2, Shift: Vec{10, 0, 0}, Weight: 1, Valid: true},
	}
	result, err := solver.Solve(obs)
	assert.NoError(t, err)
	assert.Len(t, result.Components, 1)

	table := result.Offsets[0]
	assert.InDelta(t, 0, table[0][0], 1e-6)
	assert.InDelta(t, 10, table[1][0], 1e-6)
	assert.InDelta(t, 20, table[2][0], 1e-6)
}

// TestSolveMergesDisjointSubgraphs exercises §8 scenario #5: two pairs of
// tiles, each internally linked by a real observation but with no
// observation crossing the pairs, are merged into a single component
// because their layout boxes overlap and MergeSubgraphs is enabled.
func TestSolveMergesDisjointSubgraphs(t *testing.T) {
	layout := NewLayoutModel(2, []LayoutBox{
		{Origin: IVec{0, 0, 0}, Extent: IVec{10, 10, 0}},
		{Origin: IVec{8, 0, 0}, Extent: IVec{10, 10, 0}},
		{Origin: IVec{16, 0, 0}, Extent: IVec{10, 10, 0}},
		{Origin: IVec{24, 0, 0}, Extent: IVec{10, 10, 0}},
	})
	opts := DefaultSolverOptions()
	opts.MergeSubgraphs = true
	solver := NewSolver(2, 4, layout, opts)

	obs := []PairObservation{
		{I: 0, J: 1, Shift: Vec{8, 0, 0}, Weight: 1, Valid: true},
		{I: 2, J: 3, Shift: Vec{8, 0, 0}, Weight: 1, Valid: true},
	}
	result, err := solver.Solve(obs)
	assert.NoError(t, err)
	assert.Len(t, result.Components, 1)
	assert.Len(t, result.Components[0], 4)
}

// TestSolveEvictsInconsistentObservation checks the eviction loop removes
// a pair whose residual is far outside what the rest of the component
// implies. The bad 0-2 edge carries a low correlation weight, so the
// weighted solve follows the chain and the 0-2 edge has the largest
// residual.
func TestSolveEvictsInconsistentObservation(t *testing.T) {
	layout := NewLayoutModel(2, []LayoutBox{
		{Origin: IVec{0, 0, 0}, Extent: IVec{10, 10, 0}},
		{Origin: IVec{10, 0, 0}, Extent: IVec{10, 10, 0}},
		{Origin: IVec{20, 0, 0}, Extent: IVec{10, 10, 0}},
	})
	opts := DefaultSolverOptions()
	opts.AbsoluteErrorThreshold = 0.05
	opts.RelativeErrorThreshold = 1.5
	solver := NewSolver(2, 3, layout, opts)

	obs := []PairObservation{
		{I: 0, J: 1, Shift: Vec{10, 0, 0}, Weight: 1, Valid: true},
		{I: 1, J: 2, Shift: Vec{10, 0, 0}, Weight: 1, Valid: true},
		{I: 0, J: 2, Shift: Vec{500, 0, 0}, Weight: 0.1, Valid: true}, // wildly inconsistent, weakly correlated
	}
	result, err := solver.Solve(obs)
	assert.NoError(t, err)
	assert.Len(t, result.Components, 1)
	table := result.Offsets[0]
	assert.InDelta(t, 20, table[2][0], 1.0, "after evicting the bad 0-2 edge the chain estimate should dominate")
}
