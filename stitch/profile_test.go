package stitch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadThresholdProfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	corr := 0.45
	checkPeaks := 8
	profile := &ThresholdProfile{CorrelationThreshold: &corr, CheckPeaks: &checkPeaks}

	require.NoError(t, SaveThresholdProfile(path, profile))
	loaded, err := LoadThresholdProfile(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.CorrelationThreshold)
	assert.Equal(t, corr, *loaded.CorrelationThreshold)
	require.NotNil(t, loaded.CheckPeaks)
	assert.Equal(t, checkPeaks, *loaded.CheckPeaks)
	assert.Nil(t, loaded.RelativeErrorThreshold)
}

func TestLoadThresholdProfileMissingFile(t *testing.T) {
	_, err := LoadThresholdProfile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestApplyProfileOverridesOnlySetFields(t *testing.T) {
	align := DefaultAlignOptions()
	solver := DefaultSolverOptions()
	origRelative := solver.RelativeErrorThreshold

	corr := 0.6
	profile := &ThresholdProfile{CorrelationThreshold: &corr}
	profile.ApplyProfile(&align, &solver)

	assert.Equal(t, corr, align.CorrelationThreshold)
	assert.Equal(t, origRelative, solver.RelativeErrorThreshold, "unset profile fields must leave config/defaults untouched")
}

func TestApplyProfileNilIsNoop(t *testing.T) {
	align := DefaultAlignOptions()
	solver := DefaultSolverOptions()
	orig := align
	origSolver := solver

	var profile *ThresholdProfile
	profile.ApplyProfile(&align, &solver)

	assert.Equal(t, orig, align)
	assert.Equal(t, origSolver, solver)
}

func TestApplyProfileOverlapRatioBroadcastsToAllAxes(t *testing.T) {
	align := DefaultAlignOptions()
	solver := DefaultSolverOptions()
	ratio := 0.3
	profile := &ThresholdProfile{OverlapRatio: &ratio}
	profile.ApplyProfile(&align, &solver)
	assert.Equal(t, Vec{0.3, 0.3, 0.3}, align.OverlapRatio)
}

func TestSaveThresholdProfileCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveThresholdProfile(path, &ThresholdProfile{}))
	_, err := os.Stat(path)
	require.NoError(t, err)
}
