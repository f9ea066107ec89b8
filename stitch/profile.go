package stitch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ThresholdProfile is a reusable bundle of solver/aligner thresholds,
// loaded from an operator-named YAML sidecar (--profile) instead of the
// main JSON configuration file — the same "load from a separate named
// file, then layer onto defaults" pattern config_loader.go uses for the
// YAML service configuration.
type ThresholdProfile struct {
	CorrelationThreshold   *float64 `yaml:"correlation_threshold"`
	RelativeErrorThreshold *float64 `yaml:"relative_error_threshold"`
	AbsoluteErrorThreshold *float64 `yaml:"absolute_error_threshold"`
	CheckPeaks             *int     `yaml:"check_peaks"`
	OverlapRatio           *float64 `yaml:"overlap_ratio"`
	PriorWeight            *float64 `yaml:"prior_weight"`
}

// LoadThresholdProfile reads a YAML threshold profile from path.
func LoadThresholdProfile(path string) (*ThresholdProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("threshold profile not found: %s", path)
		}
		return nil, fmt.Errorf("reading threshold profile: %w", err)
	}
	var profile ThresholdProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parsing threshold profile YAML: %w", err)
	}
	return &profile, nil
}

// SaveThresholdProfile writes a profile to path, for operators who want to
// capture the effective thresholds of a run as a reusable preset.
func SaveThresholdProfile(path string, profile *ThresholdProfile) error {
	data, err := yaml.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshaling threshold profile YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing threshold profile: %w", err)
	}
	return nil
}

// ApplyProfile layers a threshold profile's non-nil fields onto
// AlignOptions/SolverOptions, with the profile taking precedence over the
// main configuration file's own values (config values remain in effect
// for any field the profile leaves unset).
func (p *ThresholdProfile) ApplyProfile(align *AlignOptions, solver *SolverOptions) {
	if p == nil {
		return
	}
	if p.CorrelationThreshold != nil {
		align.CorrelationThreshold = *p.CorrelationThreshold
	}
	if p.CheckPeaks != nil {
		align.CheckPeaks = *p.CheckPeaks
	}
	if p.OverlapRatio != nil {
		align.OverlapRatio = Vec{*p.OverlapRatio, *p.OverlapRatio, *p.OverlapRatio}
	}
	if p.RelativeErrorThreshold != nil {
		solver.RelativeErrorThreshold = *p.RelativeErrorThreshold
	}
	if p.AbsoluteErrorThreshold != nil {
		solver.AbsoluteErrorThreshold = *p.AbsoluteErrorThreshold
	}
	if p.PriorWeight != nil {
		solver.PriorWeight = *p.PriorWeight
	}
}
