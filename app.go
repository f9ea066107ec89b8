package main

import (
	"log"
	"sync"

	"github.com/kwv/tilestitch/stitch"
)

// App holds one pipeline run's CLI-derived options plus the most recent
// result, so the optional HTTP status server has something to report.
type App struct {
	Opts    stitch.PipelineOptions
	VizPath string // optional debug SVG output path (-viz)

	mu      sync.Mutex
	last    stitch.PipelineResult
	lastErr error
	ran     bool
}

// NewApp creates a new App instance.
func NewApp() *App {
	return &App{}
}

// ApplyOptions copies parsed CLI flags into the App's pipeline options.
func (a *App) ApplyOptions(opts AppOptions) {
	a.Opts = stitch.PipelineOptions{
		ConfigPath:     opts.ConfigFile,
		OutputOverride: opts.OutputFile,
		NoFuse:         opts.NoFuse,
		CopyStaging:    opts.CopyStaging,
		FuseModeFlag:   stitch.FuseMode(opts.FuseMode),
		ProfilePath:    opts.ProfilePath,
		Workers:        opts.Workers,
	}
	a.VizPath = opts.VizPath
}

// AppOptions is the CLI-flag-shaped input to ApplyOptions, kept separate
// from stitch.PipelineOptions so the flag package's zero values (empty
// strings, false bools) don't have to double as pipeline defaults.
type AppOptions struct {
	ConfigFile  string
	OutputFile  string
	NoFuse      bool
	CopyStaging bool
	FuseMode    string
	ProfilePath string
	Workers     int
	VizPath     string
}

// Run executes the stitching pipeline once and records the result for
// the status server.
func (a *App) Run() (stitch.PipelineResult, error) {
	result, err := stitch.RunPipeline(a.Opts)

	a.mu.Lock()
	a.last, a.lastErr, a.ran = result, err, true
	a.mu.Unlock()

	if err != nil {
		log.Printf("[PIPELINE] run failed: %v", err)
		return result, err
	}
	log.Printf("[PIPELINE] run complete: %d component(s), %d output file(s)", len(result.Components), len(result.OutputPaths))

	if a.VizPath != "" && result.Layout != nil {
		viz := stitch.NewVisualizer(result.Layout, result.Components, result.Offsets)
		if err := stitch.SaveSVG(a.VizPath, viz); err != nil {
			log.Printf("[PIPELINE] writing visualization: %v", err)
		}
	}
	return result, nil
}

// LastResult returns the most recent run's result and error, and whether
// a run has happened yet.
func (a *App) LastResult() (stitch.PipelineResult, error, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.lastErr, a.ran
}
