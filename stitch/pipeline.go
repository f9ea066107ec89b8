package stitch

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
)

// PipelineOptions mirrors the CLI surface described in §6: an output
// directory override, fuse-mode override, copy-staging toggle, and the
// optional threshold-profile sidecar.
type PipelineOptions struct {
	ConfigPath    string
	OutputOverride string
	NoFuse        bool
	CopyStaging   bool
	FuseModeFlag  FuseMode // overrides config.FuseMode when non-empty
	ProfilePath   string
	Workers       int
}

// PipelineResult summarises one run for the caller (CLI main or tests).
type PipelineResult struct {
	Components  []Component
	Offsets     []OffsetTable
	OutputPaths []string
	UsedExistingAlignment bool
	Layout      *LayoutModel
}

// RunPipeline executes the full §2 pipeline: ImageStore -> LayoutModel ->
// Aligner -> Solver (or deserialised align_values.json) -> Fuser ->
// ImageStore writes, in that dependency order.
func RunPipeline(opts PipelineOptions) (PipelineResult, error) {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return PipelineResult{}, err
	}

	dims := cfg.Mode.Dims()
	alignOpts := DefaultAlignOptions()
	if r, err := cfg.OverlapRatioVec(dims); err == nil {
		alignOpts.OverlapRatio = r
	}
	if cfg.CorrelationThreshold != nil {
		alignOpts.CorrelationThreshold = *cfg.CorrelationThreshold
	}
	if cfg.CheckPeaks != nil {
		alignOpts.CheckPeaks = *cfg.CheckPeaks
	}
	if cfg.DimensionMask != nil {
		alignOpts.DimensionMask = *cfg.DimensionMask
	}
	if cfg.UsePhaseCorrelation != nil {
		alignOpts.UsePhaseCorrelation = *cfg.UsePhaseCorrelation
	}

	solverOpts := DefaultSolverOptions()
	if cfg.RelativeErrorThreshold != nil {
		solverOpts.RelativeErrorThreshold = *cfg.RelativeErrorThreshold
	}
	if cfg.AbsoluteErrorThreshold != nil {
		solverOpts.AbsoluteErrorThreshold = *cfg.AbsoluteErrorThreshold
	}
	solverOpts.MergeSubgraphs = cfg.MergeSubgraphs
	solverOpts.OverlapRatio = alignOpts.OverlapRatio

	if opts.ProfilePath != "" {
		profile, err := LoadThresholdProfile(opts.ProfilePath)
		if err != nil {
			return PipelineResult{}, err
		}
		profile.ApplyProfile(&alignOpts, &solverOpts)
	}

	fuseMode := cfg.FuseMode
	if opts.FuseModeFlag != "" {
		fuseMode = opts.FuseModeFlag
	}

	store := NewImageStore(cfg.Mode)
	if opts.CopyStaging {
		stageDir := filepath.Join(cfg.ResolvePath(cfg.OutputPath), ".staged")
		if err := store.EnableCopyStaging(stageDir); err != nil {
			return PipelineResult{}, err
		}
	}

	paths, boxes, err := cfg.LayoutBoxes(dims)
	if err != nil {
		return PipelineResult{}, err
	}
	layout := NewLayoutModel(dims, boxes)

	handles := make([]TileHandle, len(paths))
	for i, p := range paths {
		h, err := store.OpenHeader(p)
		if err != nil {
			return PipelineResult{}, err
		}
		handles[i] = h
	}

	// load materialises tile id on demand via the store: cached for the
	// run in 2D mode, re-decoded per call in 3D mode. Neither the
	// Aligner nor the Fuser retain tiles past their immediate use, so at
	// most a handful of 3D tiles are resident at once.
	load := func(id int) (*Tile, error) {
		return store.ReadTile(paths[id])
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var telemetry *TelemetryPublisher
	if cfg.MQTT.Broker != "" {
		telemetry, err = NewTelemetryPublisher(TelemetryOptions{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientID, RunID: "pipeline"})
		if err != nil {
			log.Printf("[PIPELINE] telemetry disabled: %v", err)
		} else if telemetry != nil {
			defer telemetry.Close()
		}
	}

	alignmentFile := cfg.ResolvePath(cfg.AlignmentFile)
	if alignmentFile == "" {
		alignmentFile = filepath.Join(cfg.ResolvePath(cfg.OutputPath), "align_values.json")
	}

	var components []Component
	var offsets []OffsetTable
	usedExisting := false

	if AlignFileExists(alignmentFile) {
		log.Printf("[PIPELINE] found existing alignment file %s, bypassing Solver", alignmentFile)
		_, comps, offs, err := LoadAlignFile(alignmentFile)
		if err != nil {
			return PipelineResult{}, err
		}
		components, offsets = comps, offs
		usedExisting = true
	} else {
		aligner := NewAligner(dims, layout, alignOpts)
		aligner.Telemetry = telemetry
		observations := aligner.AlignAll(load, workers)

		solver := NewSolver(dims, len(paths), layout, solverOpts)
		solver.Telemetry = telemetry
		result, err := solver.Solve(observations)
		if err != nil {
			return PipelineResult{}, fmt.Errorf("solving tile layout: %w", err)
		}
		components, offsets = result.Components, result.Offsets

		if err := SaveAlignFile(alignmentFile, observations, components, offsets); err != nil {
			return PipelineResult{}, err
		}
	}

	res := PipelineResult{Components: components, Offsets: offsets, UsedExistingAlignment: usedExisting, Layout: layout}
	if opts.NoFuse || cfg.NoFuse {
		return res, nil
	}

	fuser := NewFuser(dims, FuseOptions{Mode: fuseMode, Subpixel: true})

	specs := make([][]memberSpec, len(components))
	for ci, comp := range components {
		table := offsets[ci]
		group := make([]memberSpec, len(comp))
		for k, id := range comp {
			group[k] = memberSpec{id: id, offset: table[id]}
		}
		specs[ci] = group
	}

	outputs, err := FuseAllParallel(fuser, specs, load, workers)
	if err != nil {
		return PipelineResult{}, fmt.Errorf("fusing components: %w", err)
	}

	outDir := cfg.ResolvePath(cfg.OutputPath)
	ext := ".png"
	if dims == 3 {
		ext = ".dcm"
	}
	for ci, out := range outputs {
		name := "mosaic"
		if len(outputs) > 1 {
			name = fmt.Sprintf("mosaic_%d", ci)
		}
		outPath := filepath.Join(outDir, name+ext)
		if opts.OutputOverride != "" {
			outPath = opts.OutputOverride
			if len(outputs) > 1 {
				ext2 := filepath.Ext(outPath)
				base := outPath[:len(outPath)-len(ext2)]
				outPath = fmt.Sprintf("%s_%d%s", base, ci, ext2)
			}
		}
		if err := store.WriteOutput(outPath, out); err != nil {
			return PipelineResult{}, err
		}
		res.OutputPaths = append(res.OutputPaths, outPath)
		log.Printf("[PIPELINE] wrote component %d (%d tiles) to %s", ci, len(components[ci]), outPath)
	}

	return res, nil
}
