package stitch

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeGrayPNG writes a textured 8-bit greyscale PNG tile so phase
// correlation has real structure to lock onto, with dx/dy controlling a
// translated sampling window into a shared synthetic field.
func writeGrayPNG(t *testing.T, path string, w, h, dx, dy int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := x+dx, y+dy
			v := math.Sin(float64(sx)/4) * math.Cos(float64(sy)/6) * 100
			img.SetGray(x, y, color.Gray{Y: uint8(128 + v)})
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writePipelineConfig(t *testing.T, dir string, cfg map[string]any) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRunPipelineEndToEndTwoTiles(t *testing.T) {
	dir := t.TempDir()
	const w, h = 48, 48
	writeGrayPNG(t, filepath.Join(dir, "a.png"), w, h, 0, 0)
	writeGrayPNG(t, filepath.Join(dir, "b.png"), w, h, 10, 0)

	cfgPath := writePipelineConfig(t, dir, map[string]any{
		"mode": "2d",
		"tiles": []map[string]any{
			{"path": "a.png", "x": 0, "y": 0, "width": w, "height": h},
			{"path": "b.png", "x": 10, "y": 0, "width": w, "height": h},
		},
		"output_path":           "out",
		"correlation_threshold": 0.05,
	})

	result, err := RunPipeline(PipelineOptions{ConfigPath: cfgPath, Workers: 2})
	require.NoError(t, err)
	assert.False(t, result.UsedExistingAlignment)
	assert.Len(t, result.Components, 1)
	require.Len(t, result.OutputPaths, 1)

	if _, err := os.Stat(result.OutputPaths[0]); err != nil {
		t.Fatalf("expected output file at %s: %v", result.OutputPaths[0], err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "align_values.json")); err != nil {
		t.Fatalf("expected align_values.json to be written: %v", err)
	}
}

func TestRunPipelineBypassesSolverWhenAlignFileExists(t *testing.T) {
	dir := t.TempDir()
	const w, h = 32, 32
	writeGrayPNG(t, filepath.Join(dir, "a.png"), w, h, 0, 0)
	writeGrayPNG(t, filepath.Join(dir, "b.png"), w, h, 8, 0)

	cfgPath := writePipelineConfig(t, dir, map[string]any{
		"mode": "2d",
		"tiles": []map[string]any{
			{"path": "a.png", "x": 0, "y": 0, "width": w, "height": h},
			{"path": "b.png", "x": 8, "y": 0, "width": w, "height": h},
		},
		"output_path": "out",
	})

	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	components := []Component{{0, 1}}
	offsets := []OffsetTable{{0: Vec{0, 0, 0}, 1: Vec{8, 0, 0}}}
	require.NoError(t, SaveAlignFile(filepath.Join(outDir, "align_values.json"), nil, components, offsets))

	result, err := RunPipeline(PipelineOptions{ConfigPath: cfgPath, Workers: 2})
	require.NoError(t, err)
	assert.True(t, result.UsedExistingAlignment)
	assert.Equal(t, components, result.Components)
	assert.Equal(t, offsets, result.Offsets)
}

func TestRunPipelineNoFuseSkipsOutput(t *testing.T) {
	dir := t.TempDir()
	const w, h = 32, 32
	writeGrayPNG(t, filepath.Join(dir, "a.png"), w, h, 0, 0)
	writeGrayPNG(t, filepath.Join(dir, "b.png"), w, h, 6, 0)

	cfgPath := writePipelineConfig(t, dir, map[string]any{
		"mode": "2d",
		"tiles": []map[string]any{
			{"path": "a.png", "x": 0, "y": 0, "width": w, "height": h},
			{"path": "b.png", "x": 6, "y": 0, "width": w, "height": h},
		},
		"output_path":           "out",
		"correlation_threshold": 0.05,
	})

	result, err := RunPipeline(PipelineOptions{ConfigPath: cfgPath, NoFuse: true, Workers: 2})
	require.NoError(t, err)
	assert.Empty(t, result.OutputPaths)
	assert.NotEmpty(t, result.Components)
}

func TestRunPipelineOutputOverride(t *testing.T) {
	dir := t.TempDir()
	const w, h = 32, 32
	writeGrayPNG(t, filepath.Join(dir, "a.png"), w, h, 0, 0)
	writeGrayPNG(t, filepath.Join(dir, "b.png"), w, h, 5, 0)

	cfgPath := writePipelineConfig(t, dir, map[string]any{
		"mode": "2d",
		"tiles": []map[string]any{
			{"path": "a.png", "x": 0, "y": 0, "width": w, "height": h},
			{"path": "b.png", "x": 5, "y": 0, "width": w, "height": h},
		},
		"output_path":           "out",
		"correlation_threshold": 0.05,
	})

	override := filepath.Join(dir, "custom.png")
	result, err := RunPipeline(PipelineOptions{ConfigPath: cfgPath, OutputOverride: override, Workers: 2})
	require.NoError(t, err)
	require.Len(t, result.OutputPaths, 1)
	assert.Equal(t, override, result.OutputPaths[0])
}
