package stitch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFixture(t, `{
		"mode": "2d",
		"tiles": [{"path": "a.png", "x": 0, "y": 0, "width": 100, "height": 100}]
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "./output", cfg.OutputPath)
	assert.Equal(t, FuseLinear, cfg.FuseMode)
	assert.Equal(t, 0.3, *cfg.CorrelationThreshold)
	assert.Equal(t, 5, *cfg.CheckPeaks)
}

func TestLoadConfigRejectsInvalidMode(t *testing.T) {
	path := writeConfigFixture(t, `{"mode": "4d", "tiles": [{"path": "a.png"}]}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadConfigRejectsTilePathLayoutMismatch(t *testing.T) {
	path := writeConfigFixture(t, `{
		"mode": "2d",
		"tile_paths": ["a.png", "b.png"],
		"tile_layout": [{"X":0,"Y":0,"Width":10,"Height":10}]
	}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestOverlapRatioVecScalarAndTuple(t *testing.T) {
	cfg := &Config{OverlapRatio: []byte(`0.25`)}
	v, err := cfg.OverlapRatioVec(2)
	require.NoError(t, err)
	assert.Equal(t, Vec{0.25, 0.25, 0.25}, v)

	cfg2 := &Config{OverlapRatio: []byte(`[0.1, 0.2, 0.3]`)}
	v2, err := cfg2.OverlapRatioVec(3)
	require.NoError(t, err)
	assert.Equal(t, Vec{0.1, 0.2, 0.3}, v2)
}

func TestOverlapRatioVecDefault(t *testing.T) {
	cfg := &Config{}
	v, err := cfg.OverlapRatioVec(2)
	require.NoError(t, err)
	assert.Equal(t, Vec{0.2, 0.2, 0.2}, v)
}

func TestResolvePathRelativeToConfigDir(t *testing.T) {
	path := writeConfigFixture(t, `{"mode": "2d", "tiles": [{"path": "a.png"}]}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	resolved := cfg.ResolvePath("tiles/a.png")
	assert.Equal(t, filepath.Join(filepath.Dir(path), "tiles/a.png"), resolved)
}

func TestLayoutBoxesFromTilesArray(t *testing.T) {
	path := writeConfigFixture(t, `{
		"mode": "2d",
		"tiles": [
			{"path": "a.png", "x": 0, "y": 0, "width": 10, "height": 20},
			{"path": "b.png", "x": 5, "y": 0, "width": 10, "height": 20}
		]
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	paths, boxes, err := cfg.LayoutBoxes(2)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.Equal(t, IVec{10, 20, 0}, boxes[0].Extent)
	assert.Equal(t, IVec{5, 0, 0}, boxes[1].Origin)
}

func TestLayoutBoxesFromBoxArray(t *testing.T) {
	path := writeConfigFixture(t, `{
		"mode": "3d",
		"tiles": [
			{"path": "a.dcm", "box": [0, 0]},
			{"path": "b.dcm", "box": [5, 0, 1]},
			{"path": "c.dcm", "box": [0, 0, 10, 20]},
			{"path": "d.dcm", "box": [5, 0, 1, 10, 20, 8]}
		]
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, boxes, err := cfg.LayoutBoxes(3)
	require.NoError(t, err)

	assert.Equal(t, IVec{0, 0, 0}, boxes[0].Origin)
	assert.Equal(t, IVec{1, 1, 1}, boxes[0].Extent, "2-element box defaults width/height/depth to 1")

	assert.Equal(t, IVec{5, 0, 1}, boxes[1].Origin)
	assert.Equal(t, IVec{1, 1, 1}, boxes[1].Extent)

	assert.Equal(t, IVec{0, 0, 0}, boxes[2].Origin, "4-element box leaves z at 0")
	assert.Equal(t, IVec{10, 20, 1}, boxes[2].Extent)

	assert.Equal(t, IVec{5, 0, 1}, boxes[3].Origin)
	assert.Equal(t, IVec{10, 20, 8}, boxes[3].Extent)
}

func TestLayoutBoxesRejectsInvalidBoxLength(t *testing.T) {
	path := writeConfigFixture(t, `{
		"mode": "2d",
		"tiles": [
			{"path": "a.png", "box": [0, 0, 0, 0, 0]}
		]
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, _, err = cfg.LayoutBoxes(2)
	assert.Error(t, err)
}
