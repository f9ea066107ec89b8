package stitch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TileSpec is one entry of the "tiles" array form of the configuration
// file.
type TileSpec struct {
	Path   string `json:"path"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Z      int    `json:"z"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Depth  int    `json:"depth"`

	// Box is an alternative, variable-length placement form: [x,y],
	// [x,y,z], [x,y,width,height], or [x,y,z,width,height,depth].
	// When present it overrides the separate x/y/z/width/height/depth
	// fields entirely.
	Box []int `json:"box"`
}

// unpackBox expands a tile's "box" array into an origin/extent pair,
// matching the original tool's IBox3D unpacking: unspecified width,
// height, and depth default to 1; unspecified z defaults to 0.
func unpackBox(box []int) (IVec, IVec, error) {
	origin := IVec{0, 0, 0}
	extent := IVec{1, 1, 1}
	switch len(box) {
	case 2:
		origin[0], origin[1] = box[0], box[1]
	case 3:
		origin[0], origin[1], origin[2] = box[0], box[1], box[2]
	case 4:
		origin[0], origin[1] = box[0], box[1]
		extent[0], extent[1] = box[2], box[3]
	case 6:
		origin[0], origin[1], origin[2] = box[0], box[1], box[2]
		extent[0], extent[1], extent[2] = box[3], box[4], box[5]
	default:
		return IVec{}, IVec{}, &ConfigError{Field: "tiles[].box", Err: ErrConfigLengthMismatch}
	}
	return origin, extent, nil
}

// MQTTConfig names the optional telemetry broker.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
}

// Config is the JSON configuration file ingested at startup, per §6.
// Relative paths (OutputPath, AlignmentFile, tile paths) resolve against
// the config file's own directory.
type Config struct {
	Version string `json:"version"`
	Mode    Mode   `json:"mode"`

	OverlapRatio           json.RawMessage `json:"overlap_ratio"`
	CorrelationThreshold   *float64        `json:"correlation_threshold"`
	RelativeErrorThreshold *float64        `json:"relative_error_threshold"`
	AbsoluteErrorThreshold *float64        `json:"absolute_error_threshold"`
	CheckPeaks             *int            `json:"check_peaks"`
	DimensionMask          *[3]bool        `json:"dimension_mask"`
	FuseMode               FuseMode        `json:"fuse_mode"`
	NoFuse                 bool            `json:"no_fuse"`
	UsePhaseCorrelation    *bool           `json:"use_phase_correlation"`
	OutputPath             string          `json:"output_path"`
	AlignmentFile          string          `json:"alignment_file"`
	MergeSubgraphs         bool            `json:"merge_subgraphs"`

	Tiles     []TileSpec `json:"tiles"`
	TilePaths []string   `json:"tile_paths"`
	TileLayout []struct {
		X, Y, Z             int
		Width, Height, Depth int
	} `json:"tile_layout"`

	MQTT MQTTConfig `json:"mqtt"`

	dir string // directory the config file lives in, for relative-path resolution
}

// LoadConfig reads, parses, defaults, and validates a JSON configuration
// file, in that order (defaults are applied before validation), following
// the load-and-check shape of config_loader.go's LoadConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config: %v", ErrTileNotFound, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Field: "<root>", Err: fmt.Errorf("parsing JSON: %w", err)}
	}
	cfg.dir = filepath.Dir(path)

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.OutputPath == "" {
		c.OutputPath = "./output"
	}
	if c.FuseMode == "" {
		c.FuseMode = FuseLinear
	}
	if c.CorrelationThreshold == nil {
		v := 0.3
		c.CorrelationThreshold = &v
	}
	if c.RelativeErrorThreshold == nil {
		v := 2.5
		c.RelativeErrorThreshold = &v
	}
	if c.AbsoluteErrorThreshold == nil {
		v := 3.5
		c.AbsoluteErrorThreshold = &v
	}
	if c.CheckPeaks == nil {
		v := 5
		c.CheckPeaks = &v
	}
	if c.DimensionMask == nil {
		v := [3]bool{true, true, true}
		c.DimensionMask = &v
	}
	if c.UsePhaseCorrelation == nil {
		v := true
		c.UsePhaseCorrelation = &v
	}
	return nil
}

// OverlapRatioVec parses overlap_ratio, which may be a bare scalar applied
// to every axis or a 2/3-tuple, defaulting to 0.2 per axis when absent.
func (c *Config) OverlapRatioVec(dims int) (Vec, error) {
	if len(c.OverlapRatio) == 0 {
		return Vec{0.2, 0.2, 0.2}, nil
	}
	var scalar float64
	if err := json.Unmarshal(c.OverlapRatio, &scalar); err == nil {
		return Vec{scalar, scalar, scalar}, nil
	}
	var tuple []float64
	if err := json.Unmarshal(c.OverlapRatio, &tuple); err != nil {
		return Vec{}, &ConfigError{Field: "overlap_ratio", Err: err}
	}
	if len(tuple) < dims {
		return Vec{}, &ConfigError{Field: "overlap_ratio", Err: ErrConfigLengthMismatch}
	}
	var v Vec
	for i := 0; i < dims && i < len(tuple); i++ {
		v[i] = tuple[i]
	}
	return v, nil
}

// Validate checks the fixed requirements named in §6/§7: a recognised
// mode, consistent tile_paths/tile_layout lengths, a recognised fuse_mode,
// and at least one tile. The output path is not checked here.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return &ConfigError{Field: "mode", Err: ErrConfigInvalidEnum}
	}
	if len(c.TilePaths) > 0 && len(c.TileLayout) > 0 && len(c.TilePaths) != len(c.TileLayout) {
		return &ConfigError{Field: "tile_paths/tile_layout", Err: ErrConfigLengthMismatch}
	}
	switch c.FuseMode {
	case FuseAverage, FuseMin, FuseMax, FuseOverwrite, FuseLinear, FuseCenterPriority, "":
	default:
		return &ConfigError{Field: "fuse_mode", Err: ErrConfigInvalidEnum}
	}
	if len(c.Tiles) == 0 && len(c.TilePaths) == 0 {
		return &ConfigError{Field: "tiles", Err: ErrConfigMissingKey}
	}
	return nil
}

// ResolvePath resolves a path that may be relative to the config file's
// own directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// LayoutBoxes builds the LayoutModel boxes implied by the configuration,
// accepting either the "tiles" array form or the separate
// "tile_paths"+"tile_layout" form.
func (c *Config) LayoutBoxes(dims int) ([]string, []LayoutBox, error) {
	if len(c.Tiles) > 0 {
		paths := make([]string, len(c.Tiles))
		boxes := make([]LayoutBox, len(c.Tiles))
		for i, t := range c.Tiles {
			paths[i] = c.ResolvePath(t.Path)
			if len(t.Box) > 0 {
				origin, extent, err := unpackBox(t.Box)
				if err != nil {
					return nil, nil, err
				}
				boxes[i] = LayoutBox{Origin: origin, Extent: extent}
				continue
			}
			boxes[i] = LayoutBox{
				Origin: IVec{t.X, t.Y, t.Z},
				Extent: IVec{t.Width, t.Height, t.Depth},
			}
		}
		return paths, boxes, nil
	}

	if len(c.TilePaths) != len(c.TileLayout) {
		return nil, nil, &ConfigError{Field: "tile_paths/tile_layout", Err: ErrConfigLengthMismatch}
	}
	paths := make([]string, len(c.TilePaths))
	boxes := make([]LayoutBox, len(c.TilePaths))
	for i, p := range c.TilePaths {
		paths[i] = c.ResolvePath(p)
		l := c.TileLayout[i]
		boxes[i] = LayoutBox{
			Origin: IVec{l.X, l.Y, l.Z},
			Extent: IVec{l.Width, l.Height, l.Depth},
		}
	}
	return paths, boxes, nil
}
