package stitch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Codec decodes and encodes one image format. Header returns extents
// only; none of the codecs fills TileHandle.Min/Max, so sample ranges are
// known only from the Tile that Read returns.
type Codec interface {
	Header(path string) (TileHandle, error)
	Read(path string) (*Tile, error)
	Write(path string, img OutputImage) error
}

// ImageStore produces tiles on demand. 2D tiles are held in memory for
// the whole run (resident, keyed by resolved path); 3D tiles are
// re-decoded on every ReadTile call to bound working set — callers must
// not retain a 3D *Tile past its immediate use. TileHandles are cheap to
// copy and clone regardless of mode.
type ImageStore struct {
	Mode  Mode
	codec map[string]Codec // keyed by lowercase file extension

	copyDir string // non-empty enables -copy staging
	mu      sync.Mutex
	staged  map[string]string // source path -> staged path

	residentMu sync.Mutex
	resident   map[string]*Tile // 2D-mode cache, keyed by resolved path
}

// NewImageStore builds an ImageStore for the given mode, with codecs
// registered by file extension (".dcm" -> DICOM, ".tif"/".tiff" -> TIFF,
// ".png" -> PNG).
func NewImageStore(mode Mode) *ImageStore {
	return &ImageStore{
		Mode: mode,
		codec: map[string]Codec{
			".dcm":  dicomCodec{},
			".tif":  tiffCodec{},
			".tiff": tiffCodec{},
			".png":  pngCodec{},
		},
		staged:   make(map[string]string),
		resident: make(map[string]*Tile),
	}
}

// EnableCopyStaging routes every subsequent OpenHeader/ReadTile through a
// one-time copy into dir, mirroring the -copy CLI flag: useful when tiles
// live on slow or removable media.
func (s *ImageStore) EnableCopyStaging(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating copy staging directory: %w", err)
	}
	s.copyDir = dir
	return nil
}

func (s *ImageStore) resolve(path string) (string, error) {
	if s.copyDir == "" {
		return path, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if staged, ok := s.staged[path]; ok {
		return staged, nil
	}
	dst := filepath.Join(s.copyDir, filepath.Base(path))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTileNotFound, path, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("staging %s: %w", path, err)
	}
	s.staged[path] = dst
	return dst, nil
}

func (s *ImageStore) codecFor(path string) (Codec, error) {
	ext := lowerExt(path)
	c, ok := s.codec[ext]
	if !ok {
		return nil, fmt.Errorf("%w: no codec registered for extension %q", ErrDecodeFailure, ext)
	}
	return c, nil
}

// OpenHeader returns a tile handle with extents (Min/Max left zero),
// without necessarily reading the full pixel buffer.
func (s *ImageStore) OpenHeader(path string) (TileHandle, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return TileHandle{}, err
	}
	c, err := s.codecFor(resolved)
	if err != nil {
		return TileHandle{}, err
	}
	h, err := c.Header(resolved)
	if err != nil {
		return TileHandle{}, fmt.Errorf("%w: %s: %v", ErrDecodeFailure, path, err)
	}
	h.Path = path
	return h, nil
}

// ReadTile materialises the full pixel buffer for path. In 2D mode the
// decoded tile is cached and reused for the life of the store, since
// callers (Aligner, Fuser) may read the same small tile many times over
// the course of a run. In 3D mode nothing is cached: every call decodes
// fresh from disk, and the caller must let the returned *Tile go out of
// scope once it is done with it, bounding working set to whatever tiles
// are in active use.
func (s *ImageStore) ReadTile(path string) (*Tile, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	if s.Mode == Mode2D {
		s.residentMu.Lock()
		if t, ok := s.resident[resolved]; ok {
			s.residentMu.Unlock()
			return t, nil
		}
		s.residentMu.Unlock()
	}

	c, err := s.codecFor(resolved)
	if err != nil {
		return nil, err
	}
	t, err := c.Read(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailure, path, err)
	}

	if s.Mode == Mode2D {
		s.residentMu.Lock()
		s.resident[resolved] = t
		s.residentMu.Unlock()
	}
	return t, nil
}

// WriteOutput writes a fused OutputImage through the codec selected by
// the destination path's extension.
func (s *ImageStore) WriteOutput(path string, img OutputImage) error {
	c, err := s.codecFor(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailure, path, err)
	}
	if err := c.Write(path, img); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailure, path, err)
	}
	return nil
}

func lowerExt(path string) string {
	ext := filepath.Ext(path)
	out := make([]byte, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
