package stitch

import (
	"encoding/binary"
	"fmt"
	"image"
	"os"

	"golang.org/x/image/tiff"
)

// tiffCodec handles multi-page TIFF tile input (3D) and single-page TIFF
// input (2D), using golang.org/x/image/tiff for the single-page case and
// a minimal baseline-uncompressed multi-IFD walk for multi-page volumes,
// since the standard decoder only exposes the first image directory.
// TIFF is an input-only format here: §6 specifies DICOM for 3D output and
// PNG for 2D output.
type tiffCodec struct{}

func (tiffCodec) Header(path string) (TileHandle, error) {
	pages, err := readTIFFIFDs(path)
	if err != nil {
		return TileHandle{}, err
	}
	if len(pages) == 0 {
		return TileHandle{}, fmt.Errorf("tiff: no image directories")
	}
	p0 := pages[0]
	return TileHandle{Width: p0.width, Height: p0.height, Depth: len(pages)}, nil
}

func (tiffCodec) Read(path string) (*Tile, error) {
	pages, err := readTIFFIFDs(path)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("tiff: no image directories")
	}

	if len(pages) == 1 {
		return decodeSinglePageTIFF(path)
	}

	w, h, d := pages[0].width, pages[0].height, len(pages)
	t := &Tile{Width: w, Height: h, Depth: d, Data: make([]float32, w*h*d)}
	var minV, maxV float32 = 1e30, -1e30
	for z, p := range pages {
		for i, raw := range p.samples {
			v := float32(raw)
			t.Data[z*w*h+i] = v
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
	}
	t.Min, t.Max = minV, maxV
	return t, nil
}

func (tiffCodec) Write(path string, img OutputImage) error {
	return fmt.Errorf("tiff: write not supported, output format is DICOM (3D) or PNG (2D) per configuration")
}

func decodeSinglePageTIFF(path string) (*Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	t := &Tile{Width: w, Height: h, Depth: 1, Data: make([]float32, w*h)}
	var minV, maxV float32 = 1e30, -1e30
	gray, isGray := img.(*image.Gray16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v float32
			if isGray {
				v = float32(gray.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			} else {
				gr, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				v = float32(gr)
			}
			t.Set(x, y, 0, v)
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
	}
	t.Min, t.Max = minV, maxV
	return t, nil
}

// tiffPage is one baseline-uncompressed grayscale image directory's
// decoded samples, used only for the multi-page 3D path.
type tiffPage struct {
	width, height int
	samples       []uint32
}

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
)

// readTIFFIFDs walks the IFD chain of a baseline, uncompressed TIFF file
// and decodes each page's pixel samples directly from its strips. Tiled
// or compressed TIFFs are rejected with an error, matching the "only
// interfaces, not full bit-exact correctness" scope for this external
// collaborator (§1).
func readTIFFIFDs(path string) ([]tiffPage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("tiff: file too small")
	}

	var order binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("tiff: bad byte-order marker")
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, fmt.Errorf("tiff: bad magic number")
	}

	var pages []tiffPage
	offset := order.Uint32(data[4:8])
	for offset != 0 {
		if int(offset)+2 > len(data) {
			break
		}
		count := int(order.Uint16(data[offset : offset+2]))
		entriesStart := offset + 2
		tags := make(map[uint16][]uint32)
		for i := 0; i < count; i++ {
			entryOff := int(entriesStart) + i*12
			if entryOff+12 > len(data) {
				break
			}
			tag := order.Uint16(data[entryOff : entryOff+2])
			typ := order.Uint16(data[entryOff+2 : entryOff+4])
			n := order.Uint32(data[entryOff+4 : entryOff+8])
			valOff := entryOff + 8
			vals := decodeTIFFValues(data, order, typ, n, valOff)
			tags[tag] = vals
		}
		nextOff := int(entriesStart) + count*12
		var next uint32
		if nextOff+4 <= len(data) {
			next = order.Uint32(data[nextOff : nextOff+4])
		}

		page, err := decodeTIFFPage(data, order, tags)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
		offset = next
	}
	return pages, nil
}

func decodeTIFFValues(data []byte, order binary.ByteOrder, typ uint16, n uint32, valOff int) []uint32 {
	var size int
	switch typ {
	case 1, 2: // BYTE, ASCII
		size = 1
	case 3: // SHORT
		size = 2
	case 4: // LONG
		size = 4
	default:
		size = 4
	}
	total := size * int(n)
	var src []byte
	if total <= 4 {
		src = data[valOff : valOff+total]
	} else {
		off := order.Uint32(data[valOff : valOff+4])
		if int(off)+total > len(data) {
			return nil
		}
		src = data[off : int(off)+total]
	}
	out := make([]uint32, n)
	for i := 0; i < int(n); i++ {
		switch size {
		case 1:
			out[i] = uint32(src[i])
		case 2:
			out[i] = uint32(order.Uint16(src[i*2 : i*2+2]))
		case 4:
			out[i] = order.Uint32(src[i*4 : i*4+4])
		}
	}
	return out
}

func decodeTIFFPage(data []byte, order binary.ByteOrder, tags map[uint16][]uint32) (tiffPage, error) {
	width := firstOr(tags[tagImageWidth], 0)
	height := firstOr(tags[tagImageLength], 0)
	bits := firstOr(tags[tagBitsPerSample], 8)
	compression := firstOr(tags[tagCompression], 1)
	if compression != 1 {
		return tiffPage{}, fmt.Errorf("tiff: compressed strips are not supported")
	}
	stripOffsets := tags[tagStripOffsets]
	stripCounts := tags[tagStripByteCounts]
	if len(stripOffsets) == 0 {
		return tiffPage{}, fmt.Errorf("tiff: tiled (non-stripped) images are not supported")
	}

	samples := make([]uint32, 0, width*height)
	for si, off := range stripOffsets {
		var n uint32
		if si < len(stripCounts) {
			n = stripCounts[si]
		}
		end := int(off) + int(n)
		if end > len(data) {
			end = len(data)
		}
		strip := data[off:end]
		switch bits {
		case 8:
			for _, b := range strip {
				samples = append(samples, uint32(b))
			}
		case 16:
			for i := 0; i+1 < len(strip); i += 2 {
				samples = append(samples, uint32(order.Uint16(strip[i:i+2])))
			}
		default:
			return tiffPage{}, fmt.Errorf("tiff: unsupported bits-per-sample %d", bits)
		}
	}
	if len(samples) < int(width)*int(height) {
		return tiffPage{}, fmt.Errorf("tiff: truncated strip data")
	}
	return tiffPage{width: int(width), height: int(height), samples: samples[:int(width)*int(height)]}, nil
}

func firstOr(vals []uint32, def uint32) uint32 {
	if len(vals) == 0 {
		return def
	}
	return vals[0]
}
