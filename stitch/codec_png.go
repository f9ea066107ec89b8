package stitch

import (
	"image"
	"image/color"
	"image/png"
	"os"
)

// pngCodec handles 2D grayscale PNG tiles (input) and 16-bit greyscale
// PNG output, via the standard library image/png — the same package the
// teacher's renderer.go uses for raster output.
type pngCodec struct{}

func (pngCodec) Header(path string) (TileHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return TileHandle{}, err
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return TileHandle{}, err
	}
	return TileHandle{Width: cfg.Width, Height: cfg.Height, Depth: 1}, nil
}

func (pngCodec) Read(path string) (*Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	t := &Tile{Width: w, Height: h, Depth: 1, Data: make([]float32, w*h)}

	gray16, isGray16 := img.(*image.Gray16)
	gray8, isGray8 := img.(*image.Gray)

	var minV, maxV float32 = 1e30, -1e30
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v float32
			switch {
			case isGray16:
				v = float32(gray16.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			case isGray8:
				v = float32(gray8.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			default:
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

// Write emits 2D output as 16-bit greyscale PNG. For 3D input this codec
// is not used for output (3D output is DICOM, per §6); callers should not
// route OutputImage.Samples8 results here.
func (pngCodec) Write(path string, img OutputImage) error {
	w, h := img.Extent[0], img.Extent[1]
	out := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := img.Samples32[y*w+x]
			out.SetGray16(x, y, color.Gray16{Y: quantize16(v)})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, out)
}

// quantize16 clamps a raw single-precision sample into the uint16 range
// expected by 16-bit greyscale PNG output. Unlike the 3D path, this runs
// once at write-out, not during blending, preserving accumulation
// precision.
func quantize16(v float32) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}
