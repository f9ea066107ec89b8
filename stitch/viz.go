package stitch

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/svg"
)

// Visualizer renders a LayoutModel's tile placement and the Solver's
// resolved offsets as a debug SVG: one outlined rectangle per tile plus a
// simplified footprint outline of the whole mosaic, grouped by
// connected-component color. This is a diagnostic aid only — it is never
// consulted by the alignment or solving pipeline.
type Visualizer struct {
	Layout     *LayoutModel
	Components []Component
	Offsets    []OffsetTable
	Padding    float64
}

// NewVisualizer constructs a Visualizer over a Solver result.
func NewVisualizer(layout *LayoutModel, components []Component, offsets []OffsetTable) *Visualizer {
	return &Visualizer{Layout: layout, Components: components, Offsets: offsets, Padding: 20}
}

var componentPalette = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
}

// RenderSVG writes the visualizer's scene to w.
func (v *Visualizer) RenderSVG(w io.Writer) error {
	tileBox := make(map[int]LayoutBox, len(v.Layout.Boxes))
	for i, b := range v.Layout.Boxes {
		tileBox[i] = b
	}

	minX, minY, maxX, maxY := v.worldBounds()
	width := (maxX - minX) + 2*v.Padding
	height := (maxY - minY) + 2*v.Padding

	renderer := svg.New(w, width, height, nil)

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		return (x - minX) + v.Padding, (y - minY) + v.Padding
	}

	for ci, comp := range v.Components {
		col := componentPalette[ci%len(componentPalette)]
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: canvas.Transparent}
		style.Stroke = canvas.Paint{Color: col}
		style.StrokeWidth = 1.5

		table := v.Offsets[ci]
		for _, id := range comp {
			box := tileBox[id]
			offset := table[id]
			x0, y0 := toCanvas(offset[0], offset[1])
			x1, y1 := toCanvas(offset[0]+float64(box.Extent[0]), offset[1]+float64(box.Extent[1]))

			path := &canvas.Path{}
			path.MoveTo(x0, y0)
			path.LineTo(x1, y0)
			path.LineTo(x1, y1)
			path.LineTo(x0, y1)
			path.Close()
			renderer.RenderPath(path, style, canvas.Identity)
		}
	}

	outline := v.footprintOutline()
	if len(outline) >= 2 {
		outlineStyle := canvas.DefaultStyle
		outlineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		outlineStyle.Stroke = canvas.Paint{Color: color.RGBA{A: 0x80}}
		outlineStyle.StrokeWidth = 0.75
		path := &canvas.Path{}
		for i, p := range outline {
			x, y := toCanvas(p[0], p[1])
			if i == 0 {
				path.MoveTo(x, y)
			} else {
				path.LineTo(x, y)
			}
		}
		path.Close()
		renderer.RenderPath(path, outlineStyle, canvas.Identity)
	}

	return renderer.Close()
}

func (v *Visualizer) worldBounds() (minX, minY, maxX, maxY float64) {
	minX, minY = 1e30, 1e30
	maxX, maxY = -1e30, -1e30
	for ci, comp := range v.Components {
		table := v.Offsets[ci]
		for _, id := range comp {
			box := v.Layout.Boxes[id]
			offset := table[id]
			x0, y0 := offset[0], offset[1]
			x1 := x0 + float64(box.Extent[0])
			y1 := y0 + float64(box.Extent[1])
			if x0 < minX {
				minX = x0
			}
			if y0 < minY {
				minY = y0
			}
			if x1 > maxX {
				maxX = x1
			}
			if y1 > maxY {
				maxY = y1
			}
		}
	}
	if minX > maxX {
		return 0, 0, 1, 1
	}
	return minX, minY, maxX, maxY
}

// footprintOutline gathers every placed tile's bound corners via boundOf,
// orders them by x then y, and simplifies that polyline with
// Douglas-Peucker. The result joins the corners in sorted order; it is not
// a traced perimeter of the mosaic.
func (v *Visualizer) footprintOutline() orb.LineString {
	var corners orb.LineString
	for ci, comp := range v.Components {
		table := v.Offsets[ci]
		for _, id := range comp {
			box := v.Layout.Boxes[id]
			placed := LayoutBox{
				Origin: IVec{int(table[id][0]), int(table[id][1]), 0},
				Extent: box.Extent,
			}
			b := boundOf(placed)
			corners = append(corners, b.Min, orb.Point{b.Max[0], b.Min[1]}, b.Max, orb.Point{b.Min[0], b.Max[1]})
		}
	}
	if len(corners) == 0 {
		return nil
	}

	sort.Slice(corners, func(i, j int) bool {
		if corners[i][0] != corners[j][0] {
			return corners[i][0] < corners[j][0]
		}
		return corners[i][1] < corners[j][1]
	})

	simplified := simplify.DouglasPeucker(2.0).Simplify(corners)
	ls, ok := simplified.(orb.LineString)
	if !ok {
		return corners
	}
	return ls
}

// SaveSVG is a convenience wrapper used by the CLI's optional -viz flag.
func SaveSVG(path string, v *Visualizer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating visualization file: %v", ErrWriteFailure, err)
	}
	defer f.Close()
	return v.RenderSVG(f)
}
