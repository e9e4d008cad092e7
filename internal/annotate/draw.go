package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// OutlineWidth is the rectangle stroke in pixels, drawn inward from the box edge.
const OutlineWidth = 3

var markColor = color.NRGBA{R: 255, A: 255}

var labelFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

// Draw paints marks onto dst in order. Later marks overwrite earlier ones.
func Draw(dst draw.Image, marks []Mark) error {
	faces := map[int]font.Face{}
	defer func() {
		for _, f := range faces {
			f.Close()
		}
	}()

	src := image.NewUniform(markColor)
	for _, m := range marks {
		drawOutline(dst, m.Rect.Left, m.Rect.Top, m.Rect.Right, m.Rect.Bottom, src)

		face, ok := faces[m.FontSize]
		if !ok {
			var err error
			face, err = newFace(m.FontSize)
			if err != nil {
				return err
			}
			faces[m.FontSize] = face
		}
		drawLabel(dst, face, m.LabelAt, m.Label, src)
	}
	return nil
}

// drawOutline strokes the inclusive rectangle (l,t)-(r,b); draw.Draw clips to dst.
func drawOutline(dst draw.Image, l, t, r, b int, src image.Image) {
	edges := []image.Rectangle{
		image.Rect(l, t, r+1, t+OutlineWidth),
		image.Rect(l, b-OutlineWidth+1, r+1, b+1),
		image.Rect(l, t, l+OutlineWidth, b+1),
		image.Rect(r-OutlineWidth+1, t, r+1, b+1),
	}
	for _, edge := range edges {
		draw.Draw(dst, edge, src, image.Point{}, draw.Src)
	}
}

// drawLabel treats at as the top-left corner of the text box.
func drawLabel(dst draw.Image, face font.Face, at image.Point, text string, src image.Image) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  src,
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(at.X),
			Y: fixed.I(at.Y) + face.Metrics().Ascent,
		},
	}
	d.DrawString(text)
}

func newFace(size int) (font.Face, error) {
	f, err := labelFont()
	if err != nil {
		return nil, fmt.Errorf("parse label font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create label face size %d: %w", size, err)
	}
	return face, nil
}
