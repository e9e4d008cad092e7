package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/example/snapshot-recognizer/internal/vision"
)

func whiteCanvas(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

func isRed(c color.NRGBA) bool {
	return c.R == 255 && c.G == 0 && c.B == 0 && c.A == 255
}

func TestDrawOutlineIsThreePixelsInward(t *testing.T) {
	img := whiteCanvas(100, 100)
	marks := []Mark{{Layer: LayerObjects, Rect: vision.Rect{Left: 10, Top: 20, Right: 50, Bottom: 60}, FontSize: 5}}

	if err := Draw(img, marks); err != nil {
		t.Fatalf("draw failed: %v", err)
	}

	red := []image.Point{{10, 20}, {12, 40}, {50, 40}, {48, 40}, {30, 20}, {30, 22}, {30, 60}, {30, 58}, {50, 60}}
	for _, p := range red {
		if c := img.NRGBAAt(p.X, p.Y); !isRed(c) {
			t.Fatalf("expected red at %v, got %+v", p, c)
		}
	}
	white := []image.Point{{13, 40}, {47, 40}, {30, 23}, {30, 57}, {30, 40}, {9, 40}, {51, 40}, {30, 61}}
	for _, p := range white {
		if c := img.NRGBAAt(p.X, p.Y); isRed(c) {
			t.Fatalf("expected untouched pixel at %v", p)
		}
	}
}

func TestDrawLabelPaintsNearLabelOrigin(t *testing.T) {
	img := whiteCanvas(200, 100)
	marks := []Mark{{Layer: LayerObjects, Rect: vision.Rect{Left: 150, Top: 80, Right: 190, Bottom: 95}, Label: "HH", LabelAt: image.Pt(10, 10), FontSize: 20}}

	if err := Draw(img, marks); err != nil {
		t.Fatalf("draw failed: %v", err)
	}

	painted := 0
	for y := 10; y < 30; y++ {
		for x := 10; x < 40; x++ {
			if c := img.NRGBAAt(x, y); c.G < 200 {
				painted++
			}
		}
	}
	if painted == 0 {
		t.Fatal("expected label glyphs inside the label box")
	}
}

func TestDrawClipsBoxesOutsideCanvas(t *testing.T) {
	img := whiteCanvas(20, 20)
	marks := []Mark{{Rect: vision.Rect{Left: -5, Top: -5, Right: 40, Bottom: 40}, Label: "x 0.5", LabelAt: image.Pt(-5, 10), FontSize: 1}}
	if err := Draw(img, marks); err != nil {
		t.Fatalf("draw failed: %v", err)
	}
}
