package imaging_test

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"folio/internal/imaging"
)

func twoTone(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{R: 240, G: 240, B: 240, A: 255}
			if x >= width/2 {
				c = color.RGBA{R: 20, G: 20, B: 20, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestCropHorizontalWindow(t *testing.T) {
	img := twoTone(1000, 400)

	left, err := imaging.CropHorizontal(img, 0, 510)
	if err != nil {
		t.Fatalf("CropHorizontal failed: %v", err)
	}
	if got := left.Bounds().Dx(); got != 510 {
		t.Fatalf("expected left width 510, got %d", got)
	}
	if got := left.Bounds().Dy(); got != 400 {
		t.Fatalf("expected full height, got %d", got)
	}

	right, err := imaging.CropHorizontal(img, 490, 1000)
	if err != nil {
		t.Fatalf("CropHorizontal failed: %v", err)
	}
	if got := right.Bounds().Dx(); got != 510 {
		t.Fatalf("expected right width 510, got %d", got)
	}

	// The overlap region appears on both sides.
	r, _, _, _ := left.At(left.Bounds().Min.X+505, left.Bounds().Min.Y).RGBA()
	if r>>8 > 128 {
		t.Fatalf("expected dark pixel past midline in left crop, got %d", r>>8)
	}
	r, _, _, _ = right.At(right.Bounds().Min.X+5, right.Bounds().Min.Y).RGBA()
	if r>>8 < 128 {
		t.Fatalf("expected light pixel before midline in right crop, got %d", r>>8)
	}
}

func TestCropHorizontalRejectsBadWindows(t *testing.T) {
	img := twoTone(100, 100)
	cases := [][2]int{{-1, 500}, {0, 1001}, {600, 600}, {700, 300}}
	for _, window := range cases {
		if _, err := imaging.CropHorizontal(img, window[0], window[1]); err == nil {
			t.Errorf("expected window [%d, %d] to be rejected", window[0], window[1])
		}
	}
	if _, err := imaging.CropHorizontal(nil, 0, 500); err == nil {
		t.Error("expected nil image to be rejected")
	}
}

func TestScaleToMaxEdgeOnlyShrinks(t *testing.T) {
	img := twoTone(3000, 2000)
	scaled := imaging.ScaleToMaxEdge(img, 1500)
	if got := scaled.Bounds().Dx(); got != 1500 {
		t.Fatalf("expected width 1500, got %d", got)
	}
	if got := scaled.Bounds().Dy(); got != 1000 {
		t.Fatalf("expected height 1000, got %d", got)
	}

	small := twoTone(800, 600)
	unchanged := imaging.ScaleToMaxEdge(small, 1500)
	if unchanged != image.Image(small) {
		t.Fatal("expected image inside the bound to be returned unchanged")
	}
}

func TestSaveAndLoadJPEG(t *testing.T) {
	img := twoTone(200, 100)
	path := filepath.Join(t.TempDir(), "derived", "page.jpg")

	if err := imaging.SaveJPEG(path, img, 85); err != nil {
		t.Fatalf("SaveJPEG failed: %v", err)
	}

	loaded, format, err := imaging.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("expected jpeg format, got %q", format)
	}
	if loaded.Bounds().Dx() != 200 || loaded.Bounds().Dy() != 100 {
		t.Fatalf("unexpected dimensions %v", loaded.Bounds())
	}
}

func TestEncodeJPEGDefaultsQuality(t *testing.T) {
	var buf bytes.Buffer
	if err := imaging.EncodeJPEG(&buf, twoTone(20, 20), 0); err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected encoded bytes")
	}
	if err := imaging.EncodeJPEG(&buf, nil, 85); err == nil {
		t.Fatal("expected nil image to be rejected")
	}
}
