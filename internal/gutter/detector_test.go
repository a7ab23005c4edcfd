package gutter_test

import (
	"image"
	"image/color"
	"testing"

	"folio/internal/gutter"
	"folio/internal/testsupport"
)

func TestDetectCenteredGutter(t *testing.T) {
	img := testsupport.SpreadImage(2000, 1200, 1000)

	detection, err := gutter.Detect(img, gutter.Options{})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if detection.Position < 480 || detection.Position > 520 {
		t.Fatalf("expected position within 500±20, got %d", detection.Position)
	}
	if detection.Confidence != gutter.ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s (depth %.3f)", detection.Confidence, detection.DepthRatio)
	}
	if !detection.IsSpread() {
		t.Fatal("expected detection to qualify as a spread")
	}
	if detection.EdgeColumn < 0 {
		t.Fatal("expected gradient pass to find a binding edge")
	}
	if len(detection.Profile.Mean) != gutter.AnalysisWidth {
		t.Fatalf("expected %d-column profile, got %d", gutter.AnalysisWidth, len(detection.Profile.Mean))
	}
	if len(detection.Smoothed) != gutter.AnalysisWidth {
		t.Fatalf("expected %d-column smoothed profile, got %d", gutter.AnalysisWidth, len(detection.Smoothed))
	}
}

func TestDetectOffCenterGutter(t *testing.T) {
	// Gutter at 55% of width, still inside the default search band.
	img := testsupport.SpreadImage(1600, 1000, 880)

	detection, err := gutter.Detect(img, gutter.Options{})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if detection.Position < 530 || detection.Position > 570 {
		t.Fatalf("expected position within 550±20, got %d", detection.Position)
	}
	if detection.Confidence != gutter.ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", detection.Confidence)
	}
}

func TestDetectUniformImageIsLowConfidence(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 800, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			img.SetGray(x, y, color.Gray{Y: 210})
		}
	}

	detection, err := gutter.Detect(img, gutter.Options{})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if detection.Confidence != gutter.ConfidenceLow {
		t.Fatalf("expected low confidence on a flat image, got %s", detection.Confidence)
	}
	if detection.IsSpread() {
		t.Fatal("expected flat image not to qualify as a spread")
	}
}

func TestDetectValleyOutsideBandIsLowConfidence(t *testing.T) {
	// Dark band at 10% of width sits outside the default 35%-65% search band,
	// so the in-band minimum is just page texture.
	img := testsupport.SpreadImage(2000, 1200, 200)

	detection, err := gutter.Detect(img, gutter.Options{})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if detection.Confidence != gutter.ConfidenceLow {
		t.Fatalf("expected low confidence, got %s", detection.Confidence)
	}
}

func TestDetectShallowValleyIsMediumConfidence(t *testing.T) {
	// Valley bottoms out at 195 against a 225 page: deep enough to notice,
	// too shallow to trust outright.
	img := image.NewGray(image.Rect(0, 0, 1000, 700))
	for y := 0; y < 700; y++ {
		for x := 0; x < 1000; x++ {
			value := uint8(225)
			dist := x - 500
			if dist < 0 {
				dist = -dist
			}
			if dist <= 15 {
				value = 195
			}
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}

	detection, err := gutter.Detect(img, gutter.Options{})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if detection.Confidence != gutter.ConfidenceMedium {
		t.Fatalf("expected medium confidence, got %s (depth %.3f)", detection.Confidence, detection.DepthRatio)
	}
	if detection.Position < 480 || detection.Position > 520 {
		t.Fatalf("expected position near 500, got %d", detection.Position)
	}
}

func TestDetectHonorsCustomBand(t *testing.T) {
	img := testsupport.SpreadImage(1000, 700, 425)

	detection, err := gutter.Detect(img, gutter.Options{BandStart: 400, BandEnd: 450})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if detection.Position < 405 || detection.Position > 445 {
		t.Fatalf("expected position within custom band near 425, got %d", detection.Position)
	}
}

func TestDetectRejectsUnusableImages(t *testing.T) {
	if _, err := gutter.Detect(nil, gutter.Options{}); err == nil {
		t.Fatal("expected error for nil image")
	}
	tiny := image.NewGray(image.Rect(0, 0, 1, 1))
	if _, err := gutter.Detect(tiny, gutter.Options{}); err == nil {
		t.Fatal("expected error for degenerate image")
	}
}
