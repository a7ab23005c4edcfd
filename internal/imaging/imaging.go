// Package imaging wraps the decode, crop, scale, and encode operations the
// pipeline performs on page scans. Format support covers the common scanner
// outputs: JPEG, PNG, GIF, BMP, TIFF, and WebP.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality is used when a caller passes a non-positive quality.
const DefaultJPEGQuality = 85

// Decode reads an image from r, accepting any registered format.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Load decodes the image file at path.
func Load(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// CropHorizontal cuts the window [start, end] on the normalized 0-1000
// horizontal scale out of img, keeping the full height.
func CropHorizontal(img image.Image, start, end int) (image.Image, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	if start < 0 || end > 1000 || start >= end {
		return nil, fmt.Errorf("invalid crop window [%d, %d]", start, end)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	x0 := bounds.Min.X + width*start/1000
	x1 := bounds.Min.X + width*end/1000
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if x1 > bounds.Max.X {
		x1 = bounds.Max.X
	}
	rect := image.Rect(x0, bounds.Min.Y, x1, bounds.Max.Y)

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect), nil
	}

	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(out, image.Point{}, img, rect, draw.Src, nil)
	return out, nil
}

// ScaleToMaxEdge shrinks img so its longest edge is at most maxEdge,
// preserving aspect ratio. Images already inside the bound are returned
// unchanged; this never upscales.
func ScaleToMaxEdge(img image.Image, maxEdge int) image.Image {
	if img == nil || maxEdge <= 0 {
		return img
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	longest := width
	if height > longest {
		longest = height
	}
	if longest <= maxEdge {
		return img
	}

	outW := width * maxEdge / longest
	outH := height * maxEdge / longest
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.CatmullRom.Scale(out, out.Bounds(), img, bounds, draw.Src, nil)
	return out
}

// EncodeJPEG writes img to w as JPEG at the given quality.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if img == nil {
		return errors.New("image is nil")
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}

// SaveJPEG encodes img to path, creating parent directories as needed.
func SaveJPEG(path string, img image.Image, quality int) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create image directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}
	if err := EncodeJPEG(f, img, quality); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close image file: %w", err)
	}
	return nil
}
