package testsupport

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// SpreadImage builds a synthetic two-page spread: a light page background with
// a dark vertical valley centered on gutterX. Band widths scale with the image
// so the valley survives normalization to the analysis width.
func SpreadImage(width, height, gutterX int) *image.Gray {
	core := width * 3 / 200
	if core < 2 {
		core = 2
	}
	mid := width * 5 / 200
	if mid <= core {
		mid = core + 2
	}
	outer := width * 8 / 200
	if outer <= mid {
		outer = mid + 2
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			value := uint8(225)
			dist := x - gutterX
			if dist < 0 {
				dist = -dist
			}
			switch {
			case dist <= core:
				value = 30
			case dist <= mid:
				value = 90
			case dist <= outer:
				value = 170
			}
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}
	return img
}

// WritePageImage encodes a synthetic spread as PNG at the given path.
func WritePageImage(t testing.TB, path string, width, height, gutterX int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, SpreadImage(width, height, gutterX)); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}
