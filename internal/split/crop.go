package split

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"folio/internal/imagestore"
	"folio/internal/imaging"
	"folio/internal/library"
)

// MaterializeCrop renders the derived image for a page whose crop window has
// not been produced yet and records its location on the page. The page struct
// is updated in place so callers can use the new reference immediately.
func MaterializeCrop(ctx context.Context, images imagestore.Store, lib *library.Store, page *library.Page) error {
	if page == nil {
		return errors.New("page is nil")
	}
	if !page.HasCrop() {
		return fmt.Errorf("page %d has no crop window", page.ID)
	}
	if strings.TrimSpace(page.Photo) == "" {
		return errors.New("page has no photo to crop")
	}

	reader, err := images.Open(ctx, page.Photo)
	if err != nil {
		return fmt.Errorf("open photo: %w", err)
	}
	img, _, err := imaging.Decode(reader)
	reader.Close()
	if err != nil {
		return fmt.Errorf("decode photo: %w", err)
	}
	cropped, err := imaging.CropHorizontal(img, *page.CropXStart, *page.CropXEnd)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := imaging.EncodeJPEG(&buf, cropped, imaging.DefaultJPEGQuality); err != nil {
		return fmt.Errorf("encode cropped image: %w", err)
	}
	ref := fmt.Sprintf("derived/page-%d-crop-%d-%d.jpg", page.ID, *page.CropXStart, *page.CropXEnd)
	stored, err := images.Write(ctx, ref, buf.Bytes())
	if err != nil {
		return fmt.Errorf("store cropped image: %w", err)
	}
	if err := lib.SetCroppedPhoto(ctx, page.ID, stored); err != nil {
		return fmt.Errorf("record cropped image: %w", err)
	}
	page.CroppedPhoto = stored
	return nil
}
