package library

import (
	"strings"
	"time"
)

// Book groups the pages of one scanned manuscript.
type Book struct {
	ID        int64
	Title     string
	Author    string
	Language  string
	PageCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Usage captures token counts and cost reported by the provider for one call.
type Usage struct {
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// OCRResult is the transcription stored on a page.
type OCRResult struct {
	Data      string    `json:"data"`
	Model     string    `json:"model,omitempty"`
	Language  string    `json:"language,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// TranslationResult is the translation stored on a page.
type TranslationResult struct {
	Data           string    `json:"data"`
	Model          string    `json:"model,omitempty"`
	SourceLanguage string    `json:"source_language,omitempty"`
	TargetLanguage string    `json:"target_language,omitempty"`
	Usage          *Usage    `json:"usage,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
}

// Page is a single manuscript page. The photo is the source scan; crop bounds
// are on the normalized 0-1000 horizontal scale; CroppedPhoto is the derived
// image materialized from the crop window. Split-derived pages reference their
// source page through SplitFrom.
type Page struct {
	ID            int64
	BookID        int64
	PageNumber    int
	Photo         string
	PhotoOriginal string
	CropXStart    *int
	CropXEnd      *int
	CroppedPhoto  string
	SplitFrom     *int64
	OCR           *OCRResult
	Translation   *TranslationResult
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasCrop reports whether a crop window is set on the page.
func (p *Page) HasCrop() bool {
	return p.CropXStart != nil && p.CropXEnd != nil
}

// IsSplitDerived reports whether this page was created by splitting a spread.
func (p *Page) IsSplitDerived() bool {
	return p.SplitFrom != nil
}

// SourceImage returns the image OCR must read: the derived crop when a crop
// window exists, otherwise the raw photo. An empty return means the crop has
// not been materialized yet and the page is not ready for OCR.
func (p *Page) SourceImage() string {
	if p.HasCrop() {
		return p.CroppedPhoto
	}
	return p.Photo
}

// OCRText returns the stored transcription, or empty.
func (p *Page) OCRText() string {
	if p.OCR == nil {
		return ""
	}
	return p.OCR.Data
}

// TranslationText returns the stored translation, or empty.
func (p *Page) TranslationText() string {
	if p.Translation == nil {
		return ""
	}
	return p.Translation.Data
}

// NeedsOCR reports whether the OCR stage should run for this page.
func (p *Page) NeedsOCR(overwrite bool) bool {
	if overwrite {
		return true
	}
	return p.OCR == nil || strings.TrimSpace(p.OCR.Data) == ""
}

// NeedsTranslation reports whether the translation stage should run.
func (p *Page) NeedsTranslation(overwrite bool) bool {
	if overwrite {
		return true
	}
	return p.Translation == nil || strings.TrimSpace(p.Translation.Data) == ""
}

// NeedsCropMaterialized reports whether a crop window is set without its
// derived image, which must be produced before OCR may run.
func (p *Page) NeedsCropMaterialized() bool {
	return p.HasCrop() && strings.TrimSpace(p.CroppedPhoto) == ""
}
