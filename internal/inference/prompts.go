package inference

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"folio/internal/language"
)

// transcriptionInstructions captures the base OCR instructions. Update this
// text centrally so streaming and batch calls stay in sync.
const transcriptionInstructions = `You are transcribing a scanned book page.

Rules:

- Transcribe every piece of text on the page exactly as printed, including punctuation and diacritics.
- Preserve paragraph breaks. Join words that are hyphenated across line ends.
- Skip page numbers, running headers, and printer's marks.
- Do not add commentary or markup. Output the transcription only.
- If the page contains no readable text, output nothing.`

// translationInstructions captures the base translation instructions.
const translationInstructions = `You are translating a transcribed book page.

Rules:

- Translate the text faithfully, keeping the paragraph structure.
- Keep proper names and titles recognizable.
- Do not add commentary or notes. Output the translation only.`

// TranscriptionPrompt builds the OCR prompt sent alongside a page image.
// previousText is the tail of the preceding page's transcription and keeps
// sentences continuous across page boundaries. Language codes are rendered
// as readable names so the model sees "Latin", not "la".
func TranscriptionPrompt(sourceLanguage, previousText string) string {
	var b strings.Builder
	b.WriteString(transcriptionInstructions)
	if lang := strings.TrimSpace(sourceLanguage); lang != "" {
		fmt.Fprintf(&b, "\n\nThe page is printed in %s.", language.DisplayName(lang))
	}
	if tail := strings.TrimSpace(previousText); tail != "" {
		fmt.Fprintf(&b, "\n\nThe previous page ended with:\n%s\n\nContinue the transcription seamlessly from there.", tail)
	}
	b.WriteString("\n\nNow transcribe the attached page.")
	return b.String()
}

// TailText bounds continuity context to the trailing limit bytes of s, cut on
// a rune boundary. A non-positive limit disables continuity entirely.
func TailText(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || s == "" {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	start := len(s) - limit
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

// TranslationPrompt builds the translation prompt for transcribed page text.
func TranslationPrompt(text, sourceLanguage, targetLanguage, previousText string) string {
	var b strings.Builder
	b.WriteString(translationInstructions)
	if source := strings.TrimSpace(sourceLanguage); source != "" {
		fmt.Fprintf(&b, "\n\nThe source language is %s.", language.DisplayName(source))
	}
	if target := strings.TrimSpace(targetLanguage); target != "" {
		fmt.Fprintf(&b, "\nTranslate into %s.", language.DisplayName(target))
	}
	if tail := strings.TrimSpace(previousText); tail != "" {
		fmt.Fprintf(&b, "\n\nThe previous page's translation ended with:\n%s\n\nContinue seamlessly from there.", tail)
	}
	fmt.Fprintf(&b, "\n\nNow translate this page:\n\n%s", strings.TrimSpace(text))
	return b.String()
}
