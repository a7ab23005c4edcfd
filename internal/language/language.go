package language

import (
	"strings"

	"golang.org/x/text/cases"
	xtext "golang.org/x/text/language"
)

type entry struct {
	code    string   // canonical: ISO 639-1 where one exists, else ISO 639-2
	display string   // human-readable name used in prompts and listings
	aliases []string // other codes and word forms
}

// The table leans toward languages that show up in digitized manuscripts and
// early print; the canonical code is what jobs and page subdocuments store.
var languages = []entry{
	{"la", "Latin", []string{"lat", "latin"}},
	{"grc", "Ancient Greek", []string{"ancient greek", "classical greek"}},
	{"el", "Greek", []string{"ell", "gre", "greek", "modern greek"}},
	{"he", "Hebrew", []string{"heb", "hebrew"}},
	{"ar", "Arabic", []string{"ara", "arabic"}},
	{"sa", "Sanskrit", []string{"san", "sanskrit"}},
	{"fa", "Persian", []string{"fas", "per", "persian", "farsi"}},
	{"syr", "Syriac", []string{"syriac"}},
	{"cop", "Coptic", []string{"coptic"}},
	{"chu", "Church Slavonic", []string{"church slavonic", "old church slavonic"}},
	{"ang", "Old English", []string{"old english", "anglo-saxon"}},
	{"fro", "Old French", []string{"old french"}},
	{"gmh", "Middle High German", []string{"middle high german"}},
	{"non", "Old Norse", []string{"old norse"}},
	{"hy", "Armenian", []string{"hye", "arm", "armenian"}},
	{"ka", "Georgian", []string{"kat", "geo", "georgian"}},
	{"en", "English", []string{"eng", "english"}},
	{"fr", "French", []string{"fra", "fre", "french"}},
	{"de", "German", []string{"deu", "ger", "german"}},
	{"it", "Italian", []string{"ita", "italian"}},
	{"es", "Spanish", []string{"spa", "spanish"}},
	{"pt", "Portuguese", []string{"por", "portuguese"}},
	{"nl", "Dutch", []string{"nld", "dut", "dutch"}},
	{"ru", "Russian", []string{"rus", "russian"}},
	{"pl", "Polish", []string{"pol", "polish"}},
	{"ja", "Japanese", []string{"jpn", "japanese"}},
	{"zh", "Chinese", []string{"zho", "chi", "chinese"}},
}

var byKey map[string]*entry

func init() {
	byKey = make(map[string]*entry, len(languages)*3)
	for i := range languages {
		e := &languages[i]
		byKey[e.code] = e
		byKey[normalizeKey(e.display)] = e
		for _, alias := range e.aliases {
			byKey[normalizeKey(alias)] = e
		}
	}
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

func lookup(input string) *entry {
	key := normalizeKey(input)
	if key == "" {
		return nil
	}
	return byKey[key]
}

// Normalize returns the canonical code for any recognized code, alias, or
// word form. Unrecognized two- or three-letter codes pass through lowercased
// so uncommon but valid ISO codes are not destroyed; anything else returns
// the empty string.
func Normalize(input string) string {
	if e := lookup(input); e != nil {
		return e.code
	}
	key := normalizeKey(input)
	if len(key) == 2 || len(key) == 3 {
		alpha := true
		for _, r := range key {
			if r < 'a' || r > 'z' {
				alpha = false
				break
			}
		}
		if alpha {
			return key
		}
	}
	return ""
}

// IsRecognized reports whether the input maps to a known language.
func IsRecognized(input string) bool {
	return lookup(input) != nil
}

// DisplayName returns a readable name for a code or word form. Empty input
// reports "Unknown"; unrecognized input is title-cased as a best effort so
// prompts never embed a bare code.
func DisplayName(input string) string {
	if strings.TrimSpace(input) == "" {
		return "Unknown"
	}
	if e := lookup(input); e != nil {
		return e.display
	}
	return cases.Title(xtext.English).String(normalizeKey(input))
}
