package inference

// Usage reports the token accounting the provider returned for one call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Result is the outcome of one synchronous model call.
type Result struct {
	Text  string
	Model string
	Usage Usage
}

// TranscribeRequest asks for the text content of a page image.
type TranscribeRequest struct {
	// Image is the encoded page image; MIME names its encoding
	// (for example "image/jpeg").
	Image []byte
	MIME  string
	// Language hints the expected source language; empty lets the model
	// decide.
	Language string
	// PreviousText is the tail of the preceding page's transcription and
	// keeps hyphenated words and sentences continuous across pages.
	PreviousText string
	// Model overrides the configured model when set.
	Model string
}

// TranslateRequest asks for a translation of transcribed page text.
type TranslateRequest struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
	// PreviousText is the tail of the preceding page's translation.
	PreviousText string
	Model        string
}

// Part is one piece of a batch request payload.
type Part struct {
	Text  string
	Image []byte
	MIME  string
}

// KeyedRequest is a single unit of work inside a batch submission. Key is an
// opaque caller identifier echoed back with the matching result.
type KeyedRequest struct {
	Key   string
	Parts []Part
}

// KeyedResult is one unit's outcome from a finished batch.
type KeyedResult struct {
	Key   string
	Text  string
	Err   string
	Usage Usage
}

// Failed reports whether the unit produced no usable text.
func (r KeyedResult) Failed() bool {
	return r.Err != "" || r.Text == ""
}

// BatchSubmission identifies a batch accepted by the provider.
type BatchSubmission struct {
	ExternalRef   string
	ExternalState string
}

// BatchStats summarizes per-unit progress as reported by the provider.
type BatchStats struct {
	Total     int64
	Pending   int64
	Succeeded int64
	Failed    int64
}

// BatchPoll is a point-in-time view of a submitted batch.
type BatchPoll struct {
	ExternalState string
	Done          bool
	Stats         BatchStats
	// Message carries the provider's failure description when the whole
	// batch failed.
	Message string
}
