package gutter

import (
	"errors"
	"image"
	"sort"

	"golang.org/x/image/draw"
)

// AnalysisWidth is the fixed width every image is normalized to before
// profiling. With a 1000-column analysis the column index doubles as the
// normalized 0-1000 position.
const AnalysisWidth = 1000

// Confidence grades how trustworthy a detection is. It is advisory; callers
// may split on a low-confidence result if the operator insists.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

const (
	defaultBandStart    = 350
	defaultBandEnd      = 650
	defaultSmoothRadius = 7

	// agreementTolerance is how far apart (in normalized units) the darkest
	// column and the sharpest edge may sit and still corroborate each other.
	agreementTolerance = 30

	// minEdgeStrength is the smallest first-difference magnitude treated as a
	// real binding-shadow edge rather than print texture.
	minEdgeStrength = 8.0

	highDepthRatio   = 0.20
	mediumDepthRatio = 0.08
)

// Options tunes the search band and smoothing. Zero values fall back to the
// defaults above.
type Options struct {
	BandStart    int
	BandEnd      int
	SmoothRadius int
}

func (o Options) withDefaults() Options {
	if o.BandStart <= 0 {
		o.BandStart = defaultBandStart
	}
	if o.BandEnd <= 0 || o.BandEnd > AnalysisWidth {
		o.BandEnd = defaultBandEnd
	}
	if o.BandEnd <= o.BandStart {
		o.BandStart = defaultBandStart
		o.BandEnd = defaultBandEnd
	}
	if o.SmoothRadius <= 0 {
		o.SmoothRadius = defaultSmoothRadius
	}
	return o
}

// Profile holds the per-column brightness statistics computed during
// detection, kept for audit and visualization.
type Profile struct {
	Mean []float64
	Min  []float64
	P25  []float64
}

// Detection is the outcome of a gutter search.
type Detection struct {
	// Position is the candidate gutter on the normalized 0-1000 scale.
	Position   int
	Confidence Confidence
	// Profile carries the raw column statistics; Smoothed is the moving
	// average of Profile.Mean that the minimum search ran on.
	Profile  Profile
	Smoothed []float64
	// EdgeColumn is where the gradient cross-check found the sharpest edge,
	// or -1 when no edge cleared the strength floor.
	EdgeColumn int
	// DepthRatio measures how far the valley dips below the page brightness.
	DepthRatio float64
}

// IsSpread reports whether the detection is strong enough to treat the image
// as a two-page spread.
func (d *Detection) IsSpread() bool {
	return d != nil && d.Confidence != ConfidenceLow
}

// Detect normalizes the image, profiles column brightness, and returns the
// most plausible gutter position inside the center search band.
func Detect(img image.Image, opts Options) (*Detection, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	bounds := img.Bounds()
	if bounds.Dx() < 2 || bounds.Dy() < 1 {
		return nil, errors.New("image too small for gutter analysis")
	}
	opts = opts.withDefaults()

	gray := normalize(img)
	profile := columnProfile(gray)
	smoothed := smooth(profile.Mean, opts.SmoothRadius)

	minCol := opts.BandStart
	for col := opts.BandStart; col < opts.BandEnd; col++ {
		if smoothed[col] < smoothed[minCol] {
			minCol = col
		}
	}

	edgeCol := strongestEdge(profile.Mean, opts.BandStart, opts.BandEnd)

	pageMean := 0.0
	for _, v := range smoothed {
		pageMean += v
	}
	pageMean /= float64(len(smoothed))

	depth := 0.0
	if pageMean > 0 {
		depth = (pageMean - smoothed[minCol]) / pageMean
	}

	return &Detection{
		Position:   minCol,
		Confidence: grade(depth, minCol, edgeCol),
		Profile:    profile,
		Smoothed:   smoothed,
		EdgeColumn: edgeCol,
		DepthRatio: depth,
	}, nil
}

// normalize scales the source to the fixed analysis width, preserving aspect
// ratio, and converts it to grayscale in the same pass.
func normalize(img image.Image) *image.Gray {
	bounds := img.Bounds()
	height := bounds.Dy() * AnalysisWidth / bounds.Dx()
	if height < 1 {
		height = 1
	}
	gray := image.NewGray(image.Rect(0, 0, AnalysisWidth, height))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, bounds, draw.Src, nil)
	return gray
}

func columnProfile(gray *image.Gray) Profile {
	width := gray.Bounds().Dx()
	height := gray.Bounds().Dy()
	profile := Profile{
		Mean: make([]float64, width),
		Min:  make([]float64, width),
		P25:  make([]float64, width),
	}

	column := make([]float64, height)
	for x := 0; x < width; x++ {
		sum := 0.0
		min := 255.0
		for y := 0; y < height; y++ {
			v := float64(gray.GrayAt(x, y).Y)
			column[y] = v
			sum += v
			if v < min {
				min = v
			}
		}
		sort.Float64s(column)
		profile.Mean[x] = sum / float64(height)
		profile.Min[x] = min
		profile.P25[x] = column[height/4]
	}
	return profile
}

// smooth applies a symmetric moving average, clamping the window at the
// profile edges.
func smooth(values []float64, radius int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		lo := i - radius
		if lo < 0 {
			lo = 0
		}
		hi := i + radius
		if hi >= len(values) {
			hi = len(values) - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// strongestEdge returns the column with the largest first-difference
// magnitude inside the band, or -1 when nothing clears the strength floor.
func strongestEdge(raw []float64, bandStart, bandEnd int) int {
	best := -1
	bestMag := minEdgeStrength
	for col := bandStart; col < bandEnd-1; col++ {
		mag := raw[col+1] - raw[col]
		if mag < 0 {
			mag = -mag
		}
		if mag > bestMag {
			bestMag = mag
			best = col
		}
	}
	return best
}

func grade(depth float64, minCol, edgeCol int) Confidence {
	level := ConfidenceLow
	switch {
	case depth >= highDepthRatio:
		level = ConfidenceHigh
	case depth >= mediumDepthRatio:
		level = ConfidenceMedium
	}

	if level == ConfidenceLow {
		return level
	}

	if edgeCol < 0 {
		// No corroborating edge. Keep medium results but don't report high.
		if level == ConfidenceHigh {
			return ConfidenceMedium
		}
		return level
	}

	dist := minCol - edgeCol
	if dist < 0 {
		dist = -dist
	}
	if dist > agreementTolerance {
		if level == ConfidenceHigh {
			return ConfidenceMedium
		}
		return ConfidenceLow
	}
	return level
}
