package gopeakcore

import (
	"fmt"
	"math"
	"sort"
)

// DetectOptions tunes candidate detection.
type DetectOptions struct {
	Algorithm DetectionAlgorithm

	// MinSNR rejects maxima whose height above baseline is below this many
	// noise sigmas.
	MinSNR float64

	// MinSeparation drops the weaker of two maxima closer than this on the
	// coordinate axis. Zero disables the filter.
	MinSeparation float64

	// BoundaryFraction is the amplitude fraction at which a peak's support
	// ends when no valley is hit first.
	BoundaryFraction float64
}

// DefaultDetectOptions matches the thresholds used by the workflow.
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{
		Algorithm:        DetectSimple,
		MinSNR:           3.0,
		MinSeparation:    0,
		BoundaryFraction: 0.05,
	}
}

// DetectPeaks scans the curve for local maxima above the noise floor and
// builds one candidate per surviving maximum, with support boundaries and a
// width estimate attached.
func DetectPeaks(c *Curve, opts DetectOptions) ([]*PeakCandidate, error) {
	if len(c.Y) < 3 {
		return nil, insufficientData(len(c.Y), 3)
	}
	if opts.BoundaryFraction <= 0 || opts.BoundaryFraction >= 1 {
		return nil, invalidConfig("boundary fraction %g outside (0, 1)", opts.BoundaryFraction)
	}

	threshold := c.BaselineIntensity + opts.MinSNR*c.NoiseLevel

	var maxima []int
	for i := 1; i < len(c.Y)-1; i++ {
		if c.Y[i] > c.Y[i-1] && c.Y[i] >= c.Y[i+1] && c.Y[i] > threshold {
			maxima = append(maxima, i)
		}
	}

	if opts.MinSeparation > 0 {
		maxima = enforceSeparation(c, maxima, opts.MinSeparation)
	}

	peaks := make([]*PeakCandidate, 0, len(maxima))
	for n, idx := range maxima {
		amp := c.Y[idx] - c.BaselineIntensity
		bounds := findBoundaries(c, idx, opts.BoundaryFraction)
		fwhm := halfHeightWidth(c, idx)
		if fwhm <= 0 {
			fwhm = bounds.Span() / 2
		}

		snr := amp / math.Max(c.NoiseLevel, 1e-12)
		p := &PeakCandidate{
			ID:                 fmt.Sprintf("%s-p%02d", c.ID, n),
			Center:             c.X[idx],
			Amplitude:          amp,
			Shape:              GaussianShape,
			Boundaries:         bounds,
			FWHM:               fwhm,
			Sigma:              fwhm / fwhmSigmaRatio,
			Detection:          opts.Algorithm,
			DetectionThreshold: threshold,
			Confidence:         math.Min(snr/(opts.MinSNR*3), 1.0),
		}
		peaks = append(peaks, p)
	}

	sort.Slice(peaks, func(i, j int) bool { return peaks[i].Center < peaks[j].Center })
	return peaks, nil
}

// enforceSeparation keeps the taller of any pair of maxima closer than the
// minimum separation.
func enforceSeparation(c *Curve, maxima []int, minSep float64) []int {
	kept := maxima[:0]
	for _, idx := range maxima {
		if len(kept) > 0 {
			last := kept[len(kept)-1]
			if c.X[idx]-c.X[last] < minSep {
				if c.Y[idx] > c.Y[last] {
					kept[len(kept)-1] = idx
				}
				continue
			}
		}
		kept = append(kept, idx)
	}
	return kept
}

// findBoundaries walks outward from the apex until the trace drops to the
// given fraction of the peak height or starts rising again (a valley toward
// a neighboring peak).
func findBoundaries(c *Curve, apex int, fraction float64) Boundaries {
	amp := c.Y[apex] - c.BaselineIntensity
	cutoff := c.BaselineIntensity + amp*fraction

	left := 0
	for i := apex - 1; i >= 0; i-- {
		if c.Y[i] <= cutoff || (i > 0 && c.Y[i-1] > c.Y[i]) {
			left = i
			break
		}
	}

	right := len(c.Y) - 1
	for i := apex + 1; i < len(c.Y); i++ {
		if c.Y[i] <= cutoff || (i < len(c.Y)-1 && c.Y[i+1] > c.Y[i]) {
			right = i
			break
		}
	}

	return Boundaries{Left: c.X[left], Right: c.X[right]}
}

// halfHeightWidth measures the FWHM around an apex with linear interpolation
// at the crossings. Returns 0 when either crossing is outside the trace.
func halfHeightWidth(c *Curve, apex int) float64 {
	half := c.BaselineIntensity + (c.Y[apex]-c.BaselineIntensity)/2

	leftX := math.NaN()
	for i := apex - 1; i >= 0; i-- {
		if c.Y[i] <= half {
			leftX = interpolateCrossing(c.X[i], c.Y[i], c.X[i+1], c.Y[i+1], half)
			break
		}
	}

	rightX := math.NaN()
	for i := apex + 1; i < len(c.Y); i++ {
		if c.Y[i] <= half {
			rightX = interpolateCrossing(c.X[i-1], c.Y[i-1], c.X[i], c.Y[i], half)
			break
		}
	}

	if math.IsNaN(leftX) || math.IsNaN(rightX) {
		return 0
	}
	return rightX - leftX
}

func interpolateCrossing(x1, y1, x2, y2, level float64) float64 {
	if y2 == y1 {
		return x1
	}
	return x1 + (x2-x1)*(level-y1)/(y2-y1)
}

// ExternalPeak is a caller-supplied candidate position, used when detection
// happened upstream (an instrument vendor library or a manual annotation).
type ExternalPeak struct {
	Center    float64
	Amplitude float64
	FWHM      float64
}

// CandidatesFromExternal adapts upstream positions into candidates,
// estimating whatever the caller left at zero from the curve itself.
func CandidatesFromExternal(c *Curve, ext []ExternalPeak, opts DetectOptions) []*PeakCandidate {
	peaks := make([]*PeakCandidate, 0, len(ext))
	for n, e := range ext {
		idx := c.ClosestIndex(e.Center)
		amp := e.Amplitude
		if amp <= 0 {
			amp = c.Y[idx] - c.BaselineIntensity
		}
		fwhm := e.FWHM
		if fwhm <= 0 {
			fwhm = halfHeightWidth(c, idx)
		}
		bounds := findBoundaries(c, idx, opts.BoundaryFraction)

		peaks = append(peaks, &PeakCandidate{
			ID:         fmt.Sprintf("%s-x%02d", c.ID, n),
			Center:     e.Center,
			Amplitude:  amp,
			Shape:      GaussianShape,
			Boundaries: bounds,
			FWHM:       fwhm,
			Sigma:      fwhm / fwhmSigmaRatio,
			Detection:  DetectExternal,
			Confidence: 1.0,
		})
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].Center < peaks[j].Center })
	return peaks
}
