package gopeakcore

import (
	"math"
)

// fwhmSigmaRatio converts a Gaussian sigma to full width at half maximum.
const fwhmSigmaRatio = 2.3548200450309493

// ShapeType tags the peak model assigned to a candidate.
type ShapeType int

const (
	GaussianShape ShapeType = iota
	LorentzianShape
	PseudoVoigtShape
	EMGShape
	BiGaussianShape
	VoigtExpTailShape
	PearsonIVShape
	NLCShape
	GMGBayesianShape
)

func (s ShapeType) String() string {
	switch s {
	case GaussianShape:
		return "gaussian"
	case LorentzianShape:
		return "lorentzian"
	case PseudoVoigtShape:
		return "pseudo_voigt"
	case EMGShape:
		return "emg"
	case BiGaussianShape:
		return "bi_gaussian"
	case VoigtExpTailShape:
		return "voigt_exp_tail"
	case PearsonIVShape:
		return "pearson_iv"
	case NLCShape:
		return "nlc"
	case GMGBayesianShape:
		return "gmg_bayesian"
	}
	return "unknown"
}

// DetectionAlgorithm tags how a candidate was found.
type DetectionAlgorithm string

const (
	DetectSimple   DetectionAlgorithm = "simple"
	DetectCWT      DetectionAlgorithm = "cwt"
	DetectExternal DetectionAlgorithm = "external"
)

// Boundaries is the support interval of a peak on the coordinate axis.
type Boundaries struct {
	Left  float64
	Right float64
}

// Span returns the width of the support interval.
func (b Boundaries) Span() float64 { return b.Right - b.Left }

// Intersection returns the overlap length of two intervals, zero when they
// are disjoint.
func (b Boundaries) Intersection(o Boundaries) float64 {
	lo := math.Max(b.Left, o.Left)
	hi := math.Min(b.Right, o.Right)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// FitResult carries the quality metrics of one fit attempt. It is
// overwritten on refit; R-squared is recorded even when negative so that
// diagnostically poor fits stay visible.
type FitResult struct {
	RSquared      float64
	RSS           float64
	Iterations    int
	Converged     bool
	StandardError float64
	Covariance    [][]float64
	ParamErrors   []float64
}

// PeakCandidate is a detected peak that is mutated in place as it moves
// through detection, strategy processing, fitting and validation. The final
// state is the output of the decomposition.
type PeakCandidate struct {
	ID string

	Center     float64
	Amplitude  float64
	Shape      ShapeType
	Params     []float64
	Boundaries Boundaries

	FWHM  float64
	Sigma float64
	Area  float64

	Detection          DetectionAlgorithm
	DetectionThreshold float64
	Confidence         float64

	Fit             *FitResult
	AppliedStrategy string
	Failed          bool
	FailureReason   string
}

// Valid reports whether a fitted peak satisfies the structural invariants:
// ordered boundaries around the center, positive amplitude and width.
func (p *PeakCandidate) Valid() bool {
	return p.Boundaries.Left < p.Center &&
		p.Center < p.Boundaries.Right &&
		p.Amplitude > 0 &&
		p.FWHM > 0 &&
		!math.IsNaN(p.Center)
}

// LocalSNR estimates the candidate's signal-to-noise ratio against the
// curve's noise level.
func (p *PeakCandidate) LocalSNR(c *Curve) float64 {
	if c.NoiseLevel <= 0 {
		return 0
	}
	return p.Amplitude / c.NoiseLevel
}

// QualityScore blends fit quality, symmetry and confidence into [0, 1].
func (p *PeakCandidate) QualityScore() float64 {
	score := 0.0
	if p.Fit != nil {
		score += math.Max(p.Fit.RSquared, 0) * 0.5
	}
	score += p.Confidence * 0.25
	if p.FWHM > 0 && p.Boundaries.Span() > 0 {
		// A peak whose support is much wider than its FWHM is poorly resolved.
		ratio := p.FWHM / p.Boundaries.Span()
		score += math.Min(ratio*2, 1.0) * 0.25
	}
	return math.Min(score, 1.0)
}

// markFailed records the failure without discarding the last-known fit
// state. The workflow never silently drops a peak.
func (p *PeakCandidate) markFailed(reason string) {
	p.Failed = true
	p.FailureReason = reason
}

// Clone deep-copies the candidate including its fit state.
func (p *PeakCandidate) Clone() *PeakCandidate {
	cp := *p
	cp.Params = append([]float64(nil), p.Params...)
	if p.Fit != nil {
		fit := *p.Fit
		fit.ParamErrors = append([]float64(nil), p.Fit.ParamErrors...)
		if p.Fit.Covariance != nil {
			fit.Covariance = make([][]float64, len(p.Fit.Covariance))
			for i, row := range p.Fit.Covariance {
				fit.Covariance[i] = append([]float64(nil), row...)
			}
		}
		cp.Fit = &fit
	}
	return &cp
}
