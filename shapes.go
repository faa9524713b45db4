package gopeakcore

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/integrate"
)

// Bound is an inclusive coefficient range used by the optimizer.
type Bound struct {
	Min float64
	Max float64
}

// Clamp forces v into the bound.
func (b Bound) Clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// Shape is a pure peak model: value and partial derivatives with respect to
// a named coefficient vector. Implementations are stateless; coefficients
// travel with the candidate.
type Shape interface {
	Type() ShapeType
	NumParams() int
	ParamNames() []string

	// Bounds derives default coefficient bounds from the candidate's scale
	// (amplitude >= 0, width > 0, center inside the support).
	Bounds(c *PeakCandidate) []Bound

	// InitialGuess seeds coefficients from the detected center, amplitude
	// and estimated width.
	InitialGuess(c *PeakCandidate) []float64

	Value(x float64, params []float64) float64

	// Gradient fills dst with d(value)/d(param). Closed form where one was
	// derived, finite differences otherwise.
	Gradient(dst []float64, x float64, params []float64)

	// Area integrates the model over its support: closed form where one
	// exists, numerical quadrature otherwise.
	Area(params []float64) float64
}

// ShapeOf returns the model for a shape tag.
func ShapeOf(t ShapeType) Shape {
	switch t {
	case LorentzianShape:
		return lorentzianShape{}
	case PseudoVoigtShape:
		return pseudoVoigtShape{}
	case EMGShape:
		return emgShape{}
	case BiGaussianShape:
		return biGaussianShape{}
	case VoigtExpTailShape:
		return voigtExpTailShape{}
	case PearsonIVShape:
		return pearsonIVShape{}
	case NLCShape:
		return nlcShape{}
	case GMGBayesianShape:
		return gmgBayesianShape{}
	default:
		return gaussianShape{}
	}
}

// estimatedSigma derives a sigma seed from the candidate's FWHM, falling
// back to a fraction of its support.
func estimatedSigma(c *PeakCandidate) float64 {
	if c.Sigma > 0 {
		return c.Sigma
	}
	if c.FWHM > 0 {
		return c.FWHM / fwhmSigmaRatio
	}
	if span := c.Boundaries.Span(); span > 0 {
		return span / 6
	}
	return 0.1
}

// numericGradient is the finite-difference fallback for shapes without a
// derived gradient.
func numericGradient(s Shape, dst []float64, x float64, params []float64) {
	fd.Gradient(dst, func(p []float64) float64 { return s.Value(x, p) }, params, nil)
}

// numericArea integrates a shape over [center-span, center+span] with the
// trapezoid rule on a fixed grid.
func numericArea(s Shape, params []float64, center, halfSpan float64) float64 {
	const n = 512
	xs := make([]float64, n)
	ys := make([]float64, n)
	step := 2 * halfSpan / float64(n-1)
	for i := 0; i < n; i++ {
		xs[i] = center - halfSpan + float64(i)*step
		ys[i] = s.Value(xs[i], params)
	}
	return integrate.Trapezoidal(xs, ys)
}

func amplitudeBound(c *PeakCandidate) Bound {
	return Bound{Min: 0, Max: math.Max(c.Amplitude*3, 1e-9)}
}

func centerBound(c *PeakCandidate) Bound {
	if c.Boundaries.Span() > 0 {
		return Bound{Min: c.Boundaries.Left, Max: c.Boundaries.Right}
	}
	w := math.Max(estimatedSigma(c)*3, 1e-3)
	return Bound{Min: c.Center - w, Max: c.Center + w}
}

func widthBound(c *PeakCandidate) Bound {
	s := estimatedSigma(c)
	return Bound{Min: s / 10, Max: s * 10}
}

// --- Gaussian ---------------------------------------------------------------

type gaussianShape struct{}

func (gaussianShape) Type() ShapeType      { return GaussianShape }
func (gaussianShape) NumParams() int       { return 3 }
func (gaussianShape) ParamNames() []string { return []string{"amplitude", "center", "sigma"} }

func (gaussianShape) Bounds(c *PeakCandidate) []Bound {
	return []Bound{amplitudeBound(c), centerBound(c), widthBound(c)}
}

func (gaussianShape) InitialGuess(c *PeakCandidate) []float64 {
	return []float64{c.Amplitude, c.Center, estimatedSigma(c)}
}

func (gaussianShape) Value(x float64, p []float64) float64 {
	d := x - p[1]
	return p[0] * math.Exp(-d*d/(2*p[2]*p[2]))
}

func (s gaussianShape) Gradient(dst []float64, x float64, p []float64) {
	d := x - p[1]
	e := math.Exp(-d * d / (2 * p[2] * p[2]))
	dst[0] = e
	dst[1] = p[0] * e * d / (p[2] * p[2])
	dst[2] = p[0] * e * d * d / (p[2] * p[2] * p[2])
}

func (gaussianShape) Area(p []float64) float64 {
	return p[0] * p[2] * math.Sqrt(2*math.Pi)
}

// --- Lorentzian -------------------------------------------------------------

type lorentzianShape struct{}

func (lorentzianShape) Type() ShapeType      { return LorentzianShape }
func (lorentzianShape) NumParams() int       { return 3 }
func (lorentzianShape) ParamNames() []string { return []string{"amplitude", "center", "gamma"} }

func (lorentzianShape) Bounds(c *PeakCandidate) []Bound {
	return []Bound{amplitudeBound(c), centerBound(c), widthBound(c)}
}

func (lorentzianShape) InitialGuess(c *PeakCandidate) []float64 {
	hwhm := estimatedSigma(c) * fwhmSigmaRatio / 2
	return []float64{c.Amplitude, c.Center, hwhm}
}

func (lorentzianShape) Value(x float64, p []float64) float64 {
	d := (x - p[1]) / p[2]
	return p[0] / (1 + d*d)
}

func (s lorentzianShape) Gradient(dst []float64, x float64, p []float64) {
	d := x - p[1]
	den := 1 + (d/p[2])*(d/p[2])
	dst[0] = 1 / den
	dst[1] = 2 * p[0] * d / (p[2] * p[2] * den * den)
	dst[2] = 2 * p[0] * d * d / (p[2] * p[2] * p[2] * den * den)
}

func (lorentzianShape) Area(p []float64) float64 {
	return p[0] * p[2] * math.Pi
}

// --- Pseudo-Voigt -----------------------------------------------------------

type pseudoVoigtShape struct{}

func (pseudoVoigtShape) Type() ShapeType { return PseudoVoigtShape }
func (pseudoVoigtShape) NumParams() int  { return 4 }
func (pseudoVoigtShape) ParamNames() []string {
	return []string{"amplitude", "center", "sigma", "mixing"}
}

func (pseudoVoigtShape) Bounds(c *PeakCandidate) []Bound {
	return []Bound{amplitudeBound(c), centerBound(c), widthBound(c), {Min: 0, Max: 1}}
}

func (pseudoVoigtShape) InitialGuess(c *PeakCandidate) []float64 {
	return []float64{c.Amplitude, c.Center, estimatedSigma(c), 0.5}
}

func (pseudoVoigtShape) Value(x float64, p []float64) float64 {
	d := x - p[1]
	g := math.Exp(-d * d / (2 * p[2] * p[2]))
	l := 1 / (1 + (d/p[2])*(d/p[2]))
	return p[0] * (p[3]*l + (1-p[3])*g)
}

func (s pseudoVoigtShape) Gradient(dst []float64, x float64, p []float64) {
	numericGradient(s, dst, x, p)
}

func (pseudoVoigtShape) Area(p []float64) float64 {
	gauss := p[0] * p[2] * math.Sqrt(2*math.Pi)
	lorentz := p[0] * p[2] * math.Pi
	return p[3]*lorentz + (1-p[3])*gauss
}

// --- Exponentially modified Gaussian ----------------------------------------

type emgShape struct{}

func (emgShape) Type() ShapeType { return EMGShape }
func (emgShape) NumParams() int  { return 4 }
func (emgShape) ParamNames() []string {
	return []string{"amplitude", "center", "sigma", "tau"}
}

func (emgShape) Bounds(c *PeakCandidate) []Bound {
	s := estimatedSigma(c)
	return []Bound{amplitudeBound(c), centerBound(c), widthBound(c), {Min: s / 10, Max: s * 20}}
}

func (emgShape) InitialGuess(c *PeakCandidate) []float64 {
	s := estimatedSigma(c)
	return []float64{c.Amplitude, c.Center, s, s * 0.5}
}

// Value evaluates A*sigma*sqrt(2*pi)*h(x) where h is the unit-area EMG
// density. Amplitude therefore approaches the peak height as tau -> 0 and
// the closed-form area stays A*sigma*sqrt(2*pi).
func (emgShape) Value(x float64, p []float64) float64 {
	amp, mu, sigma, tau := p[0], p[1], p[2], p[3]
	if sigma <= 0 || tau <= 0 {
		return 0
	}
	d := x - mu
	z := (sigma/tau - d/sigma) / math.Sqrt2
	if z > 6 {
		// Asymptotic branch: exp(e)*erfc(z) ~ exp(e-z^2)/(z*sqrt(pi)) and
		// e-z^2 collapses to the Gaussian exponent, avoiding overflow.
		return amp * math.Exp(-d*d/(2*sigma*sigma)) * sigma / (tau * z * math.Sqrt2)
	}
	e := sigma*sigma/(2*tau*tau) - d/tau
	return amp * (sigma / tau) * math.Sqrt(math.Pi/2) * math.Exp(e) * math.Erfc(z)
}

func (s emgShape) Gradient(dst []float64, x float64, p []float64) {
	numericGradient(s, dst, x, p)
}

func (emgShape) Area(p []float64) float64 {
	return p[0] * p[2] * math.Sqrt(2*math.Pi)
}

// --- Bi-Gaussian ------------------------------------------------------------

type biGaussianShape struct{}

func (biGaussianShape) Type() ShapeType { return BiGaussianShape }
func (biGaussianShape) NumParams() int  { return 4 }
func (biGaussianShape) ParamNames() []string {
	return []string{"amplitude", "center", "sigma_left", "sigma_right"}
}

func (biGaussianShape) Bounds(c *PeakCandidate) []Bound {
	w := widthBound(c)
	return []Bound{amplitudeBound(c), centerBound(c), w, w}
}

func (biGaussianShape) InitialGuess(c *PeakCandidate) []float64 {
	s := estimatedSigma(c)
	return []float64{c.Amplitude, c.Center, s, s}
}

func (biGaussianShape) Value(x float64, p []float64) float64 {
	d := x - p[1]
	sigma := p[2]
	if d > 0 {
		sigma = p[3]
	}
	return p[0] * math.Exp(-d*d/(2*sigma*sigma))
}

func (s biGaussianShape) Gradient(dst []float64, x float64, p []float64) {
	d := x - p[1]
	sigma := p[2]
	left := true
	if d > 0 {
		sigma = p[3]
		left = false
	}
	e := math.Exp(-d * d / (2 * sigma * sigma))
	dst[0] = e
	dst[1] = p[0] * e * d / (sigma * sigma)
	dst[2], dst[3] = 0, 0
	w := p[0] * e * d * d / (sigma * sigma * sigma)
	if left {
		dst[2] = w
	} else {
		dst[3] = w
	}
}

func (biGaussianShape) Area(p []float64) float64 {
	return p[0] * (p[2] + p[3]) / 2 * math.Sqrt(2*math.Pi)
}

// --- Voigt with exponential tail --------------------------------------------

// voigtExpTailShape is a pseudo-Voigt core whose trailing edge switches to
// an exponential decay at the point where the core's slope matches the
// exponential's, keeping the profile continuous.
type voigtExpTailShape struct{}

func (voigtExpTailShape) Type() ShapeType { return VoigtExpTailShape }
func (voigtExpTailShape) NumParams() int  { return 5 }
func (voigtExpTailShape) ParamNames() []string {
	return []string{"amplitude", "center", "sigma", "gamma", "tau"}
}

func (voigtExpTailShape) Bounds(c *PeakCandidate) []Bound {
	s := estimatedSigma(c)
	w := widthBound(c)
	return []Bound{amplitudeBound(c), centerBound(c), w, w, {Min: s / 2, Max: s * 20}}
}

func (voigtExpTailShape) InitialGuess(c *PeakCandidate) []float64 {
	s := estimatedSigma(c)
	return []float64{c.Amplitude, c.Center, s, s, s * 2}
}

func (v voigtExpTailShape) Value(x float64, p []float64) float64 {
	amp, mu, sigma, gamma, tau := p[0], p[1], p[2], p[3], p[4]
	if sigma <= 0 || gamma <= 0 || tau <= 0 {
		return 0
	}
	core := func(d float64) float64 {
		g := math.Exp(-d * d / (2 * sigma * sigma))
		l := 1 / (1 + (d/gamma)*(d/gamma))
		return amp * 0.5 * (g + l)
	}
	d := x - mu
	// Tail switch point: where the Gaussian component's log-slope reaches
	// 1/tau.
	d0 := sigma * sigma / tau
	if d <= d0 {
		return core(d)
	}
	return core(d0) * math.Exp(-(d-d0)/tau)
}

func (v voigtExpTailShape) Gradient(dst []float64, x float64, p []float64) {
	numericGradient(v, dst, x, p)
}

func (v voigtExpTailShape) Area(p []float64) float64 {
	halfSpan := (p[2] + p[3]) * 6 * (1 + p[4]/math.Max(p[2], 1e-12))
	return numericArea(v, p, p[1], halfSpan)
}

// --- Pearson IV -------------------------------------------------------------

type pearsonIVShape struct{}

func (pearsonIVShape) Type() ShapeType { return PearsonIVShape }
func (pearsonIVShape) NumParams() int  { return 5 }
func (pearsonIVShape) ParamNames() []string {
	return []string{"amplitude", "center", "width", "shape_m", "skew_nu"}
}

func (pearsonIVShape) Bounds(c *PeakCandidate) []Bound {
	return []Bound{
		amplitudeBound(c), centerBound(c), widthBound(c),
		{Min: 0.55, Max: 20}, // m > 1/2 keeps the tails integrable
		{Min: -10, Max: 10},
	}
}

func (pearsonIVShape) InitialGuess(c *PeakCandidate) []float64 {
	return []float64{c.Amplitude, c.Center, estimatedSigma(c), 1.5, 0}
}

func (pearsonIVShape) Value(x float64, p []float64) float64 {
	amp, lambda, a, m, nu := p[0], p[1], p[2], p[3], p[4]
	if a <= 0 {
		return 0
	}
	z := (x - lambda) / a
	return amp * math.Pow(1+z*z, -m) * math.Exp(-nu*math.Atan(z))
}

func (s pearsonIVShape) Gradient(dst []float64, x float64, p []float64) {
	numericGradient(s, dst, x, p)
}

func (s pearsonIVShape) Area(p []float64) float64 {
	return numericArea(s, p, p[1], p[2]*40)
}

// --- Nonlinear chromatographic ----------------------------------------------

// nlcShape is a Gaussian distorted by a linear asymmetry term, a light
// stand-in for nonlinear chromatographic (Haarhoff-Van der Linde style)
// band profiles.
type nlcShape struct{}

func (nlcShape) Type() ShapeType { return NLCShape }
func (nlcShape) NumParams() int  { return 4 }
func (nlcShape) ParamNames() []string {
	return []string{"amplitude", "center", "sigma", "distortion"}
}

func (nlcShape) Bounds(c *PeakCandidate) []Bound {
	return []Bound{amplitudeBound(c), centerBound(c), widthBound(c), {Min: -0.9, Max: 0.9}}
}

func (nlcShape) InitialGuess(c *PeakCandidate) []float64 {
	return []float64{c.Amplitude, c.Center, estimatedSigma(c), 0}
}

func (nlcShape) Value(x float64, p []float64) float64 {
	d := (x - p[1]) / p[2]
	v := p[0] * math.Exp(-d*d/2) * (1 + p[3]*d)
	if v < 0 {
		return 0
	}
	return v
}

func (s nlcShape) Gradient(dst []float64, x float64, p []float64) {
	numericGradient(s, dst, x, p)
}

func (s nlcShape) Area(p []float64) float64 {
	return numericArea(s, p, p[1], p[2]*10)
}

// --- GMG Bayesian mixture ---------------------------------------------------

// gmgBayesianShape models a narrow core plus a broad pedestal as a
// two-component Gaussian mixture with a shared center.
type gmgBayesianShape struct{}

func (gmgBayesianShape) Type() ShapeType { return GMGBayesianShape }
func (gmgBayesianShape) NumParams() int  { return 4 }
func (gmgBayesianShape) ParamNames() []string {
	return []string{"amplitude", "center", "sigma", "core_weight"}
}

func (gmgBayesianShape) Bounds(c *PeakCandidate) []Bound {
	return []Bound{amplitudeBound(c), centerBound(c), widthBound(c), {Min: 0, Max: 1}}
}

func (gmgBayesianShape) InitialGuess(c *PeakCandidate) []float64 {
	return []float64{c.Amplitude, c.Center, estimatedSigma(c), 0.8}
}

func (gmgBayesianShape) Value(x float64, p []float64) float64 {
	d := x - p[1]
	core := math.Exp(-d * d / (2 * p[2] * p[2]))
	broad := math.Exp(-d * d / (2 * 4 * p[2] * p[2]))
	return p[0] * (p[3]*core + (1-p[3])*broad)
}

func (s gmgBayesianShape) Gradient(dst []float64, x float64, p []float64) {
	numericGradient(s, dst, x, p)
}

func (gmgBayesianShape) Area(p []float64) float64 {
	core := p[2] * math.Sqrt(2*math.Pi)
	broad := 2 * p[2] * math.Sqrt(2*math.Pi)
	return p[0] * (p[3]*core + (1-p[3])*broad)
}

// --- Shape recommendation ---------------------------------------------------

// RecommendShape inspects a curve segment and picks a peak model from its
// asymmetry and tailing: strong tailing suggests EMG, plain asymmetry a
// bi-Gaussian, otherwise Gaussian.
func RecommendShape(x, y []float64) ShapeType {
	if len(x) < 10 {
		return GaussianShape
	}
	if segmentTailing(x, y) > 0.3 {
		return EMGShape
	}
	if segmentAsymmetry(x, y) > 0.2 {
		return BiGaussianShape
	}
	return GaussianShape
}

// segmentAsymmetry compares left and right half-height widths around the
// segment maximum.
func segmentAsymmetry(x, y []float64) float64 {
	maxIdx := argmax(y)
	half := y[maxIdx] / 2

	left, right := 0.0, 0.0
	for i := maxIdx - 1; i >= 0; i-- {
		if y[i] <= half {
			left = x[maxIdx] - x[i]
			break
		}
	}
	for i := maxIdx + 1; i < len(y); i++ {
		if y[i] <= half {
			right = x[i] - x[maxIdx]
			break
		}
	}
	if left <= 0 || right <= 0 {
		return 0
	}
	return math.Abs(right-left) / (left + right)
}

// segmentTailing measures excess intensity on the trailing edge relative to
// a Gaussian falloff fitted to the half-height width.
func segmentTailing(x, y []float64) float64 {
	maxIdx := argmax(y)
	height := y[maxIdx]
	if height <= 0 {
		return 0
	}
	half := height / 2
	hwhm := 0.0
	for i := maxIdx + 1; i < len(y); i++ {
		if y[i] <= half {
			hwhm = x[i] - x[maxIdx]
			break
		}
	}
	if hwhm <= 0 {
		return 0
	}
	sigma := hwhm * 2 / fwhmSigmaRatio

	excess, n := 0.0, 0
	for i := maxIdx + 1; i < len(y); i++ {
		d := x[i] - x[maxIdx]
		if d < sigma*2 || d > sigma*6 {
			continue
		}
		expected := height * math.Exp(-d*d/(2*sigma*sigma))
		if y[i] > expected {
			excess += (y[i] - expected) / height
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return excess / float64(n)
}

func argmax(y []float64) int {
	idx := 0
	for i, v := range y {
		if v > y[idx] {
			idx = i
		}
	}
	return idx
}
