package gopeakcore

import (
	"fmt"
	"log"
	"math"
)

// Strategy deconvolves one peak group in place: it may move centers, tighten
// boundaries, swap shapes and must leave every member fitted or marked
// failed.
type Strategy interface {
	Name() string
	Apply(c *Curve, g *PeakGroup, opts FitOptions) error
}

// StrategyFor maps an overlap class to its deconvolution strategy.
func StrategyFor(class OverlapClass) Strategy {
	switch class {
	case LightOverlap:
		return &FractionStrategy{MaxRounds: 10, CenterTol: 1e-3}
	case MediumOverlap, ExtremeOverlap:
		// Heavy but well-resolved overlaps go through sharpening before the
		// joint fit; fully contained supports get no dedicated path beyond
		// this until the quality gate escalates.
		return &SharpenStrategy{
			Factor:       1.0,
			KernelSize:   5,
			ScaleRange:   [2]int{1, 10},
			BoundaryFrac: 0.05,
		}
	case ExtremeOverlapLowSNR:
		return &NoiseTolerantStrategy{
			Sharpen: SharpenStrategy{
				Factor:       2.0,
				KernelSize:   7,
				ScaleRange:   [2]int{1, 30},
				BoundaryFrac: 0.05,
			},
			SmoothWindow: 5,
		}
	default:
		return &SingleFitStrategy{}
	}
}

// --- Single peak ------------------------------------------------------------

// SingleFitStrategy fits an isolated candidate directly on its own segment,
// picking the shape from the segment's asymmetry.
type SingleFitStrategy struct{}

func (SingleFitStrategy) Name() string { return "single_fit" }

func (s SingleFitStrategy) Apply(c *Curve, g *PeakGroup, opts FitOptions) error {
	for _, p := range g.Peaks {
		x, y := c.Segment(p.Boundaries.Left, p.Boundaries.Right)
		if len(x) >= 10 {
			p.Shape = RecommendShape(x, y)
		}
		if err := FitPeak(c, p, opts); err != nil {
			p.markFailed(err.Error())
		}
		p.AppliedStrategy = s.Name()
	}
	return nil
}

// --- Fraction splitting (EM) ------------------------------------------------

// FractionStrategy splits a lightly overlapped region by expectation
// maximization: each sample's intensity is divided among the peaks in
// proportion to their current model values, then every peak is refit against
// its share. Rounds repeat until the centers settle.
type FractionStrategy struct {
	MaxRounds int
	CenterTol float64
}

func (FractionStrategy) Name() string { return "fraction_split" }

func (s FractionStrategy) Apply(c *Curve, g *PeakGroup, opts FitOptions) error {
	span := g.Boundaries()
	x, y := c.Segment(span.Left, span.Right)
	if len(x) < len(g.Peaks)*3 {
		return insufficientData(len(x), len(g.Peaks)*3)
	}

	// Seed every member with a plain Gaussian guess.
	for _, p := range g.Peaks {
		shape := ShapeOf(p.Shape)
		if len(p.Params) != shape.NumParams() {
			p.Params = shape.InitialGuess(p)
		}
	}

	shares := make([][]float64, len(g.Peaks))
	for i := range shares {
		shares[i] = make([]float64, len(x))
	}

	rounds := s.MaxRounds
	if rounds <= 0 {
		rounds = 10
	}
	tol := s.CenterTol
	if tol <= 0 {
		tol = 1e-3
	}

	for round := 0; round < rounds; round++ {
		// Expectation: split each sample by current model proportions.
		for j, xj := range x {
			total := 0.0
			for _, p := range g.Peaks {
				total += ShapeOf(p.Shape).Value(xj, p.Params)
			}
			for i, p := range g.Peaks {
				if total > 1e-300 {
					shares[i][j] = y[j] * ShapeOf(p.Shape).Value(xj, p.Params) / total
				} else {
					shares[i][j] = y[j] / float64(len(g.Peaks))
				}
			}
		}

		// Maximization: refit each peak against its share.
		maxShift := 0.0
		for i, p := range g.Peaks {
			shape := ShapeOf(p.Shape)
			prob := &FitProblem{
				X:      x,
				Y:      shares[i],
				Model:  shape.Value,
				Bounds: shape.Bounds(p),
				Init:   p.Params,
			}
			res, err := Solve(prob, opts)
			if err != nil {
				continue
			}
			maxShift = math.Max(maxShift, math.Abs(res.Params[1]-p.Params[1]))
			p.Params = res.Params
			p.Center = res.Params[1]
			p.Amplitude = res.Params[0]
		}

		if maxShift < tol {
			break
		}
	}

	// Final joint polish and bookkeeping on the settled positions.
	if err := FitGroup(c, g, opts); err != nil {
		for _, p := range g.Peaks {
			p.markFailed(err.Error())
		}
	}
	for _, p := range g.Peaks {
		p.AppliedStrategy = s.Name()
	}
	return nil
}

// --- CWT sharpening ---------------------------------------------------------

// SharpenStrategy resolves a medium overlap by sharpening the segment with a
// Laplacian kernel plus a Morlet wavelet ridge, re-reading apex positions
// and boundaries from the sharpened trace, then fitting the group jointly.
type SharpenStrategy struct {
	Factor       float64
	KernelSize   int
	ScaleRange   [2]int
	BoundaryFrac float64
}

func (SharpenStrategy) Name() string { return "sharpen_cwt" }

func (s SharpenStrategy) Apply(c *Curve, g *PeakGroup, opts FitOptions) error {
	span := g.Boundaries()
	x, y := c.Segment(span.Left, span.Right)
	if len(x) < len(g.Peaks)*3 {
		return insufficientData(len(x), len(g.Peaks)*3)
	}

	sharpened := sharpen(y, s.KernelSize, s.Factor)
	ridge := cwtRidge(y, s.ScaleRange[0], s.ScaleRange[1])
	enhanced := make([]float64, len(y))
	for i := range y {
		enhanced[i] = sharpened[i] + s.Factor*ridge[i]
		if enhanced[i] < 0 {
			enhanced[i] = 0
		}
	}

	// Re-read each member's apex and support from the enhanced trace,
	// keeping the original estimate when the apex wandered off.
	for _, p := range g.Peaks {
		idx := nearestIndex(x, p.Center)
		apex := localApex(enhanced, idx, len(x)/10+1)
		shift := math.Abs(x[apex] - p.Center)
		if shift <= p.FWHM {
			p.Center = x[apex]
			lo, hi := fractionBounds(x, enhanced, apex, s.BoundaryFrac)
			if hi > lo {
				p.Boundaries = Boundaries{Left: lo, Right: hi}
			}
		}
	}

	if err := FitGroup(c, g, opts); err != nil {
		for _, p := range g.Peaks {
			p.markFailed(err.Error())
		}
	}
	for _, p := range g.Peaks {
		p.AppliedStrategy = s.Name()
	}
	return nil
}

// --- EMG nonlinear least squares ---------------------------------------------

// EMGNLLSStrategy refits a group with the exponentially modified Gaussian
// model, jointly across members. It stands on its own for tailing or
// asymmetric peaks of any overlap class; the noise-tolerant path runs it as
// the second stage after sharpening.
type EMGNLLSStrategy struct{}

func (EMGNLLSStrategy) Name() string { return "emg_nlls" }

func (s EMGNLLSStrategy) Apply(c *Curve, g *PeakGroup, opts FitOptions) error {
	span := g.Boundaries()
	x, _ := c.Segment(span.Left, span.Right)
	if len(x) < len(g.Peaks)*4 {
		return insufficientData(len(x), len(g.Peaks)*4)
	}

	for _, p := range g.Peaks {
		p.Shape = EMGShape
		p.Params = nil
	}

	if err := FitGroup(c, g, opts); err != nil {
		log.Printf("emg joint fit on %s failed: %v", c.ID, err)
		for _, p := range g.Peaks {
			p.markFailed(err.Error())
		}
	}
	for _, p := range g.Peaks {
		p.AppliedStrategy = s.Name()
	}
	return nil
}

// --- Noise-tolerant extreme overlap -----------------------------------------

// NoiseTolerantStrategy handles extreme overlaps on noisy traces: smooth
// first so sharpening does not amplify noise, run the aggressive sharpening
// pass, then hand the group to the EMG stage for the joint fit.
type NoiseTolerantStrategy struct {
	Sharpen      SharpenStrategy
	EMG          EMGNLLSStrategy
	SmoothWindow int
}

func (NoiseTolerantStrategy) Name() string { return "noise_tolerant" }

func (s NoiseTolerantStrategy) Apply(c *Curve, g *PeakGroup, opts FitOptions) error {
	if s.SmoothWindow > 1 && s.SmoothWindow%2 == 0 {
		return invalidConfig("smoothing window %d must be odd", s.SmoothWindow)
	}

	span := g.Boundaries()
	x, y := c.Segment(span.Left, span.Right)
	if len(x) < len(g.Peaks)*4 {
		return insufficientData(len(x), len(g.Peaks)*4)
	}

	smoothed := movingAverage(y, s.SmoothWindow)
	sharpened := sharpen(smoothed, s.Sharpen.KernelSize, s.Sharpen.Factor)
	ridge := cwtRidge(smoothed, s.Sharpen.ScaleRange[0], s.Sharpen.ScaleRange[1])
	enhanced := make([]float64, len(y))
	for i := range y {
		enhanced[i] = sharpened[i] + s.Sharpen.Factor*ridge[i]
		if enhanced[i] < 0 {
			enhanced[i] = 0
		}
	}

	for _, p := range g.Peaks {
		idx := nearestIndex(x, p.Center)
		apex := localApex(enhanced, idx, len(x)/8+1)
		if math.Abs(x[apex]-p.Center) <= p.FWHM {
			p.Center = x[apex]
			lo, hi := fractionBounds(x, enhanced, apex, s.Sharpen.BoundaryFrac)
			if hi > lo {
				p.Boundaries = Boundaries{Left: lo, Right: hi}
			}
		}
	}

	fitOpts := opts
	fitOpts.MaxIterations = 200
	fitOpts.Tolerance = 1e-8

	if err := s.EMG.Apply(c, g, fitOpts); err != nil {
		return err
	}
	for _, p := range g.Peaks {
		p.AppliedStrategy = s.Name()
	}
	return nil
}

// --- Signal processing helpers ----------------------------------------------

// laplacianKernel builds a discrete second-derivative kernel. Sizes 3 and 5
// use the standard stencils; larger sizes fall back to a sampled Gaussian
// second derivative.
func laplacianKernel(size int) []float64 {
	switch size {
	case 3:
		return []float64{1, -2, 1}
	case 5:
		return []float64{-1, 16, -30, 16, -1}
	default:
		if size < 3 {
			return []float64{1, -2, 1}
		}
		if size%2 == 0 {
			size++
		}
		k := make([]float64, size)
		sigma := float64(size) / 6
		for i := range k {
			t := float64(i - size/2)
			// Second derivative of a Gaussian, sign flipped so the center
			// is negative like the small stencils.
			k[i] = (t*t/(sigma*sigma) - 1) * math.Exp(-t*t/(2*sigma*sigma))
		}
		return k
	}
}

// sharpen subtracts a scaled Laplacian from the trace, which narrows peaks
// and deepens the valleys between overlapped ones.
func sharpen(y []float64, kernelSize int, factor float64) []float64 {
	lap := convolveSame(y, laplacianKernel(kernelSize))

	// Normalize the Laplacian response to the trace's own scale so the
	// factor behaves consistently across kernel sizes.
	maxAbs := 0.0
	for _, v := range lap {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	maxY := 0.0
	for _, v := range y {
		maxY = math.Max(maxY, math.Abs(v))
	}
	scale := 0.0
	if maxAbs > 0 {
		scale = factor * 0.25 * maxY / maxAbs
	}

	out := make([]float64, len(y))
	for i := range y {
		out[i] = y[i] - scale*lap[i]
		if out[i] < 0 {
			out[i] = 0
		}
	}
	return out
}

// morletKernel samples a real Morlet wavelet at the given scale: a cosine
// under a Gaussian envelope, kernel size 6*scale+1.
func morletKernel(scale int) []float64 {
	size := scale*6 + 1
	sigma := float64(scale) / 2
	omega := 2 * math.Pi / float64(scale)
	k := make([]float64, size)
	for i := range k {
		t := float64(i - size/2)
		k[i] = math.Exp(-t*t/(2*sigma*sigma)) * math.Cos(omega*t)
	}
	return k
}

// cwtRidge convolves the trace with Morlet wavelets across a scale range
// and keeps, per sample, the strongest positive response. The ridge is
// normalized to the trace's peak height.
func cwtRidge(y []float64, minScale, maxScale int) []float64 {
	if minScale < 1 {
		minScale = 1
	}
	if maxScale < minScale {
		maxScale = minScale
	}
	// Cap kernels at the segment length; larger scales see only edge
	// effects.
	for maxScale*6+1 > len(y) && maxScale > minScale {
		maxScale--
	}

	ridge := make([]float64, len(y))
	for scale := minScale; scale <= maxScale; scale++ {
		coeffs := convolveSame(y, morletKernel(scale))
		for i, v := range coeffs {
			if v > ridge[i] {
				ridge[i] = v
			}
		}
	}

	maxR := 0.0
	for _, v := range ridge {
		maxR = math.Max(maxR, v)
	}
	if maxR > 0 {
		maxY := 0.0
		for _, v := range y {
			maxY = math.Max(maxY, v)
		}
		for i := range ridge {
			ridge[i] *= maxY / maxR
		}
	}
	return ridge
}

// convolveSame is a same-length convolution with edge clamping.
func convolveSame(y, kernel []float64) []float64 {
	out := make([]float64, len(y))
	half := len(kernel) / 2
	for i := range y {
		acc := 0.0
		for j, kv := range kernel {
			idx := i + j - half
			if idx < 0 {
				idx = 0
			} else if idx >= len(y) {
				idx = len(y) - 1
			}
			acc += kv * y[idx]
		}
		out[i] = acc
	}
	return out
}

// movingAverage smooths with a centered box filter. Callers validate that
// the window is odd.
func movingAverage(y []float64, window int) []float64 {
	if window < 2 {
		return append([]float64(nil), y...)
	}
	half := window / 2
	out := make([]float64, len(y))
	for i := range y {
		lo := i - half
		hi := i + half
		if lo < 0 {
			lo = 0
		}
		if hi >= len(y) {
			hi = len(y) - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += y[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// localApex climbs to the highest sample within radius of idx.
func localApex(y []float64, idx, radius int) int {
	lo := idx - radius
	hi := idx + radius
	if lo < 0 {
		lo = 0
	}
	if hi >= len(y) {
		hi = len(y) - 1
	}
	best := idx
	for i := lo; i <= hi; i++ {
		if y[i] > y[best] {
			best = i
		}
	}
	return best
}

// fractionBounds walks outward from an apex until the trace drops below the
// given fraction of the apex height.
func fractionBounds(x, y []float64, apex int, fraction float64) (lo, hi float64) {
	cutoff := y[apex] * fraction
	li, ri := 0, len(y)-1
	for i := apex - 1; i >= 0; i-- {
		if y[i] <= cutoff {
			li = i
			break
		}
	}
	for i := apex + 1; i < len(y); i++ {
		if y[i] <= cutoff {
			ri = i
			break
		}
	}
	return x[li], x[ri]
}

func nearestIndex(x []float64, target float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, v := range x {
		d := math.Abs(v - target)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// describeGroup is used in workflow logs.
func describeGroup(g *PeakGroup) string {
	return fmt.Sprintf("%d peak(s), class %s, degree %.2f, snr %.1f",
		len(g.Peaks), g.Class, g.MaxDegree, g.MinSNR)
}
