package gopeakcore

import (
	"errors"
	"math"
)

// FitPeak fits one candidate's shape to its own support segment and stores
// the fitted coefficients and quality metrics on the candidate. A nonzero
// window size in the options narrows the segment to that many samples
// around the candidate's center.
func FitPeak(c *Curve, p *PeakCandidate, opts FitOptions) error {
	if opts.WindowSize < 0 || (opts.WindowSize > 0 && opts.WindowSize%2 == 0) {
		return invalidConfig("fit window size %d must be odd", opts.WindowSize)
	}

	x, y := c.Segment(p.Boundaries.Left, p.Boundaries.Right)
	if opts.WindowSize > 0 && opts.WindowSize < len(x) {
		idx := nearestIndex(x, p.Center)
		lo := idx - opts.WindowSize/2
		hi := idx + opts.WindowSize/2
		if lo < 0 {
			lo = 0
		}
		if hi > len(x)-1 {
			hi = len(x) - 1
		}
		x, y = x[lo:hi+1], y[lo:hi+1]
	}

	shape := ShapeOf(p.Shape)
	if len(x) < shape.NumParams() {
		return insufficientData(len(x), shape.NumParams())
	}

	init := p.Params
	if len(init) != shape.NumParams() {
		init = shape.InitialGuess(p)
	}

	prob := &FitProblem{
		X:      x,
		Y:      y,
		Model:  shape.Value,
		Bounds: shape.Bounds(p),
		Init:   init,
	}

	res, err := Solve(prob, opts)
	if err != nil && !usableConvergenceFailure(err, res) {
		return err
	}

	p.Params = res.Params
	applyFitted(p, shape)
	p.Fit = fitMetrics(prob, res)
	return err
}

// usableConvergenceFailure reports whether the error is an iteration-cap
// failure whose best-so-far point is still worth recording. Such fits are
// stored with Converged false and the error propagates for escalation.
func usableConvergenceFailure(err error, res OptimizeResult) bool {
	var convErr *ConvergenceError
	return errors.As(err, &convErr) && len(res.Params) > 0
}

// FitGroup fits all members of a group jointly: one composite model summing
// every member's shape over the group's union segment, coefficients
// concatenated in member order. After the solve, each member gets its slice
// of the coefficient vector, its own metrics and an area that partitions the
// composite model's area.
func FitGroup(c *Curve, g *PeakGroup, opts FitOptions) error {
	span := g.Boundaries()
	x, y := c.Segment(span.Left, span.Right)

	shapes := make([]Shape, len(g.Peaks))
	offsets := make([]int, len(g.Peaks)+1)
	for i, p := range g.Peaks {
		shapes[i] = ShapeOf(p.Shape)
		offsets[i+1] = offsets[i] + shapes[i].NumParams()
	}
	total := offsets[len(g.Peaks)]

	if len(x) < total {
		return insufficientData(len(x), total)
	}

	init := make([]float64, 0, total)
	bounds := make([]Bound, 0, total)
	for i, p := range g.Peaks {
		guess := p.Params
		if len(guess) != shapes[i].NumParams() {
			guess = shapes[i].InitialGuess(p)
		}
		init = append(init, guess...)
		bounds = append(bounds, shapes[i].Bounds(p)...)
	}

	composite := func(xi float64, params []float64) float64 {
		sum := 0.0
		for i, s := range shapes {
			sum += s.Value(xi, params[offsets[i]:offsets[i+1]])
		}
		return sum
	}

	prob := &FitProblem{
		X:      x,
		Y:      y,
		Model:  composite,
		Bounds: bounds,
		Init:   init,
	}

	res, err := Solve(prob, opts)
	if err != nil && !usableConvergenceFailure(err, res) {
		return err
	}

	fit := fitMetrics(prob, res)

	for i, p := range g.Peaks {
		p.Params = append([]float64(nil), res.Params[offsets[i]:offsets[i+1]]...)
		applyFitted(p, shapes[i])

		// Shared metrics; coefficient errors sliced from the joint
		// covariance where available.
		member := *fit
		if fit.ParamErrors != nil {
			member.ParamErrors = append([]float64(nil), fit.ParamErrors[offsets[i]:offsets[i+1]]...)
		}
		member.Covariance = nil
		p.Fit = &member
	}

	// Partition: member areas must add up to the composite model's area.
	rescaleAreas(g.Peaks, modelArea(x, composite, res.Params))
	return err
}

// applyFitted refreshes a candidate's derived fields from its fitted
// coefficients. Coefficient slot 0 is always amplitude and slot 1 center;
// the width slots depend on the shape.
func applyFitted(p *PeakCandidate, shape Shape) {
	p.Amplitude = p.Params[0]
	p.Center = p.Params[1]

	switch shape.Type() {
	case LorentzianShape:
		p.FWHM = 2 * p.Params[2]
		p.Sigma = p.FWHM / fwhmSigmaRatio
	case BiGaussianShape:
		p.Sigma = (p.Params[2] + p.Params[3]) / 2
		p.FWHM = p.Sigma * fwhmSigmaRatio
	default:
		p.Sigma = p.Params[2]
		p.FWHM = p.Sigma * fwhmSigmaRatio
	}

	p.Area = shape.Area(p.Params)

	// Keep the support containing the fitted center; a fit that slid the
	// center to a boundary edge would otherwise fail validation outright.
	if p.Center <= p.Boundaries.Left || p.Center >= p.Boundaries.Right {
		half := math.Max(p.FWHM, 1e-6)
		p.Boundaries = Boundaries{Left: p.Center - half, Right: p.Center + half}
	}
}

// modelArea integrates a fitted model over the segment grid.
func modelArea(x []float64, model func(float64, []float64) float64, params []float64) float64 {
	area := 0.0
	for i := 1; i < len(x); i++ {
		y0 := model(x[i-1], params)
		y1 := model(x[i], params)
		area += (y0 + y1) / 2 * (x[i] - x[i-1])
	}
	return area
}

// rescaleAreas scales member areas so they sum to the composite area. Peak
// shapes with infinite tails otherwise overcount the region outside the
// segment.
func rescaleAreas(peaks []*PeakCandidate, compositeArea float64) {
	sum := 0.0
	for _, p := range peaks {
		sum += p.Area
	}
	if sum <= 0 || compositeArea <= 0 {
		return
	}
	scale := compositeArea / sum
	for _, p := range peaks {
		p.Area *= scale
	}
}

// fitMetrics derives the quality numbers for a solved problem.
func fitMetrics(p *FitProblem, res OptimizeResult) *FitResult {
	n := len(p.X)
	rss := p.RSS(res.Params)

	meanY := 0.0
	for _, v := range p.Y {
		meanY += v
	}
	meanY /= float64(n)

	tss := 0.0
	for _, v := range p.Y {
		tss += (v - meanY) * (v - meanY)
	}

	r2 := 0.0
	if tss > 0 {
		r2 = 1 - rss/tss
	} else if rss == 0 {
		r2 = 1
	}

	fit := &FitResult{
		RSquared:   r2,
		RSS:        rss,
		Iterations: res.Iterations,
		Converged:  res.Converged,
	}

	dof := n - len(res.Params)
	if dof > 0 {
		fit.StandardError = math.Sqrt(rss / float64(dof))
	}

	fit.Covariance = covariance(p, res.Params)
	fit.ParamErrors = paramErrors(p, res.Params, fit.Covariance)
	return fit
}
