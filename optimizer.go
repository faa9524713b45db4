package gopeakcore

import (
	"errors"
	"log"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// OptimizerMethod selects the minimization backend for a fit.
type OptimizerMethod string

const (
	MethodGrid            OptimizerMethod = "grid"
	MethodGradientDescent OptimizerMethod = "gd"
	MethodLM              OptimizerMethod = "lm"
	MethodAnnealing       OptimizerMethod = "anneal"
	MethodNelderMead      OptimizerMethod = "nm"
)

// FitProblem is a residual minimization over one curve segment: find the
// coefficient vector that makes Model track Y on X.
type FitProblem struct {
	X, Y   []float64
	Model  func(x float64, params []float64) float64
	Bounds []Bound
	Init   []float64
}

// FitOptions tunes a single optimizer run.
type FitOptions struct {
	Method        OptimizerMethod
	MaxIterations int
	Tolerance     float64
	Seed          int64

	// WindowSize caps how many samples around a peak's center a single-peak
	// fit sees. Zero uses the full support; nonzero values must be odd.
	WindowSize int

	// Grid search refinement.
	GridLevels    int
	GridPointsDim int

	// Simulated annealing schedule.
	InitialTemp float64
	CoolingRate float64
}

// DefaultFitOptions returns the settings used when a strategy does not
// override them.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		Method:        MethodLM,
		MaxIterations: 200,
		Tolerance:     1e-8,
		Seed:          1,
		GridLevels:    4,
		GridPointsDim: 7,
		InitialTemp:   1.0,
		CoolingRate:   0.95,
	}
}

// OptimizeResult is the outcome of one minimization run.
type OptimizeResult struct {
	Params     []float64
	Objective  float64
	Iterations int
	FuncEvals  int
	Converged  bool
	Method     OptimizerMethod
}

// objective is the mean squared residual. Normalizing by the sample count
// keeps tolerances comparable across segment lengths.
func (p *FitProblem) objective(x []float64) float64 {
	rss := 0.0
	for i, xi := range p.X {
		d := p.Y[i] - p.Model(xi, x)
		rss += d * d
	}
	return rss / float64(len(p.X))
}

// RSS is the unnormalized residual sum of squares at the given coefficients.
func (p *FitProblem) RSS(params []float64) float64 {
	return p.objective(params) * float64(len(p.X))
}

func (p *FitProblem) residuals(dst, x []float64) {
	for i, xi := range p.X {
		dst[i] = p.Y[i] - p.Model(xi, x)
	}
}

func (p *FitProblem) clamp(params []float64) {
	for i, b := range p.Bounds {
		if i < len(params) {
			params[i] = b.Clamp(params[i])
		}
	}
}

func (p *FitProblem) validate() error {
	if len(p.X) != len(p.Y) {
		return invalidConfig("fit problem: %d coordinates vs %d intensities", len(p.X), len(p.Y))
	}
	if len(p.X) < len(p.Init) {
		return insufficientData(len(p.X), len(p.Init))
	}
	if len(p.Init) == 0 {
		return invalidConfig("fit problem: empty initial guess")
	}
	return nil
}

// Solve runs the selected optimizer. A Levenberg-Marquardt run that hits a
// singular system falls back to grid search instead of failing the fit; a
// run that exhausts the iteration cap returns its best point alongside a
// ConvergenceError so callers can escalate.
func Solve(p *FitProblem, opts FitOptions) (OptimizeResult, error) {
	if err := p.validate(); err != nil {
		return OptimizeResult{}, err
	}
	switch opts.Method {
	case MethodGrid:
		return gridSolve(p, opts)
	case MethodGradientDescent:
		return gdSolve(p, opts)
	case MethodAnnealing:
		return annealSolve(p, opts)
	case MethodNelderMead:
		return nmSolve(p, opts)
	default:
		res, err := lmSolve(p, opts)
		var instErr *InstabilityError
		if err != nil && errors.As(err, &instErr) {
			log.Printf("lm unstable (%s), falling back to grid search", instErr.Cause)
			return gridSolve(p, opts)
		}
		return res, err
	}
}

func lmSolve(p *FitProblem, opts FitOptions) (res OptimizeResult, err error) {
	// fd.Jacobian evaluates the residuals concurrently, so the call counter
	// has to be atomic.
	var funcEvals atomic.Int64
	fnc := func(dst, x []float64) {
		funcEvals.Add(1)
		p.residuals(dst, x)
	}
	jac := lm.NumJac{Func: fnc}

	// lm recomputes the jacobian once up front and once per accepted step,
	// which is the closest observable proxy for its iteration count.
	jacCalls := 0
	countedJac := func(dst *mat.Dense, x []float64) {
		jacCalls++
		jac.Jac(dst, x)
	}

	problem := lm.LMProblem{
		Dim:        len(p.Init),
		Size:       len(p.X),
		Func:       fnc,
		Jac:        countedJac,
		InitParams: append([]float64(nil), p.Init...),
		Tau:        1e-13,
		Eps1:       1e-8,
		Eps2:       1e-8,
	}

	// lm panics on singular matrices instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			err = &InstabilityError{Cause: "lm panic"}
		}
	}()

	lmRes, lmErr := lm.LM(problem, &lm.Settings{
		Iterations:   opts.MaxIterations,
		ObjectiveTol: opts.Tolerance,
	})
	if lmErr != nil {
		return OptimizeResult{}, &InstabilityError{Cause: lmErr.Error()}
	}

	params := append([]float64(nil), lmRes.X...)
	p.clamp(params)
	obj := p.objective(params)
	for i := range params {
		if math.IsNaN(params[i]) || math.IsInf(params[i], 0) {
			return OptimizeResult{}, &InstabilityError{Cause: "non-finite coefficient"}
		}
	}

	iters := jacCalls - 1
	if iters < 0 {
		iters = 0
	}
	result := OptimizeResult{
		Params:     params,
		Objective:  obj,
		Iterations: iters,
		FuncEvals:  int(funcEvals.Load()),
		Converged:  lmRes.Status != optimize.IterationLimit,
		Method:     MethodLM,
	}
	if !result.Converged {
		return result, &ConvergenceError{Algorithm: string(MethodLM), Iterations: iters, Best: obj}
	}
	return result, nil
}

func gdSolve(p *FitProblem, opts FitOptions) (OptimizeResult, error) {
	grad := func(grad, x []float64) {
		fd.Gradient(grad, p.objective, x, &fd.Settings{})
	}

	problem := optimize.Problem{
		Func: p.objective,
		Grad: grad,
		Status: func() (optimize.Status, error) {
			return 0, nil
		},
	}

	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.Tolerance,
			Iterations: 20,
		},
	}

	res, err := optimize.Minimize(problem, append([]float64(nil), p.Init...), settings, &optimize.GradientDescent{})
	if err != nil {
		if res == nil {
			return OptimizeResult{}, &ConvergenceError{Algorithm: string(MethodGradientDescent), Iterations: opts.MaxIterations, Best: math.Inf(1)}
		}
		log.Printf("gradient descent stopped early: %v", err)
	}

	params := append([]float64(nil), res.X...)
	p.clamp(params)

	return OptimizeResult{
		Params:     params,
		Objective:  p.objective(params),
		Iterations: res.MajorIterations,
		FuncEvals:  res.FuncEvaluations,
		Converged:  res.Status == optimize.FunctionConvergence || res.Status == optimize.GradientThreshold,
		Method:     MethodGradientDescent,
	}, nil
}

func nmSolve(p *FitProblem, opts FitOptions) (OptimizeResult, error) {
	problem := optimize.Problem{
		Func: p.objective,
	}

	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.Tolerance,
			Iterations: 20,
		},
	}

	res, err := optimize.Minimize(problem, append([]float64(nil), p.Init...), settings, &optimize.NelderMead{})
	if err != nil && res == nil {
		return OptimizeResult{}, &ConvergenceError{Algorithm: string(MethodNelderMead), Iterations: opts.MaxIterations, Best: math.Inf(1)}
	}

	params := append([]float64(nil), res.X...)
	p.clamp(params)

	return OptimizeResult{
		Params:     params,
		Objective:  p.objective(params),
		Iterations: res.MajorIterations,
		FuncEvals:  res.FuncEvaluations,
		Converged:  res.Status == optimize.FunctionConvergence,
		Method:     MethodNelderMead,
	}, nil
}

// gridSolve evaluates the objective on a coarse lattice over the bounds,
// then recursively shrinks the lattice around the best point. Derivative
// free and immune to the singular systems that break lm, at the cost of
// resolution.
func gridSolve(p *FitProblem, opts FitOptions) (OptimizeResult, error) {
	dim := len(p.Init)
	bounds := make([]Bound, dim)
	for i := range bounds {
		if i < len(p.Bounds) {
			bounds[i] = p.Bounds[i]
		} else {
			w := math.Max(math.Abs(p.Init[i]), 1e-3)
			bounds[i] = Bound{Min: p.Init[i] - w, Max: p.Init[i] + w}
		}
	}

	levels := opts.GridLevels
	if levels <= 0 {
		levels = 4
	}
	points := opts.GridPointsDim
	if points < 3 {
		points = 7
	}

	best := append([]float64(nil), p.Init...)
	bestObj := p.objective(best)
	evals := 1

	current := append([]float64(nil), best...)
	for level := 0; level < levels; level++ {
		// One coordinate sweep per level: cheaper than a full cartesian
		// lattice and converges on separable residual surfaces.
		for d := 0; d < dim; d++ {
			step := (bounds[d].Max - bounds[d].Min) / float64(points-1)
			if step <= 0 {
				continue
			}
			for k := 0; k < points; k++ {
				current[d] = bounds[d].Min + float64(k)*step
				obj := p.objective(current)
				evals++
				if obj < bestObj {
					bestObj = obj
					copy(best, current)
				}
			}
			current[d] = best[d]
		}
		// Shrink each bound around the best point.
		for d := 0; d < dim; d++ {
			half := (bounds[d].Max - bounds[d].Min) / 4
			lo := math.Max(bounds[d].Min, best[d]-half)
			hi := math.Min(bounds[d].Max, best[d]+half)
			if hi > lo {
				bounds[d] = Bound{Min: lo, Max: hi}
			}
		}
	}

	return OptimizeResult{
		Params:     best,
		Objective:  bestObj,
		Iterations: levels,
		FuncEvals:  evals,
		Converged:  true,
		Method:     MethodGrid,
	}, nil
}

// annealSolve is simulated annealing with Metropolis acceptance and
// geometric cooling. Proposals are Gaussian steps scaled by the bound range
// and the current temperature, so the walk narrows as it cools.
func annealSolve(p *FitProblem, opts FitOptions) (OptimizeResult, error) {
	const minTemp = 1e-6

	initialTemp := opts.InitialTemp
	if initialTemp <= 0 {
		initialTemp = 1.0
	}
	coolingRate := opts.CoolingRate
	if coolingRate <= 0 || coolingRate >= 1 {
		coolingRate = 0.95
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	dim := len(p.Init)
	scale := make([]float64, dim)
	for i := 0; i < dim; i++ {
		if i < len(p.Bounds) && p.Bounds[i].Max > p.Bounds[i].Min {
			scale[i] = (p.Bounds[i].Max - p.Bounds[i].Min) / 10
		} else {
			scale[i] = math.Max(math.Abs(p.Init[i])/10, 1e-3)
		}
	}

	current := append([]float64(nil), p.Init...)
	currentObj := p.objective(current)
	best := append([]float64(nil), current...)
	bestObj := currentObj

	proposal := make([]float64, dim)
	iters, evals := 0, 1

	for temp := initialTemp; temp > minTemp && iters < opts.MaxIterations; temp *= coolingRate {
		iters++
		copy(proposal, current)
		for i := 0; i < dim; i++ {
			proposal[i] += rng.NormFloat64() * scale[i] * temp
		}
		p.clamp(proposal)

		obj := p.objective(proposal)
		evals++

		delta := obj - currentObj
		if delta < 0 || rng.Float64() < math.Exp(-delta/temp) {
			copy(current, proposal)
			currentObj = obj
			if obj < bestObj {
				bestObj = obj
				copy(best, proposal)
			}
		}
	}

	if bestObj > opts.Tolerance && iters >= opts.MaxIterations {
		return OptimizeResult{
			Params:     best,
			Objective:  bestObj,
			Iterations: iters,
			FuncEvals:  evals,
			Method:     MethodAnnealing,
		}, &ConvergenceError{Algorithm: string(MethodAnnealing), Iterations: iters, Best: bestObj}
	}

	return OptimizeResult{
		Params:     best,
		Objective:  bestObj,
		Iterations: iters,
		FuncEvals:  evals,
		Converged:  true,
		Method:     MethodAnnealing,
	}, nil
}

// covariance estimates the coefficient covariance as (J^T J)^-1 scaled by
// the residual variance. Returns nil when the normal matrix is singular.
func covariance(p *FitProblem, params []float64) [][]float64 {
	n := len(p.X)
	dim := len(params)
	if n <= dim {
		return nil
	}

	jac := mat.NewDense(n, dim, nil)
	grad := make([]float64, dim)
	for i, xi := range p.X {
		fd.Gradient(grad, func(q []float64) float64 { return p.Model(xi, q) }, params, nil)
		jac.SetRow(i, grad)
	}

	var jtj mat.Dense
	jtj.Mul(jac.T(), jac)

	var inv mat.Dense
	if err := inv.Inverse(&jtj); err != nil {
		return nil
	}

	sigma2 := p.RSS(params) / float64(n-dim)
	cov := make([][]float64, dim)
	for i := range cov {
		cov[i] = make([]float64, dim)
		for j := range cov[i] {
			cov[i][j] = inv.At(i, j) * sigma2
		}
	}
	return cov
}

// paramErrors returns per-coefficient standard errors from the covariance
// diagonal, falling back to a second-derivative curvature estimate when the
// covariance is unavailable.
func paramErrors(p *FitProblem, params []float64, cov [][]float64) []float64 {
	dim := len(params)
	errs := make([]float64, dim)

	if cov != nil {
		for i := 0; i < dim; i++ {
			if cov[i][i] > 0 {
				errs[i] = math.Sqrt(cov[i][i])
			}
		}
		return errs
	}

	f0 := p.RSS(params)
	probe := append([]float64(nil), params...)
	for i := 0; i < dim; i++ {
		h := math.Max(math.Abs(params[i])*1e-4, 1e-8)
		probe[i] = params[i] + h
		fp := p.RSS(probe)
		probe[i] = params[i] - h
		fm := p.RSS(probe)
		probe[i] = params[i]

		curvature := (fp - 2*f0 + fm) / (h * h)
		if curvature > 0 {
			errs[i] = math.Sqrt(2 * f0 / curvature / float64(len(p.X)))
		}
	}
	return errs
}
