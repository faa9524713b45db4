package gopeakcore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// gaussianProblem builds a noise-free single-Gaussian fit problem with a
// perturbed initial guess.
func gaussianProblem(amp, center, sigma float64) *FitProblem {
	shape := ShapeOf(GaussianShape)
	truth := []float64{amp, center, sigma}

	n := 200
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = center - 5*sigma + float64(i)*10*sigma/float64(n-1)
		y[i] = shape.Value(x[i], truth)
	}

	return &FitProblem{
		X:     x,
		Y:     y,
		Model: shape.Value,
		Bounds: []Bound{
			{Min: 0, Max: amp * 3},
			{Min: center - 3*sigma, Max: center + 3*sigma},
			{Min: sigma / 10, Max: sigma * 10},
		},
		Init: []float64{amp * 0.7, center + sigma/2, sigma * 1.5},
	}
}

func TestLMRecoversGaussianWithinOnePercent(t *testing.T) {
	p := gaussianProblem(100, 10, 0.5)

	res, err := Solve(p, DefaultFitOptions())
	require.NoError(t, err)
	require.True(t, res.Converged)

	require.InDelta(t, 100.0, res.Params[0], 1.0)
	require.InDelta(t, 10.0, res.Params[1], 0.1)
	require.InDelta(t, 0.5, res.Params[2], 0.005)
	require.Less(t, res.Objective, 1e-6)
}

func TestGradientDescentImprovesObjective(t *testing.T) {
	p := gaussianProblem(100, 10, 0.5)
	start := p.objective(p.Init)

	opts := DefaultFitOptions()
	opts.Method = MethodGradientDescent
	opts.MaxIterations = 500

	res, err := Solve(p, opts)
	require.NoError(t, err)
	require.Less(t, res.Objective, start)
}

func TestNelderMeadRecoversGaussian(t *testing.T) {
	p := gaussianProblem(100, 10, 0.5)

	opts := DefaultFitOptions()
	opts.Method = MethodNelderMead
	opts.MaxIterations = 2000

	res, err := Solve(p, opts)
	require.NoError(t, err)
	require.InDelta(t, 10.0, res.Params[1], 0.05)
}

func TestGridSolveStaysInBoundsAndImproves(t *testing.T) {
	p := gaussianProblem(100, 10, 0.5)
	start := p.objective(p.Init)

	opts := DefaultFitOptions()
	opts.Method = MethodGrid

	res, err := Solve(p, opts)
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.Less(t, res.Objective, start)
	for i, b := range p.Bounds {
		require.GreaterOrEqual(t, res.Params[i], b.Min)
		require.LessOrEqual(t, res.Params[i], b.Max)
	}
}

func TestAnnealingIsSeededDeterministic(t *testing.T) {
	opts := DefaultFitOptions()
	opts.Method = MethodAnnealing
	opts.MaxIterations = 500
	opts.Seed = 99

	a, err := Solve(gaussianProblem(100, 10, 0.5), opts)
	require.NoError(t, err)
	b, err := Solve(gaussianProblem(100, 10, 0.5), opts)
	require.NoError(t, err)

	require.Equal(t, a.Params, b.Params, "identical seeds must walk identically")

	opts.Seed = 100
	c, err := Solve(gaussianProblem(100, 10, 0.5), opts)
	require.NoError(t, err)
	require.NotEqual(t, a.Params, c.Params, "different seeds must diverge")
}

func TestLMReportsIterationCap(t *testing.T) {
	opts := DefaultFitOptions()
	opts.MaxIterations = 1

	res, err := Solve(gaussianProblem(100, 10, 0.5), opts)
	var convErr *ConvergenceError
	require.ErrorAs(t, err, &convErr, "an exhausted cap must surface as a convergence failure")
	require.False(t, res.Converged)
	require.NotEmpty(t, res.Params, "the best point so far stays usable")
	require.LessOrEqual(t, res.Iterations, 1)

	res, err = Solve(gaussianProblem(100, 10, 0.5), DefaultFitOptions())
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.Greater(t, res.Iterations, 0)
	require.Less(t, res.Iterations, DefaultFitOptions().MaxIterations,
		"a converged run reports its own step count, not the cap")
	require.Greater(t, res.FuncEvals, 0)
}

func TestAnnealingHonorsCoolingSchedule(t *testing.T) {
	p := gaussianProblem(100, 10, 0.5)

	opts := DefaultFitOptions()
	opts.Method = MethodAnnealing
	opts.MaxIterations = 2000
	opts.CoolingRate = 0.5

	fast, err := Solve(p, opts)
	require.NoError(t, err)
	// 1.0 * 0.5^k crosses the 1e-6 temperature floor after about 20 steps.
	require.Less(t, fast.Iterations, 30)

	opts.CoolingRate = 0.99
	slow, err := Solve(p, opts)
	require.NoError(t, err)
	require.Greater(t, slow.Iterations, fast.Iterations)
}

func TestAnnealingImprovesObjective(t *testing.T) {
	p := gaussianProblem(100, 10, 0.5)
	start := p.objective(p.Init)

	opts := DefaultFitOptions()
	opts.Method = MethodAnnealing
	opts.MaxIterations = 2000

	res, _ := Solve(p, opts)
	require.NotNil(t, res.Params)
	require.Less(t, res.Objective, start)
}

func TestSolveRejectsBadProblems(t *testing.T) {
	shape := ShapeOf(GaussianShape)

	_, err := Solve(&FitProblem{
		X:     []float64{1, 2},
		Y:     []float64{1, 2},
		Model: shape.Value,
		Init:  []float64{1, 1, 1},
	}, DefaultFitOptions())
	require.ErrorIs(t, err, ErrInsufficientData)

	_, err = Solve(&FitProblem{
		X:     []float64{1, 2, 3},
		Y:     []float64{1, 2},
		Model: shape.Value,
		Init:  []float64{1, 1, 1},
	}, DefaultFitOptions())
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestCovarianceAndParamErrors(t *testing.T) {
	p := gaussianProblem(100, 10, 0.5)

	res, err := Solve(p, DefaultFitOptions())
	require.NoError(t, err)

	cov := covariance(p, res.Params)
	errs := paramErrors(p, res.Params, cov)
	require.Len(t, errs, 3)
	for i, e := range errs {
		require.False(t, math.IsNaN(e), "param %d", i)
		require.GreaterOrEqual(t, e, 0.0)
	}

	// Degenerate problem: fewer samples than coefficients yields no
	// covariance but curvature-based errors still come back finite.
	small := &FitProblem{
		X:     []float64{9.9, 10, 10.1},
		Y:     []float64{50, 100, 50},
		Model: ShapeOf(GaussianShape).Value,
		Init:  []float64{100, 10, 0.1},
	}
	require.Nil(t, covariance(small, small.Init))
	fallback := paramErrors(small, small.Init, nil)
	require.Len(t, fallback, 3)
	for _, e := range fallback {
		require.False(t, math.IsNaN(e))
	}
}

func TestConvergenceErrorMessage(t *testing.T) {
	err := &ConvergenceError{Algorithm: "anneal", Iterations: 50, Best: 1.5}
	require.Contains(t, err.Error(), "anneal")
	require.Contains(t, err.Error(), "50")
}
