package gopeakcore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func testCandidate() *PeakCandidate {
	return &PeakCandidate{
		ID:         "t-p00",
		Center:     10,
		Amplitude:  100,
		FWHM:       1,
		Sigma:      1 / fwhmSigmaRatio,
		Boundaries: Boundaries{Left: 7, Right: 13},
	}
}

func TestGaussianShape(t *testing.T) {
	s := ShapeOf(GaussianShape)
	p := []float64{100, 10, 0.5}

	require.InDelta(t, 100.0, s.Value(10, p), 1e-12, "amplitude at center")
	require.InDelta(t, 50.0, s.Value(10+0.5*fwhmSigmaRatio/2, p), 1e-6, "half height at half FWHM")
	require.InDelta(t, 100*0.5*math.Sqrt(2*math.Pi), s.Area(p), 1e-9)
}

func TestGaussianGradientMatchesNumeric(t *testing.T) {
	s := ShapeOf(GaussianShape).(gaussianShape)
	p := []float64{100, 10, 0.5}

	analytic := make([]float64, 3)
	numeric := make([]float64, 3)
	for _, x := range []float64{9.2, 10.0, 10.7} {
		s.Gradient(analytic, x, p)
		numericGradient(s, numeric, x, p)
		for i := range analytic {
			tol := math.Max(1e-3, math.Abs(analytic[i])*1e-3)
			require.InDelta(t, numeric[i], analytic[i], tol, "param %d at x=%g", i, x)
		}
	}
}

func TestLorentzianShape(t *testing.T) {
	s := ShapeOf(LorentzianShape)
	p := []float64{50, 5, 0.3}

	require.InDelta(t, 50.0, s.Value(5, p), 1e-12)
	require.InDelta(t, 25.0, s.Value(5.3, p), 1e-9, "half height at gamma")
	require.InDelta(t, 50*0.3*math.Pi, s.Area(p), 1e-9)
}

func TestEMGApproachesGaussianForSmallTau(t *testing.T) {
	emg := ShapeOf(EMGShape)
	gauss := ShapeOf(GaussianShape)

	pe := []float64{100, 10, 0.5, 0.01}
	pg := []float64{100, 10, 0.5}

	for _, x := range []float64{9.0, 9.8, 10.0, 10.4, 11.0} {
		require.InDelta(t, gauss.Value(x, pg), emg.Value(x, pe), 2.0, "x=%g", x)
	}
	require.InDelta(t, gauss.Area(pg), emg.Area(pe), 1e-9, "closed-form areas match")
}

func TestEMGTailsRight(t *testing.T) {
	s := ShapeOf(EMGShape)
	p := []float64{100, 10, 0.3, 0.6}

	// Strong exponential broadening pushes intensity to the right of center.
	require.Greater(t, s.Value(11.5, p), s.Value(8.5, p))
	require.False(t, math.IsNaN(s.Value(30, p)), "far tail must stay finite")
	require.False(t, math.IsInf(s.Value(9, p), 0))
}

func TestBiGaussianAsymmetry(t *testing.T) {
	s := ShapeOf(BiGaussianShape)
	p := []float64{100, 10, 0.3, 0.9}

	require.InDelta(t, 100.0, s.Value(10, p), 1e-12)
	require.Greater(t, s.Value(10.5, p), s.Value(9.5, p), "wider right sigma decays slower")
	require.InDelta(t, 100*(0.3+0.9)/2*math.Sqrt(2*math.Pi), s.Area(p), 1e-9)
}

func TestPseudoVoigtMixing(t *testing.T) {
	s := ShapeOf(PseudoVoigtShape)
	pureGauss := []float64{100, 10, 0.5, 0}
	pureLorentz := []float64{100, 10, 0.5, 1}

	g := ShapeOf(GaussianShape)
	l := ShapeOf(LorentzianShape)

	require.InDelta(t, g.Value(10.8, []float64{100, 10, 0.5}), s.Value(10.8, pureGauss), 1e-9)
	require.InDelta(t, l.Value(10.8, []float64{100, 10, 0.5}), s.Value(10.8, pureLorentz), 1e-9)
}

func TestNumericAreaAgreesWithClosedForm(t *testing.T) {
	g := ShapeOf(GaussianShape)
	p := []float64{100, 10, 0.5}

	numeric := numericArea(g, p, 10, 5)
	require.InDelta(t, g.Area(p), numeric, g.Area(p)*0.001)
}

func TestShapeRegistry(t *testing.T) {
	for _, st := range []ShapeType{
		GaussianShape, LorentzianShape, PseudoVoigtShape, EMGShape, BiGaussianShape,
		VoigtExpTailShape, PearsonIVShape, NLCShape, GMGBayesianShape,
	} {
		s := ShapeOf(st)
		require.Equal(t, st, s.Type())
		require.Len(t, s.ParamNames(), s.NumParams())

		c := testCandidate()
		guess := s.InitialGuess(c)
		require.Len(t, guess, s.NumParams())
		bounds := s.Bounds(c)
		require.Len(t, bounds, s.NumParams())
		for i, b := range bounds {
			require.LessOrEqual(t, b.Min, b.Max, "%s bound %d", st, i)
			require.GreaterOrEqual(t, guess[i], b.Min, "%s guess %d below bound", st, i)
			require.LessOrEqual(t, guess[i], b.Max, "%s guess %d above bound", st, i)
		}

		v := s.Value(c.Center, guess)
		require.False(t, math.IsNaN(v), "%s value at center", st)
		require.Greater(t, v, 0.0, "%s must be positive at center", st)
	}
}

func TestBoundClamp(t *testing.T) {
	b := Bound{Min: 0, Max: 1}
	require.Equal(t, 0.0, b.Clamp(-5))
	require.Equal(t, 1.0, b.Clamp(5))
	require.Equal(t, 0.5, b.Clamp(0.5))
}

func TestRecommendShape(t *testing.T) {
	gauss := ShapeOf(GaussianShape)
	emg := ShapeOf(EMGShape)

	n := 200
	x := make([]float64, n)
	symY := make([]float64, n)
	tailY := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = 5 + float64(i)*0.05
		symY[i] = gauss.Value(x[i], []float64{100, 10, 0.4})
		tailY[i] = emg.Value(x[i], []float64{100, 10, 0.4, 1.2})
	}

	require.Equal(t, GaussianShape, RecommendShape(x, symY))
	require.NotEqual(t, GaussianShape, RecommendShape(x, tailY), "tailed profile must not come back Gaussian")
}
