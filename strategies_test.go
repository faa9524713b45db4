package gopeakcore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrategyForMapping(t *testing.T) {
	require.IsType(t, &SingleFitStrategy{}, StrategyFor(SinglePeak))
	require.IsType(t, &FractionStrategy{}, StrategyFor(LightOverlap))
	require.IsType(t, &SharpenStrategy{}, StrategyFor(MediumOverlap))
	require.IsType(t, &SharpenStrategy{}, StrategyFor(ExtremeOverlap))
	require.IsType(t, &NoiseTolerantStrategy{}, StrategyFor(ExtremeOverlapLowSNR))
}

func TestLaplacianKernel(t *testing.T) {
	require.Equal(t, []float64{1, -2, 1}, laplacianKernel(3))
	require.Equal(t, []float64{-1, 16, -30, 16, -1}, laplacianKernel(5))

	k := laplacianKernel(9)
	require.Len(t, k, 9)
	require.Less(t, k[4], 0.0, "center tap must be negative")
	for i := 0; i < 4; i++ {
		require.InDelta(t, k[8-i], k[i], 1e-12, "kernel must be symmetric")
	}

	require.Equal(t, []float64{1, -2, 1}, laplacianKernel(1), "undersized falls back to the 3-tap stencil")
	require.Len(t, laplacianKernel(8), 9, "even sizes round up")
}

func TestMorletKernel(t *testing.T) {
	for _, scale := range []int{1, 3, 8} {
		k := morletKernel(scale)
		require.Len(t, k, scale*6+1)
		require.InDelta(t, 1.0, k[len(k)/2], 1e-12, "unit response at the center")
		for i := 0; i < len(k)/2; i++ {
			require.InDelta(t, k[len(k)-1-i], k[i], 1e-12)
		}
	}
}

func TestSharpenDeepensValleys(t *testing.T) {
	gauss := ShapeOf(GaussianShape)
	n := 300
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = 8 + float64(i)*0.015
		y[i] = gauss.Value(x[i], []float64{100, 10, 0.34}) +
			gauss.Value(x[i], []float64{80, 11.2, 0.34})
	}

	out := sharpen(y, 5, 1.0)
	require.Len(t, out, n)
	for i, v := range out {
		require.GreaterOrEqual(t, v, 0.0, "sample %d", i)
	}

	apex := nearestIndex(x, 10)
	valley := nearestIndex(x, 10.6)
	require.GreaterOrEqual(t, out[apex], y[apex], "apexes grow")
	require.LessOrEqual(t, out[valley], y[valley], "valleys drop")
	require.Less(t, out[valley]/out[apex], y[valley]/y[apex], "contrast must improve")
}

func TestCWTRidgeNormalization(t *testing.T) {
	gauss := ShapeOf(GaussianShape)
	n := 200
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		y[i] = gauss.Value(float64(i), []float64{50, 100, 8})
	}

	ridge := cwtRidge(y, 1, 10)
	require.Len(t, ridge, n)

	maxR := 0.0
	for _, v := range ridge {
		require.GreaterOrEqual(t, v, 0.0)
		maxR = math.Max(maxR, v)
	}
	require.InDelta(t, 50.0, maxR, 1e-9, "ridge is normalized to the trace maximum")

	// Scales larger than the segment must be capped, not panic.
	short := cwtRidge(y[:20], 1, 500)
	require.Len(t, short, 20)
}

func TestMovingAverage(t *testing.T) {
	flat := movingAverage([]float64{3, 3, 3, 3, 3}, 3)
	for _, v := range flat {
		require.InDelta(t, 3.0, v, 1e-12)
	}

	spike := movingAverage([]float64{0, 0, 10, 0, 0}, 3)
	require.Less(t, spike[2], 10.0)
	require.Greater(t, spike[1], 0.0)

	copied := movingAverage([]float64{1, 2, 3}, 1)
	require.Equal(t, []float64{1, 2, 3}, copied)
}

func TestLocalApexAndFractionBounds(t *testing.T) {
	y := []float64{0, 1, 5, 20, 8, 2, 0.5, 0}
	x := []float64{0, 1, 2, 3, 4, 5, 6, 7}

	require.Equal(t, 3, localApex(y, 1, 3))
	require.Equal(t, 3, localApex(y, 3, 1))

	lo, hi := fractionBounds(x, y, 3, 0.05)
	require.Equal(t, 0.0, lo)
	require.Equal(t, 6.0, hi)
}

func TestSingleFitStrategy(t *testing.T) {
	c, err := SyntheticCurve("sf", 0, 20, 0.02, []SyntheticPeak{
		{Center: 10, Amplitude: 100, FWHM: 1},
	}, 0, nil)
	require.NoError(t, err)

	peaks, err := DetectPeaks(c, DefaultDetectOptions())
	require.NoError(t, err)
	require.Len(t, peaks, 1)

	g := &PeakGroup{Peaks: peaks, Class: SinglePeak}
	require.NoError(t, StrategyFor(SinglePeak).Apply(c, g, DefaultFitOptions()))

	p := peaks[0]
	require.False(t, p.Failed)
	require.Equal(t, "single_fit", p.AppliedStrategy)
	require.NotNil(t, p.Fit)
	require.Greater(t, p.Fit.RSquared, 0.99)
	require.InDelta(t, 10.0, p.Center, 0.02)
}

func overlapPair(t *testing.T, id string, c2, a2 float64) (*Curve, *PeakGroup) {
	t.Helper()
	c, err := SyntheticCurve(id, 5, 16, 0.01, []SyntheticPeak{
		{Center: 10.0, Amplitude: 100, FWHM: 0.8},
		{Center: c2, Amplitude: a2, FWHM: 0.8},
	}, 0, nil)
	require.NoError(t, err)

	sigma := 0.8 / fwhmSigmaRatio
	mk := func(pid string, center, amp float64) *PeakCandidate {
		return &PeakCandidate{
			ID: pid, Center: center, Amplitude: amp, Shape: GaussianShape,
			FWHM: 0.8, Sigma: sigma,
			Boundaries: Boundaries{Left: center - 1.2, Right: center + 1.2},
		}
	}
	g := &PeakGroup{Peaks: []*PeakCandidate{
		mk(id+"-a", 10.05, 100),
		mk(id+"-b", c2+0.05, a2),
	}}
	return c, g
}

func TestFractionStrategyResolvesLightOverlap(t *testing.T) {
	c, g := overlapPair(t, "frac", 11.0, 70)
	g.Class = LightOverlap

	require.NoError(t, StrategyFor(LightOverlap).Apply(c, g, DefaultFitOptions()))

	require.InDelta(t, 10.0, g.Peaks[0].Center, 0.05)
	require.InDelta(t, 11.0, g.Peaks[1].Center, 0.05)
	for _, p := range g.Peaks {
		require.False(t, p.Failed)
		require.Equal(t, "fraction_split", p.AppliedStrategy)
		require.Greater(t, p.Area, 0.0)
	}
}

func TestSharpenStrategyResolvesMediumOverlap(t *testing.T) {
	c, g := overlapPair(t, "shrp", 10.8, 70)
	g.Class = MediumOverlap

	require.NoError(t, StrategyFor(MediumOverlap).Apply(c, g, DefaultFitOptions()))

	require.InDelta(t, 10.0, g.Peaks[0].Center, 0.1)
	require.InDelta(t, 10.8, g.Peaks[1].Center, 0.1)
	for _, p := range g.Peaks {
		require.False(t, p.Failed)
		require.Equal(t, "sharpen_cwt", p.AppliedStrategy)
		require.NotNil(t, p.Fit)
	}
}

func TestEMGNLLSStrategy(t *testing.T) {
	c, g := overlapPair(t, "emg", 11.0, 70)
	g.Class = LightOverlap

	s := &EMGNLLSStrategy{}
	require.NoError(t, s.Apply(c, g, DefaultFitOptions()))

	for _, p := range g.Peaks {
		require.False(t, p.Failed)
		require.Equal(t, "emg_nlls", p.AppliedStrategy)
		require.Equal(t, EMGShape, p.Shape, "every member is refit with the tailing model")
		require.NotNil(t, p.Fit)
	}
	require.InDelta(t, 10.0, g.Peaks[0].Center, 0.2)
	require.InDelta(t, 11.0, g.Peaks[1].Center, 0.2)
}

func TestNoiseTolerantRejectsEvenSmoothWindow(t *testing.T) {
	c, g := overlapPair(t, "ntw", 10.5, 80)

	s := StrategyFor(ExtremeOverlapLowSNR).(*NoiseTolerantStrategy)
	s.SmoothWindow = 4
	require.ErrorIs(t, s.Apply(c, g, DefaultFitOptions()), ErrInvalidConfiguration)
}

func TestNoiseTolerantStrategy(t *testing.T) {
	c, g := overlapPair(t, "nt", 10.5, 80)
	g.Class = ExtremeOverlapLowSNR

	require.NoError(t, StrategyFor(ExtremeOverlapLowSNR).Apply(c, g, DefaultFitOptions()))

	for _, p := range g.Peaks {
		require.False(t, p.Failed)
		require.Equal(t, "noise_tolerant", p.AppliedStrategy)
		require.Equal(t, EMGShape, p.Shape, "extreme overlaps switch to a tailing-capable model")
	}
	require.InDelta(t, 10.0, g.Peaks[0].Center, 0.2)
	require.InDelta(t, 10.5, g.Peaks[1].Center, 0.2)
}
