package gopeakcore

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecomposerRunSingleGaussian(t *testing.T) {
	c, err := SyntheticCurve("run1", 0, 20, 0.02, []SyntheticPeak{
		{Center: 10, Amplitude: 100, FWHM: 1},
	}, 0, nil)
	require.NoError(t, err)

	dec, err := NewDecomposer().Run(c)
	require.NoError(t, err)

	require.Equal(t, 1, dec.Accepted)
	require.Equal(t, 0, dec.Failed)
	require.Len(t, dec.Peaks, 1)
	require.Len(t, dec.Groups, 1)

	p := dec.Peaks[0]
	require.InDelta(t, 10.0, p.Center, 0.05)
	require.NotNil(t, p.Fit)
	require.Greater(t, p.Fit.RSquared, 0.99)
	require.Greater(t, dec.QualityScore, 0.0)
}

func TestDecomposerQualityInvariant(t *testing.T) {
	c, err := SyntheticCurve("inv", 0, 30, 0.02, []SyntheticPeak{
		{Center: 5, Amplitude: 80, FWHM: 0.6},
		{Center: 12, Amplitude: 100, FWHM: 0.8},
		{Center: 12.5, Amplitude: 60, FWHM: 0.8},
		{Center: 25, Amplitude: 40, FWHM: 1.0},
	}, 0, nil)
	require.NoError(t, err)

	d := NewDecomposer()
	dec, err := d.Run(c)
	require.NoError(t, err)
	require.NotEmpty(t, dec.Peaks)

	// No peak is ever dropped: every detected candidate lands in exactly one
	// group, and each is either accepted above the gate or marked failed.
	total := 0
	seen := map[string]int{}
	for _, g := range dec.Groups {
		for _, p := range g.Peaks {
			seen[p.ID]++
			total++
		}
	}
	require.Equal(t, len(dec.Peaks), total)
	for id, n := range seen {
		require.Equal(t, 1, n, "peak %s appears %d times", id, n)
	}

	for _, p := range dec.Peaks {
		if p.Failed {
			require.NotEmpty(t, p.FailureReason)
			continue
		}
		require.NotNil(t, p.Fit, "accepted peak %s must carry a fit", p.ID)
		require.GreaterOrEqual(t, p.Fit.RSquared, d.QualityThreshold)
	}
	require.Equal(t, len(dec.Peaks), dec.Accepted+dec.Failed)
}

func TestRunWithPeaks(t *testing.T) {
	c, err := SyntheticCurve("ext", 5, 16, 0.01, []SyntheticPeak{
		{Center: 10.0, Amplitude: 100, FWHM: 0.8},
		{Center: 10.6, Amplitude: 60, FWHM: 0.8},
	}, 0, nil)
	require.NoError(t, err)

	d := NewDecomposer()
	dec, err := d.RunWithPeaks(c, []ExternalPeak{
		{Center: 10.0},
		{Center: 10.6},
	})
	require.NoError(t, err)
	require.Len(t, dec.Peaks, 2)

	for _, p := range dec.Peaks {
		require.Equal(t, DetectExternal, p.Detection)
		require.Contains(t, p.ID, "-x")
		if !p.Failed {
			require.NotNil(t, p.Fit)
			require.GreaterOrEqual(t, p.Fit.RSquared, d.QualityThreshold)
		}
	}
}

func TestRunWithPeaksRequiresCandidates(t *testing.T) {
	c, err := SyntheticCurve("none", 0, 10, 0.1, nil, 0, nil)
	require.NoError(t, err)

	_, err = NewDecomposer().RunWithPeaks(c, nil)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestDecomposerValidation(t *testing.T) {
	c, err := SyntheticCurve("bad", 0, 20, 0.02, []SyntheticPeak{
		{Center: 10, Amplitude: 100, FWHM: 1},
	}, 0, nil)
	require.NoError(t, err)

	d := NewDecomposer()
	d.QualityThreshold = 1.5
	_, err = d.Run(c)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	d = NewDecomposer()
	d.Fit.MaxIterations = 0
	_, err = d.Run(c)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	d = NewDecomposer()
	d.MinAmplitude = -1
	_, err = d.Run(c)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	d = NewDecomposer()
	d.Fit.WindowSize = 4
	_, err = d.Run(c)
	require.ErrorIs(t, err, ErrInvalidConfiguration, "even fit windows are rejected")
}

func TestGateEnforcesAmplitudeFloor(t *testing.T) {
	c, err := SyntheticCurve("floor", 0, 20, 0.02, []SyntheticPeak{
		{Center: 10, Amplitude: 100, FWHM: 1},
	}, 0, nil)
	require.NoError(t, err)

	d := NewDecomposer()
	d.MinAmplitude = 500
	dec, err := d.Run(c)
	require.NoError(t, err)

	require.Equal(t, 0, dec.Accepted)
	require.Equal(t, 1, dec.Failed)
	require.True(t, dec.Peaks[0].Failed)
	require.NotEmpty(t, dec.Peaks[0].FailureReason)
	require.NotNil(t, dec.Peaks[0].Fit, "the last fit state is kept on rejection")
}

func TestGateEnforcesStandardErrorCeiling(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	c, err := SyntheticCurve("se", 5, 15, 0.02, []SyntheticPeak{
		{Center: 10, Amplitude: 100, FWHM: 1},
	}, 0.1, rng)
	require.NoError(t, err)

	p := &PeakCandidate{
		ID: "se-p00", Center: 10, Amplitude: 100, Shape: GaussianShape,
		FWHM: 1, Sigma: 1 / fwhmSigmaRatio,
		Boundaries: Boundaries{Left: 8.5, Right: 11.5},
	}

	d := NewDecomposer()
	d.QualityThreshold = 0.5
	d.MaxStandardError = 0.5
	dec, err := d.process(c, []*PeakCandidate{p})
	require.NoError(t, err)

	require.Equal(t, 1, dec.Failed)
	require.True(t, p.Failed)
	require.NotNil(t, p.Fit)
	require.Greater(t, p.Fit.StandardError, d.MaxStandardError,
		"rejection is attributable to the residual standard error")
}

func TestDecomposerFlagsQualityFailure(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	c, err := SyntheticCurve("lowsnr", 7, 14, 0.02, []SyntheticPeak{
		{Center: 10.0, Amplitude: 40, FWHM: 0.8},
		{Center: 10.3, Amplitude: 35, FWHM: 0.9},
		{Center: 10.6, Amplitude: 30, FWHM: 0.8},
	}, 0.25, rng)
	require.NoError(t, err)

	mk := func(id string, center, amp float64, b Boundaries) *PeakCandidate {
		return &PeakCandidate{
			ID: id, Center: center, Amplitude: amp, Shape: GaussianShape,
			FWHM: 0.8, Sigma: 0.8 / fwhmSigmaRatio, Boundaries: b,
		}
	}
	peaks := []*PeakCandidate{
		mk("lowsnr-p00", 10.0, 40, Boundaries{Left: 8.8, Right: 11.8}),
		mk("lowsnr-p01", 10.3, 35, Boundaries{Left: 10.0, Right: 10.6}),
		mk("lowsnr-p02", 10.6, 30, Boundaries{Left: 9.8, Right: 11.4}),
	}

	d := NewDecomposer()
	d.QualityThreshold = 0.999
	dec, err := d.process(c, peaks)
	require.NoError(t, err)

	require.Len(t, dec.Groups, 1)
	g := dec.Groups[0]
	require.Equal(t, ExtremeOverlapLowSNR, g.Class)

	// A fit that stays under the gate comes back flagged, never silently
	// accepted.
	require.Equal(t, 0, dec.Accepted)
	require.Equal(t, len(peaks), dec.Failed)
	for _, p := range dec.Peaks {
		require.True(t, p.Failed)
		require.NotEmpty(t, p.FailureReason)
		require.Equal(t, EMGShape, p.Shape, "the extreme-overlap path ends in the EMG stage")
	}

	// The workflow retried once and kept both attempts' summaries.
	require.NotNil(t, g.Escalation)
	require.Equal(t, d.EscalationMethod, g.Escalation.Method)
	require.Contains(t, []string{"initial", "escalated"}, g.Escalation.Kept)
}

func TestDecomposerRerunIsBitIdentical(t *testing.T) {
	run := func() *Decomposition {
		rng := rand.New(rand.NewSource(11))
		c, err := SyntheticCurve("idem", 5, 16, 0.02, []SyntheticPeak{
			{Center: 10.0, Amplitude: 100, FWHM: 0.8},
			{Center: 11.0, Amplitude: 70, FWHM: 0.8},
		}, 0.05, rng)
		require.NoError(t, err)

		d := NewDecomposer()
		d.Fit.Seed = 7
		dec, err := d.Run(c)
		require.NoError(t, err)
		return dec
	}

	a, b := run(), run()
	require.Equal(t, len(a.Peaks), len(b.Peaks))
	require.Equal(t, a.Accepted, b.Accepted)
	require.Equal(t, a.QualityScore, b.QualityScore)
	for i := range a.Peaks {
		require.Equal(t, a.Peaks[i].Params, b.Peaks[i].Params, "peak %d", i)
		require.Equal(t, a.Peaks[i].Fit, b.Peaks[i].Fit, "peak %d", i)
		require.Equal(t, a.Peaks[i].Failed, b.Peaks[i].Failed, "peak %d", i)
		require.Equal(t, a.Peaks[i].Area, b.Peaks[i].Area, "peak %d", i)
	}
}

func TestDecomposerRecordsStageTimings(t *testing.T) {
	c, err := SyntheticCurve("timed", 0, 20, 0.02, []SyntheticPeak{
		{Center: 10, Amplitude: 100, FWHM: 1},
	}, 0, nil)
	require.NoError(t, err)

	dec, err := NewDecomposer().Run(c)
	require.NoError(t, err)
	require.Greater(t, dec.Timings.Detect, time.Duration(0))
	require.Greater(t, dec.Timings.Resolve, time.Duration(0))
}

func TestParallelGroupsMatchSerial(t *testing.T) {
	peaks := []SyntheticPeak{
		{Center: 6, Amplitude: 100, FWHM: 0.8},
		{Center: 15, Amplitude: 90, FWHM: 0.8},
		{Center: 24, Amplitude: 80, FWHM: 0.8},
	}
	mk := func() *Curve {
		c, err := SyntheticCurve("par", 0, 30, 0.02, peaks, 0, nil)
		require.NoError(t, err)
		return c
	}

	serial, err := NewDecomposer().Run(mk())
	require.NoError(t, err)

	d := NewDecomposer()
	d.ParallelGroups = true
	parallel, err := d.Run(mk())
	require.NoError(t, err)

	require.Equal(t, serial.Accepted, parallel.Accepted)
	require.Len(t, parallel.Peaks, len(serial.Peaks))
	for i := range serial.Peaks {
		require.InDelta(t, serial.Peaks[i].Center, parallel.Peaks[i].Center, 1e-9)
		require.InDelta(t, serial.Peaks[i].Amplitude, parallel.Peaks[i].Amplitude, 1e-9)
	}
}

func TestDecomposeAllPreservesOrder(t *testing.T) {
	var curves []*Curve
	for i := 0; i < 5; i++ {
		c, err := SyntheticCurve(fmt.Sprintf("batch-%d", i), 0, 20, 0.02, []SyntheticPeak{
			{Center: 8 + float64(i), Amplitude: 100, FWHM: 1},
		}, 0, nil)
		require.NoError(t, err)
		curves = append(curves, c)
	}

	results, err := DecomposeAll(context.Background(), NewDecomposer(), curves, 2)
	require.NoError(t, err)
	require.Len(t, results, len(curves))

	for i, dec := range results {
		require.NotNil(t, dec, "curve %d", i)
		require.Equal(t, curves[i].ID, dec.Curve.ID)
		require.Equal(t, 1, dec.Accepted)
	}
}

func TestDecomposeAllHonorsCancellation(t *testing.T) {
	c, err := SyntheticCurve("cancel", 0, 20, 0.02, []SyntheticPeak{
		{Center: 10, Amplitude: 100, FWHM: 1},
	}, 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := DecomposeAll(ctx, NewDecomposer(), []*Curve{c, c, c}, 2)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 3)
}
