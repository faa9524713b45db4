package gopeakcore

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverlapDegree(t *testing.T) {
	tests := []struct {
		name string
		a, b Boundaries
		want float64
	}{
		{"disjoint", Boundaries{0, 1}, Boundaries{2, 3}, 0},
		{"touching", Boundaries{0, 1}, Boundaries{1, 2}, 0},
		{"half of narrower", Boundaries{0, 2}, Boundaries{1, 3}, 0.5},
		{"contained", Boundaries{0, 10}, Boundaries{4, 5}, 1},
		{"identical", Boundaries{0, 2}, Boundaries{0, 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, OverlapDegree(tt.a, tt.b), 1e-12)
			require.InDelta(t, tt.want, OverlapDegree(tt.b, tt.a), 1e-12, "metric must be symmetric")
		})
	}
}

func TestClassifyDegreeLadder(t *testing.T) {
	tests := []struct {
		degree float64
		snr    float64
		want   OverlapClass
	}{
		{0.0, 100, SinglePeak},
		{0.09, 100, SinglePeak},
		{0.1, 100, LightOverlap},
		{0.49, 100, LightOverlap},
		{0.5, 100, MediumOverlap},
		{0.99, 100, MediumOverlap},
		{1.0, 100, ExtremeOverlap},
		{1.0, 9.9, ExtremeOverlapLowSNR},
		{1.0, 10.0, ExtremeOverlap},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("d=%.2f/snr=%.1f", tt.degree, tt.snr), func(t *testing.T) {
			require.Equal(t, tt.want, classifyDegree(tt.degree, tt.snr))
		})
	}
}

func TestClassifyDegreeMonotonic(t *testing.T) {
	// At fixed SNR, increasing overlap never de-escalates the class.
	prev := SinglePeak
	for d := 0.0; d <= 1.0; d += 0.01 {
		class := classifyDegree(d, 50)
		require.GreaterOrEqual(t, int(class), int(prev), "degree %.2f", d)
		prev = class
	}
}

func TestGroupOverlappingPartition(t *testing.T) {
	peaks := []SyntheticPeak{
		{Center: 5, Amplitude: 80, FWHM: 0.6},
		{Center: 12, Amplitude: 100, FWHM: 0.8},
		{Center: 12.5, Amplitude: 60, FWHM: 0.8},
		{Center: 25, Amplitude: 40, FWHM: 1.0},
	}
	c, err := SyntheticCurve("grp", 0, 30, 0.02, peaks, 0, nil)
	require.NoError(t, err)

	candidates, err := DetectPeaks(c, DefaultDetectOptions())
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	groups := GroupOverlapping(c, candidates)

	// Partition property: every candidate lands in exactly one group.
	seen := map[string]int{}
	total := 0
	for _, g := range groups {
		require.NotEmpty(t, g.Peaks)
		for _, p := range g.Peaks {
			seen[p.ID]++
			total++
		}
	}
	require.Equal(t, len(candidates), total)
	for id, n := range seen {
		require.Equal(t, 1, n, "peak %s appears %d times", id, n)
	}
}

func TestGroupOverlappingSeparatesIsolatedPeaks(t *testing.T) {
	c, err := SyntheticCurve("iso", 0, 30, 0.02, []SyntheticPeak{
		{Center: 8, Amplitude: 100, FWHM: 0.8},
		{Center: 22, Amplitude: 100, FWHM: 0.8},
	}, 0, nil)
	require.NoError(t, err)

	candidates, err := DetectPeaks(c, DefaultDetectOptions())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	groups := GroupOverlapping(c, candidates)
	require.Len(t, groups, 2)
	for _, g := range groups {
		require.Equal(t, SinglePeak, g.Class)
		require.Len(t, g.Peaks, 1)
	}
}

func TestGroupOverlappingBridgedByWideCandidate(t *testing.T) {
	c, err := SyntheticCurve("wide", 0, 10, 0.1, []SyntheticPeak{
		{Center: 5, Amplitude: 50, FWHM: 2},
	}, 0, nil)
	require.NoError(t, err)

	mk := func(id string, center float64, b Boundaries) *PeakCandidate {
		return &PeakCandidate{
			ID: id, Center: center, Amplitude: 10, Shape: GaussianShape,
			FWHM: 1, Sigma: 1 / fwhmSigmaRatio, Boundaries: b,
		}
	}
	// The wide candidate overlaps both narrow ones, but the narrow ones do
	// not overlap each other; membership has to close over the bridge even
	// though the bridging support starts before the first group would end.
	a := mk("a", 0.5, Boundaries{Left: 0, Right: 1})
	b := mk("b", 5.5, Boundaries{Left: 5, Right: 6})
	w := mk("w", 6.0, Boundaries{Left: 0.5, Right: 10})

	groups := GroupOverlapping(c, []*PeakCandidate{a, b, w})
	require.Len(t, groups, 1, "a bridged set is one maximal group")
	require.Len(t, groups[0].Peaks, 3)

	ids := []string{}
	for _, p := range groups[0].Peaks {
		ids = append(ids, p.ID)
	}
	require.Equal(t, []string{"a", "b", "w"}, ids)
	require.InDelta(t, 1.0, groups[0].MaxDegree, 1e-12)
}

func TestGroupBoundariesUnion(t *testing.T) {
	a := &PeakCandidate{Boundaries: Boundaries{Left: 1, Right: 4}}
	b := &PeakCandidate{Boundaries: Boundaries{Left: 3, Right: 7}}
	g := &PeakGroup{Peaks: []*PeakCandidate{a, b}}

	union := g.Boundaries()
	require.Equal(t, 1.0, union.Left)
	require.Equal(t, 7.0, union.Right)
}

func TestGroupOverlappingEmpty(t *testing.T) {
	c, err := SyntheticCurve("empty", 0, 10, 0.1, nil, 0.01, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Nil(t, GroupOverlapping(c, nil))
}
