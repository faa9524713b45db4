package gopeakcore

import (
	"math"
	"sort"
)

// OverlapClass grades how entangled a group of candidates is. The class
// picks the deconvolution strategy.
type OverlapClass int

const (
	SinglePeak OverlapClass = iota
	LightOverlap
	MediumOverlap
	ExtremeOverlap
	ExtremeOverlapLowSNR
)

func (o OverlapClass) String() string {
	switch o {
	case SinglePeak:
		return "single_peak"
	case LightOverlap:
		return "light_overlap"
	case MediumOverlap:
		return "medium_overlap"
	case ExtremeOverlap:
		return "extreme_overlap"
	case ExtremeOverlapLowSNR:
		return "extreme_overlap_low_snr"
	}
	return "unknown"
}

// Classification thresholds on the overlap degree. A degree of 1 means one
// support interval fully contains the other.
const (
	lightOverlapThreshold   = 0.1
	mediumOverlapThreshold  = 0.5
	extremeOverlapThreshold = 1.0

	// Below this SNR an extreme overlap needs the noise-tolerant path.
	lowSNRThreshold = 10.0
)

// OverlapDegree measures how much two support intervals share, as the
// intersection length over the narrower of the two spans. Zero for disjoint
// intervals, one when the narrower is fully contained.
func OverlapDegree(a, b Boundaries) float64 {
	inter := a.Intersection(b)
	if inter <= 0 {
		return 0
	}
	narrower := math.Min(a.Span(), b.Span())
	if narrower <= 0 {
		return 0
	}
	return inter / narrower
}

// classifyDegree maps a pairwise overlap degree and SNR onto the ladder.
func classifyDegree(degree, snr float64) OverlapClass {
	switch {
	case degree < lightOverlapThreshold:
		return SinglePeak
	case degree < mediumOverlapThreshold:
		return LightOverlap
	case degree < extremeOverlapThreshold:
		return MediumOverlap
	case snr < lowSNRThreshold:
		return ExtremeOverlapLowSNR
	default:
		return ExtremeOverlap
	}
}

// PeakGroup is a maximal chain of mutually overlapping candidates that must
// be deconvolved together.
type PeakGroup struct {
	Peaks []*PeakCandidate
	Class OverlapClass

	// MaxDegree is the largest pairwise overlap inside the group.
	MaxDegree float64

	// MinSNR is the weakest member's local signal-to-noise ratio.
	MinSNR float64

	// Escalation is set when the workflow refit the group with the
	// escalation optimizer; it keeps both attempts' summaries.
	Escalation *EscalationRecord
}

// Boundaries returns the union support of the group.
func (g *PeakGroup) Boundaries() Boundaries {
	b := g.Peaks[0].Boundaries
	for _, p := range g.Peaks[1:] {
		b.Left = math.Min(b.Left, p.Boundaries.Left)
		b.Right = math.Max(b.Right, p.Boundaries.Right)
	}
	return b
}

// GroupOverlapping partitions candidates into maximal transitively linked
// groups: two peaks share a group when their overlap degree reaches the
// light threshold, directly or through any chain of other candidates. A wide
// candidate can bridge peaks that sit far apart on the axis, so membership
// is a closure sweep rather than a walk over center-adjacent pairs. Every
// input peak appears in exactly one group.
func GroupOverlapping(c *Curve, peaks []*PeakCandidate) []*PeakGroup {
	if len(peaks) == 0 {
		return nil
	}

	used := make([]bool, len(peaks))
	var groups []*PeakGroup
	for i := range peaks {
		if used[i] {
			continue
		}
		used[i] = true
		members := []int{i}

		// Sweep until no unused candidate links to any member.
		for grew := true; grew; {
			grew = false
			for j := range peaks {
				if used[j] {
					continue
				}
				for _, m := range members {
					if OverlapDegree(peaks[m].Boundaries, peaks[j].Boundaries) >= lightOverlapThreshold {
						used[j] = true
						members = append(members, j)
						grew = true
						break
					}
				}
			}
		}

		sort.Ints(members)
		g := &PeakGroup{Peaks: make([]*PeakCandidate, 0, len(members))}
		for _, m := range members {
			g.Peaks = append(g.Peaks, peaks[m])
		}
		groups = append(groups, g)
	}

	for _, g := range groups {
		g.MinSNR = math.Inf(1)
		for _, p := range g.Peaks {
			g.MinSNR = math.Min(g.MinSNR, p.LocalSNR(c))
		}
		if math.IsInf(g.MinSNR, 1) {
			g.MinSNR = 0
		}
		if len(g.Peaks) == 1 {
			g.Class = SinglePeak
			continue
		}
		for i := 0; i < len(g.Peaks); i++ {
			for j := i + 1; j < len(g.Peaks); j++ {
				d := OverlapDegree(g.Peaks[i].Boundaries, g.Peaks[j].Boundaries)
				if d > g.MaxDegree {
					g.MaxDegree = d
				}
			}
		}
		g.Class = classifyDegree(g.MaxDegree, g.MinSNR)
	}

	return groups
}
