package gopeakcore

import (
	"errors"
	"log"
	"math"
	"sync"
	"time"
)

// Decomposer drives a full run: detect candidates, group them by overlap,
// dispatch the strategy for each group, then gate the results on fit
// quality with one escalation retry for groups that miss the gate.
type Decomposer struct {
	Detect DetectOptions
	Fit    FitOptions

	// QualityThreshold is the minimum R-squared a fitted peak needs to be
	// accepted without escalation.
	QualityThreshold float64

	// MinAmplitude rejects fitted peaks whose amplitude falls below this
	// floor. Zero disables the check.
	MinAmplitude float64

	// MaxStandardError rejects fits whose residual standard error exceeds
	// this ceiling. Zero disables the check.
	MaxStandardError float64

	// EscalationMethod reruns a below-threshold group once with a more
	// exploratory optimizer before giving up.
	EscalationMethod OptimizerMethod

	// ParallelGroups resolves groups concurrently. Groups have disjoint
	// supports and own their peaks, so the results are identical either way.
	ParallelGroups bool
}

// NewDecomposer returns a decomposer with the default thresholds.
func NewDecomposer() *Decomposer {
	return &Decomposer{
		Detect:           DefaultDetectOptions(),
		Fit:              DefaultFitOptions(),
		QualityThreshold: 0.9,
		EscalationMethod: MethodAnnealing,
	}
}

// StageTimings records how long each workflow stage took.
type StageTimings struct {
	Detect  time.Duration
	Group   time.Duration
	Resolve time.Duration
}

// EscalationRecord summarizes both fit attempts of an escalated group, so a
// rejected first pass stays auditable next to whatever replaced it.
type EscalationRecord struct {
	Method OptimizerMethod

	// First is the strategy's own attempt, Second the escalated rerun.
	// R-squared values are the group's worst member.
	FirstRSquared    float64
	FirstIterations  int
	SecondRSquared   float64
	SecondIterations int

	// Kept names the surviving attempt, "initial" or "escalated".
	Kept string
}

// Decomposition is the outcome of one run. Peaks holds every detected
// candidate exactly once, fitted or marked failed; nothing is dropped.
type Decomposition struct {
	Curve  *Curve
	Peaks  []*PeakCandidate
	Groups []*PeakGroup

	Accepted int
	Failed   int
	Timings  StageTimings

	// QualityScore is the amplitude-weighted mean of the accepted peaks'
	// quality scores, zero when nothing was accepted.
	QualityScore float64
}

// Run decomposes a curve end to end.
func (d *Decomposer) Run(c *Curve) (*Decomposition, error) {
	start := time.Now()
	peaks, err := DetectPeaks(c, d.Detect)
	if err != nil {
		return nil, err
	}
	detectTime := time.Since(start)

	dec, err := d.process(c, peaks)
	if err != nil {
		return nil, err
	}
	dec.Timings.Detect = detectTime
	return dec, nil
}

// RunWithPeaks decomposes a curve using caller-supplied candidate
// positions instead of detection.
func (d *Decomposer) RunWithPeaks(c *Curve, ext []ExternalPeak) (*Decomposition, error) {
	if len(ext) == 0 {
		return nil, insufficientData(0, 1)
	}
	opts := d.Detect
	if opts.BoundaryFraction <= 0 {
		opts.BoundaryFraction = 0.05
	}
	return d.process(c, CandidatesFromExternal(c, ext, opts))
}

func (d *Decomposer) process(c *Curve, peaks []*PeakCandidate) (*Decomposition, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	groupStart := time.Now()
	groups := GroupOverlapping(c, peaks)
	groupTime := time.Since(groupStart)
	log.Printf("curve %s: %d candidate(s) in %d group(s)", c.ID, len(peaks), len(groups))

	resolveStart := time.Now()
	if d.ParallelGroups && len(groups) > 1 {
		var wg sync.WaitGroup
		for _, g := range groups {
			wg.Add(1)
			go func(g *PeakGroup) {
				defer wg.Done()
				d.processGroup(c, g)
			}(g)
		}
		wg.Wait()
	} else {
		for _, g := range groups {
			d.processGroup(c, g)
		}
	}

	dec := &Decomposition{
		Curve:  c,
		Peaks:  peaks,
		Groups: groups,
		Timings: StageTimings{
			Group:   groupTime,
			Resolve: time.Since(resolveStart),
		},
	}
	d.score(dec)
	return dec, nil
}

func (d *Decomposer) validate() error {
	if d.QualityThreshold < 0 || d.QualityThreshold > 1 {
		return invalidConfig("quality threshold %g outside [0, 1]", d.QualityThreshold)
	}
	if d.MinAmplitude < 0 {
		return invalidConfig("min amplitude %g must not be negative", d.MinAmplitude)
	}
	if d.MaxStandardError < 0 {
		return invalidConfig("max standard error %g must not be negative", d.MaxStandardError)
	}
	if d.Fit.MaxIterations <= 0 {
		return invalidConfig("max iterations %d", d.Fit.MaxIterations)
	}
	if d.Fit.WindowSize < 0 || (d.Fit.WindowSize > 0 && d.Fit.WindowSize%2 == 0) {
		return invalidConfig("fit window size %d must be odd", d.Fit.WindowSize)
	}
	return nil
}

func (d *Decomposer) processGroup(c *Curve, g *PeakGroup) {
	strategy := StrategyFor(g.Class)
	log.Printf("curve %s: %s via %s", c.ID, describeGroup(g), strategy.Name())

	if err := strategy.Apply(c, g, d.Fit); err != nil {
		log.Printf("curve %s: strategy %s failed: %v", c.ID, strategy.Name(), err)
		for _, p := range g.Peaks {
			if !p.Failed {
				p.markFailed(err.Error())
			}
		}
		return
	}

	if d.groupPassesGate(c, g) {
		return
	}

	// One escalation: rerun the joint fit with the exploratory optimizer
	// seeded from the current coefficients, keep whichever result scores
	// better. Both attempts' summaries land on the group.
	log.Printf("curve %s: group below quality gate, escalating to %s", c.ID, d.EscalationMethod)
	saved := make([]*PeakCandidate, len(g.Peaks))
	for i, p := range g.Peaks {
		saved[i] = p.Clone()
	}

	escOpts := d.Fit
	escOpts.Method = d.EscalationMethod
	escOpts.MaxIterations = d.Fit.MaxIterations * 2

	rec := &EscalationRecord{
		Method:          d.EscalationMethod,
		FirstRSquared:   rSquaredOf(saved),
		FirstIterations: iterationsOf(saved),
	}

	err := FitGroup(c, g, escOpts)
	rec.SecondRSquared = groupRSquared(g)
	rec.SecondIterations = iterationsOf(g.Peaks)

	// An iteration-cap failure still carries a usable best point; any other
	// error discards the attempt outright.
	var convErr *ConvergenceError
	usable := err == nil || errors.As(err, &convErr)

	if !usable || rec.SecondRSquared < rec.FirstRSquared {
		for i, p := range saved {
			*g.Peaks[i] = *p
		}
		rec.Kept = "initial"
	} else {
		rec.Kept = "escalated"
		// The escalated fit replaced the members' state, so failures from
		// the first attempt no longer apply; the gate below re-marks any
		// member that still misses a threshold.
		for _, p := range g.Peaks {
			p.Failed = false
			p.FailureReason = ""
		}
	}
	g.Escalation = rec
	log.Printf("curve %s: escalation kept %s attempt (r2 %.4f vs %.4f)",
		c.ID, rec.Kept, rec.FirstRSquared, rec.SecondRSquared)

	if !d.groupPassesGate(c, g) {
		for _, p := range g.Peaks {
			if !p.Failed && !d.peakPassesGate(c, p) {
				p.markFailed("quality below threshold after escalation")
			}
		}
	}
}

// iterationsOf returns the largest recorded iteration count in the set.
func iterationsOf(peaks []*PeakCandidate) int {
	most := 0
	for _, p := range peaks {
		if p.Fit != nil && p.Fit.Iterations > most {
			most = p.Fit.Iterations
		}
	}
	return most
}

func (d *Decomposer) groupPassesGate(c *Curve, g *PeakGroup) bool {
	for _, p := range g.Peaks {
		if p.Failed || !d.peakPassesGate(c, p) {
			return false
		}
	}
	return true
}

func (d *Decomposer) peakPassesGate(c *Curve, p *PeakCandidate) bool {
	if !p.Valid() {
		return false
	}
	if p.Fit == nil || p.Fit.RSquared < d.QualityThreshold {
		return false
	}
	if p.Amplitude < d.MinAmplitude {
		return false
	}
	if d.MaxStandardError > 0 && p.Fit.StandardError > d.MaxStandardError {
		return false
	}
	// A fitted amplitude far above anything the trace shows means the
	// optimizer ran away, regardless of how well the residuals look.
	return p.Amplitude <= 2*(c.YMax-c.BaselineIntensity)
}

func groupRSquared(g *PeakGroup) float64 {
	worst := math.Inf(1)
	for _, p := range g.Peaks {
		if p.Fit == nil {
			return math.Inf(-1)
		}
		worst = math.Min(worst, p.Fit.RSquared)
	}
	return worst
}

func rSquaredOf(peaks []*PeakCandidate) float64 {
	worst := math.Inf(1)
	for _, p := range peaks {
		if p.Fit == nil {
			return math.Inf(-1)
		}
		worst = math.Min(worst, p.Fit.RSquared)
	}
	return worst
}

func (d *Decomposer) score(dec *Decomposition) {
	weightSum, scoreSum := 0.0, 0.0
	for _, p := range dec.Peaks {
		if p.Failed || !p.Valid() {
			dec.Failed++
			continue
		}
		dec.Accepted++
		w := math.Max(p.Amplitude, 1e-12)
		weightSum += w
		scoreSum += w * p.QualityScore()
	}
	if weightSum > 0 {
		dec.QualityScore = scoreSum / weightSum
	}
	log.Printf("curve %s: %d accepted, %d failed, quality %.3f",
		dec.Curve.ID, dec.Accepted, dec.Failed, dec.QualityScore)
}
