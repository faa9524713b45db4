package gopeakcore

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/integrate"
)

// Curve is a sampled intensity-vs-coordinate trace (drift time, retention
// time or similar spectral axis). It is immutable once constructed: all
// components borrow it read-only for the whole decomposition run.
type Curve struct {
	ID   string
	Type string

	X []float64
	Y []float64

	XMin, XMax float64
	YMin, YMax float64

	// Derived scalars, computed once at construction.
	MeanIntensity     float64
	IntensityStd      float64
	BaselineIntensity float64
	NoiseLevel        float64
	SNR               float64
	QualityScore      float64
}

// NewCurve builds a curve and its derived scalars. Coordinates must be
// strictly ascending and the same length as the intensities.
func NewCurve(id, curveType string, x, y []float64) (*Curve, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("curve %s: coordinate/intensity length mismatch: %d vs %d", id, len(x), len(y))
	}
	if len(x) < 2 {
		return nil, insufficientData(len(x), 2)
	}
	for i := 1; i < len(x); i++ {
		if x[i] <= x[i-1] {
			return nil, fmt.Errorf("curve %s: coordinates not strictly ascending at index %d", id, i)
		}
	}

	c := &Curve{
		ID:   id,
		Type: curveType,
		X:    x,
		Y:    y,
		XMin: x[0],
		XMax: x[len(x)-1],
	}

	yMin, yMax := math.Inf(1), math.Inf(-1)
	sum := 0.0
	for _, v := range y {
		yMin = math.Min(yMin, v)
		yMax = math.Max(yMax, v)
		sum += v
	}
	c.YMin = yMin
	c.YMax = yMax
	c.MeanIntensity = sum / float64(len(y))

	variance := 0.0
	for _, v := range y {
		variance += (v - c.MeanIntensity) * (v - c.MeanIntensity)
	}
	c.IntensityStd = math.Sqrt(variance / float64(len(y)))

	c.BaselineIntensity = yMin
	c.NoiseLevel = madNoise(y)
	if c.NoiseLevel <= 0 {
		c.NoiseLevel = c.IntensityStd
	}
	if c.NoiseLevel > 0 {
		c.SNR = (yMax - c.BaselineIntensity) / c.NoiseLevel
	}
	c.QualityScore = qualityFromSNR(c.SNR)

	return c, nil
}

// madNoise estimates the noise level as the scaled median absolute deviation
// of point-to-point first differences. Peaks contribute little to successive
// differences, so this tracks the baseline noise even on peaky traces.
func madNoise(y []float64) float64 {
	if len(y) < 3 {
		return 0
	}
	diffs := make([]float64, len(y)-1)
	for i := 1; i < len(y); i++ {
		diffs[i-1] = y[i] - y[i-1]
	}
	med := median(diffs)
	for i, d := range diffs {
		diffs[i] = math.Abs(d - med)
	}
	// 1.4826 converts MAD to a Gaussian-equivalent sigma; sqrt(2) undoes the
	// variance doubling from differencing.
	return median(diffs) * 1.4826 / math.Sqrt2
}

func median(v []float64) float64 {
	s := make([]float64, len(v))
	copy(s, v)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (s[n/2-1] + s[n/2]) / 2
	}
	return s[n/2]
}

func qualityFromSNR(snr float64) float64 {
	// Saturating score: SNR of 50 and above counts as fully clean data.
	return math.Min(snr/50.0, 1.0)
}

// Segment returns the sample range covering [lo, hi]. The returned slices
// alias the curve's arrays and must be treated read-only.
func (c *Curve) Segment(lo, hi float64) (x, y []float64) {
	i := sort.SearchFloat64s(c.X, lo)
	j := sort.SearchFloat64s(c.X, hi)
	if j < len(c.X) && c.X[j] <= hi {
		j++
	}
	if i >= j {
		return nil, nil
	}
	return c.X[i:j], c.Y[i:j]
}

// ClosestIndex returns the index of the sample nearest to target.
func (c *Curve) ClosestIndex(target float64) int {
	i := sort.SearchFloat64s(c.X, target)
	if i == 0 {
		return 0
	}
	if i >= len(c.X) {
		return len(c.X) - 1
	}
	if target-c.X[i-1] <= c.X[i]-target {
		return i - 1
	}
	return i
}

// IntensityAt linearly interpolates the intensity at an arbitrary coordinate.
func (c *Curve) IntensityAt(x float64) float64 {
	if x <= c.XMin {
		return c.Y[0]
	}
	if x >= c.XMax {
		return c.Y[len(c.Y)-1]
	}
	i := sort.SearchFloat64s(c.X, x)
	x1, x2 := c.X[i-1], c.X[i]
	y1, y2 := c.Y[i-1], c.Y[i]
	return y1 + (y2-y1)*(x-x1)/(x2-x1)
}

// Area integrates the full trace with the trapezoid rule.
func (c *Curve) Area() float64 {
	return integrate.Trapezoidal(c.X, c.Y)
}

// SyntheticPeak describes one component of a generated test curve.
type SyntheticPeak struct {
	Center    float64
	Amplitude float64
	FWHM      float64
}

// SyntheticCurve samples a sum of Gaussian components on a uniform grid and
// optionally injects proportional noise from the given source. Used by the
// CLI demo mode and the test suite; a nil rng yields a noise-free trace.
func SyntheticCurve(id string, xMin, xMax, step float64, peaks []SyntheticPeak, noiseLevel float64, rng *rand.Rand) (*Curve, error) {
	if step <= 0 || xMax <= xMin {
		return nil, invalidConfig("synthetic curve: bad range [%g, %g] step %g", xMin, xMax, step)
	}
	n := int((xMax-xMin)/step) + 1
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = xMin + float64(i)*step
		for _, p := range peaks {
			sigma := p.FWHM / fwhmSigmaRatio
			d := x[i] - p.Center
			y[i] += p.Amplitude * math.Exp(-d*d/(2*sigma*sigma))
		}
	}
	if rng != nil && noiseLevel > 0 {
		ref := 0.0
		for _, p := range peaks {
			ref = math.Max(ref, p.Amplitude)
		}
		for i := range y {
			y[i] += (rng.Float64() - 0.5) * 2 * noiseLevel * ref
			if y[i] < 0 {
				y[i] = 0
			}
		}
	}
	return NewCurve(id, "synthetic", x, y)
}
