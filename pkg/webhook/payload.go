package webhook

import (
	"github.com/kacperjurak/gopeakcore"
	"github.com/kacperjurak/gopeakcore/pkg/models"
)

// BuildItem flattens a decomposition into a webhook work item: one payload
// entry per peak plus the whole-curve residual against the summed model.
func BuildItem(requestID string, dec *gopeakcore.Decomposition) models.WebhookItem {
	item := models.WebhookItem{
		RequestID:    requestID,
		CurveID:      dec.Curve.ID,
		CurveType:    dec.Curve.Type,
		QualityScore: dec.QualityScore,
		Coordinates:  dec.Curve.X,
		Peaks:        make([]models.PeakPayload, 0, len(dec.Peaks)),
	}

	for _, p := range dec.Peaks {
		payload := models.PeakPayload{
			ID:            p.ID,
			Shape:         p.Shape.String(),
			Center:        p.Center,
			Amplitude:     p.Amplitude,
			FWHM:          p.FWHM,
			Area:          p.Area,
			Strategy:      p.AppliedStrategy,
			Failed:        p.Failed,
			FailureReason: p.FailureReason,
		}
		if p.Fit != nil {
			payload.RSquared = p.Fit.RSquared
		}
		if !p.Failed {
			payload.Trace = renderTrace(dec.Curve, p)
		}
		item.Peaks = append(item.Peaks, payload)
	}

	item.Residual = renderResidual(dec)
	return item
}

// renderTrace samples one fitted peak model on the curve's grid so
// downstream plotting does not need the model code.
func renderTrace(c *gopeakcore.Curve, p *gopeakcore.PeakCandidate) []float64 {
	if len(p.Params) == 0 {
		return nil
	}
	shape := gopeakcore.ShapeOf(p.Shape)
	trace := make([]float64, len(c.X))
	for i, x := range c.X {
		trace[i] = shape.Value(x, p.Params)
	}
	return trace
}

// renderResidual is the measured trace minus the sum of all accepted peak
// models.
func renderResidual(dec *gopeakcore.Decomposition) []float64 {
	residual := make([]float64, len(dec.Curve.X))
	copy(residual, dec.Curve.Y)
	for _, p := range dec.Peaks {
		if p.Failed || len(p.Params) == 0 {
			continue
		}
		shape := gopeakcore.ShapeOf(p.Shape)
		for i, x := range dec.Curve.X {
			residual[i] -= shape.Value(x, p.Params)
		}
	}
	return residual
}
