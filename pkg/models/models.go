package models

import (
	"time"

	"github.com/kacperjurak/gopeakcore"
)

// CurveData represents an incoming curve to decompose.
type CurveData struct {
	CurveID     string    `json:"curve_id"`
	CurveType   string    `json:"curve_type"`
	Timestamp   string    `json:"timestamp"`
	Coordinates []float64 `json:"coordinates"`
	Intensities []float64 `json:"intensities"`

	// Optional upstream peak positions; when present, detection is skipped.
	Peaks []ExternalPeakData `json:"peaks,omitempty"`
}

// ExternalPeakData is an upstream candidate position in the request payload.
type ExternalPeakData struct {
	Center    float64 `json:"center"`
	Amplitude float64 `json:"amplitude,omitempty"`
	FWHM      float64 `json:"fwhm,omitempty"`
}

// BatchItem represents a single curve with its iteration number.
type BatchItem struct {
	CurveData CurveData `json:"curve_data"`
	Iteration int       `json:"iteration"`
}

// CurveBatch represents a batch of curves.
type CurveBatch struct {
	BatchID   string      `json:"batch_id"`
	Timestamp time.Time   `json:"timestamp"`
	Curves    []BatchItem `json:"curves"`
}

// WorkItem represents a single decomposition task.
type WorkItem struct {
	ID        int
	RequestID string
	BatchID   string
	Iteration int
	Data      CurveData
	Config    interface{}
	StartTime time.Time
}

// WorkResult contains the result of one decomposition.
type WorkResult struct {
	ID             int
	RequestID      string
	BatchID        string
	Iteration      int
	Decomposition  *gopeakcore.Decomposition
	ProcessingTime time.Duration
	Success        bool
	Err            string
}

// WebhookItem represents a webhook task.
type WebhookItem struct {
	RequestID    string
	CurveID      string
	CurveType    string
	QualityScore float64
	Peaks        []PeakPayload
	Residual     []float64
	Coordinates  []float64
}

// PeakPayload is the per-peak portion of the webhook body.
type PeakPayload struct {
	ID            string    `json:"id"`
	Shape         string    `json:"shape"`
	Center        float64   `json:"center"`
	Amplitude     float64   `json:"amplitude"`
	FWHM          float64   `json:"fwhm"`
	Area          float64   `json:"area"`
	RSquared      float64   `json:"r_squared"`
	Strategy      string    `json:"strategy"`
	Failed        bool      `json:"failed"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Trace         []float64 `json:"trace,omitempty"`
}

// WebhookResponse represents the webhook payload structure.
type WebhookResponse struct {
	ID           string        `json:"id"`
	Time         string        `json:"time"`
	CurveID      string        `json:"curve_id"`
	CurveType    string        `json:"curve_type"`
	QualityScore float64       `json:"quality_score"`
	Peaks        []PeakPayload `json:"peaks"`
	Coordinates  []float64     `json:"coordinates,omitempty"`
	Residual     []float64     `json:"residual,omitempty"`
}

// CurveTiming tracks performance metrics for individual curve processing.
type CurveTiming struct {
	Iteration      int           `json:"iteration"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
	QualityScore   float64       `json:"quality_score"`
	PeakCount      int           `json:"peak_count"`
	Success        bool          `json:"success"`
	CurveType      string        `json:"curve_type"`
}

// BufferSet contains reusable buffers to reduce allocations.
type BufferSet struct {
	X        []float64
	Y        []float64
	Residual []float64
}
