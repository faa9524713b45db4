package webhook

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kacperjurak/gopeakcore/pkg/config"
	"github.com/kacperjurak/gopeakcore/pkg/models"
)

// Client handles webhook HTTP requests with optimized connection pooling.
type Client struct {
	url        string
	httpClient *http.Client
	config     *config.Config
	bufferPool sync.Pool // Pool for JSON marshaling buffers
}

// NewClient creates a new webhook client with optimized connection pooling.
func NewClient(url string, cfg *config.Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: false,
		},

		ResponseHeaderTimeout: 30 * time.Second,

		// Disable compression for better performance on small payloads
		DisableCompression: true,

		// Force HTTP/1.1 for better connection reuse
		ForceAttemptHTTP2: false,
	}

	client := &Client{
		url:    url,
		config: cfg,
		httpClient: &http.Client{
			Timeout:   45 * time.Second,
			Transport: transport,
		},
		// Peak traces make these payloads larger than a typical webhook.
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 8192))
			},
		},
	}

	return client
}

// Send sends a webhook with the provided decomposition data.
func (c *Client) Send(webhook models.WebhookItem) error {
	payload := models.WebhookResponse{
		ID:           webhook.RequestID,
		Time:         time.Now().Format(time.RFC3339Nano),
		CurveID:      webhook.CurveID,
		CurveType:    webhook.CurveType,
		QualityScore: c.sanitizeFloat(webhook.QualityScore),
		Peaks:        sanitizePeaks(webhook.Peaks),
		Coordinates:  webhook.Coordinates,
		Residual:     webhook.Residual,
	}

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	encoder := json.NewEncoder(buf)
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("failed to marshal webhook data: %w", err)
	}

	if !c.config.Quiet {
		log.Printf("DEBUG: Webhook payload - CurveID: %s, Peaks: %d", payload.CurveID, len(payload.Peaks))
	}

	resp, err := c.httpClient.Post(c.url, "application/json", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if !c.config.Quiet {
		log.Printf("Webhook sent - ID: %s, Quality: %.3f, Curve: %s, Status: %d",
			webhook.RequestID, webhook.QualityScore, webhook.CurveID, resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return nil
}

// sanitizePeaks cleans non-finite numbers out of the per-peak entries for
// JSON compatibility.
func sanitizePeaks(peaks []models.PeakPayload) []models.PeakPayload {
	out := make([]models.PeakPayload, len(peaks))
	for i, p := range peaks {
		p.Center = finiteOrZero(p.Center)
		p.Amplitude = finiteOrZero(p.Amplitude)
		p.FWHM = finiteOrZero(p.FWHM)
		p.Area = finiteOrZero(p.Area)
		p.RSquared = finiteOrZero(p.RSquared)
		out[i] = p
	}
	return out
}

// sanitizeFloat cleans float64 values for JSON compatibility.
func (c *Client) sanitizeFloat(value float64) float64 {
	return finiteOrZero(value)
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0
	}
	return v
}
