package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/kacperjurak/gopeakcore"
	"github.com/kacperjurak/gopeakcore/internal/utils"
	"github.com/kacperjurak/gopeakcore/pkg/config"
	"github.com/kacperjurak/gopeakcore/pkg/models"
	"github.com/kacperjurak/gopeakcore/pkg/webhook"
	"github.com/kacperjurak/gopeakcore/pkg/worker"
)

// DecomposeHandler handles single-curve decomposition requests.
type DecomposeHandler struct {
	config     *config.Config
	workerPool *worker.Pool
	processor  ProcessorFunc
}

// ProcessorFunc turns curve data into a decomposition.
type ProcessorFunc func(data models.CurveData, cfg *config.Config) (*gopeakcore.Decomposition, error)

// NewDecomposeHandler creates a new single-curve handler.
func NewDecomposeHandler(cfg *config.Config, pool *worker.Pool, processor ProcessorFunc) *DecomposeHandler {
	return &DecomposeHandler{
		config:     cfg,
		workerPool: pool,
		processor:  processor,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *DecomposeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w)

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != "POST" {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var data models.CurveData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if len(data.Coordinates) == 0 {
		writeError(w, "No data points provided", http.StatusBadRequest)
		return
	}

	requestID := utils.GenerateID()

	go h.processAsync(requestID, data)

	response := map[string]interface{}{
		"success":    true,
		"request_id": requestID,
		"message":    "Decomposition started",
	}

	if !h.config.Quiet {
		log.Printf("HTTP Request received - ID: %s, Data points: %d", requestID, len(data.Coordinates))
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// processAsync runs the decomposition and queues the webhook.
func (h *DecomposeHandler) processAsync(requestID string, data models.CurveData) {
	dec, err := h.processor(data, h.config)
	if err != nil {
		log.Printf("Decomposition failed for request %s: %v", requestID, err)
		return
	}

	h.workerPool.QueueWebhook(webhook.BuildItem(requestID, dec))
}

// setupCORS sets up CORS headers.
func setupCORS(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
