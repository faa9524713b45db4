package handlers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/kacperjurak/gopeakcore/internal/utils"
	"github.com/kacperjurak/gopeakcore/pkg/config"
	"github.com/kacperjurak/gopeakcore/pkg/models"
	"github.com/kacperjurak/gopeakcore/pkg/webhook"
	"github.com/kacperjurak/gopeakcore/pkg/worker"
)

// BatchHandler handles batch decomposition requests.
type BatchHandler struct {
	config     *config.Config
	workerPool *worker.Pool
	processor  ProcessorFunc
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(cfg *config.Config, pool *worker.Pool, processor ProcessorFunc) *BatchHandler {
	return &BatchHandler{
		config:     cfg,
		workerPool: pool,
		processor:  processor,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *BatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w)

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != "POST" {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch models.CurveBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if len(batch.Curves) == 0 {
		writeError(w, "No curves provided in batch", http.StatusBadRequest)
		return
	}

	log.Printf("🔄 Batch processing started - ID: %s, Curves: %d", batch.BatchID, len(batch.Curves))

	go h.processBatchAsync(batch)

	response := map[string]interface{}{
		"success":  true,
		"batch_id": batch.BatchID,
		"curves":   len(batch.Curves),
		"message":  "Batch processing started with worker pool",
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// processBatchAsync fans the batch out to the worker pool and collects the
// results.
func (h *BatchHandler) processBatchAsync(batch models.CurveBatch) {
	batchStartTime := time.Now()
	curveTimings := make([]models.CurveTiming, len(batch.Curves))
	resultsReceived := 0

	for _, item := range batch.Curves {
		job := models.WorkItem{
			ID:        item.Iteration,
			RequestID: utils.GenerateID(),
			BatchID:   batch.BatchID,
			Iteration: item.Iteration,
			Data:      item.CurveData,
			Config:    h.config,
			StartTime: time.Now(),
		}
		h.workerPool.SubmitJob(job)
	}

	for resultsReceived < len(batch.Curves) {
		if result, ok := h.workerPool.GetResult(); ok {
			h.processResult(result, curveTimings)
			resultsReceived++
		} else {
			// No results available yet, small delay to prevent busy waiting.
			time.Sleep(1 * time.Millisecond)
		}
	}

	totalBatchTime := time.Since(batchStartTime)
	h.saveTimingResults(batch.BatchID, totalBatchTime, curveTimings, h.getConcurrency())

	log.Printf("🎉 Batch processing completed - ID: %s, Total time: %v", batch.BatchID, totalBatchTime)
}

// processResult records timing and queues the per-curve webhook.
func (h *BatchHandler) processResult(result models.WorkResult, curveTimings []models.CurveTiming) {
	timing := models.CurveTiming{
		Iteration:      result.Iteration,
		ProcessingTime: result.ProcessingTime,
		Success:        result.Success,
	}
	if result.Decomposition != nil {
		timing.QualityScore = result.Decomposition.QualityScore
		timing.PeakCount = result.Decomposition.Accepted
		timing.CurveType = result.Decomposition.Curve.Type
	}
	if result.Iteration >= 0 && result.Iteration < len(curveTimings) {
		curveTimings[result.Iteration] = timing
	}

	if result.Decomposition != nil {
		requestID := fmt.Sprintf("%s_iter_%03d", result.RequestID, result.Iteration)
		h.workerPool.QueueWebhook(webhook.BuildItem(requestID, result.Decomposition))
	}

	if !h.config.Quiet {
		log.Printf("✅ Processed curve iteration %d", result.Iteration)
	}
}

// getConcurrency returns the current concurrency level.
func (h *BatchHandler) getConcurrency() int {
	concurrency := 5
	if h.config != nil && h.config.Workers > 0 {
		concurrency = h.config.Workers
	}
	return concurrency
}

// saveTimingResults appends batch timing data to a CSV file for performance
// analysis.
func (h *BatchHandler) saveTimingResults(batchID string, totalTime time.Duration, curveTimings []models.CurveTiming, concurrency int) {
	filename := "concurrent_timing_results.csv"

	var writeHeader bool
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		writeHeader = true
	}

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("Error opening timing file: %v", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if writeHeader {
		header := []string{
			"Timestamp",
			"BatchID",
			"TotalCurves",
			"Concurrency",
			"TotalBatchTime_ms",
			"AvgCurveTime_ms",
			"MinCurveTime_ms",
			"MaxCurveTime_ms",
			"SuccessRate",
			"AvgQuality",
			"TotalPeaks",
			"CurvesPerSecond",
			"EfficiencyScore",
		}
		if err := writer.Write(header); err != nil {
			log.Printf("Error writing timing header: %v", err)
			return
		}
	}

	var totalCurveTime time.Duration
	var minTime, maxTime time.Duration = time.Hour, 0
	var successful, totalPeaks int
	var totalQuality float64

	for _, timing := range curveTimings {
		totalCurveTime += timing.ProcessingTime
		if timing.ProcessingTime < minTime {
			minTime = timing.ProcessingTime
		}
		if timing.ProcessingTime > maxTime {
			maxTime = timing.ProcessingTime
		}
		if timing.Success {
			successful++
			totalQuality += timing.QualityScore
			totalPeaks += timing.PeakCount
		}
	}

	numCurves := len(curveTimings)
	avgCurveTime := totalCurveTime / time.Duration(numCurves)
	successRate := float64(successful) / float64(numCurves) * 100
	avgQuality := 0.0
	if successful > 0 {
		avgQuality = totalQuality / float64(successful)
	}

	curvesPerSecond := float64(numCurves) / totalTime.Seconds()

	// Efficiency score: how well we utilized the concurrency.
	// Perfect efficiency = 1.0 (linear speedup), poor efficiency < 0.5
	theoreticalTime := avgCurveTime * time.Duration(numCurves)
	efficiencyScore := theoreticalTime.Seconds() / totalTime.Seconds() / float64(concurrency)

	record := []string{
		time.Now().Format(time.RFC3339),
		batchID,
		fmt.Sprintf("%d", numCurves),
		fmt.Sprintf("%d", concurrency),
		fmt.Sprintf("%.2f", float64(totalTime.Nanoseconds())/1000000.0),
		fmt.Sprintf("%.2f", float64(avgCurveTime.Nanoseconds())/1000000.0),
		fmt.Sprintf("%.2f", float64(minTime.Nanoseconds())/1000000.0),
		fmt.Sprintf("%.2f", float64(maxTime.Nanoseconds())/1000000.0),
		fmt.Sprintf("%.1f", successRate),
		fmt.Sprintf("%.3f", avgQuality),
		fmt.Sprintf("%d", totalPeaks),
		fmt.Sprintf("%.2f", curvesPerSecond),
		fmt.Sprintf("%.3f", efficiencyScore),
	}

	if err := writer.Write(record); err != nil {
		log.Printf("Error writing timing record: %v", err)
		return
	}

	log.Printf("📊 Timing saved: %d curves, %d goroutines, %.2f ms total, %.2f%% success, %.3f efficiency",
		numCurves, concurrency, float64(totalTime.Nanoseconds())/1000000.0, successRate, efficiencyScore)
}
