package worker

import (
	"log"
	"sync"
	"time"

	"github.com/kacperjurak/gopeakcore"
	"github.com/kacperjurak/gopeakcore/pkg/config"
	"github.com/kacperjurak/gopeakcore/pkg/models"
	"github.com/kacperjurak/gopeakcore/pkg/profiling"
)

// Pool manages concurrent decomposition workers.
type Pool struct {
	jobs         chan models.WorkItem
	results      chan models.WorkResult
	webhookQueue chan models.WebhookItem
	workers      int
	bufferPool   sync.Pool
	shutdown     chan struct{}
	wg           sync.WaitGroup
	processor    ProcessorFunc
	webhookSend  func(models.WebhookItem)
}

// ProcessorFunc turns a work item's curve data into a decomposition.
type ProcessorFunc func(data models.CurveData, cfg *config.Config) (*gopeakcore.Decomposition, error)

// Options holds configuration for creating a new worker pool.
type Options struct {
	Workers   int
	Processor ProcessorFunc

	// WebhookSender delivers queued webhooks; nil means they are logged and
	// dropped.
	WebhookSender func(models.WebhookItem)
}

// New creates a new worker pool with the specified configuration.
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}

	// do not block queueing new jobs, and results even if the workers are already busy jobs/results * 2
	pool := &Pool{
		jobs:         make(chan models.WorkItem, opts.Workers*2),
		results:      make(chan models.WorkResult, opts.Workers*2),
		webhookQueue: make(chan models.WebhookItem, opts.Workers*4), // 4x buffer for async webhooks - possibly slower operation, that's why extended buffer
		workers:      opts.Workers,
		shutdown:     make(chan struct{}),
		processor:    opts.Processor,
		webhookSend:  opts.WebhookSender,
		bufferPool: sync.Pool{
			New: func() interface{} {
				// Typical trace lengths run 100-2000 samples.
				return &models.BufferSet{
					X:        make([]float64, 0, 512),
					Y:        make([]float64, 0, 512),
					Residual: make([]float64, 0, 512),
				}
			},
		},
	}

	pool.start()
	return pool
}

// start initializes and starts all workers.
func (p *Pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.webhookProcessor()

	log.Printf("🔧 Worker pool started with %d workers", p.workers)
}

// worker processes decomposition jobs from the jobs channel.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			result := p.processJob(job)
			p.results <- result

		case <-p.shutdown:
			return
		}
	}
}

// processJob runs one decomposition with buffer reuse.
func (p *Pool) processJob(job models.WorkItem) models.WorkResult {
	buffers := p.bufferPool.Get().(*models.BufferSet)
	defer p.bufferPool.Put(buffers)

	buffers.X = buffers.X[:0]
	buffers.Y = buffers.Y[:0]
	buffers.Residual = buffers.Residual[:0]

	cfg, _ := job.Config.(*config.Config)
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	startTime := time.Now()
	var dec *gopeakcore.Decomposition
	var err error
	if cfg.EnableProfiling {
		profiling.ProfileFunc("decompose "+job.Data.CurveID, func() {
			dec, err = p.processor(job.Data, cfg)
		})
	} else {
		dec, err = p.processor(job.Data, cfg)
	}
	processingTime := time.Since(startTime)

	result := models.WorkResult{
		ID:             job.ID,
		RequestID:      job.RequestID,
		BatchID:        job.BatchID,
		Iteration:      job.Iteration,
		Decomposition:  dec,
		ProcessingTime: processingTime,
		Success:        err == nil && dec != nil,
	}
	if err != nil {
		result.Err = err.Error()
		log.Printf("worker: curve %s failed: %v", job.Data.CurveID, err)
	}
	return result
}

// webhookProcessor handles webhook requests asynchronously.
func (p *Pool) webhookProcessor() {
	defer p.wg.Done()

	for {
		select {
		case webhook := <-p.webhookQueue:
			// Deliver asynchronously without blocking workers.
			go p.sendWebhook(webhook)

		case <-p.shutdown:
			return
		}
	}
}

func (p *Pool) sendWebhook(webhook models.WebhookItem) {
	if p.webhookSend == nil {
		log.Printf("no webhook sender configured, dropping webhook for %s", webhook.RequestID)
		return
	}
	p.webhookSend(webhook)
}

// SubmitJob submits a job to the worker pool.
func (p *Pool) SubmitJob(job models.WorkItem) {
	select {
	case p.jobs <- job:
	default:
		log.Printf("⚠️  Worker pool jobs channel full, job may be delayed")
		p.jobs <- job // Block until space available
	}
}

// GetResult retrieves a result from the worker pool (non-blocking).
func (p *Pool) GetResult() (models.WorkResult, bool) {
	select {
	case result := <-p.results:
		return result, true
	default:
		return models.WorkResult{}, false
	}
}

// QueueWebhook queues a webhook for async processing.
func (p *Pool) QueueWebhook(webhook models.WebhookItem) {
	select {
	case p.webhookQueue <- webhook:
	default:
		log.Printf("⚠️  Webhook queue full, dropping webhook for %s", webhook.RequestID)
	}
}

// Shutdown gracefully shuts down the worker pool.
func (p *Pool) Shutdown() {
	log.Printf("🛑 Shutting down worker pool...")
	close(p.shutdown)
	p.wg.Wait()
	log.Printf("✅ Worker pool shutdown complete")
}
