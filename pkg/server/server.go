package server

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kacperjurak/gopeakcore"
	"github.com/kacperjurak/gopeakcore/pkg/config"
	"github.com/kacperjurak/gopeakcore/pkg/handlers"
	"github.com/kacperjurak/gopeakcore/pkg/models"
	"github.com/kacperjurak/gopeakcore/pkg/profiling"
	"github.com/kacperjurak/gopeakcore/pkg/webhook"
	"github.com/kacperjurak/gopeakcore/pkg/worker"
)

// Server represents the HTTP server with all dependencies.
type Server struct {
	config        *config.Config
	serverConfig  *config.ServerConfig
	workerPool    *worker.Pool
	webhookClient *webhook.Client
	httpServer    *http.Server
	profiler      *profiling.Profiler
	memProfiler   *profiling.MemoryProfiler
	middleware    *profiling.Middleware
	limiter       *rate.Limiter
}

// ProcessorFunc turns curve data into a decomposition.
type ProcessorFunc func(data models.CurveData, cfg *config.Config) (*gopeakcore.Decomposition, error)

// Options holds configuration for creating a new server.
type Options struct {
	Config       *config.Config
	ServerConfig *config.ServerConfig
	Processor    ProcessorFunc
}

// New creates a new server instance.
func New(opts Options) *Server {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.ServerConfig == nil {
		opts.ServerConfig = config.DefaultServerConfig()
	}

	webhookClient := webhook.NewClient(opts.ServerConfig.WebhookURL, opts.Config)

	workerPool := worker.New(worker.Options{
		Workers:   opts.ServerConfig.WorkerCount,
		Processor: worker.ProcessorFunc(opts.Processor),
		WebhookSender: func(item models.WebhookItem) {
			if err := webhookClient.Send(item); err != nil {
				log.Printf("webhook delivery failed for %s: %v", item.RequestID, err)
			}
		},
	})

	profiler := profiling.New(opts.ServerConfig)
	middleware := profiling.NewMiddleware(opts.ServerConfig.EnableProfiling)

	var memProfiler *profiling.MemoryProfiler
	if opts.ServerConfig.EnableProfiling {
		memProfiler = profiling.NewMemoryProfiler(30 * time.Second)
	}

	limit := rate.Limit(opts.ServerConfig.RateLimit)
	if opts.ServerConfig.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := opts.ServerConfig.RateBurst
	if burst <= 0 {
		burst = 1
	}

	server := &Server{
		config:        opts.Config,
		serverConfig:  opts.ServerConfig,
		workerPool:    workerPool,
		webhookClient: webhookClient,
		profiler:      profiler,
		memProfiler:   memProfiler,
		middleware:    middleware,
		limiter:       rate.NewLimiter(limit, burst),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures HTTP routes and handlers.
func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	decomposeHandler := handlers.NewDecomposeHandler(s.config, s.workerPool, handlers.ProcessorFunc(s.processor()))
	batchHandler := handlers.NewBatchHandler(s.config, s.workerPool, handlers.ProcessorFunc(s.processor()))

	mux.Handle("/curves", s.rateLimited(s.middleware.ProfiledHandler("curve-single", decomposeHandler)))
	mux.Handle("/curves/batch", s.rateLimited(s.middleware.ProfiledHandler("curve-batch", batchHandler)))
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/debug/gc", s.gcHandler)
	mux.HandleFunc("/debug/memory", s.memoryHandler)

	s.httpServer = &http.Server{
		Addr:         ":" + s.serverConfig.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) processor() ProcessorFunc {
	return func(data models.CurveData, cfg *config.Config) (*gopeakcore.Decomposition, error) {
		return s.processCurve(data, cfg)
	}
}

// processCurve is the server-side entry into the decomposition core.
func (s *Server) processCurve(data models.CurveData, cfg *config.Config) (*gopeakcore.Decomposition, error) {
	curve, err := gopeakcore.NewCurve(orDefault(data.CurveID, "curve"), data.CurveType, data.Coordinates, data.Intensities)
	if err != nil {
		return nil, err
	}

	dec := cfg.Decomposer()

	startTime := time.Now()
	var result *gopeakcore.Decomposition
	if len(data.Peaks) > 0 {
		ext := make([]gopeakcore.ExternalPeak, len(data.Peaks))
		for i, p := range data.Peaks {
			ext[i] = gopeakcore.ExternalPeak{Center: p.Center, Amplitude: p.Amplitude, FWHM: p.FWHM}
		}
		result, err = dec.RunWithPeaks(curve, ext)
	} else {
		result, err = dec.Run(curve)
	}
	duration := time.Since(startTime)

	if err != nil {
		log.Printf("Decomposition FAILED - Curve: %s, Error: %v", curve.ID, err)
		return nil, err
	}

	if !cfg.Quiet {
		log.Printf("Curve: %s, Peaks=%d (failed %d), Quality=%.3f", curve.ID, result.Accepted, result.Failed, result.QualityScore)
	}
	log.Printf("Processing time: %v", duration)
	return result, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// rateLimited rejects requests above the configured request rate.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limit exceeded"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthHandler provides a simple health check endpoint.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// gcHandler triggers garbage collection and returns stats.
func (s *Server) gcHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	profiling.ForceGC()
	stats := profiling.GetGCStats()

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"gc_runs": %d,
		"pause_total_ms": %.3f,
		"pause_recent_us": %.3f,
		"cpu_percent": %.2f,
		"last_gc": "%s",
		"timestamp": "%s"
	}`,
		stats.NumGC,
		float64(stats.PauseTotal.Nanoseconds())/1000000.0,
		float64(stats.PauseRecent.Nanoseconds())/1000.0,
		stats.GCCPUPercent,
		stats.LastGC.Format(time.RFC3339),
		time.Now().Format(time.RFC3339))
}

// memoryHandler provides current memory statistics.
func (s *Server) memoryHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	profiling.LogGCStats()

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"message":"Memory stats logged to console","timestamp":"%s"}`,
		time.Now().Format(time.RFC3339))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if err := s.profiler.Start(); err != nil {
		log.Printf("❌ Failed to start profiler: %v", err)
	}
	if s.memProfiler != nil {
		s.memProfiler.Start()
	}

	log.Println("🚀 Starting HTTP server on port", s.serverConfig.Port)
	log.Println("📡 Endpoints available:")
	log.Printf("  - Single: http://localhost:%s/curves", s.serverConfig.Port)
	log.Printf("  - Batch:  http://localhost:%s/curves/batch", s.serverConfig.Port)
	log.Printf("  - Health: http://localhost:%s/health", s.serverConfig.Port)
	log.Printf("  - GC:     http://localhost:%s/debug/gc", s.serverConfig.Port)
	log.Printf("  - Memory: http://localhost:%s/debug/memory", s.serverConfig.Port)

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	log.Println("🛑 Shutting down server...")

	if err := s.profiler.Stop(); err != nil {
		log.Printf("⚠️ Profiler shutdown error: %v", err)
	}
	if s.memProfiler != nil {
		s.memProfiler.Stop()
	}

	s.workerPool.Shutdown()

	log.Println("✅ Server shutdown complete")
	return nil
}
