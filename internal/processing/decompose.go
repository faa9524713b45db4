package processing

import (
	"fmt"
	"log"
	"time"

	"github.com/kacperjurak/gopeakcore"
	"github.com/kacperjurak/gopeakcore/pkg/config"
	"github.com/kacperjurak/gopeakcore/pkg/models"
)

// Processor turns raw curve payloads into decompositions.
type Processor struct{}

// NewProcessor creates a new curve processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process validates a curve payload and decomposes it.
func (p *Processor) Process(data models.CurveData, cfg *config.Config) (*gopeakcore.Decomposition, error) {
	if len(data.Coordinates) == 0 {
		return nil, fmt.Errorf("no coordinate data provided")
	}
	if len(data.Intensities) == 0 {
		return nil, fmt.Errorf("no intensity data provided")
	}
	if len(data.Coordinates) != len(data.Intensities) {
		return nil, fmt.Errorf("coordinate and intensity length mismatch: %d vs %d",
			len(data.Coordinates), len(data.Intensities))
	}

	id := data.CurveID
	if id == "" {
		id = "curve"
	}
	curve, err := gopeakcore.NewCurve(id, data.CurveType, data.Coordinates, data.Intensities)
	if err != nil {
		return nil, err
	}

	if !cfg.Quiet {
		log.Printf("Processing curve %s: %d samples, SNR %.1f", curve.ID, len(curve.X), curve.SNR)
	}

	if cfg.Method == "all" {
		return p.runAllMethods(curve, data, cfg)
	}
	return p.runSingleMethod(curve, data, cfg, cfg.Method)
}

func (p *Processor) runSingleMethod(curve *gopeakcore.Curve, data models.CurveData, cfg *config.Config, method string) (*gopeakcore.Decomposition, error) {
	methodCfg := *cfg
	methodCfg.Method = normalizeMethod(method)
	dec := methodCfg.Decomposer()

	startTime := time.Now()
	var (
		result *gopeakcore.Decomposition
		err    error
	)
	if len(data.Peaks) > 0 {
		ext := make([]gopeakcore.ExternalPeak, len(data.Peaks))
		for i, pk := range data.Peaks {
			ext[i] = gopeakcore.ExternalPeak{Center: pk.Center, Amplitude: pk.Amplitude, FWHM: pk.FWHM}
		}
		result, err = dec.RunWithPeaks(curve, ext)
	} else {
		result, err = dec.Run(curve)
	}
	duration := time.Since(startTime)

	if err != nil {
		log.Printf("Decomposition FAILED - Method: %s, Error: %v", method, err)
		return nil, err
	}

	if !cfg.Quiet {
		log.Printf("Method: %s, Peaks=%d (failed %d), Quality=%.3f, Time=%v",
			method, result.Accepted, result.Failed, result.QualityScore, duration)
	}
	return result, nil
}

// runAllMethods compares every optimizer on the same curve and keeps the
// best decomposition by quality score.
func (p *Processor) runAllMethods(curve *gopeakcore.Curve, data models.CurveData, cfg *config.Config) (*gopeakcore.Decomposition, error) {
	methods := []string{"lm", "gd", "nm", "grid", "anneal"}
	var best *gopeakcore.Decomposition
	bestQuality := -1.0

	log.Printf("Running all optimization methods for comparison...")

	for _, method := range methods {
		log.Printf("Testing method: %s", method)
		result, err := p.runSingleMethod(curve, data, cfg, method)
		if err != nil {
			continue
		}
		if result.QualityScore > bestQuality {
			best = result
			bestQuality = result.QualityScore
			log.Printf("New best method: %s with quality: %.3f", method, bestQuality)
		}
	}

	if best == nil {
		log.Printf("All methods failed")
		return nil, fmt.Errorf("all optimization methods failed")
	}

	log.Printf("Best overall result: quality=%.3f", bestQuality)
	return best, nil
}

// normalizeMethod maps CLI and HTTP method aliases onto the core tags.
func normalizeMethod(method string) string {
	switch method {
	case "levenberg-marquardt", "lm", "":
		return string(gopeakcore.MethodLM)
	case "gradient-descent", "gd":
		return string(gopeakcore.MethodGradientDescent)
	case "nelder-mead", "nm":
		return string(gopeakcore.MethodNelderMead)
	case "grid", "grid-search":
		return string(gopeakcore.MethodGrid)
	case "anneal", "annealing", "simulated-annealing":
		return string(gopeakcore.MethodAnnealing)
	default:
		log.Printf("Unknown optimization method '%s', using Levenberg-Marquardt", method)
		return string(gopeakcore.MethodLM)
	}
}

// ProcessorFunc adapts the processor to the worker pool signature.
func (p *Processor) ProcessorFunc() func(data models.CurveData, cfg *config.Config) (*gopeakcore.Decomposition, error) {
	return p.Process
}
