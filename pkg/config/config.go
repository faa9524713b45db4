package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/kacperjurak/gopeakcore"
)

// Config holds the decomposition settings shared by the CLI and the server.
type Config struct {
	// Detection.
	MinSNR           float64 `mapstructure:"min_snr"`
	MinSeparation    float64 `mapstructure:"min_separation"`
	BoundaryFraction float64 `mapstructure:"boundary_fraction"`

	// Fitting.
	Method             string  `mapstructure:"method"`
	MaxIterations      int     `mapstructure:"max_iterations"`
	Tolerance          float64 `mapstructure:"tolerance"`
	Seed               int64   `mapstructure:"seed"`
	FitWindowSize      int     `mapstructure:"fit_window_size"`
	InitialTemperature float64 `mapstructure:"initial_temperature"`
	CoolingRate        float64 `mapstructure:"cooling_rate"`

	// Validation.
	QualityThreshold float64 `mapstructure:"quality_threshold"`
	MinAmplitude     float64 `mapstructure:"min_amplitude"`
	MaxStandardError float64 `mapstructure:"max_standard_error"`
	Escalation       string  `mapstructure:"escalation"`

	// Process.
	Quiet           bool `mapstructure:"quiet"`
	HTTPServer      bool `mapstructure:"http_server"`
	EnableProfiling bool `mapstructure:"enable_profiling"`
	Workers         int  `mapstructure:"workers"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port            string  `mapstructure:"port"`
	WorkerCount     int     `mapstructure:"worker_count"`
	WebhookURL      string  `mapstructure:"webhook_url"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst"`
	EnableMetrics   bool    `mapstructure:"enable_metrics"`
	EnableProfiling bool    `mapstructure:"enable_profiling"`
	ProfilingPort   string  `mapstructure:"profiling_port"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MinSNR:           3.0,
		MinSeparation:    0,
		BoundaryFraction: 0.05,
		Method:             "lm",
		MaxIterations:      200,
		Tolerance:          1e-8,
		Seed:               1,
		FitWindowSize:      0,
		InitialTemperature: 1.0,
		CoolingRate:        0.95,
		QualityThreshold:   0.9,
		MinAmplitude:       0,
		MaxStandardError:   0,
		Escalation:         "anneal",
		Workers:          5,
		HTTPServer:       true,
	}
}

// DefaultServerConfig returns server configuration with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            "8080",
		WorkerCount:     5,
		WebhookURL:      "http://webplot:3001/webhook",
		RateLimit:       20,
		RateBurst:       40,
		EnableMetrics:   true,
		EnableProfiling: false,
		ProfilingPort:   "6060",
	}
}

// BindDefaults registers every key with its default so viper resolves
// config file, environment and flag overrides in the usual order.
func BindDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("min_snr", def.MinSNR)
	v.SetDefault("min_separation", def.MinSeparation)
	v.SetDefault("boundary_fraction", def.BoundaryFraction)
	v.SetDefault("method", def.Method)
	v.SetDefault("max_iterations", def.MaxIterations)
	v.SetDefault("tolerance", def.Tolerance)
	v.SetDefault("seed", def.Seed)
	v.SetDefault("fit_window_size", def.FitWindowSize)
	v.SetDefault("initial_temperature", def.InitialTemperature)
	v.SetDefault("cooling_rate", def.CoolingRate)
	v.SetDefault("quality_threshold", def.QualityThreshold)
	v.SetDefault("min_amplitude", def.MinAmplitude)
	v.SetDefault("max_standard_error", def.MaxStandardError)
	v.SetDefault("escalation", def.Escalation)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("quiet", false)
	v.SetDefault("http_server", def.HTTPServer)
	v.SetDefault("enable_profiling", false)

	srv := DefaultServerConfig()
	v.SetDefault("server.port", srv.Port)
	v.SetDefault("server.worker_count", srv.WorkerCount)
	v.SetDefault("server.webhook_url", srv.WebhookURL)
	v.SetDefault("server.rate_limit", srv.RateLimit)
	v.SetDefault("server.rate_burst", srv.RateBurst)
	v.SetDefault("server.enable_metrics", srv.EnableMetrics)
	v.SetDefault("server.enable_profiling", srv.EnableProfiling)
	v.SetDefault("server.profiling_port", srv.ProfilingPort)
}

// Validate rejects settings the decomposer cannot run with.
func (c *Config) Validate() error {
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality_threshold %g outside [0, 1]", c.QualityThreshold)
	}
	if c.BoundaryFraction <= 0 || c.BoundaryFraction >= 1 {
		return fmt.Errorf("boundary_fraction %g outside (0, 1)", c.BoundaryFraction)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %g", c.Tolerance)
	}
	if c.MinSNR < 0 {
		return fmt.Errorf("min_snr must not be negative, got %g", c.MinSNR)
	}
	if c.FitWindowSize < 0 || (c.FitWindowSize > 0 && c.FitWindowSize%2 == 0) {
		return fmt.Errorf("fit_window_size must be odd, got %d", c.FitWindowSize)
	}
	if c.InitialTemperature <= 0 {
		return fmt.Errorf("initial_temperature must be positive, got %g", c.InitialTemperature)
	}
	if c.CoolingRate <= 0 || c.CoolingRate >= 1 {
		return fmt.Errorf("cooling_rate %g outside (0, 1)", c.CoolingRate)
	}
	if c.MinAmplitude < 0 {
		return fmt.Errorf("min_amplitude must not be negative, got %g", c.MinAmplitude)
	}
	if c.MaxStandardError < 0 {
		return fmt.Errorf("max_standard_error must not be negative, got %g", c.MaxStandardError)
	}
	return nil
}

// Load resolves the decomposition config from viper.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer resolves the server config from the "server" subtree.
func LoadServer(v *viper.Viper) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	sub := v.Sub("server")
	if sub == nil {
		return cfg, nil
	}
	if err := sub.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decomposer builds a core decomposer from the configured settings.
func (c *Config) Decomposer() *gopeakcore.Decomposer {
	d := gopeakcore.NewDecomposer()
	d.Detect.MinSNR = c.MinSNR
	d.Detect.MinSeparation = c.MinSeparation
	d.Detect.BoundaryFraction = c.BoundaryFraction
	d.Fit.Method = gopeakcore.OptimizerMethod(c.Method)
	d.Fit.MaxIterations = c.MaxIterations
	d.Fit.Tolerance = c.Tolerance
	d.Fit.Seed = c.Seed
	d.Fit.WindowSize = c.FitWindowSize
	d.Fit.InitialTemp = c.InitialTemperature
	d.Fit.CoolingRate = c.CoolingRate
	d.QualityThreshold = c.QualityThreshold
	d.MinAmplitude = c.MinAmplitude
	d.MaxStandardError = c.MaxStandardError
	d.EscalationMethod = gopeakcore.OptimizerMethod(c.Escalation)
	return d
}
