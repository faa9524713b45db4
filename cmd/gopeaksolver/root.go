package main

import (
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kacperjurak/gopeakcore/pkg/config"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "gopeaksolver",
	Short: "Spectral peak decomposition engine",
	Long: `gopeaksolver decomposes measured intensity curves into individual
peaks: detection, overlap classification, strategy-based deconvolution and
joint nonlinear fitting with quality-gated validation.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default gopeaksolver.yaml)")
	rootCmd.PersistentFlags().String("method", "lm", "optimizer: lm, gd, nm, grid, anneal or all")
	rootCmd.PersistentFlags().Int("max-iterations", 200, "optimizer iteration cap")
	rootCmd.PersistentFlags().Float64("tolerance", 1e-8, "optimizer convergence tolerance")
	rootCmd.PersistentFlags().Float64("min-snr", 3.0, "detection threshold in noise sigmas")
	rootCmd.PersistentFlags().Float64("quality-threshold", 0.9, "minimum accepted R-squared")
	rootCmd.PersistentFlags().Int64("seed", 1, "random seed for stochastic optimizers")
	rootCmd.PersistentFlags().Bool("quiet", false, "quiet mode")

	bind := func(key, flag string) {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			log.Fatalf("flag binding %s: %v", flag, err)
		}
	}
	bind("method", "method")
	bind("max_iterations", "max-iterations")
	bind("tolerance", "tolerance")
	bind("min_snr", "min-snr")
	bind("quality_threshold", "quality-threshold")
	bind("seed", "seed")
	bind("quiet", "quiet")
}

func initConfig() {
	config.BindDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("gopeaksolver")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.gopeaksolver")
	}

	v.SetEnvPrefix("GOPEAKSOLVER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err == nil {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(v)
}
