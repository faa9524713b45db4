package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kacperjurak/gopeakcore/internal/processing"
	"github.com/kacperjurak/gopeakcore/pkg/config"
	"github.com/kacperjurak/gopeakcore/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the decomposition HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		serverCfg, err := config.LoadServer(v)
		if err != nil {
			return err
		}

		processor := processing.NewProcessor()
		srv := server.New(server.Options{
			Config:       cfg,
			ServerConfig: serverCfg,
			Processor:    processor.ProcessorFunc(),
		})

		go func() {
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan
			if err := srv.Shutdown(); err != nil {
				log.Printf("shutdown error: %v", err)
			}
			os.Exit(0)
		}()

		return srv.Start()
	},
}

func init() {
	defaults := config.DefaultServerConfig()
	serveCmd.Flags().String("port", defaults.Port, "HTTP listen port")
	serveCmd.Flags().Int("workers", defaults.WorkerCount, "worker pool size")
	serveCmd.Flags().String("webhook-url", defaults.WebhookURL, "result webhook destination")
	for key, flag := range map[string]string{
		"server.port":         "port",
		"server.worker_count": "workers",
		"server.webhook_url":  "webhook-url",
	} {
		if err := v.BindPFlag(key, serveCmd.Flags().Lookup(flag)); err != nil {
			log.Fatalf("flag binding %s: %v", flag, err)
		}
	}

	rootCmd.AddCommand(serveCmd)
}
