// Command sillm runs, fine-tunes and quantizes transformer language
// models stored as model directories (config.json, vocab.txt and a
// safetensors or npz weights archive).
package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ivanfioravanti/SiLLM/internal/engine"
	"github.com/ivanfioravanti/SiLLM/internal/logger"
	"github.com/ivanfioravanti/SiLLM/internal/monitoring"
)

var (
	logLevel    string
	logFormat   string
	metricsAddr string
	engineName  string
)

var rootCmd = &cobra.Command{
	Use:           "sillm",
	Short:         "Run, fine-tune and quantize LLMs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Setup(logLevel, logFormat)
		if metricsAddr != "" {
			go serveMetrics(metricsAddr)
		}
	},
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", monitoring.NewHealth())
	logger.Log.Info("serving metrics", "addr", addr+"/metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Log.Error("metrics server stopped", "error", err)
	}
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	pf.StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address, e.g. :9090")
	pf.StringVar(&engineName, "engine", "bigram", "compute engine ("+strings.Join(engine.Names(), ", ")+")")

	rootCmd.AddCommand(generateCmd, trainCmd, quantizeCmd, dequantizeCmd)
	if err := rootCmd.Execute(); err != nil {
		logger.Log.Error(err.Error())
		os.Exit(1)
	}
}
