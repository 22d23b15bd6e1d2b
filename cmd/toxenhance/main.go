// Package main provides the toxenhance command-line tool, which runs the
// voice enhancement engine over WAV recordings and prints its
// configuration and noise templates.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/opd-ai/toxenhance/av/audio/noise"
	"github.com/opd-ai/toxenhance/av/enhance"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// options holds the persistent flags shared by all commands.
type options struct {
	configPath  string
	logLevel    string
	metricsAddr string
	intensity   int
	templates   []string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "toxenhance",
		Short: "Real-time voice enhancement: echo cancellation and noise suppression",
		Long: `toxenhance runs the adaptive voice enhancement engine offline.

It removes stationary background noise, low-frequency hum and acoustic echo
from mono voice recordings with the same pipeline used on live calls.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file (defaults are used when empty)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	flags.IntVar(&opts.intensity, "intensity", enhance.DefaultIntensity, "Enhancement intensity, 0 to 100")
	flags.StringSliceVar(&opts.templates, "templates", nil, "Noise templates to enable (comma separated)")

	root.AddCommand(newProcessCmd(opts), newTemplatesCmd(), newConfigCmd(opts))
	return root
}

// loadConfig reads the configuration file, if any, and applies flag
// overrides.
func (o *options) loadConfig(cmd *cobra.Command) (enhance.Config, error) {
	cfg := enhance.DefaultConfig()
	if o.configPath != "" {
		loaded, err := enhance.LoadConfig(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("intensity") {
		cfg.Intensity = o.intensity
	}
	if cmd.Flags().Changed("templates") {
		cfg.Templates = o.templates
	}
	return cfg, cfg.Validate()
}

// meterProvider returns a Prometheus-backed provider served on
// --metrics-addr, or a no-op provider. The returned function stops the
// server and flushes the provider.
func (o *options) meterProvider() (metric.MeterProvider, func(), error) {
	if o.metricsAddr == "" {
		return noop.NewMeterProvider(), func() {}, nil
	}

	exporter, err := promexporter.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "meterProvider",
				"addr":     o.metricsAddr,
				"error":    err.Error(),
			}).Error("Metrics server failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "meterProvider",
		"addr":     o.metricsAddr,
	}).Info("Serving metrics")

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
	}
	return mp, stop, nil
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the available noise templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := make(map[string]bool)
			for _, name := range noise.DefaultTemplates {
				defaults[name] = true
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDEFAULT\tDESCRIPTION")
			for _, t := range noise.Templates() {
				fmt.Fprintf(w, "%s\t%t\t%s\n", t.Name, defaults[t.Name], t.Description)
			}
			return w.Flush()
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			return enhance.WriteConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "toxenhance: %s\n", strings.TrimSpace(err.Error()))
		cancel()
		os.Exit(1)
	}
}
