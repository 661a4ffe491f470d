package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/shelfsense/shelf-monitor/config"
	"github.com/shelfsense/shelf-monitor/detections"
	"github.com/shelfsense/shelf-monitor/inference"
	"github.com/shelfsense/shelf-monitor/models"
)

const (
	ReadTimeout     = 60 * time.Second
	WriteTimeout    = 60 * time.Second
	ShutdownTimeout = 10 * time.Second
)

func main() {
	if err := newRootCommand(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "shelfsense",
		Short:        "Retail shelf monitoring backend",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().Int("port", 0, "HTTP listen port")
	rootCmd.PersistentFlags().Float64("confidence", 0, "Default confidence threshold between 0 and 1")

	bindFlag(v, rootCmd, "debug", "debug")
	bindFlag(v, rootCmd, "server.port", "port")
	bindFlag(v, rootCmd, "inference.confidence_default", "confidence")

	load := func() (*config.Settings, error) {
		return config.Load(v, configFile)
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, settings, newLogger(os.Stdout, settings.Debug))
		},
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Analyze a local shelf photo and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, settings.Debug)
			return analyzeFile(cmd.Context(), settings, logger, nil, args[0], cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(serveCmd, analyzeCmd)
	rootCmd.RunE = serveCmd.RunE

	return rootCmd
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// newAppState wires every component from settings. The registry receives
// all service metrics.
func newAppState(settings *config.Settings, logger *slog.Logger, registry *prometheus.Registry, detector Detector) (*AppState, error) {
	policy, err := detections.ParseSeverityPolicy(settings.Report.SeverityPolicy)
	if err != nil {
		return nil, err
	}

	pool := NewUpstreamPool(settings.Inference.MaxConcurrent, settings.Inference.AcquireTimeout())

	metrics, err := NewMetrics(registry, pool)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if detector == nil {
		detector = inference.NewClient(settings.ClientOptions())
	}

	analyzer := NewAnalyzer(
		detector,
		detections.NewReportBuilder(settings.Report.AbsenceKeywords, policy),
		pool,
		metrics,
		logger,
		AnalyzerConfig{
			Model:             settings.Inference.ModelEndpoint,
			ConfidenceDefault: settings.Inference.ConfidenceDefault,
			VerifyImage:       settings.Report.VerifyImage,
		},
	)

	return &AppState{
		Settings: settings,
		Analyzer: analyzer,
		Pool:     pool,
		Metrics:  metrics,
		Logger:   logger,
	}, nil
}

func runServer(ctx context.Context, settings *config.Settings, logger *slog.Logger) error {
	state, err := newAppState(settings, logger, prometheus.NewRegistry(), nil)
	if err != nil {
		return err
	}
	defer state.Pool.Close()

	if settings.Inference.APIKey == "" {
		logger.Warn("inference API key not configured; /analyze-image will fail until ROBOFLOW_API_KEY is set")
	}

	writeTimeout := WriteTimeout
	if t := settings.Inference.Timeout() + 10*time.Second; t > writeTimeout {
		writeTimeout = t
	}

	srv := &http.Server{
		Handler:      newRouter(state.routes(), logger),
		Addr:         settings.Server.Addr(),
		ReadTimeout:  ReadTimeout,
		WriteTimeout: writeTimeout,
	}

	logger.Info("starting server",
		"addr", srv.Addr,
		"model", settings.Inference.ModelEndpoint,
		"severity_policy", settings.Report.SeverityPolicy,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// analyzeFile runs the pipeline on a local image. A nil detector uses the
// configured inference client.
func analyzeFile(ctx context.Context, settings *config.Settings, logger *slog.Logger, detector Detector, path string, out io.Writer) error {
	state, err := newAppState(settings, logger, prometheus.NewRegistry(), detector)
	if err != nil {
		return err
	}
	defer state.Pool.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	timings := &models.ProcessingTimings{RequestID: "cli"}
	report, err := state.Analyzer.Analyze(ctx, Upload{
		Data:        data,
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
	}, timings)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
