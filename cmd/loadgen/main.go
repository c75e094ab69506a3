package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/flux-loadgen/internal/audio"
	"github.com/skypro1111/flux-loadgen/internal/config"
	"github.com/skypro1111/flux-loadgen/internal/fanout"
	"github.com/skypro1111/flux-loadgen/internal/harness"
	"github.com/skypro1111/flux-loadgen/internal/metrics"
	"github.com/skypro1111/flux-loadgen/internal/report"
	"github.com/skypro1111/flux-loadgen/internal/server"
	"github.com/skypro1111/flux-loadgen/internal/session"
	"github.com/skypro1111/flux-loadgen/internal/source"
	"github.com/skypro1111/flux-loadgen/internal/stats"
	"github.com/skypro1111/flux-loadgen/internal/worker"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "flux-loadgen"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	filePath := flag.String("file", "", "WAV file to replay; reads raw PCM from stdin when omitted")
	fast := flag.Bool("fast", false, "Replay the file without real-time pacing")
	workers := flag.Int("workers", 0, "Number of simulated connections (overrides config)")
	endpoint := flag.String("endpoint", "", "Service endpoint (overrides config)")
	inactivityTimeout := flag.Int("inactivity-timeout", 0, "Inactivity timeout in ms (overrides config)")
	sampleRate := flag.Int("sample-rate", 0, "Audio sample rate in Hz (overrides config)")
	encoding := flag.String("encoding", "", "Audio encoding (overrides config)")
	verbose := flag.Bool("verbose", false, "Log transcripts as they arrive")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Apply flag overrides
	if *workers > 0 {
		cfg.Harness.Workers = *workers
	}
	if *endpoint != "" {
		cfg.Service.Endpoint = *endpoint
	}
	if *inactivityTimeout > 0 {
		cfg.Harness.InactivityTimeoutMs = *inactivityTimeout
	}
	if *sampleRate > 0 {
		cfg.Service.SampleRate = *sampleRate
	}
	if *encoding != "" {
		cfg.Service.Encoding = *encoding
	}
	if *verbose {
		cfg.Harness.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	apiKey := cfg.Service.ResolveAPIKey()
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "No API key: set service.api_key or DEEPGRAM_API_KEY")
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Load generator starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("endpoint", cfg.Service.Endpoint),
		slog.String("model", cfg.Service.Model),
		slog.Int("workers", cfg.Harness.Workers),
		slog.Int("sample_rate", cfg.Service.SampleRate),
		slog.String("encoding", cfg.Service.Encoding),
		slog.Duration("inactivity_timeout", cfg.Harness.GetInactivityTimeout()),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	// Build the audio source
	src, err := buildSource(cfg, *filePath, *fast, logger)
	if err != nil {
		logger.Error("Failed to open audio source", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer src.Close()

	// Fanout channel, stats table, and harness
	fan := fanout.NewChannel(cfg.Harness.FanoutBuffer)
	table := stats.NewTable()
	runner := harness.New(fan, harness.Options{
		DrainTimeout: cfg.Harness.GetInactivityTimeout(),
		JoinDeadline: cfg.Harness.GetJoinDeadline(),
		Logger:       logger,
		OnWorkerDone: appMetrics.RecordWorkerFinished,
	})
	logger.Info("Run starting", slog.String("run_id", runner.RunID()))

	// Start HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, table, runner, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Spawn one worker per simulated connection
	sessionCfg := session.Config{
		Endpoint:   cfg.Service.Endpoint,
		APIKey:     apiKey,
		Model:      cfg.Service.Model,
		Encoding:   cfg.Service.Encoding,
		SampleRate: cfg.Service.SampleRate,
		Channels:   cfg.Service.Channels,
	}
	for id := 1; id <= cfg.Harness.Workers; id++ {
		dial := func(ctx context.Context) (worker.Conn, error) {
			s, err := session.Dial(ctx, sessionCfg)
			if err != nil {
				appMetrics.RecordConnectFailure()
				return nil, err
			}
			return s, nil
		}
		w := worker.New(id, dial, fan.Subscribe(), table.GetOrCreate(id), worker.Options{
			InactivityTimeout: cfg.Harness.GetInactivityTimeout(),
			Verbose:           cfg.Harness.Verbose,
			Logger:            logger,
		})
		appMetrics.RecordWorkerSpawned()
		runner.Spawn(ctx, w)
	}

	// Periodic stats reporting
	reportCtx, stopReport := context.WithCancel(context.Background())
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		reporter := report.New(table, os.Stdout, cfg.Harness.GetReportInterval(), appMetrics)
		reporter.Run(reportCtx)
	}()

	// Pump audio into the fanout until the source runs dry
	pumpDone := make(chan error, 1)
	go func() {
		frames, bytes, err := source.Pump(ctx, meteredSource{src, appMetrics}, fan)
		logger.Info("Audio source finished",
			slog.Int("frames", frames),
			slog.Int64("bytes", bytes),
		)
		pumpDone <- err
	}()

	// Wait for the source to end or an interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cause := harness.CauseSourceExhausted
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cause = harness.CauseInterrupt
		cancel()
		select {
		case <-pumpDone:
		case <-time.After(time.Second):
			logger.Warn("Audio source did not stop in time, proceeding with shutdown")
		}
	case err := <-pumpDone:
		if err != nil {
			logger.Error("Audio source failed", slog.String("error", err.Error()))
		}
	}

	// Drain workers; a stuck connection terminates the process instead of
	// hanging the run
	runner.TriggerAndJoin(cause)

	// Final stats table
	stopReport()
	<-reportDone

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	total := table.Totals()
	logger.Info("Run finished",
		slog.String("run_id", runner.RunID()),
		slog.Uint64("bytes_sent", total.BytesSent),
		slog.Uint64("bytes_received", total.BytesReceived),
		slog.Uint64("frames_dropped", total.FramesDropped),
		slog.Int("worker_errors", len(runner.Errors())),
	)

	if len(runner.Errors()) > 0 {
		os.Exit(1)
	}
}

// loadConfig falls back to defaults when the default config file is absent,
// so the binary works with flags alone.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// buildSource opens the WAV file, or wraps stdin for live raw PCM input.
func buildSource(cfg *config.Config, filePath string, fast bool, logger *slog.Logger) (source.Source, error) {
	if filePath == "" {
		logger.Info("No file given, streaming raw PCM from stdin",
			slog.Int("sample_rate", cfg.Service.SampleRate),
			slog.Int("channels", cfg.Service.Channels),
		)
		chunkSize := audio.ChunkSize(cfg.Service.SampleRate, cfg.Service.Channels, cfg.Audio.GetChunkDuration())
		return source.NewReaderSource(os.Stdin, chunkSize), nil
	}

	src, err := source.NewFileSource(filePath, cfg.Audio.GetChunkDuration(), fast)
	if err != nil {
		return nil, err
	}

	info := src.Info()
	logger.Info("Loaded audio file",
		slog.String("path", filePath),
		slog.Int("sample_rate", info.SampleRate),
		slog.Int("channels", info.Channels),
		slog.Float64("duration_seconds", info.Duration),
		slog.Bool("fast", fast),
	)

	// The service URL must describe what is actually sent.
	cfg.Service.SampleRate = info.SampleRate
	cfg.Service.Channels = info.Channels

	return src, nil
}

// meteredSource counts frames as they leave the source for the fanout.
type meteredSource struct {
	source.Source
	m *metrics.Metrics
}

func (s meteredSource) Next(ctx context.Context) ([]byte, error) {
	chunk, err := s.Source.Next(ctx)
	if err == nil {
		s.m.RecordFramePublished(len(chunk))
	}
	return chunk, err
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.Logging) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// The stats table owns stdout, so logs default to stderr.
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
