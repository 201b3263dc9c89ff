package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/multimodel-ai/intelligent-proxy/internal/config"
	"github.com/multimodel-ai/intelligent-proxy/internal/dispatch"
	"github.com/multimodel-ai/intelligent-proxy/internal/health"
	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/routing"
	"github.com/multimodel-ai/intelligent-proxy/internal/server"
	"github.com/multimodel-ai/intelligent-proxy/internal/telemetry"
	"github.com/multimodel-ai/intelligent-proxy/internal/upstream"
	"github.com/multimodel-ai/intelligent-proxy/internal/upstream/anthropicwire"
	"github.com/multimodel-ai/intelligent-proxy/internal/upstream/openaiwire"
)

// Application wires configuration, routing, dispatch, and the HTTP
// server together.
type Application struct {
	config *config.Config
	server *server.Server
	logger *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	reg, err := cfg.BuildRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}
	logger.WithField("count", reg.Len()).Info("Provider registry built")

	tracker := health.NewTracker(reg, cfg.ToHealthConfig(), logger)

	strategy, err := routing.ParseStrategy(cfg.Routing.Strategy)
	if err != nil {
		return nil, err
	}
	engine, err := routing.NewEngine(reg, tracker, strategy, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create routing engine: %w", err)
	}

	client := upstream.NewMux()
	client.Register(registry.WireAnthropic, anthropicwire.NewClient(logger))
	client.Register(registry.WireOpenAI, openaiwire.NewClient(logger))
	client.Register(registry.WirePassthrough, upstream.NewPassthroughClient(logger))

	loop := dispatch.NewLoop(reg, tracker, client, telemetry.NewLogSink(logger), dispatch.Config{
		FallbackDelay:  cfg.Routing.FallbackDelay,
		AttemptTimeout: cfg.Routing.RequestTimeout,
	}, logger)

	serverInstance, err := server.NewServer(reg, tracker, engine, loop, &server.ServerConfig{
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config: cfg,
		server: serverInstance,
		logger: logger,
	}, nil
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.Info("Starting intelligent proxy")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// Assume it's a file path
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  PROXY_PORT                   Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  PROXY_LOG_LEVEL              Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  PROXY_LOG_FORMAT             Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  ROUTING_STRATEGY             Routing strategy (intelligent,cost,performance,availability)\n")
	fmt.Fprintf(os.Stderr, "  RATE_LIMIT_DETECTION_WINDOW  Rate limit detection window (e.g. 60s)\n")
	fmt.Fprintf(os.Stderr, "  RATE_LIMIT_THRESHOLD         Fraction of a limit that counts as approaching (0-1)\n")
	fmt.Fprintf(os.Stderr, "  FALLBACK_DELAY               Delay before each fallback attempt (e.g. 1s)\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  ROUTING_STRATEGY=cost %s\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("intelligent-proxy v1.0.0\n")
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
