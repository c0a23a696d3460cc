package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dasmlab/m2mserve/pkg/config"
	"github.com/dasmlab/m2mserve/pkg/predictor"
	"github.com/dasmlab/m2mserve/pkg/server"
	"github.com/dasmlab/m2mserve/pkg/translate"
)

const (
	shutdownTimeout     = 30 * time.Second
	healthWatchInterval = 30 * time.Second
)

// newEngine is swapped out in tests.
var newEngine = translate.NewEngine

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "m2mserve",
		Short: "HTTP translation service backed by a single M2M100 model",
		Long: `m2mserve loads one translation model at startup and serves batched
translation requests over HTTP.

Every flag can also be set with the environment variable shown in its
description. Flags take precedence over the environment, which takes
precedence over the config file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	flags := rootCmd.Flags()
	flags.String("host", "127.0.0.1", "Bind host (APP_HOST)")
	flags.Int("port", 9527, "Bind port (APP_PORT)")
	flags.Int("batch-size", predictor.DefaultBatchSize, "Maximum records per model call (BATCH_SIZE)")
	flags.String("model-weights", translate.DefaultWeights, "Pretrained weights identifier or directory (MODEL_WEIGHTS)")
	flags.String("save-weights", "", "Export the loaded weights to this directory at startup (SAVE_WEIGHTS)")
	flags.String("device", string(translate.DeviceAuto), "Compute device: auto, cpu, cuda (DEVICE)")
	flags.String("mt-engine", string(translate.EngineM2M100), "Translation engine: m2m100, libretranslate, openai (MT_ENGINE)")
	flags.String("mt-url", "", "Base URL override for HTTP translation engines, empty uses the engine default (MT_URL)")
	flags.String("python-path", translate.DefaultPythonPath, "Python interpreter hosting the model (PYTHON_PATH)")
	flags.String("openai-model", translate.DefaultOpenAIModel, "Chat model for the openai engine (OPENAI_MODEL)")
	flags.String("log-level", "info", "Log level: debug, info, warn, error (LOG_LEVEL)")
	flags.Int("grpc-health-port", 0, "Serve grpc.health.v1 on this port, 0 disables (GRPC_HEALTH_PORT)")

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		return run(cfg)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func run(cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)

	logger.WithFields(logrus.Fields{
		"addr":       cfg.Addr(),
		"batch_size": cfg.BatchSize,
		"mt_engine":  cfg.Engine,
		"weights":    cfg.Weights,
		"device":     cfg.Device,
		"log_level":  logger.GetLevel().String(),
	}).Info("Starting M2M translation server")

	metrics := translate.NewMetricsCollector(string(cfg.Engine))
	engine, err := newEngine(translate.Config{
		Engine:     cfg.Engine,
		Weights:    cfg.Weights,
		Device:     cfg.Device,
		PythonPath: cfg.PythonPath,
		BaseURL:    cfg.EngineURL,
		APIKey:     cfg.OpenAIKey,
		Model:      cfg.OpenAIModel,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("create translation engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close translation engine")
		}
	}()

	// Loading happens before the listener opens, so no request can arrive
	// before the model is ready.
	p, err := predictor.New(context.Background(), engine, predictor.Options{
		BatchSize:       cfg.BatchSize,
		SaveWeightsPath: cfg.SaveWeights,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return fmt.Errorf("initialize predictor: %w", err)
	}

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := p.CheckHealth(checkCtx); err != nil {
		logger.WithError(err).Warn("Translation engine health check failed, serving anyway")
	} else {
		logger.Info("Translation engine health check passed")
	}
	checkCancel()

	var (
		healthServer *server.HealthServer
		healthLis    net.Listener
	)
	if cfg.GRPCHealthPort != 0 {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCHealthPort))
		healthLis, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on gRPC health port %s: %w", addr, err)
		}
		healthServer = server.NewHealthServer(logger)
	}

	httpServer := server.NewHTTPServer(p, logger, cfg.Addr())
	errChan := make(chan error, 2)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if healthServer != nil {
		go func() {
			if err := healthServer.Serve(healthLis); err != nil {
				errChan <- fmt.Errorf("grpc health server: %w", err)
			}
		}()
		go healthServer.Watch(watchCtx, p, healthWatchInterval)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case runErr = <-errChan:
		logger.WithError(runErr).Error("Server error")
	case sig := <-sigChan:
		logger.WithFields(logrus.Fields{
			"signal": sig.String(),
		}).Info("Received signal, shutting down gracefully...")
	}

	stopWatch()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if healthServer != nil {
		healthServer.SetServing(false)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown did not complete cleanly")
	}
	if healthServer != nil {
		healthServer.Stop(ctx)
	}
	logger.Info("Server stopped")
	return runErr
}
