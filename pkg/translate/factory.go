package translate

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// EngineType represents the type of translation engine to use.
type EngineType string

const (
	// EngineM2M100 runs a Hugging Face M2M100 model in a Python subprocess.
	EngineM2M100 EngineType = "m2m100"
	// EngineLibreTranslate uses a LibreTranslate server as the backend.
	EngineLibreTranslate EngineType = "libretranslate"
	// EngineOpenAI uses an OpenAI-compatible chat completion API.
	EngineOpenAI EngineType = "openai"
)

const (
	// DefaultWeights is the pretrained weights identifier loaded by the M2M100 engine.
	DefaultWeights = "facebook/m2m100_418M"
	// DefaultPythonPath is the interpreter used to host the M2M100 worker.
	DefaultPythonPath = "python3"
	// DefaultOpenAIModel is the chat model used by the OpenAI engine.
	DefaultOpenAIModel = "gpt-4o-mini"
)

// Device selects where the M2M100 model runs.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// Config holds configuration for creating an Engine instance.
type Config struct {
	// Engine specifies which translation engine to use.
	Engine EngineType
	// Weights is the pretrained weights identifier or local directory (m2m100).
	Weights string
	// Device selects the compute device (m2m100). Defaults to auto.
	Device Device
	// PythonPath is the interpreter hosting the model worker (m2m100).
	PythonPath string
	// ScriptPath overrides the embedded worker script (m2m100).
	ScriptPath string
	// BaseURL is the base URL of an HTTP backend (libretranslate, openai).
	BaseURL string
	// APIKey authenticates against an HTTP backend (libretranslate, openai).
	APIKey string
	// Model is the chat model name (openai).
	Model string
	// Logger is the logger instance to use. If nil, a default logger is created.
	Logger *logrus.Logger
	// Metrics records engine call metrics. If nil, one is created for the engine.
	Metrics *MetricsCollector
}

// NewEngine creates a new Engine instance based on the configuration.
// Engines that implement Loader are returned unloaded.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Engine == "" {
		cfg.Engine = EngineM2M100
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsCollector(string(cfg.Engine))
	}

	cfg.Logger.WithFields(logrus.Fields{
		"engine":   cfg.Engine,
		"base_url": cfg.BaseURL,
		"weights":  cfg.Weights,
		"device":   cfg.Device,
	}).Info("Creating translation engine")

	switch cfg.Engine {
	case EngineM2M100:
		return NewM2MEngine(cfg)
	case EngineLibreTranslate:
		return NewLibreTranslateClient(cfg.BaseURL, cfg.APIKey, cfg.Logger, cfg.Metrics), nil
	case EngineOpenAI:
		return NewOpenAIEngine(cfg)
	default:
		cfg.Logger.WithFields(logrus.Fields{
			"engine": cfg.Engine,
		}).Error("Unknown translation engine")
		return nil, fmt.Errorf("unknown translation engine: %s", cfg.Engine)
	}
}

// ParseEngineType parses a string into an EngineType.
func ParseEngineType(s string) (EngineType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m2m100", "m2m", "":
		return EngineM2M100, nil
	case "libretranslate":
		return EngineLibreTranslate, nil
	case "openai":
		return EngineOpenAI, nil
	default:
		return "", fmt.Errorf("unknown engine type: %s (supported: m2m100, libretranslate, openai)", s)
	}
}

// ParseDevice parses a device name. An empty string selects DeviceAuto.
func ParseDevice(s string) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeviceAuto:
		return DeviceAuto, nil
	case DeviceCPU:
		return DeviceCPU, nil
	case DeviceCUDA:
		return DeviceCUDA, nil
	default:
		return "", fmt.Errorf("unknown device: %s (supported: auto, cpu, cuda)", s)
	}
}
