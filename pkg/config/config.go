// Package config loads service settings from the environment, an optional
// YAML file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dasmlab/m2mserve/pkg/translate"
)

// Config holds settings read once at startup.
type Config struct {
	Host        string
	Port        int
	BatchSize   int
	Weights     string
	SaveWeights string
	Device      translate.Device
	Engine      translate.EngineType
	// EngineURL overrides the backend base URL. Empty selects the engine default.
	EngineURL   string
	PythonPath  string
	OpenAIKey   string
	OpenAIModel string
	LogLevel    string
	// GRPCHealthPort serves grpc.health.v1 when non-zero.
	GRPCHealthPort int
}

// Addr returns the HTTP bind address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// key -> environment variable
var envKeys = map[string]string{
	"host":             "APP_HOST",
	"port":             "APP_PORT",
	"batch_size":       "BATCH_SIZE",
	"model_weights":    "MODEL_WEIGHTS",
	"save_weights":     "SAVE_WEIGHTS",
	"device":           "DEVICE",
	"mt_engine":        "MT_ENGINE",
	"mt_url":           "MT_URL",
	"python_path":      "PYTHON_PATH",
	"openai_api_key":   "OPENAI_API_KEY",
	"openai_model":     "OPENAI_MODEL",
	"log_level":        "LOG_LEVEL",
	"grpc_health_port": "GRPC_HEALTH_PORT",
}

// SetDefaults registers default values and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 9527)
	v.SetDefault("batch_size", 2)
	v.SetDefault("model_weights", translate.DefaultWeights)
	v.SetDefault("save_weights", "")
	v.SetDefault("device", string(translate.DeviceAuto))
	v.SetDefault("mt_engine", string(translate.EngineM2M100))
	v.SetDefault("mt_url", "")
	v.SetDefault("python_path", translate.DefaultPythonPath)
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_model", translate.DefaultOpenAIModel)
	v.SetDefault("log_level", "info")
	v.SetDefault("grpc_health_port", 0)

	for key, env := range envKeys {
		v.BindEnv(key, env)
	}
}

// BindFlags binds command-line flags to keys. Flag names use dashes
// (batch-size binds batch_size); flags that are not defined are skipped.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key := range envKeys {
		f := flags.Lookup(flagName(key))
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	}
	return nil
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// Load reads the configuration. cfgFile, when set, names a YAML file whose
// values sit below environment variables and flags.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	engine, err := translate.ParseEngineType(v.GetString("mt_engine"))
	if err != nil {
		return nil, err
	}
	device, err := translate.ParseDevice(v.GetString("device"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Host:           v.GetString("host"),
		Port:           v.GetInt("port"),
		BatchSize:      v.GetInt("batch_size"),
		Weights:        v.GetString("model_weights"),
		SaveWeights:    v.GetString("save_weights"),
		Device:         device,
		Engine:         engine,
		EngineURL:      v.GetString("mt_url"),
		PythonPath:     v.GetString("python_path"),
		OpenAIKey:      v.GetString("openai_api_key"),
		OpenAIModel:    v.GetString("openai_model"),
		LogLevel:       v.GetString("log_level"),
		GRPCHealthPort: v.GetInt("grpc_health_port"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be a positive integer, got %d", c.BatchSize))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT out of range: %d", c.Port))
	}
	if c.GRPCHealthPort < 0 || c.GRPCHealthPort > 65535 {
		errs = append(errs, fmt.Errorf("GRPC_HEALTH_PORT out of range: %d", c.GRPCHealthPort))
	}
	if c.GRPCHealthPort != 0 && c.GRPCHealthPort == c.Port {
		errs = append(errs, errors.New("GRPC_HEALTH_PORT must differ from APP_PORT"))
	}
	if c.Engine == translate.EngineM2M100 && c.Weights == "" {
		errs = append(errs, errors.New("MODEL_WEIGHTS must not be empty"))
	}
	if c.Engine == translate.EngineOpenAI && c.OpenAIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai engine"))
	}
	return errors.Join(errs...)
}
