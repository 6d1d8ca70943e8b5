package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/octofang/internal/severity"
)

// configName is the config file name without extension.
const configName = ".octofang"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for octofang settings.
const envPrefix = "OCTOFANG"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("redis.addr", DefaultRedisAddr)
	viperCfg.SetDefault("redis.db", 0)

	viperCfg.SetDefault("github.base_url", DefaultGitHubBaseURL)

	weights := severity.DefaultWeights()
	viperCfg.SetDefault("detection.weights.behavioral", weights.Behavioral)
	viperCfg.SetDefault("detection.weights.content", weights.Content)
	viperCfg.SetDefault("detection.weights.temporal", weights.Temporal)
	viperCfg.SetDefault("detection.weights.repository", weights.Repository)

	viperCfg.SetDefault("stream.batch_size", DefaultStreamBatchSize)
	viperCfg.SetDefault("stream.deadline", DefaultStreamDeadline)
	viperCfg.SetDefault("stream.worker_pool", DefaultStreamWorkerPool)

	viperCfg.SetDefault("telemetry.diagnostics_addr", DefaultDiagnosticsAddr)
	viperCfg.SetDefault("telemetry.log_level", DefaultLogLevel)
}
