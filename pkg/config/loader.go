// Package config provides the ambient application configuration layer
// (thresholds, TTLs, file locations) and the YAML-file-backed
// PatternConfig/PolicyConfig providers consumed by the firewall core.
// Settings are layered: a base file, an environment-specific overlay,
// and environment variable overrides, all read through spf13/viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings holds the knobs the firewall core needs that aren't
// themselves PatternConfig/PolicyConfig documents.
type Settings struct {
	EmbeddingModel       string  `mapstructure:"embedding_model"`
	EmbeddingDimensions  int     `mapstructure:"embedding_dimensions"`
	SemanticThreshold    float64 `mapstructure:"semantic_threshold"`
	PatternsFile         string  `mapstructure:"patterns_file"`
	PolicyFile           string  `mapstructure:"policy_file"`
	CacheL1MaxEntries    int     `mapstructure:"cache_l1_max_entries"`
	CacheL1TTLSeconds    int     `mapstructure:"cache_l1_ttl_seconds"`
	CacheL2TTLSeconds    int     `mapstructure:"cache_l2_ttl_seconds"`
	CircuitFailThreshold int     `mapstructure:"circuit_failure_threshold"`
	CircuitResetSeconds  int     `mapstructure:"circuit_reset_seconds"`
	RedisAddress         string  `mapstructure:"redis_address"`
	VectorIndexDSN       string  `mapstructure:"vector_index_dsn"`
}

func defaults() Settings {
	return Settings{
		EmbeddingModel:       "sentence-transformers/all-MiniLM-L6-v2",
		EmbeddingDimensions:  384,
		SemanticThreshold:    0.85,
		PatternsFile:         "config/patterns.yaml",
		PolicyFile:           "config/policies.yaml",
		CacheL1MaxEntries:    1000,
		CacheL1TTLSeconds:    300,
		CacheL2TTLSeconds:    3600,
		CircuitFailThreshold: 5,
		CircuitResetSeconds:  60,
		RedisAddress:         "localhost:6379",
	}
}

// Load layers config.base.yaml, config.<env>.yaml, and PROMPTFIREWALL_*
// environment variables (in increasing priority) over the defaults.
// env is typically "development"/"staging"/"production"; an empty
// value skips the environment-specific overlay.
func Load(configDir, env string) (*Settings, error) {
	v := viper.New()
	s := defaults()

	v.SetConfigName("config.base")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading base config: %w", err)
		}
	}

	if env != "" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading %s config: %w", env, err)
			}
		}
	}

	v.SetEnvPrefix("PROMPTFIREWALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &s, nil
}
