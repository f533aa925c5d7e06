// Package sambung assembles the call bridge from its parts: config,
// logging, the agent client, the storage sink and the supervisor.
package sambung

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/sambung/pkg/bridge"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Bridge  bridge.Config `mapstructure:"bridge"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Storage StorageConfig `mapstructure:"storage"`
	Privacy PrivacyConfig `mapstructure:"privacy"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type AgentConfig struct {
	APIKey     string `mapstructure:"api_key"`
	AgentID    string `mapstructure:"agent_id"`
	BaseURL    string `mapstructure:"base_url"`
	PromptURL  string `mapstructure:"prompt_url"`
	BasePrompt string `mapstructure:"base_prompt"`

	HTTPTimeoutMS int `mapstructure:"http_timeout_ms"`
	DialTimeoutMS int `mapstructure:"dial_timeout_ms"`
}

// StorageConfig points at the bucket transcripts are persisted to. An
// empty bucket disables uploads; transcripts are then logged and dropped.
type StorageConfig struct {
	Region string `mapstructure:"region"`
	Bucket string `mapstructure:"bucket"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("bridge.server_addr", ":8080")
	v.SetDefault("bridge.voice_path", "/voice")
	v.SetDefault("bridge.ws_path", "/ws")
	v.SetDefault("bridge.status_callback_path", "/status")
	v.SetDefault("bridge.metrics_path", "/metrics")
	v.SetDefault("bridge.agent_setup_timeout_ms", 15000)
	v.SetDefault("bridge.caller_buffer_chunks", 8)
	v.SetDefault("bridge.agent_buffer_frames", 32)
	v.SetDefault("bridge.transcript_key_prefix", "transcripts/")
	v.SetDefault("agent.http_timeout_ms", 10000)
	v.SetDefault("agent.dial_timeout_ms", 10000)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.APIKey) == "" {
		return fmt.Errorf("agent.api_key is required")
	}
	if strings.TrimSpace(c.Agent.AgentID) == "" {
		return fmt.Errorf("agent.agent_id is required")
	}
	if c.Storage.Bucket != "" && strings.TrimSpace(c.Storage.Region) == "" {
		return fmt.Errorf("storage.region is required when storage.bucket is set")
	}
	return nil
}

func (c AgentConfig) httpTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMS) * time.Millisecond
}

func (c AgentConfig) dialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

// expandEnvStrings substitutes ${VAR} references in every string field so
// secrets can live in the environment rather than the config file.
func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
}

func expandValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Ptr:
		if !v.IsNil() {
			expandValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
