package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every knob the pipeline needs. It is built once in main
// and passed down explicitly; nothing reads ambient process state after
// Load returns.
type Config struct {
	// Gateway settings for the text generation service.
	GatewayURL string `yaml:"gateway_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	// TranscribeURL may point at a dedicated speech-to-text endpoint; if
	// empty the gateway URL is used for transcription too.
	TranscribeURL string `yaml:"transcribe_url"`

	// UseMockService swaps in the deterministic offline service.
	UseMockService bool `yaml:"use_mock_service"`

	// DBPath is the SQLite record store location.
	DBPath string `yaml:"db_path"`

	// DatasetPath is the spreadsheet of raw communications to ingest.
	DatasetPath string `yaml:"dataset_path"`

	// Concurrency bounds per-record service calls within a stage.
	Concurrency int `yaml:"concurrency"`

	// RequestTimeout applies to one service call; RetryCeiling bounds the
	// whole retry loop for that call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryCeiling   time.Duration `yaml:"retry_ceiling"`

	Port string `yaml:"port"`
}

func defaults() Config {
	return Config{
		Model:          "llama3.1-70b",
		DBPath:         "comms-intel.db",
		DatasetPath:    "customer_communications.xlsx",
		Concurrency:    4,
		RequestTimeout: 25 * time.Second,
		RetryCeiling:   45 * time.Second,
		Port:           "8080",
	}
}

// Load builds a Config from an optional YAML file and then environment
// overrides. path may be empty.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr(&cfg.GatewayURL, "LLM_GATEWAY_URL")
	setStr(&cfg.APIKey, "LLM_API_KEY")
	setStr(&cfg.Model, "LLM_MODEL")
	setStr(&cfg.TranscribeURL, "TRANSCRIBE_URL")
	setStr(&cfg.DBPath, "DB_PATH")
	setStr(&cfg.DatasetPath, "DATASET_PATH")
	setStr(&cfg.Port, "PORT")

	if v := os.Getenv("USE_MOCK_LLM"); v != "" {
		cfg.UseMockService = v == "true" || v == "1"
	}
	if v := os.Getenv("STAGE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
