package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	Listen        string `json:"listen"`
	MaxConcurrent int    `json:"max_concurrent"`
	FactCheck     struct {
		BaseURL         string `json:"base_url"`
		APIKey          string `json:"api_key"`
		TopK            int    `json:"top_k"`
		TimeoutSeconds  int    `json:"timeout_seconds"`
		CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	} `json:"fact_check"`
	Stream struct {
		AnalyzeStaggerMS int `json:"analyze_stagger_ms"`
		ResolveDelayMS   int `json:"resolve_delay_ms"`
		SynthesisDelayMS int `json:"synthesis_delay_ms"`
		ChunkIntervalMS  int `json:"chunk_interval_ms"`
	} `json:"stream"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".ghostd"),
		LogLevel:      "info",
		Listen:        "127.0.0.1:8717",
		MaxConcurrent: 4,
	}
	cfg.FactCheck.BaseURL = "http://localhost:5000"
	cfg.FactCheck.TopK = 5
	cfg.FactCheck.TimeoutSeconds = 30
	cfg.FactCheck.CacheTTLSeconds = 300
	cfg.Stream.AnalyzeStaggerMS = 1000
	cfg.Stream.ResolveDelayMS = 1500
	cfg.Stream.SynthesisDelayMS = 3000
	cfg.Stream.ChunkIntervalMS = 30

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dataDir := os.Getenv("GHOSTD_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen := os.Getenv("GHOSTD_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if baseURL := os.Getenv("FACTCHECK_BASE_URL"); baseURL != "" {
		cfg.FactCheck.BaseURL = baseURL
	}
	if apiKey := os.Getenv("FACTCHECK_API_KEY"); apiKey != "" {
		cfg.FactCheck.APIKey = apiKey
	}

	return cfg, nil
}

// Save writes the config to path atomically, creating parent directories
// as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts the config to a nested map via its JSON representation.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns the config as a flat dot-keyed map, with secrets
// masked when mask is true.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads one dot-keyed value from the config file at path. The
// raw file is consulted so keys outside the Config struct survive.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue updates one dot-keyed value in the config file at path. The
// value string is parsed as JSON when possible, so "16" becomes a number
// and "true" a boolean; anything unparseable is stored as a string.
func SetValue(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	flat := Flatten(m)
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed

	out, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	out = append(out, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
