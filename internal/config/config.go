package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Ollama      OllamaConfig              `json:"ollama"`
}

type BasicConfig struct {
	ServerAddress  string `json:"server_address"`
	AuthConfigPath string `json:"auth_config_path"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// OllamaConfig points at the local inference endpoint.
type OllamaConfig struct {
	BaseURL        string `json:"base_url"`
	DefaultModel   string `json:"default_model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.BasicConfig.AuthConfigPath == "" {
		return nil, fmt.Errorf("auth_config_path must be configured")
	}
	if !filepath.IsAbs(cfg.BasicConfig.AuthConfigPath) {
		cfg.BasicConfig.AuthConfigPath = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.AuthConfigPath)
	}

	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.Ollama.DefaultModel == "" {
		cfg.Ollama.DefaultModel = "llama3"
	}
	if cfg.Ollama.TimeoutSeconds <= 0 {
		cfg.Ollama.TimeoutSeconds = 60
	}

	return &cfg, nil
}
