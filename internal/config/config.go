package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

type QdrantConfig struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url"`
	Collection string `json:"collection"`
	APIKey     string `json:"api_key"`
}

type EmbeddingConfig struct {
	URL     string `json:"url"` // empty selects the local hash embedder
	Model   string `json:"model"`
	Workers int    `json:"workers"`
}

type CompletionConfig struct {
	URL            string `json:"url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type InterceptorConfig struct {
	SearchK     int `json:"search_k"`
	MaxMemories int `json:"max_memories"`
	MaxNotes    int `json:"max_notes"`
}

type CompressionConfig struct {
	TokenThreshold int `json:"token_threshold"`
}

type Config struct {
	Server struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		Subpath   string `json:"subpath"`
		JWTSecret string `json:"jwtSecret"`
	} `json:"server"`
	Postgres struct {
		DSN string `json:"dsn"`
	} `json:"postgres"`
	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`
	Qdrant      QdrantConfig      `json:"qdrant"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	Completion  CompletionConfig  `json:"completion"`
	Interceptor InterceptorConfig `json:"interceptor"`
	Compression CompressionConfig `json:"compression"`
}

var (
	once   sync.Once
	cfg    *Config
	cfgErr error
)

// LoadConfig reads config.json from disk (singleton)
func LoadConfig(path string) (*Config, error) {
	once.Do(func() {
		raw, err := os.ReadFile(path)
		if err != nil {
			cfgErr = fmt.Errorf("failed to read config file: %w", err)
			return
		}
		var c Config
		if err := json.Unmarshal(raw, &c); err != nil {
			cfgErr = fmt.Errorf("invalid config format: %w", err)
			return
		}
		// Minimal validation
		if c.Server.JWTSecret == "" {
			cfgErr = errors.New("jwtSecret must be set in config")
			return
		}
		if c.Qdrant.Enabled && c.Qdrant.Collection == "" {
			cfgErr = errors.New("qdrant collection must be set when qdrant is enabled")
			return
		}
		cfg = &c
	})
	return cfg, cfgErr
}

// GetConfig returns the loaded config (must call LoadConfig first)
func GetConfig() *Config {
	return cfg
}

// ResetConfigForTest resets the singleton state (for testing only)
func ResetConfigForTest() {
	once = sync.Once{}
	cfg = nil
	cfgErr = nil
}
