// Package config loads wordalign settings from YAML.
package config

import (
	"fmt"
	"math"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/happyhackingspace/wordalign/hmm"
	"github.com/happyhackingspace/wordalign/internal/store"
)

// Table strategies.
const (
	TableCompact = "compact"
	TableDynamic = "dynamic"
	TablePaged   = "paged"
)

// Store kinds.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

type Config struct {
	Model ModelConfig `yaml:"model"`
	Train TrainConfig `yaml:"train"`
	Store StoreConfig `yaml:"store"`
}

type ModelConfig struct {
	MaxJump       int     `yaml:"max_jump" json:"max_jump"`
	Homogeneous   bool    `yaml:"homogeneous" json:"homogeneous"`
	NullWord      bool    `yaml:"null_word" json:"null_word"`
	NullLogProb   float64 `yaml:"null_log_prob" json:"null_log_prob"`     // natural log, must be < 0
	NullTransProb float64 `yaml:"null_trans_prob" json:"null_trans_prob"` // in [0, 1)
	Lowercase     bool    `yaml:"lowercase" json:"lowercase"`
}

type TrainConfig struct {
	Iterations int    `yaml:"iterations"`
	Workers    int    `yaml:"workers"` // 0 means GOMAXPROCS
	Table      string `yaml:"table"`   // compact | dynamic | paged
}

type StoreConfig struct {
	Kind     string `yaml:"kind"` // file | sqlite
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"` // snappy, file store only
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			MaxJump:       10,
			NullLogProb:   math.Log(1e-4),
			NullTransProb: 0.2,
		},
		Train: TrainConfig{
			Iterations: 5,
			Table:      TableCompact,
		},
		Store: StoreConfig{
			Kind: StoreFile,
			Path: "model",
		},
	}
}

// Load reads configPath over the defaults. An empty path tries
// configs/wordalign.yaml, then wordalign.yaml, and falls back to defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/wordalign.yaml", "wordalign.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, fmt.Errorf("%s: %w", p, err)
				}
				applyDefaults(cfg)
				return cfg, cfg.Validate()
			}
		}
		applyDefaults(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", configPath, err)
	}
	applyDefaults(cfg)
	return cfg, cfg.Validate()
}

func applyDefaults(cfg *Config) {
	if cfg.Model.MaxJump <= 0 {
		cfg.Model.MaxJump = 10
	}
	if cfg.Model.NullLogProb >= 0 {
		cfg.Model.NullLogProb = math.Log(1e-4)
	}
	if cfg.Model.NullTransProb <= 0 || cfg.Model.NullTransProb >= 1 {
		cfg.Model.NullTransProb = 0.2
	}
	if cfg.Train.Iterations <= 0 {
		cfg.Train.Iterations = 5
	}
	if cfg.Train.Workers <= 0 {
		cfg.Train.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Train.Table == "" {
		cfg.Train.Table = TableCompact
	}
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = StoreFile
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "model"
	}
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	switch c.Train.Table {
	case TableCompact, TableDynamic, TablePaged:
	default:
		return fmt.Errorf("config: unknown table strategy %q", c.Train.Table)
	}
	switch c.Store.Kind {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("config: unknown store kind %q", c.Store.Kind)
	}
	return nil
}

// HMM returns the engine configuration.
func (m ModelConfig) HMM() hmm.Config {
	return hmm.Config{
		NullWord:      m.NullWord,
		NullLogProb:   m.NullLogProb,
		NullTransProb: m.NullTransProb,
	}
}

// Open opens the configured store at path, or at s.Path if path is empty.
func (s StoreConfig) Open(path string) (store.Store, error) {
	if path == "" {
		path = s.Path
	}
	switch s.Kind {
	case StoreSQLite:
		return store.NewSQLiteStore(path)
	case StoreFile, "":
		return store.NewFileStore(path, s.Compress)
	default:
		return nil, fmt.Errorf("config: unknown store kind %q", s.Kind)
	}
}
