// Package config loads the recognized configuration options from a
// per-workspace JSON file into a plain struct, rather than through a
// config-management library.
package config

import (
	"encoding/json"
	"os"
)

// GitAutoStashMode mirrors vcsstash.Mode as a config-surface string so
// this package doesn't need to import vcsstash.
type GitAutoStashMode string

const (
	GitAutoStashOff       GitAutoStashMode = "off"
	GitAutoStashDirtyOnly GitAutoStashMode = "dirty-only"
	GitAutoStashAlways    GitAutoStashMode = "always"
)

// SecretDetectionMode controls how the secret detector reacts to a match.
type SecretDetectionMode string

const (
	SecretModeBlock  SecretDetectionMode = "block"
	SecretModeRedact SecretDetectionMode = "redact"
	SecretModeOff    SecretDetectionMode = "off"
)

// HybridWeights must sum to 1.
type HybridWeights struct {
	BM25   float64 `json:"bm25"`
	Vector float64 `json:"vector"`
}

// Config is the full recognized option set.
type Config struct {
	ApplyEngine struct {
		SnapshotMaxBytes  int64            `json:"snapshotMaxBytes"`
		GitAutoStashMode  GitAutoStashMode `json:"gitAutoStashMode"`
	} `json:"applyEngine"`

	Indexer struct {
		Enabled        bool          `json:"enabled"`
		CPUBudget      float64       `json:"cpuBudget"`
		Parallelism    int           `json:"parallelism"`
		QueryTimeoutMs int           `json:"queryTimeoutMs"`
		HybridWeights  HybridWeights `json:"hybridWeights"`
		ExcludeGlobs   []string      `json:"excludeGlobs"`
	} `json:"indexer"`

	SecretDetection struct {
		Mode SecretDetectionMode `json:"mode"`
	} `json:"secretDetection"`

	Privacy struct {
		Offline bool `json:"offline"`
	} `json:"privacy"`
}

// Default returns the configuration a fresh workspace gets when no config
// file is present.
func Default() Config {
	var c Config
	c.ApplyEngine.SnapshotMaxBytes = 50 * 1024 * 1024
	c.ApplyEngine.GitAutoStashMode = GitAutoStashDirtyOnly
	c.Indexer.Enabled = true
	c.Indexer.CPUBudget = 0.20
	c.Indexer.Parallelism = 2
	c.Indexer.QueryTimeoutMs = 150
	c.Indexer.HybridWeights = HybridWeights{BM25: 0.6, Vector: 0.4}
	c.SecretDetection.Mode = SecretModeRedact
	c.Privacy.Offline = false
	return c
}

// Load reads path, overlaying any present fields onto Default(). A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
