// Package config loads vaultdexd's on-disk configuration: vault root,
// watcher exclusions, queue sizing, the embedding model, and consistency
// defaults. Grounded on the YAML-unmarshal-into-a-typed-struct idiom
// seen in cmd/warren/apply.go, generalized into a Config with defaults
// rather than a bare map[string]interface{}.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WatcherConfig controls pkg/watch.
type WatcherConfig struct {
	VaultRoot        string        `yaml:"vaultRoot"`
	ExcludedDirs     []string      `yaml:"excludedDirs"`
	DebounceWindow   time.Duration `yaml:"debounceWindow"`
	MaxFileSizeBytes int64         `yaml:"maxFileSizeBytes"`
}

// QueueConfig controls pkg/eventqueue and pkg/txqueue sizing.
type QueueConfig struct {
	EventQueueCapacity int    `yaml:"eventQueueCapacity"`
	EventQueuePolicy   string `yaml:"eventQueuePolicy"` // drop_new | drop_oldest | block | drop_low_priority
	TxQueueCapacity    int    `yaml:"txQueueCapacity"`
	DispatcherWorkers  int    `yaml:"dispatcherWorkers"`
}

// EmbeddingConfig controls pkg/enrich + the embedding provider.
type EmbeddingConfig struct {
	ModelID              string `yaml:"modelID"`
	MinWordsForEmbedding int    `yaml:"minWordsForEmbedding"`
	MaxBatchSize         int    `yaml:"maxBatchSize"`
}

// ConsistencyConfig controls pkg/consistency's Strong-read bound.
type ConsistencyConfig struct {
	DefaultLevel   string        `yaml:"defaultLevel"` // eventual | read_after_write | strong
	MaxWaitTime    time.Duration `yaml:"maxWaitTime"`
}

// GCConfig controls pkg/gc.
type GCConfig struct {
	Interval    time.Duration `yaml:"interval"`
	GracePeriod time.Duration `yaml:"gracePeriod"`
}

// Config is vaultdexd's full on-disk configuration.
type Config struct {
	DataDir     string            `yaml:"dataDir"`
	Watcher     WatcherConfig     `yaml:"watcher"`
	Queues      QueueConfig       `yaml:"queues"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Consistency ConsistencyConfig `yaml:"consistency"`
	GC          GCConfig          `yaml:"gc"`
}

// Default returns vaultdexd's built-in defaults, used both as the
// starting point for Load and directly when no config file is given.
func Default() Config {
	return Config{
		DataDir: "./vaultdex-data",
		Watcher: WatcherConfig{
			VaultRoot:        ".",
			ExcludedDirs:     nil, // pkg/watch already excludes .git, .obsidian, .trash, node_modules
			DebounceWindow:   300 * time.Millisecond,
			MaxFileSizeBytes: 10 << 20,
		},
		Queues: QueueConfig{
			EventQueueCapacity: 1024,
			EventQueuePolicy:   "drop_oldest",
			TxQueueCapacity:    1024,
			DispatcherWorkers:  4,
		},
		Embedding: EmbeddingConfig{
			ModelID:              "local-fake",
			MinWordsForEmbedding: 5,
			MaxBatchSize:         32,
		},
		Consistency: ConsistencyConfig{
			DefaultLevel: "eventual",
			MaxWaitTime:  5 * time.Second,
		},
		GC: GCConfig{
			Interval:    10 * time.Minute,
			GracePeriod: time.Hour,
		},
	}
}

// Load reads a YAML config file at path, overlaying it onto Default().
// A missing file is not an error — Default() alone is returned — since
// vaultdexd is expected to run with zero configuration out of the box.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
