package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/archive"
	"github.com/loomworks/loom/internal/pipeline"
)

// Archive backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendFiles  = "files"
	BackendBadger = "badger"
)

// ArchiveConfig selects and locates the persistence backend.
type ArchiveConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Config is the runtime configuration, loadable from YAML.
type Config struct {
	Archive ArchiveConfig `yaml:"archive"`
	// Dedup controls content-hash deduplication in the value store.
	Dedup bool `yaml:"dedup"`
	// Workers bounds concurrent job execution; 1 or less runs jobs
	// inline in the submitting goroutine.
	Workers int `yaml:"workers"`
	// Staging is the default staging policy for declarations that name
	// none.
	Staging pipeline.StagingPolicy `yaml:"staging"`
}

// DefaultConfig returns the in-memory, dedup-on defaults.
func DefaultConfig() Config {
	return Config{
		Archive: ArchiveConfig{Backend: BackendMemory},
		Dedup:   true,
		Workers: 1,
		Staging: pipeline.DefaultStaging,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Archive.Backend {
	case BackendMemory:
	case BackendSQLite, BackendFiles, BackendBadger:
		if c.Archive.Path == "" {
			return fmt.Errorf("archive backend %q requires a path", c.Archive.Backend)
		}
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}

	switch c.Staging {
	case "", pipeline.StageSingle, pipeline.StagePerStep, pipeline.StageEarly, pipeline.StageLate:
	default:
		return fmt.Errorf("unknown staging policy %q", c.Staging)
	}
	return nil
}

// openArchive opens the configured archive backend.
func (c Config) openArchive() (archive.Archive, error) {
	switch c.Archive.Backend {
	case BackendMemory:
		return archive.NewMemory(), nil
	case BackendSQLite:
		return archive.OpenSQLite(c.Archive.Path)
	case BackendFiles:
		return archive.NewFileTree(c.Archive.Path)
	case BackendBadger:
		return archive.OpenBadger(c.Archive.Path)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}
}
