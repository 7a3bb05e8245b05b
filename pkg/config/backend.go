package config

import (
	"fmt"
	"log/slog"

	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/metrics"
	"github.com/sanonone/kektorgraph/pkg/storage"
	"github.com/sanonone/kektorgraph/pkg/storage/badger"
	"github.com/sanonone/kektorgraph/pkg/storage/memory"
)

// EngineOptions maps the engine section onto engine.Options.
func (c Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions(c.DataDir)
	if c.Engine.JournalFile != "" {
		opts.JournalFilename = c.Engine.JournalFile
	}
	opts.RewritePercentage = c.Engine.RewritePercentage
	opts.MinRewriteSize = c.Engine.MinRewriteSize
	opts.MaintenanceInterval = c.Engine.MaintenanceInterval
	opts.SyncEveryWrite = c.Engine.SyncEveryWrite
	return opts
}

// BadgerOptions maps the badger section onto badger.Config.
func (c Config) BadgerOptions() badger.Config {
	return badger.Config{
		Path:           c.DataDir,
		InMemory:       c.Badger.InMemory,
		SyncWrites:     c.Badger.SyncWrites,
		Logger:         slog.Default().With("component", "badger"),
		GCInterval:     c.Badger.GCInterval,
		GCDiscardRatio: c.Badger.GCDiscardRatio,
	}
}

// OpenStorage opens the configured backend wrapped with metrics
// instrumentation. The memory backend is made safe for concurrent use.
func OpenStorage(c Config) (storage.Storage, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var (
		s   storage.Storage
		err error
	)
	switch c.Backend {
	case BackendMemory:
		s = memory.NewSynchronized()
	case BackendEngine:
		s, err = engine.Open(c.EngineOptions())
	case BackendBadger:
		s, err = badger.Open(c.BadgerOptions())
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", c.Backend, err)
	}

	slog.Debug("storage opened", "backend", c.Backend, "data_dir", c.DataDir)
	return metrics.Instrument(s, c.Backend), nil
}
