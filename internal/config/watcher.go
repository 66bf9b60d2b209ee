package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/events"
)

// Watcher polls a configuration file for changes and hot-reloads it.
// A reload is all-or-nothing: a candidate document that fails validation is
// discarded and the previous configuration stays in effect.
type Watcher struct {
	path     string
	interval time.Duration
	hub      *events.Hub
	logger   *slog.Logger

	lastHash string
	onChange func(*Config)
}

// NewWatcher creates a watcher for the config file at path. onChange is
// invoked with the freshly validated config after every successful reload.
func NewWatcher(path string, interval time.Duration, hub *events.Hub, logger *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	hash, err := ComputeFileHash(absPath)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     absPath,
		interval: interval,
		hub:      hub,
		logger:   logger.With("component", "config-watcher"),
		lastHash: hash,
		onChange: onChange,
	}, nil
}

// Watch blocks until ctx is cancelled, checking the file on every tick.
func (w *Watcher) Watch(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkOnce()
		}
	}
}

func (w *Watcher) checkOnce() {
	hash, err := ComputeFileHash(w.path)
	if err != nil {
		w.logger.Warn("failed to hash config file", "path", w.path, "error", err)
		return
	}
	if hash == w.lastHash {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		// Keep the previous config; an invalid document applies nothing.
		w.logger.Error("config reload rejected", "path", w.path, "error", err)
		w.hub.Publish(events.TypeConfigInvalid, map[string]any{
			"path":  w.path,
			"error": err.Error(),
		})
		w.lastHash = hash
		return
	}

	w.lastHash = hash
	w.logger.Info("config reloaded", "path", w.path)
	w.hub.Publish(events.TypeConfigReloaded, map[string]any{"path": w.path})
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
