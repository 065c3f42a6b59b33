// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the slog loggers used across the manager.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component names
const (
	ComponentISR        = "isr"
	ComponentDispatcher = "dispatcher"
	ComponentLoop       = "loop"
	ComponentDownload   = "download"
	ComponentHTTPD      = "httpd"
	ComponentTransfer   = "transfer"
	ComponentDisplay    = "display"
	ComponentBus        = "bus"
)

// Manager owns the root logger and hands out per-component children
type Manager struct {
	mu     sync.RWMutex
	logger *slog.Logger
	level  slog.Level
}

// NewManager creates a manager logging to stderr at info level
func NewManager() *Manager {
	m := &Manager{level: slog.LevelInfo}
	m.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: m.level}))
	return m
}

// Configure replaces the root logger with one writing to w at the given level
func (m *Manager) Configure(w io.Writer, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.level = lvl
	m.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(m.logger)
	return nil
}

// Logger returns a child logger tagged with the component name
func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logger.With("component", component)
}

// Level returns the configured level
func (m *Manager) Level() slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.level
}

// ParseLevel converts a level name into a slog level
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", raw)
	}
}

// Discard returns a logger that drops everything, for tests
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
