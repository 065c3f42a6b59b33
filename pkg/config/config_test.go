// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, Default().Hostname, s.Hostname)
	assert.Equal(t, 4096, s.Upload.ChunkSize)
	assert.Equal(t, "POST", s.Upload.Method)
	assert.Equal(t, 2048, s.Download.ChunkSize)
	assert.Equal(t, 3*time.Second, s.Download.StartDelay)
	assert.Equal(t, 3, s.WiFi.Retries)
	assert.Equal(t, 3*time.Second, s.WiFi.Backoff)
	assert.Equal(t, 100*time.Millisecond, s.Loop.Interval)
	assert.Equal(t, 115200, s.Bus.Baud)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mngr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hostname: bench
log_level: debug
bus:
  port: /dev/ttyACM0
  baud: 921600
wifi:
  retries: 5
  backoff: 500ms
booster:
  exec: /usr/bin/booster
  args: ["--fast"]
upload:
  method: GET
`), 0o644))

	s, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "bench", s.Hostname)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "/dev/ttyACM0", s.Bus.Port)
	assert.Equal(t, 921600, s.Bus.Baud)
	assert.Equal(t, 5, s.WiFi.Retries)
	assert.Equal(t, 500*time.Millisecond, s.WiFi.Backoff)
	assert.Equal(t, "/usr/bin/booster", s.Booster.Exec)
	assert.Equal(t, []string{"--fast"}, s.Booster.Args)
	assert.Equal(t, "GET", s.Upload.Method)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("MNGR_HOSTNAME", "envhost")
	t.Setenv("MNGR_BUS_URL", "ws://bridge/bus")
	t.Setenv("MNGR_DOWNLOAD_START_DELAY", "1s")

	s, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "envhost", s.Hostname)
	assert.Equal(t, "ws://bridge/bus", s.Bus.URL)
	assert.Equal(t, time.Second, s.Download.StartDelay)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"log level", func(s *Settings) { s.LogLevel = "loud" }},
		{"baud", func(s *Settings) { s.Bus.Baud = 0 }},
		{"retries", func(s *Settings) { s.WiFi.Retries = 0 }},
		{"interval", func(s *Settings) { s.Loop.Interval = 0 }},
		{"upload chunk", func(s *Settings) { s.Upload.ChunkSize = 0 }},
		{"download chunk", func(s *Settings) { s.Download.ChunkSize = 4096 }},
		{"method", func(s *Settings) { s.Upload.Method = "PUT" }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}
