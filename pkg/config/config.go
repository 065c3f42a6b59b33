// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the manager settings from flags, an optional
// config file and MNGR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Thermoquad/mngr/pkg/logging"
	"github.com/Thermoquad/mngr/pkg/transfer"
)

// EnvPrefix prefixes every environment variable
const EnvPrefix = "MNGR"

// BusConfig selects the bridge the bus address stream arrives on
type BusConfig struct {
	Port        string `mapstructure:"port"`
	Baud        int    `mapstructure:"baud"`
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"no_ssl_verify"`
}

// WiFiConfig controls network bring-up
type WiFiConfig struct {
	SSID      string        `mapstructure:"ssid"`
	Interface string        `mapstructure:"interface"`
	Retries   int           `mapstructure:"retries"`
	Backoff   time.Duration `mapstructure:"backoff"`
}

// USBConfig locates the VBUS marker
type USBConfig struct {
	VBusPath string `mapstructure:"vbus_path"`
}

// BoosterConfig names the image started on BOOSTER_START
type BoosterConfig struct {
	Exec string   `mapstructure:"exec"`
	Args []string `mapstructure:"args"`
}

// DownloadConfig covers both the background job and download sessions
type DownloadConfig struct {
	StartDelay   time.Duration `mapstructure:"start_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	NoSSLVerify  bool          `mapstructure:"no_ssl_verify"`
	ChunkSize    int           `mapstructure:"chunk_size"`
}

// UploadConfig covers upload sessions
type UploadConfig struct {
	ChunkSize int    `mapstructure:"chunk_size"`
	Method    string `mapstructure:"method"`
}

// LoopConfig controls the manager loop
type LoopConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Settings is the complete configuration
type Settings struct {
	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`
	Hostname string `mapstructure:"hostname"`
	SDRoot   string `mapstructure:"sd_root"`
	HTMLDir  string `mapstructure:"html_dir"`
	Device   string `mapstructure:"device"`

	Bus      BusConfig      `mapstructure:"bus"`
	WiFi     WiFiConfig     `mapstructure:"wifi"`
	USB      USBConfig      `mapstructure:"usb"`
	Booster  BoosterConfig  `mapstructure:"booster"`
	Download DownloadConfig `mapstructure:"download"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Loop     LoopConfig     `mapstructure:"loop"`
}

// Default returns the firmware defaults
func Default() Settings {
	return Settings{
		LogLevel: "info",
		Listen:   ":8080",
		Hostname: "sidecart",
		SDRoot:   ".",
		Device:   "http://sidecart",
		Bus:      BusConfig{Baud: 115200},
		WiFi:     WiFiConfig{Retries: 3, Backoff: 3 * time.Second},
		USB:      USBConfig{VBusPath: ""},
		Download: DownloadConfig{
			StartDelay:   3 * time.Second,
			PollInterval: 100 * time.Millisecond,
			ChunkSize:    transfer.DefaultDownloadChunkSize,
		},
		Upload: UploadConfig{
			ChunkSize: transfer.DefaultUploadChunkSize,
			Method:    transfer.MethodPOST,
		},
		Loop: LoopConfig{Interval: 100 * time.Millisecond},
	}
}

// SetDefaults registers every key with its default so that environment
// variables are seen by Unmarshal
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("hostname", d.Hostname)
	v.SetDefault("sd_root", d.SDRoot)
	v.SetDefault("html_dir", d.HTMLDir)
	v.SetDefault("device", d.Device)

	v.SetDefault("bus.port", d.Bus.Port)
	v.SetDefault("bus.baud", d.Bus.Baud)
	v.SetDefault("bus.url", d.Bus.URL)
	v.SetDefault("bus.username", d.Bus.Username)
	v.SetDefault("bus.no_ssl_verify", d.Bus.NoSSLVerify)

	v.SetDefault("wifi.ssid", d.WiFi.SSID)
	v.SetDefault("wifi.interface", d.WiFi.Interface)
	v.SetDefault("wifi.retries", d.WiFi.Retries)
	v.SetDefault("wifi.backoff", d.WiFi.Backoff)

	v.SetDefault("usb.vbus_path", d.USB.VBusPath)

	v.SetDefault("booster.exec", d.Booster.Exec)
	v.SetDefault("booster.args", []string{})

	v.SetDefault("download.start_delay", d.Download.StartDelay)
	v.SetDefault("download.poll_interval", d.Download.PollInterval)
	v.SetDefault("download.no_ssl_verify", d.Download.NoSSLVerify)
	v.SetDefault("download.chunk_size", d.Download.ChunkSize)

	v.SetDefault("upload.chunk_size", d.Upload.ChunkSize)
	v.SetDefault("upload.method", d.Upload.Method)

	v.SetDefault("loop.interval", d.Loop.Interval)
}

// New returns a viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the optional config file and decodes the settings
func Load(v *viper.Viper, file string) (Settings, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the manager cannot run with
func (s Settings) Validate() error {
	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		return err
	}
	if s.Bus.Baud <= 0 {
		return errors.New("bus baud must be positive")
	}
	if s.WiFi.Retries < 1 {
		return errors.New("wifi retries must be at least 1")
	}
	if s.Loop.Interval <= 0 {
		return errors.New("loop interval must be positive")
	}
	if s.Upload.ChunkSize <= 0 || s.Download.ChunkSize <= 0 {
		return errors.New("chunk sizes must be positive")
	}
	// A base64 download chunk must fit the JSON response buffer
	if s.Download.ChunkSize > 2048 {
		return fmt.Errorf("download chunk size %d exceeds 2048", s.Download.ChunkSize)
	}
	switch strings.ToUpper(s.Upload.Method) {
	case transfer.MethodPOST, transfer.MethodGET:
	default:
		return fmt.Errorf("unknown upload method: %s", s.Upload.Method)
	}
	return nil
}
