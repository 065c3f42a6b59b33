// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mngr/pkg/config"
	"github.com/Thermoquad/mngr/pkg/logging"
)

var (
	configFile string

	v        = config.New()
	settings config.Settings
	logs     = logging.NewManager()
)

var rootCmd = &cobra.Command{
	Use:   "mngr",
	Short: "Sidecart manager mode on a host",
	Long: `mngr - Runs the sidecart manager on a host and talks to it.

The run command serves the browser UI endpoints, decodes commands from the
ROM3 bus stream and hands off to the booster on BOOSTER_START. The other
commands are tools for the bus and for a running device.

Bus connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the MNGR_BUS_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Every setting can also come from --config (YAML, TOML or JSON) or from an
MNGR_* environment variable, e.g. MNGR_BUS_PORT or MNGR_WIFI_RETRIES.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (YAML, TOML or JSON)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	// Bus connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.IntP("baud", "b", 115200, "Baud rate (serial only)")
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Device flag for the client commands
	flags.String("device", "http://sidecart", "Base URL of a running device")

	bindFlags(rootCmd, map[string]string{
		"log-level":     "log_level",
		"port":          "bus.port",
		"baud":          "bus.baud",
		"url":           "bus.url",
		"username":      "bus.username",
		"no-ssl-verify": "bus.no_ssl_verify",
		"device":        "device",
	})
}

// bindFlags binds flag names to config keys. Persistent flags are
// looked up first.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for name, key := range keys {
		f := cmd.PersistentFlags().Lookup(name)
		if f == nil {
			f = cmd.Flags().Lookup(name)
		}
		if f == nil {
			panic(fmt.Sprintf("unknown flag %q", name))
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	}
}

func loadSettings(cmd *cobra.Command, args []string) error {
	s, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	settings = s

	if err := logs.Configure(os.Stderr, settings.LogLevel); err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logs.Logger("config").Debug("config loaded", "file", used)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
