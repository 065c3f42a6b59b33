// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/mngr/pkg/config"
	"github.com/Thermoquad/mngr/pkg/display"
	"github.com/Thermoquad/mngr/pkg/download"
	"github.com/Thermoquad/mngr/pkg/httpd"
	"github.com/Thermoquad/mngr/pkg/logging"
	"github.com/Thermoquad/mngr/pkg/mngr"
	"github.com/Thermoquad/mngr/pkg/transfer"
)

const screenTitle = "SidecarT - mngr v1.0.0"

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the manager: web UI, bus commands and booster hand-off",
	Long: `Run the sidecart manager on this host.

Brings the network up (retrying a bounded number of times), serves the
browser UI endpoints over the storage rooted at --sd-root, streams the
screen at /ws/display and decodes commands from the bus bridge.

A BOOSTER_START command disables input, resets the screen and replaces
this process with the --booster executable.

The bus bridge is optional. Without --port or --url only the web UI runs.

SIGUSR1 and SIGUSR2 act as short and long pushes of the SELECT button.`,
	RunE: runManager,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.String("listen", ":8080", "HTTP listen address")
	flags.String("hostname", "sidecart", "Hostname advertised on the screen")
	flags.String("sd-root", ".", "Directory served as the storage root")
	flags.String("html-dir", "", "Directory with the web UI files")
	flags.String("ssid", "", "Network name shown on the screen")
	flags.String("interface", "", "Network interface (default: first usable)")
	flags.String("vbus-path", "", "Marker file present while USB power is attached")
	flags.String("booster", "", "Executable started on BOOSTER_START")

	bindFlags(runCmd, map[string]string{
		"listen":    "listen",
		"hostname":  "hostname",
		"sd-root":   "sd_root",
		"html-dir":  "html_dir",
		"ssid":      "wifi.ssid",
		"interface": "wifi.interface",
		"vbus-path": "usb.vbus_path",
		"booster":   "booster.exec",
	})
}

func managerConfig(s config.Settings) mngr.Config {
	cfg := mngr.DefaultConfig()
	cfg.Hostname = s.Hostname
	cfg.SSID = s.WiFi.SSID
	cfg.WiFiRetries = s.WiFi.Retries
	cfg.WiFiBackoff = s.WiFi.Backoff
	cfg.Interval = s.Loop.Interval
	cfg.DownloadStartDelay = s.Download.StartDelay
	return cfg
}

func runManager(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopLog := logs.Logger(logging.ComponentLoop)
	displayLog := logs.Logger(logging.ComponentDisplay)

	if fi, err := os.Stat(settings.SDRoot); err != nil || !fi.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", settings.SDRoot)
	}
	storage := afero.NewBasePathFs(afero.NewOsFs(), settings.SDRoot)

	bus := display.NewBus(16, displayLog)
	defer bus.Close()
	screen := display.NewScreen(screenTitle, bus, displayLog)

	job := download.NewJob(storage, &download.HTTPTransport{},
		download.WithPollInterval(settings.Download.PollInterval),
		download.WithSkipTLSVerify(settings.Download.NoSSLVerify),
		download.WithLogger(logs.Logger(logging.ComponentDownload)),
	)

	sessions := transfer.NewRegistry(storage,
		transfer.WithUploadChunkSize(settings.Upload.ChunkSize),
		transfer.WithDownloadChunkSize(settings.Download.ChunkSize),
		transfer.WithUploadMethod(strings.ToUpper(settings.Upload.Method)),
		transfer.WithLogger(logs.Logger(logging.ComponentTransfer)),
	)
	defer sessions.Close()

	opts := []mngr.Option{
		mngr.WithRadio(&mngr.HostRadio{Interface: settings.WiFi.Interface}),
		mngr.WithJob(job),
		mngr.WithButton(&mngr.SignalButton{}),
		mngr.WithLogging(logs),
		mngr.WithResetCallbacks(
			func() {
				loopLog.Info("SELECT pushed, resetting")
				stop()
			},
			func() {
				loopLog.Info("SELECT long push, resetting")
				stop()
			},
		),
	}
	if settings.USB.VBusPath != "" {
		opts = append(opts, mngr.WithUSB(mngr.NewHostUSB(afero.NewOsFs(), settings.USB.VBusPath, loopLog)))
	}
	if settings.Booster.Exec != "" {
		opts = append(opts, mngr.WithBooster(&mngr.ExecBooster{Path: settings.Booster.Exec, Args: settings.Booster.Args}))
	} else {
		loopLog.Warn("no booster configured, BOOSTER_START will end the manager")
	}

	m := mngr.New(managerConfig(settings), screen, opts...)

	info, err := m.Init(ctx)
	if err != nil {
		return err
	}

	// Bus bridge is optional
	var conn Connection
	var connInfo string
	if settings.Bus.Port != "" || settings.Bus.URL != "" {
		conn, connInfo, err = OpenConnection(settings.Bus)
		if err != nil {
			return err
		}
		defer conn.Close()
	}

	srv := httpd.New(storage, sessions, job,
		httpd.WithDisplayHub(display.NewHub(screen, bus, displayLog)),
		httpd.WithStaticDir(settings.HTMLDir),
		httpd.WithLogger(logs.Logger(logging.ComponentHTTPD)),
	)
	httpServer := &http.Server{
		Addr:              settings.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("mngr - Sidecart Manager\n")
	fmt.Printf("Web UI: %s (%s), listening on %s\n", info.URLHost, info.URLIP, settings.Listen)
	fmt.Printf("Storage: %s\n", settings.SDRoot)
	if conn != nil {
		fmt.Printf("Bus: %s\n", connInfo)
	} else {
		fmt.Printf("Bus: not connected\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if conn != nil {
		g.Go(func() error {
			return readBus(gctx, conn, m, logs.Logger(logging.ComponentBus))
		})
		g.Go(func() error {
			<-gctx.Done()
			_ = conn.Close()
			return nil
		})
	}

	g.Go(func() error {
		// Leaving the loop ends the process either way
		defer stop()
		err := m.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	snap := m.Stats().Snapshot()
	loopLog.Info("manager stopped", "frames", snap.Frames, "checksum_errors", snap.ChecksumErrors)
	return err
}

// readBus feeds every latched value to the manager. It plays the
// interrupt role and never blocks on the manager.
func readBus(ctx context.Context, conn Connection, m *mngr.Manager, logger *slog.Logger) error {
	lr := NewLatchReader(conn)
	for {
		latched, err := lr.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrConnectionClosed) {
				logger.Warn("bus connection closed")
				return nil
			}
			return fmt.Errorf("bus read: %v", err)
		}
		m.Trigger(latched)
	}
}
