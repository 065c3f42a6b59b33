// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mngr/pkg/client"
	"github.com/Thermoquad/mngr/pkg/logging"
)

var transferRetries int

var pushCmd = &cobra.Command{
	Use:   "push <local-file> <device-path>",
	Short: "Upload a file to a running device",
	Long: `Upload a local file to the device storage using chunked upload sessions,
exactly like the browser UI. Failed chunks are re-sent.

Example:
  mngr push game.bin /user/games/game.bin --device http://sidecart`,
	Args: cobra.ExactArgs(2),
	RunE: runPush,
}

var pullCmd = &cobra.Command{
	Use:   "pull <device-path> <local-file>",
	Short: "Download a file from a running device",
	Args:  cobra.ExactArgs(2),
	RunE:  runPull,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	for _, c := range []*cobra.Command{pushCmd, pullCmd} {
		c.Flags().IntVar(&transferRetries, "retries", 2, "Times a failed chunk is re-sent")
	}
}

func newClient() (*client.Client, error) {
	return client.New(settings.Device,
		client.WithRetries(transferRetries),
		client.WithLogger(logs.Logger(logging.ComponentTransfer)),
	)
}

// printProgress rewrites one progress line on stdout
func printProgress(done, total int64) {
	if total > 0 {
		fmt.Printf("\r  %d / %d bytes (%.0f%%)", done, total, float64(done)/float64(total)*100)
	} else {
		fmt.Printf("\r  %d bytes", done)
	}
}

func runPush(cmd *cobra.Command, args []string) error {
	local, remote := args[0], args[1]

	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	fmt.Printf("Uploading %s to %s%s\n", local, settings.Device, remote)
	start := time.Now()
	if err := c.Push(cmd.Context(), f, fi.Size(), remote, printProgress); err != nil {
		fmt.Println()
		return err
	}
	fmt.Printf("\nDone in %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	remote, local := args[0], args[1]

	c, err := newClient()
	if err != nil {
		return err
	}

	f, err := os.Create(local)
	if err != nil {
		return err
	}

	fmt.Printf("Downloading %s%s to %s\n", settings.Device, remote, local)
	start := time.Now()
	n, err := c.Pull(cmd.Context(), remote, f, printProgress)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Println()
		return err
	}
	fmt.Printf("\n%d bytes in %v\n", n, time.Since(start).Round(time.Millisecond))
	return nil
}
