// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mngr/pkg/tprotocol"
)

var (
	busLogErrorsOnly   bool
	busLogStatsSeconds int
)

var busLogCmd = &cobra.Command{
	Use:   "bus_log",
	Short: "Display bus command frames in human-readable format",
	Long: `Continuously decode and display command frames from the bus bridge.

Each frame is shown with timestamp, command name, size, checksum, token and
parameters. Checksum failures are highlighted. Errors seen before the first
valid frame are only counted, since the stream may start mid-frame.

Use --errors-only to hide valid frames and --stats-interval to print
periodic statistics.

Supports both serial and WebSocket connections.`,
	RunE: runBusLog,
}

func init() {
	rootCmd.AddCommand(busLogCmd)
	busLogCmd.Flags().BoolVar(&busLogErrorsOnly, "errors-only", false, "Only show checksum errors")
	busLogCmd.Flags().IntVar(&busLogStatsSeconds, "stats-interval", 0, "Statistics interval in seconds (0 disables)")
}

type busValue struct {
	latched uint32
	err     error
}

func runBusLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(settings.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("mngr - Bus Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	values := make(chan busValue, 64)
	go func() {
		lr := NewLatchReader(conn)
		for {
			latched, err := lr.Next()
			values <- busValue{latched: latched, err: err}
			if err != nil {
				return
			}
		}
	}()

	var ticker <-chan time.Time
	if busLogStatsSeconds > 0 {
		t := time.NewTicker(time.Duration(busLogStatsSeconds) * time.Second)
		defer t.Stop()
		ticker = t.C
	}

	decoder := tprotocol.NewDecoder()
	stats := tprotocol.NewStatistics()
	synchronized := false
	errorsBeforeSync := 0

	for {
		select {
		case v := <-values:
			if v.err != nil {
				if errors.Is(v.err, ErrConnectionClosed) {
					log.Printf("Connection closed")
					fmt.Println(stats.String())
					return nil
				}
				return fmt.Errorf("read error: %v", v.err)
			}

			stats.Cycle(v.latched)
			frame, err := decoder.DecodeLatched(v.latched)
			if frame == nil && err == nil {
				continue
			}

			if err != nil {
				if !synchronized {
					errorsBeforeSync++
					continue
				}
				stats.Record(nil, err)
				timestamp := time.Now().Format("15:04:05.000")
				fmt.Printf("[%s] \033[1;31mCHECKSUM ERROR:\033[0m %v\n", timestamp, err)
				fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
				continue
			}

			if !synchronized {
				synchronized = true
				if errorsBeforeSync > 0 {
					fmt.Printf("[SYNC] Synchronized after dropping %d partial frames\n\n", errorsBeforeSync)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}
			stats.Record(frame, nil)
			if !busLogErrorsOnly {
				fmt.Print(tprotocol.FormatFrame(frame))
			}

		case <-ticker:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
