// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/mngr/pkg/display"
	"github.com/Thermoquad/mngr/pkg/logging"
)

const reconnectDelay = 2 * time.Second

var displayPlain bool

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Mirror the screen of a running device",
	Long: `Connect to /ws/display on a running device and draw its screen:
title, network name, WiFi status, URLs, USB line and the last command.

The terminal UI reconnects automatically when the device goes away. When
stdout is not a terminal, or with --plain, each change is printed as a line.`,
	RunE: runDisplay,
}

func init() {
	rootCmd.AddCommand(displayCmd)
	displayCmd.Flags().BoolVar(&displayPlain, "plain", false, "Print events as text instead of the terminal UI")
}

// displayURL turns the device base URL into the event stream URL
func displayURL(device string) (string, error) {
	u, err := url.Parse(device)
	if err != nil {
		return "", fmt.Errorf("invalid device URL: %v", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported device URL scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/display"
	return u.String(), nil
}

// streamDisplay delivers decoded events until the connection drops
func streamDisplay(ctx context.Context, wsURL string, events chan<- display.Event) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %v", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return ErrConnectionClosed
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		e, err := display.DecodeEvent(data)
		if err != nil {
			logs.Logger(logging.ComponentDisplay).Debug("bad display event", "err", err)
			continue
		}
		select {
		case events <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runDisplay(cmd *cobra.Command, args []string) error {
	wsURL, err := displayURL(settings.Device)
	if err != nil {
		return err
	}

	if displayPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return runDisplayPlain(cmd.Context(), wsURL)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(initialDisplayModel(settings.Device), tea.WithAltScreen())

	go func() {
		for {
			events := make(chan display.Event, 16)
			done := make(chan error, 1)
			go func() { done <- streamDisplay(ctx, wsURL, events) }()

			connected := false
		stream:
			for {
				select {
				case e := <-events:
					if !connected {
						connected = true
						p.Send(displayConnectedMsg{})
					}
					p.Send(displayEventMsg(e))
				case err := <-done:
					p.Send(displayLostMsg{err: err})
					break stream
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

func runDisplayPlain(ctx context.Context, wsURL string) error {
	fmt.Printf("mngr - Display Monitor\n")
	fmt.Printf("Connection: %s\n\n", wsURL)

	events := make(chan display.Event, 16)
	done := make(chan error, 1)
	go func() { done <- streamDisplay(ctx, wsURL, events) }()

	for {
		select {
		case e := <-events:
			fmt.Println(describeEvent(e))
		case err := <-done:
			if err == ErrConnectionClosed {
				fmt.Println("Connection closed")
				return nil
			}
			return err
		}
	}
}

// describeEvent renders one event as a log line
func describeEvent(e display.Event) string {
	ts := time.Now().Format("15:04:05.000")
	switch e.Type {
	case display.EventScreen:
		return fmt.Sprintf("[%s] SCREEN %q ssid=%q %s %s", ts, e.Title, e.SSID, e.URL1, e.URL2)
	case display.EventWiFi:
		return fmt.Sprintf("[%s] WIFI %s", ts, e.Status.Text(e.Details))
	case display.EventUSB:
		if e.Connected {
			return fmt.Sprintf("[%s] USB %s", ts, display.USBText)
		}
		return fmt.Sprintf("[%s] USB disconnected", ts)
	case display.EventCommand:
		return fmt.Sprintf("[%s] COMMAND %s", ts, e.Command)
	default:
		return fmt.Sprintf("[%s] %s", ts, e.Type)
	}
}
