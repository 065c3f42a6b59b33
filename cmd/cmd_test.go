// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/mngr/pkg/config"
	"github.com/Thermoquad/mngr/pkg/display"
	"github.com/Thermoquad/mngr/pkg/logging"
	"github.com/Thermoquad/mngr/pkg/mngr"
	"github.com/Thermoquad/mngr/pkg/tprotocol"
)

func TestLatchReader(t *testing.T) {
	wire, err := tprotocol.EncodeLatched(tprotocol.CmdBoosterStart, tprotocol.BuildPayload(0x12345678))
	if err != nil {
		t.Fatalf("EncodeLatched failed: %v", err)
	}

	lr := NewLatchReader(bytes.NewReader(wire))
	decoder := tprotocol.NewDecoder()

	var frame *tprotocol.Frame
	for {
		latched, err := lr.Next()
		if errors.Is(err, ErrConnectionClosed) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		f, err := decoder.DecodeLatched(latched)
		if err != nil {
			t.Fatalf("DecodeLatched failed: %v", err)
		}
		if f != nil {
			frame = f
		}
	}

	if frame == nil {
		t.Fatal("no frame decoded")
	}
	if frame.CommandID != tprotocol.CmdBoosterStart {
		t.Errorf("command = 0x%04X, want 0x%04X", frame.CommandID, tprotocol.CmdBoosterStart)
	}
}

func TestLatchReaderEndOfStream(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"mid value", []byte{0x01, 0x00, 0x01, 0x00, 0x02, 0x00}},
		{"value boundary", []byte{0x01, 0x00, 0x01, 0x00}},
		{"empty", nil},
	}

	for _, tt := range tests {
		lr := NewLatchReader(bytes.NewReader(tt.data))
		for i := 0; i < len(tt.data)/tprotocol.LatchedSize; i++ {
			if _, err := lr.Next(); err != nil {
				t.Fatalf("%s: value %d: %v", tt.name, i, err)
			}
		}
		if _, err := lr.Next(); !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("%s: err = %v, want ErrConnectionClosed", tt.name, err)
		}
	}
}

// closedConn is a bridge whose stream has ended
type closedConn struct {
	io.Reader
}

func (closedConn) Write(p []byte) (int, error) { return len(p), nil }
func (closedConn) Close() error                { return nil }

func TestReadBusEndOfStreamKeepsRunning(t *testing.T) {
	for _, data := range [][]byte{{0x01, 0x00, 0x01, 0x00}, {0x01, 0x00}} {
		m := mngr.New(mngr.DefaultConfig(), display.NewScreen("t", nil, logging.Discard()))
		conn := closedConn{Reader: bytes.NewReader(data)}
		if err := readBus(context.Background(), conn, m, logging.Discard()); err != nil {
			t.Errorf("readBus(%d bytes) = %v, want nil", len(data), err)
		}
	}
}

func TestParseCommandID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"booster_start", tprotocol.CmdBoosterStart, false},
		{"BOOSTER_START", tprotocol.CmdBoosterStart, false},
		{"0x0001", 0x0001, false},
		{"42", 42, false},
		{"0x10000", 0, true},
		{"reboot", 0, true},
	}

	for _, tt := range tests {
		got, err := parseCommandID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCommandID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCommandID(%q) = 0x%04X, want 0x%04X", tt.in, got, tt.want)
		}
	}
}

func TestDisplayURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://sidecart", "ws://sidecart/ws/display", false},
		{"https://10.0.0.2:8443/", "wss://10.0.0.2:8443/ws/display", false},
		{"ws://host/base", "ws://host/base/ws/display", false},
		{"ftp://host", "", true},
	}

	for _, tt := range tests {
		got, err := displayURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("displayURL(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("displayURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestManagerConfig(t *testing.T) {
	s := config.Default()
	s.Hostname = "cart"
	s.WiFi.SSID = "lab"
	s.WiFi.Retries = 5
	s.Download.StartDelay = time.Second

	cfg := managerConfig(s)
	if cfg.Hostname != "cart" || cfg.SSID != "lab" {
		t.Errorf("hostname/ssid = %q/%q", cfg.Hostname, cfg.SSID)
	}
	if cfg.WiFiRetries != 5 {
		t.Errorf("WiFiRetries = %d, want 5", cfg.WiFiRetries)
	}
	if cfg.DownloadStartDelay != time.Second {
		t.Errorf("DownloadStartDelay = %v, want 1s", cfg.DownloadStartDelay)
	}
	if cfg.ResetPause != time.Second {
		t.Errorf("ResetPause = %v, want default 1s", cfg.ResetPause)
	}
}

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		e    display.Event
		want string
	}{
		{display.Event{Type: display.EventWiFi, Status: display.WiFiConnected}, "WIFI Connected!"},
		{display.Event{Type: display.EventUSB, Connected: true}, display.USBText},
		{display.Event{Type: display.EventCommand, Command: display.CommandReset}, "COMMAND RESET"},
	}

	for _, tt := range tests {
		if got := describeEvent(tt.e); !strings.Contains(got, tt.want) {
			t.Errorf("describeEvent(%v) = %q, want it to contain %q", tt.e.Type, got, tt.want)
		}
	}
}
