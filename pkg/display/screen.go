// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package display

import (
	"log/slog"
	"sync"
)

// Display is what the manager reports to
type Display interface {
	Start(ssid, url1, url2 string)
	WiFiStatus(status WiFiStatus, url1, url2, details string)
	USBStatus(connected bool)
	Send(cmd Command)
}

// Screen keeps the current screen state and publishes every change
type Screen struct {
	mu     sync.RWMutex
	state  State
	title  string
	bus    *Bus
	logger *slog.Logger
}

// NewScreen creates a screen publishing on bus.
// A nil bus keeps state only.
func NewScreen(title string, bus *Bus, logger *slog.Logger) *Screen {
	return &Screen{
		state:  State{Title: title},
		title:  title,
		bus:    bus,
		logger: logger,
	}
}

// Start draws the connection screen
func (s *Screen) Start(ssid, url1, url2 string) {
	s.apply(Event{Type: EventScreen, Title: s.title, SSID: ssid, URL1: url1, URL2: url2})
	s.Send(CommandNOP)
}

// WiFiStatus changes the connection line
func (s *Screen) WiFiStatus(status WiFiStatus, url1, url2, details string) {
	s.logger.Info("wifi status", "status", status.Text(details))
	s.apply(Event{Type: EventWiFi, Status: status, URL1: url1, URL2: url2, Details: details})
}

// USBStatus changes the USB line
func (s *Screen) USBStatus(connected bool) {
	s.logger.Info("usb status", "connected", connected)
	s.apply(Event{Type: EventUSB, Connected: connected})
}

// Send hands a command to the display core
func (s *Screen) Send(cmd Command) {
	s.logger.Debug("send command to display", "command", cmd.String())
	s.apply(Event{Type: EventCommand, Command: cmd})
}

// State returns a copy of what is on screen
func (s *Screen) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Screen) apply(e Event) {
	s.mu.Lock()
	s.state.Apply(e)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(e)
	}
}
