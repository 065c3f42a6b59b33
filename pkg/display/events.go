// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package display models the cartridge screen shown while the manager runs.
//
// The manager never draws directly. It reports connection state and
// commands through a Display, and the screen state is fanned out as
// CBOR events to anyone watching over /ws/display.
package display

import "fmt"

// Command is a flag handed to the display core
type Command uint8

// Display commands
const (
	CommandNOP     Command = 0x0
	CommandReset   Command = 0x1 // the computer must reset
	CommandBooster Command = 0x3 // enter booster mode
)

func (c Command) String() string {
	switch c {
	case CommandNOP:
		return "NOP"
	case CommandReset:
		return "RESET"
	case CommandBooster:
		return "BOOSTER"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(c))
	}
}

// WiFiStatus is the connection line of the screen
type WiFiStatus uint8

// WiFi status values
const (
	WiFiConnecting WiFiStatus = 0
	WiFiConnected  WiFiStatus = 1
	WiFiError      WiFiStatus = 2
	WiFiLaunching  WiFiStatus = 3
)

// Text returns the status line drawn on the screen
func (s WiFiStatus) Text(details string) string {
	switch s {
	case WiFiConnecting:
		return "Connecting to WIFI..."
	case WiFiConnected:
		return "Connected!"
	case WiFiError:
		if details != "" {
			return details
		}
		return "Connection Error!"
	default:
		return "Launching App..."
	}
}

// USBText is the line drawn while the mass storage device is attached
const USBText = "USB Mass Storage Connected"

// ResetHint is drawn under a WiFi error
const ResetHint = "Press SELECT to reset"

// EventType identifies a display event on the wire
type EventType uint8

// Event types
const (
	EventScreen  EventType = 0x01
	EventWiFi    EventType = 0x02
	EventUSB     EventType = 0x03
	EventCommand EventType = 0x04
)

func (t EventType) String() string {
	switch t {
	case EventScreen:
		return "SCREEN"
	case EventWiFi:
		return "WIFI"
	case EventUSB:
		return "USB"
	case EventCommand:
		return "COMMAND"
	default:
		return "UNKNOWN"
	}
}

// Event map keys
const (
	keyTitle     = 0
	keySSID      = 1
	keyURL1      = 2
	keyURL2      = 3
	keyStatus    = 4
	keyDetails   = 5
	keyConnected = 6
	keyCommand   = 7
)

// Event is one change to the screen.
// Only the fields of its type are meaningful.
type Event struct {
	Type      EventType
	Title     string
	SSID      string
	URL1      string
	URL2      string
	Status    WiFiStatus
	Details   string
	Connected bool
	Command   Command
}

// State is everything currently on the screen
type State struct {
	Title   string
	SSID    string
	URL1    string
	URL2    string
	WiFi    WiFiStatus
	Details string
	USB     bool
	Command Command
}

// Apply folds an event into the state
func (s *State) Apply(e Event) {
	switch e.Type {
	case EventScreen:
		s.Title = e.Title
		s.SSID = e.SSID
		s.URL1 = e.URL1
		s.URL2 = e.URL2
		s.WiFi = WiFiConnecting
		s.Details = ""
	case EventWiFi:
		s.WiFi = e.Status
		s.Details = e.Details
		if e.Status == WiFiConnected {
			s.URL1 = e.URL1
			s.URL2 = e.URL2
		}
	case EventUSB:
		s.USB = e.Connected
	case EventCommand:
		s.Command = e.Command
	}
}

// Events returns the events that rebuild the state from a blank screen
func (s State) Events() []Event {
	return []Event{
		{Type: EventScreen, Title: s.Title, SSID: s.SSID, URL1: s.URL1, URL2: s.URL2},
		{Type: EventWiFi, Status: s.WiFi, URL1: s.URL1, URL2: s.URL2, Details: s.Details},
		{Type: EventUSB, Connected: s.USB},
		{Type: EventCommand, Command: s.Command},
	}
}
