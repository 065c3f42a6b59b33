// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mngr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Thermoquad/mngr/pkg/display"
	"github.com/Thermoquad/mngr/pkg/tprotocol"
)

// maxDebugParams is how many parameters are dumped at debug level
const maxDebugParams = 4

// Trigger feeds one latched bus value to the decoder and publishes a
// completed frame to the mailbox. It stands in for the capture interrupt:
// a single goroutine must own it, and it never blocks.
func (m *Manager) Trigger(latched uint32) {
	m.stats.Cycle(latched)
	if m.inputDisabled.Load() {
		return
	}

	f, err := m.decoder.DecodeLatched(latched)
	m.stats.Record(f, err)
	if err != nil {
		var cerr *tprotocol.ChecksumError
		if errors.As(err, &cerr) {
			m.isrLog.Debug("checksum error detected", "id", cerr.CommandID, "size", cerr.PayloadSize)
		}
		return
	}
	if f != nil && m.mailbox.Publish(f) {
		m.stats.Overwritten.Add(1)
	}
}

// Dispatch consumes the pending frame, if any, and runs its command.
// The random token is echoed to shared memory and a new seed is drawn
// whatever the command was. Returns false if the mailbox was empty.
func (m *Manager) Dispatch() bool {
	f, ok := m.mailbox.Take()
	if !ok {
		return false
	}

	token := f.RandomToken()
	m.dispatchLog.Debug("command",
		"id", f.CommandID,
		"size", f.PayloadSize,
		"token", fmt.Sprintf("0x%08X", token),
		"checksum", fmt.Sprintf("0x%04X", f.Checksum))

	if m.dispatchLog.Enabled(context.Background(), slog.LevelDebug) {
		m.logParameters(f)
	}

	switch f.CommandID {
	case tprotocol.CmdBoosterStart:
		m.display.Send(display.CommandBooster)
		m.terminate.Store(true)
		m.dispatchLog.Info("booster start received")
	default:
		m.dispatchLog.Info("unknown command", "id", fmt.Sprintf("0x%04X", f.CommandID))
	}

	m.shared.SetRandomToken(token)
	m.shared.SetRandomSeed(m.random())

	return true
}

// logParameters dumps the first parameters of short payloads
func (m *Manager) logParameters(f *tprotocol.Frame) {
	if f.PayloadSize > tprotocol.ParametersMaxSize {
		return
	}
	c := tprotocol.NewCursor(f)
	for i := 0; i < maxDebugParams; i++ {
		v, ok := c.Next32()
		if !ok {
			return
		}
		m.dispatchLog.Debug("payload parameter", "index", i, "value", fmt.Sprintf("0x%08X", v))
	}
}
