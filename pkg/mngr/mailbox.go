// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mngr

import (
	"sync/atomic"

	"github.com/Thermoquad/mngr/pkg/tprotocol"
)

const (
	slotMask  = 0x3
	validFlag = 0x4
)

// Mailbox is the single-slot, latest-wins handoff from the capture path
// to the manager loop.
//
// It is a triple buffer: the writer owns one slot, the reader owns one
// slot and the third is the published one. The state word holds the
// published slot index and the valid flag, and every handoff is a single
// atomic swap, so neither side ever blocks. Publishing over an untaken
// frame replaces it; nothing is queued.
type Mailbox struct {
	slots [3]tprotocol.Frame
	state atomic.Uint32
	back  int // writer owned
	front int // reader owned
}

// NewMailbox creates an empty mailbox
func NewMailbox() *Mailbox {
	m := &Mailbox{back: 0, front: 1}
	m.state.Store(2) // published slot, not valid
	return m
}

// Publish copies the frame into the writer slot and makes it the
// pending frame. Returns true if an untaken frame was replaced.
// Only the capture path may call Publish.
func (m *Mailbox) Publish(f *tprotocol.Frame) bool {
	m.slots[m.back].CopyFrom(f)
	old := m.state.Swap(uint32(m.back) | validFlag)
	m.back = int(old & slotMask)
	return old&validFlag != 0
}

// Take returns the pending frame and clears the valid flag.
// The frame stays valid until the next Take.
// Only the manager loop may call Take.
func (m *Mailbox) Take() (*tprotocol.Frame, bool) {
	if m.state.Load()&validFlag == 0 {
		return nil, false
	}
	old := m.state.Swap(uint32(m.front))
	m.front = int(old & slotMask)
	return &m.slots[m.front], true
}

// Pending reports whether a frame is waiting
func (m *Mailbox) Pending() bool {
	return m.state.Load()&validFlag != 0
}
