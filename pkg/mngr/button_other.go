// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !unix

package mngr

// SignalButton has no signal to listen to on this platform; the button
// is never pushed.
type SignalButton struct{}

// Enable does nothing
func (b *SignalButton) Enable(onReset, onLongReset func()) {}

// Disable does nothing
func (b *SignalButton) Disable() {}
