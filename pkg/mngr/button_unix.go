// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build unix

package mngr

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalButton maps SIGUSR1 to a short push and SIGUSR2 to a long push
type SignalButton struct {
	mu   sync.Mutex
	ch   chan os.Signal
	done chan struct{}
}

// Enable starts delivering pushes to the callbacks
func (b *SignalButton) Enable(onReset, onLongReset func()) {
	b.Disable()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ch = make(chan os.Signal, 1)
	b.done = make(chan struct{})
	signal.Notify(b.ch, syscall.SIGUSR1, syscall.SIGUSR2)

	go func(ch chan os.Signal, done chan struct{}) {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				switch sig {
				case syscall.SIGUSR1:
					if onReset != nil {
						onReset()
					}
				case syscall.SIGUSR2:
					if onLongReset != nil {
						onLongReset()
					}
				}
			}
		}
	}(b.ch, b.done)
}

// Disable stops delivering pushes
func (b *SignalButton) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch == nil {
		return
	}
	signal.Stop(b.ch)
	close(b.done)
	b.ch = nil
	b.done = nil
}
