// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mngr

import (
	"errors"
	"os"
	"syscall"
)

// ErrNoBooster is returned when no booster image is configured
var ErrNoBooster = errors.New("no booster configured")

// Booster hands control to the booster image. Jump does not return on success
// on real hardware.
type Booster interface {
	Jump() error
}

// ExecBooster replaces the current process with the booster executable
type ExecBooster struct {
	Path string
	Args []string
}

func (b *ExecBooster) Jump() error {
	if b.Path == "" {
		return ErrNoBooster
	}
	argv := append([]string{b.Path}, b.Args...)
	return syscall.Exec(b.Path, argv, os.Environ())
}

// SelectButton is the physical SELECT button.
// A short push resets the device, a long push also erases settings.
type SelectButton interface {
	Enable(onReset, onLongReset func())
	Disable()
}
