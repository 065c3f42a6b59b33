// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mngr

import (
	"log/slog"

	"github.com/spf13/afero"
)

// USB is the mass storage device controller
type USB interface {
	VBusPresent() bool
	Init() error
	Task()
	Disconnect()
}

// HostUSB treats the existence of a marker file as VBUS
type HostUSB struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// NewHostUSB creates a USB controller watching path on fs
func NewHostUSB(fs afero.Fs, path string, logger *slog.Logger) *HostUSB {
	return &HostUSB{fs: fs, path: path, logger: logger}
}

// VBusPresent reports whether the marker exists
func (u *HostUSB) VBusPresent() bool {
	if u.path == "" {
		return false
	}
	ok, err := afero.Exists(u.fs, u.path)
	return err == nil && ok
}

func (u *HostUSB) Init() error {
	u.logger.Info("USB VBUS is high, starting USB mass storage")
	return nil
}

func (u *HostUSB) Task() {}

func (u *HostUSB) Disconnect() {
	u.logger.Info("disconnecting the USB mass storage, controller reset")
}

// serviceUSB handles attach and detach, then runs the device task
func (m *Manager) serviceUSB() {
	if m.usb == nil {
		return
	}

	present := m.usb.VBusPresent()
	if !present && m.usbInitialized {
		m.usb.Disconnect()
		m.usbInitialized = false
		m.display.USBStatus(false)
		m.loopLog.Info("USB mass storage disconnected")
	}
	if present && !m.usbInitialized {
		if err := m.usb.Init(); err != nil {
			m.loopLog.Warn("USB init failed", "err", err)
			return
		}
		m.usbInitialized = true
		m.display.USBStatus(true)
		m.loopLog.Info("USB mass storage initialized")
	}

	if m.usbInitialized {
		m.usb.Task()
	}
}
