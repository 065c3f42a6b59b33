// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mngr implements manager mode: the command mailbox fed from the
// bus capture path, the dispatcher, and the cooperative loop that drives
// USB, the download job and the final hand-off to the booster.
package mngr

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/mngr/pkg/display"
	"github.com/Thermoquad/mngr/pkg/download"
	"github.com/Thermoquad/mngr/pkg/logging"
	"github.com/Thermoquad/mngr/pkg/tprotocol"
)

// DefaultHostname is used when none is configured
const DefaultHostname = "sidecart"

// Job is the background download driven by the loop
type Job interface {
	Status() download.Status
	SetStatus(s download.Status)
	Start(ctx context.Context) error
	Poll(ctx context.Context) bool
	// Finish releases the job and moves a completed one back to Idle,
	// or to Failed if the release fails
	Finish() error
	Released() bool
}

// Config holds the manager configuration
type Config struct {
	Hostname string
	SSID     string

	WiFiRetries int
	WiFiBackoff time.Duration

	// Interval bounds one network poll slice of the loop
	Interval time.Duration

	// DownloadStartDelay defers a requested download
	DownloadStartDelay time.Duration

	// ResetPause is slept before and after asking the display to reset
	ResetPause time.Duration
}

// DefaultConfig returns the firmware defaults
func DefaultConfig() Config {
	return Config{
		Hostname:           DefaultHostname,
		WiFiRetries:        3,
		WiFiBackoff:        3 * time.Second,
		Interval:           100 * time.Millisecond,
		DownloadStartDelay: 3 * time.Second,
		ResetPause:         time.Second,
	}
}

// Option is a functional option for configuring the Manager
type Option func(*Manager)

// WithRadio sets the WiFi station
func WithRadio(r Radio) Option { return func(m *Manager) { m.radio = r } }

// WithUSB sets the USB controller
func WithUSB(u USB) Option { return func(m *Manager) { m.usb = u } }

// WithJob sets the download job advanced by the loop
func WithJob(j Job) Option { return func(m *Manager) { m.job = j } }

// WithButton sets the SELECT button
func WithButton(b SelectButton) Option { return func(m *Manager) { m.button = b } }

// WithBooster sets the hand-off target
func WithBooster(b Booster) Option { return func(m *Manager) { m.booster = b } }

// WithRandom sets the source of random seeds
func WithRandom(fn func() uint32) Option { return func(m *Manager) { m.random = fn } }

// WithClock sets the time source and sleep used by the loop
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(m *Manager) {
		m.now = now
		m.sleep = sleep
	}
}

// WithResetCallbacks sets what the SELECT button does once the network is up
func WithResetCallbacks(onReset, onLongReset func()) Option {
	return func(m *Manager) {
		m.onReset = onReset
		m.onLongReset = onLongReset
	}
}

// WithLogging sets the per-component loggers
func WithLogging(lm *logging.Manager) Option {
	return func(m *Manager) {
		m.isrLog = lm.Logger(logging.ComponentISR)
		m.dispatchLog = lm.Logger(logging.ComponentDispatcher)
		m.loopLog = lm.Logger(logging.ComponentLoop)
	}
}

// Manager owns the mailbox, the random token state and the loop.
// Create one with New; every instance is independent.
type Manager struct {
	cfg Config

	decoder *tprotocol.Decoder
	mailbox *Mailbox
	shared  *SharedMemory
	stats   *tprotocol.Statistics

	display display.Display
	radio   Radio
	usb     USB
	job     Job
	button  SelectButton
	booster Booster
	random  func() uint32
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error

	onReset     func()
	onLongReset func()

	terminate      atomic.Bool
	inputDisabled  atomic.Bool
	usbInitialized bool
	startAt        time.Time

	isrLog      *slog.Logger
	dispatchLog *slog.Logger
	loopLog     *slog.Logger
}

// New creates a manager reporting to disp
func New(cfg Config, disp display.Display, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg,
		decoder:     tprotocol.NewDecoder(),
		mailbox:     NewMailbox(),
		shared:      NewSharedMemory(),
		stats:       tprotocol.NewStatistics(),
		display:     disp,
		random:      rand.Uint32,
		now:         time.Now,
		sleep:       sleepCtx,
		isrLog:      logging.Discard(),
		dispatchLog: logging.Discard(),
		loopLog:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mailbox returns the command mailbox
func (m *Manager) Mailbox() *Mailbox { return m.mailbox }

// SharedMemory returns the region read back by the host
func (m *Manager) SharedMemory() *SharedMemory { return m.shared }

// Stats returns the bus statistics
func (m *Manager) Stats() *tprotocol.Statistics { return m.stats }

// Terminating reports whether a booster start was received
func (m *Manager) Terminating() bool { return m.terminate.Load() }

// Init brings the network up, arms the SELECT button and prepares the
// shared memory. The HTTP surface may be started once Init returns.
func (m *Manager) Init(ctx context.Context) (NetworkInfo, error) {
	m.display.Send(display.CommandNOP)

	info, err := m.ConnectNetwork(ctx)
	if err != nil {
		return info, err
	}

	if m.button != nil {
		m.button.Disable()
		m.button.Enable(m.onReset, m.onLongReset)
	}

	m.preinit()
	return info, nil
}

// preinit clears the hardware variables and seeds the first token round
func (m *Manager) preinit() {
	_ = m.shared.SetVar(SharedVarHardwareType, 0)
	_ = m.shared.SetVar(SharedVarHardwareVersion, 0)
	m.shared.SetRandomSeed(m.random())
}

// Run loops until a booster start is received, then hands off.
// It returns early only if ctx is cancelled or the hand-off fails.
func (m *Manager) Run(ctx context.Context) error {
	for {
		// Network poll slice
		if err := m.sleep(ctx, m.cfg.Interval); err != nil {
			return err
		}
		if m.Step(ctx) {
			break
		}
	}
	return m.handOff(ctx)
}

// Step runs one loop iteration after the network poll and reports
// whether the loop must terminate
func (m *Manager) Step(ctx context.Context) bool {
	m.serviceUSB()
	m.Dispatch()
	m.advanceDownload(ctx)
	return m.terminate.Load()
}

// advanceDownload moves the download job along according to its status
func (m *Manager) advanceDownload(ctx context.Context) {
	if m.job == nil {
		return
	}

	switch m.job.Status() {
	case download.StatusStarted, download.StatusInProgress:
		m.job.Poll(ctx)

	case download.StatusRequested:
		m.startAt = m.now().Add(m.cfg.DownloadStartDelay)
		m.job.SetStatus(download.StatusNotStarted)

	case download.StatusNotStarted:
		if m.now().After(m.startAt) {
			if err := m.job.Start(ctx); err != nil {
				m.loopLog.Warn("error downloading app", "err", err)
			}
		}

	case download.StatusCompleted:
		// Finish moves the job to Idle or Failed itself
		if err := m.job.Finish(); err != nil {
			m.loopLog.Warn("error finishing download", "err", err)
			return
		}
		m.loopLog.Info("download completed successfully")

	case download.StatusFailed:
		if !m.job.Released() {
			if err := m.job.Finish(); err != nil {
				m.loopLog.Info("download aborted", "err", err)
			}
		}
	}
}

// handOff disables input, lets the host reset and jumps to the booster
func (m *Manager) handOff(ctx context.Context) error {
	m.inputDisabled.Store(true)
	if m.button != nil {
		m.button.Disable()
	}

	if err := m.sleep(ctx, m.cfg.ResetPause); err != nil {
		return err
	}
	m.display.Send(display.CommandReset)
	if err := m.sleep(ctx, m.cfg.ResetPause); err != nil {
		return err
	}

	m.loopLog.Info("jumping to the booster app")
	if m.booster == nil {
		return ErrNoBooster
	}
	return m.booster.Jump()
}
