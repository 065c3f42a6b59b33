// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mngr

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/mngr/pkg/display"
	"github.com/Thermoquad/mngr/pkg/download"
	"github.com/Thermoquad/mngr/pkg/logging"
	"github.com/Thermoquad/mngr/pkg/tprotocol"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Test Helpers
// ============================================================

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *display.Screen, *fakeClock) {
	t.Helper()
	screen := display.NewScreen("SidecarT", nil, logging.Discard())
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	seed := uint32(0x1000)
	base := []Option{
		WithClock(clock.Now, clock.Sleep),
		WithRandom(func() uint32 { seed++; return seed }),
	}
	m := New(DefaultConfig(), screen, append(base, opts...)...)
	return m, screen, clock
}

// feed encodes a frame and triggers every latched value
func feed(t *testing.T, m *Manager, id uint16, payload []byte) {
	t.Helper()
	words, err := tprotocol.EncodeFrame(id, payload)
	require.NoError(t, err)
	for _, w := range words {
		m.Trigger(tprotocol.Latch(w))
	}
}

type fakeJob struct {
	status    download.Status
	released  bool
	starts    int
	polls     int
	finishes  int
	finishErr error
	startErr  error
}

func (j *fakeJob) Status() download.Status       { return j.status }
func (j *fakeJob) SetStatus(s download.Status)   { j.status = s }
func (j *fakeJob) Released() bool                { return j.released }
func (j *fakeJob) Poll(ctx context.Context) bool { j.polls++; return true }

func (j *fakeJob) Start(ctx context.Context) error {
	j.starts++
	if j.startErr != nil {
		j.status = download.StatusFailed
		return j.startErr
	}
	j.status = download.StatusStarted
	j.released = false
	return nil
}

func (j *fakeJob) Finish() error {
	j.finishes++
	j.released = true
	if j.finishErr != nil {
		j.status = download.StatusFailed
		return j.finishErr
	}
	if j.status != download.StatusCompleted {
		return download.ErrForcedAbort
	}
	j.status = download.StatusIdle
	return nil
}

// scriptedStream replays a fixed response
type scriptedStream struct {
	events chan download.Event
}

func (s *scriptedStream) Events() <-chan download.Event { return s.events }
func (s *scriptedStream) Ack(n int)                     {}
func (s *scriptedStream) Close() error                  { return nil }

type scriptedTransport struct {
	body string
}

func (t *scriptedTransport) Start(ctx context.Context, req download.Request) (download.Stream, error) {
	s := &scriptedStream{events: make(chan download.Event, 3)}
	s.events <- download.Event{Kind: download.EventHeader, Header: "HTTP/1.1 200 OK\r\n"}
	s.events <- download.Event{Kind: download.EventBody, Data: []byte(t.body)}
	s.events <- download.Event{Kind: download.EventDone}
	return s, nil
}

// requestOnFinish queues the next download as soon as the job is released,
// the way a browser request racing the loop would
type requestOnFinish struct {
	*download.Job
	t    *testing.T
	next string
}

func (j *requestOnFinish) Finish() error {
	err := j.Job.Finish()
	require.NoError(j.t, j.Job.Request(j.next, "/apps"))
	return err
}

type fakeRadio struct {
	failures int
	calls    int
}

func (r *fakeRadio) Connect(ctx context.Context) error {
	r.calls++
	if r.calls <= r.failures {
		return errors.New("timeout")
	}
	return nil
}

func (r *fakeRadio) IP() (net.IP, error) { return net.IPv4(192, 168, 1, 42), nil }

type fakeUSB struct {
	present     bool
	inits       int
	tasks       int
	disconnects int
}

func (u *fakeUSB) VBusPresent() bool { return u.present }
func (u *fakeUSB) Init() error       { u.inits++; return nil }
func (u *fakeUSB) Task()             { u.tasks++ }
func (u *fakeUSB) Disconnect()       { u.disconnects++ }

type fakeBooster struct{ jumps int }

func (b *fakeBooster) Jump() error { b.jumps++; return nil }

type fakeButton struct {
	enabled  bool
	disables int
}

func (b *fakeButton) Enable(onReset, onLongReset func()) { b.enabled = true }
func (b *fakeButton) Disable()                           { b.enabled = false; b.disables++ }

// ============================================================
// Mailbox Tests
// ============================================================

func TestMailbox_EmptyTake(t *testing.T) {
	mb := NewMailbox()
	_, ok := mb.Take()
	assert.False(t, ok)
	assert.False(t, mb.Pending())
}

func TestMailbox_LatestWins(t *testing.T) {
	mb := NewMailbox()

	var f tprotocol.Frame
	f.CommandID = 1
	assert.False(t, mb.Publish(&f))
	f.CommandID = 2
	assert.True(t, mb.Publish(&f), "second publish replaces the first")

	got, ok := mb.Take()
	require.True(t, ok)
	assert.Equal(t, uint16(2), got.CommandID)

	_, ok = mb.Take()
	assert.False(t, ok, "nothing is queued behind the latest frame")
}

func TestMailbox_ConcurrentHandoff(t *testing.T) {
	mb := NewMailbox()
	const rounds = 20000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var f tprotocol.Frame
		f.PayloadSize = 64
		for i := 1; i <= rounds; i++ {
			f.CommandID = uint16(i)
			for j := 0; j < 64; j++ {
				f.Payload[j] = byte(i)
			}
			mb.Publish(&f)
		}
	}()

	last := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	check := func(f *tprotocol.Frame) {
		id := int(f.CommandID)
		if id <= last {
			t.Errorf("frame %d taken after %d", id, last)
		}
		last = id
		for j := 0; j < 64; j++ {
			if f.Payload[j] != byte(id) {
				t.Fatalf("torn frame %d at byte %d", id, j)
			}
		}
	}

	for {
		select {
		case <-done:
			if f, ok := mb.Take(); ok {
				check(f)
			}
			assert.Equal(t, rounds&0xFFFF, last)
			return
		default:
			if f, ok := mb.Take(); ok {
				check(f)
			}
		}
	}
}

// ============================================================
// Frame Decoder Tests
// ============================================================

func TestTrigger_PublishesValidFrame(t *testing.T) {
	m, _, _ := newTestManager(t)
	payload := tprotocol.BuildPayload(0xCAFEF00D, 7)

	feed(t, m, 0x0042, payload)

	f, ok := m.Mailbox().Take()
	require.True(t, ok)
	assert.Equal(t, uint16(0x0042), f.CommandID)
	assert.Equal(t, uint16(len(payload)), f.PayloadSize)
	assert.Equal(t, payload, f.Data())
	assert.Equal(t, uint64(1), m.Stats().Snapshot().Frames)
}

func TestTrigger_ChecksumErrorKeepsPreviousFrame(t *testing.T) {
	m, _, _ := newTestManager(t)
	feed(t, m, 0x0001, tprotocol.BuildPayload(1))

	words, err := tprotocol.EncodeFrame(0x0002, tprotocol.BuildPayload(2))
	require.NoError(t, err)
	words[len(words)-1] ^= 0xFFFF
	for _, w := range words {
		m.Trigger(tprotocol.Latch(w))
	}

	f, ok := m.Mailbox().Take()
	require.True(t, ok, "prior valid frame survives")
	assert.Equal(t, uint16(0x0001), f.CommandID)
	assert.Equal(t, uint64(1), m.Stats().Snapshot().ChecksumErrors)
}

func TestTrigger_IgnoresMemoryCycles(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.Trigger(0x0000ABCD)
	assert.False(t, m.Mailbox().Pending())
	assert.Equal(t, uint64(1), m.Stats().Snapshot().Cycles)
	assert.Equal(t, uint64(0), m.Stats().Snapshot().CommandCycles)
}

// ============================================================
// Dispatcher Tests
// ============================================================

func TestDispatch_BoosterStart(t *testing.T) {
	m, screen, _ := newTestManager(t)
	feed(t, m, tprotocol.CmdBoosterStart, tprotocol.BuildPayload(0x11223344))

	assert.True(t, m.Dispatch())
	assert.True(t, m.Terminating())
	assert.Equal(t, display.CommandBooster, screen.State().Command)
	assert.Equal(t, uint32(0x11223344), m.SharedMemory().RandomToken())
	assert.Equal(t, uint32(0x1001), m.SharedMemory().RandomSeed())
	assert.False(t, m.Mailbox().Pending())
}

func TestDispatch_ShortPayloadEchoesZeroToken(t *testing.T) {
	m, _, _ := newTestManager(t)

	// Cycle every mailbox slot through a frame carrying a token
	for i := 0; i < 3; i++ {
		feed(t, m, 0x0100, tprotocol.BuildPayload(0xA5A5A5A5))
		require.True(t, m.Dispatch())
	}
	require.Equal(t, uint32(0xA5A5A5A5), m.SharedMemory().RandomToken())

	feed(t, m, 0x0100, nil)
	require.True(t, m.Dispatch())
	assert.Equal(t, uint32(0), m.SharedMemory().RandomToken())
}

func TestDispatch_UnknownCommandIsNoop(t *testing.T) {
	m, screen, _ := newTestManager(t)
	feed(t, m, 0x7777, tprotocol.BuildPayload(0xAABBCCDD, 1, 2, 3, 4))

	assert.True(t, m.Dispatch())
	assert.False(t, m.Terminating())
	assert.Equal(t, display.CommandNOP, screen.State().Command)
	assert.Equal(t, uint32(0xAABBCCDD), m.SharedMemory().RandomToken())

	assert.False(t, m.Dispatch(), "mailbox is empty after dispatch")
}

func TestDispatch_DebugParameters(t *testing.T) {
	lm := logging.NewManager()
	var buf safeBuffer
	require.NoError(t, lm.Configure(&buf, "debug"))

	m, _, _ := newTestManager(t, WithLogging(lm))
	feed(t, m, 0x0100, tprotocol.BuildPayload(1, 0xDEADBEEF))
	m.Dispatch()

	assert.Contains(t, buf.String(), "value=0xDEADBEEF")
}

// ============================================================
// Shared Memory Tests
// ============================================================

func TestSharedMemory_Layout(t *testing.T) {
	assert.Equal(t, 0xF004, RandomTokenSeedOffset)
	assert.Equal(t, 0xF040, SharedVariablesOffset)

	s := NewSharedMemory()
	require.NoError(t, s.SetVar(SharedVarHardwareVersion, 0x0102))
	v, err := s.Var(SharedVarHardwareVersion)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0102), v)

	assert.Error(t, s.SetVar(-1, 0))
	_, err = s.Var(SharedMemorySize)
	assert.Error(t, err)
}

// ============================================================
// Network Tests
// ============================================================

func TestConnectNetwork_RetriesThenConnects(t *testing.T) {
	radio := &fakeRadio{failures: 2}
	m, screen, clock := newTestManager(t, WithRadio(radio))

	info, err := m.ConnectNetwork(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, radio.calls)
	assert.Equal(t, "http://sidecart", info.URLHost)
	assert.Equal(t, "http://192.168.1.42", info.URLIP)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, clock.sleeps)

	state := screen.State()
	assert.Equal(t, display.WiFiConnected, state.WiFi)
	assert.Equal(t, "http://192.168.1.42", state.URL2)
	assert.Equal(t, "No SSID found", state.SSID)
}

func TestConnectNetwork_GivesUp(t *testing.T) {
	radio := &fakeRadio{failures: 100}
	m, screen, _ := newTestManager(t, WithRadio(radio))

	_, err := m.ConnectNetwork(context.Background())
	require.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 3, radio.calls)

	state := screen.State()
	assert.Equal(t, display.WiFiError, state.WiFi)
	assert.Equal(t, MaxRetriesMessage, state.Details)
}

func TestHostUSB_Marker(t *testing.T) {
	fs := afero.NewMemMapFs()
	u := NewHostUSB(fs, "/run/vbus", logging.Discard())
	assert.False(t, u.VBusPresent())

	require.NoError(t, afero.WriteFile(fs, "/run/vbus", nil, 0o644))
	assert.True(t, u.VBusPresent())
}

// ============================================================
// Loop Tests
// ============================================================

func TestStep_USBHotPlug(t *testing.T) {
	usb := &fakeUSB{}
	m, screen, _ := newTestManager(t, WithUSB(usb))
	ctx := context.Background()

	m.Step(ctx)
	assert.Equal(t, 0, usb.inits)

	usb.present = true
	m.Step(ctx)
	m.Step(ctx)
	assert.Equal(t, 1, usb.inits)
	assert.Equal(t, 2, usb.tasks)
	assert.True(t, screen.State().USB)

	usb.present = false
	m.Step(ctx)
	assert.Equal(t, 1, usb.disconnects)
	assert.Equal(t, 2, usb.tasks, "no task once detached")
	assert.False(t, screen.State().USB)
}

func TestStep_DownloadDeferredStart(t *testing.T) {
	job := &fakeJob{status: download.StatusRequested, released: true}
	m, _, clock := newTestManager(t, WithJob(job))
	ctx := context.Background()

	m.Step(ctx)
	assert.Equal(t, download.StatusNotStarted, job.status)

	clock.now = clock.now.Add(2 * time.Second)
	m.Step(ctx)
	assert.Equal(t, 0, job.starts, "start waits for the deadline")

	clock.now = clock.now.Add(2 * time.Second)
	m.Step(ctx)
	assert.Equal(t, 1, job.starts)
	assert.Equal(t, download.StatusStarted, job.status)

	m.Step(ctx)
	assert.Equal(t, 1, job.polls)

	job.status = download.StatusCompleted
	m.Step(ctx)
	assert.Equal(t, 1, job.finishes)
	assert.Equal(t, download.StatusIdle, job.status)
}

func TestStep_RequestDuringFinishIsKept(t *testing.T) {
	fsys := afero.NewMemMapFs()
	inner := download.NewJob(fsys, &scriptedTransport{body: "app"}, download.WithPollInterval(time.Millisecond))
	job := &requestOnFinish{Job: inner, t: t, next: "http://h/next.bin"}
	m, _, clock := newTestManager(t, WithJob(job))
	ctx := context.Background()

	require.NoError(t, inner.Request("http://h/first.bin", "/apps"))
	m.Step(ctx) // requested -> not started
	clock.now = clock.now.Add(4 * time.Second)
	m.Step(ctx) // started
	m.Step(ctx) // polled to completion
	require.Equal(t, download.StatusCompleted, inner.Status())

	m.Step(ctx) // finished, next request queued meanwhile
	info := inner.Info()
	assert.Equal(t, download.StatusRequested, info.Status)
	assert.Equal(t, "http://h/next.bin", info.URL)

	data, err := afero.ReadFile(fsys, "/apps/first.bin")
	require.NoError(t, err)
	assert.Equal(t, "app", string(data))
}

func TestStep_DownloadFinishFailure(t *testing.T) {
	job := &fakeJob{status: download.StatusCompleted, finishErr: download.ErrCannotCloseFile}
	m, _, _ := newTestManager(t, WithJob(job))

	m.Step(context.Background())
	assert.Equal(t, download.StatusFailed, job.status)
}

func TestStep_FailedJobIsReleased(t *testing.T) {
	job := &fakeJob{status: download.StatusFailed}
	m, _, _ := newTestManager(t, WithJob(job))
	ctx := context.Background()

	m.Step(ctx)
	assert.Equal(t, 1, job.finishes)
	assert.Equal(t, download.StatusFailed, job.status)

	m.Step(ctx)
	assert.Equal(t, 1, job.finishes, "released job is not finished twice")
}

func TestRun_HandsOffToBooster(t *testing.T) {
	booster := &fakeBooster{}
	button := &fakeButton{enabled: true}
	m, screen, clock := newTestManager(t, WithBooster(booster), WithButton(button))

	feed(t, m, tprotocol.CmdBoosterStart, tprotocol.BuildPayload(0x01))
	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, 1, booster.jumps)
	assert.False(t, button.enabled)
	assert.Equal(t, display.CommandReset, screen.State().Command)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, time.Second, time.Second}, clock.sleeps)

	// Input is disabled after termination
	feed(t, m, 0x0001, tprotocol.BuildPayload(2))
	assert.False(t, m.Mailbox().Pending())
}

func TestRun_StopsOnCancel(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Run(ctx), context.Canceled)
}

func TestRun_NoBooster(t *testing.T) {
	m, _, _ := newTestManager(t)
	feed(t, m, tprotocol.CmdBoosterStart, tprotocol.BuildPayload(0x01))
	assert.ErrorIs(t, m.Run(context.Background()), ErrNoBooster)
}

func TestInit_ArmsButtonAndSeeds(t *testing.T) {
	button := &fakeButton{}
	m, _, _ := newTestManager(t, WithRadio(&fakeRadio{}), WithButton(button))

	_, err := m.Init(context.Background())
	require.NoError(t, err)
	assert.True(t, button.enabled)
	assert.Equal(t, uint32(0x1001), m.SharedMemory().RandomSeed())
}

// safeBuffer is a bytes.Buffer safe for concurrent writes
type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
