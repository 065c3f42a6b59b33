// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package download implements the single background download job.
//
// The job is driven by the manager loop: Start opens the destination and
// issues the request, Poll applies whatever the transport produced within
// one bounded slice, and Finish releases the file and the connection.
package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Status is the download job state
type Status int

// Job states
const (
	StatusIdle Status = iota
	StatusRequested
	StatusNotStarted
	StatusStarted
	StatusInProgress
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRequested:
		return "requested"
	case StatusNotStarted:
		return "not_started"
	case StatusStarted:
		return "started"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether a new request may replace the job
func (s Status) Terminal() bool {
	return s == StatusIdle || s == StatusCompleted || s == StatusFailed
}

// Config holds the job configuration
type Config struct {
	// PollInterval bounds how long Poll waits for transport events
	PollInterval time.Duration

	// SkipTLSVerify disables certificate checks for https downloads
	SkipTLSVerify bool

	Logger *slog.Logger
}

func defaultConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
		Logger:       slog.New(slog.DiscardHandler),
	}
}

// Option is a functional option for configuring the Job
type Option func(*Config)

// WithPollInterval sets the poll slice
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithSkipTLSVerify disables certificate checks
func WithSkipTLSVerify(skip bool) Option {
	return func(c *Config) { c.SkipTLSVerify = skip }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Info is a snapshot of the job for status reporting
type Info struct {
	Status        Status
	URL           string
	Folder        string
	Path          string
	Written       int64
	ContentLength int64 // -1 when unknown
	Error         string
}

// Job downloads one file at a time into the storage
type Job struct {
	mu        sync.Mutex
	cfg       Config
	fs        afero.Fs
	transport Transport

	status        Status
	url           URL
	folder        string
	path          string
	file          afero.File
	stream        Stream
	written       int64
	contentLength int64
	err           error
}

// NewJob creates an idle job writing to fsys
func NewJob(fsys afero.Fs, transport Transport, opts ...Option) *Job {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Job{
		cfg:           cfg,
		fs:            fsys,
		transport:     transport,
		contentLength: -1,
	}
}

// Request parses the URL and queues the job. It is rejected with ErrBusy
// unless the current job is terminal and its resources were released.
func (j *Job) Request(rawURL, folder string) error {
	u, err := ParseURL(rawURL)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.status.Terminal() || !j.released() {
		return ErrBusy
	}

	j.url = u
	j.folder = folder
	j.path = path.Join("/", folder, u.Filename)
	j.written = 0
	j.contentLength = -1
	j.err = nil
	j.status = StatusRequested

	j.cfg.Logger.Info("download requested", "url", rawURL, "folder", folder)
	return nil
}

// Status returns the job status
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// SetStatus forces the job status
func (j *Job) SetStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
}

// Released reports whether no file or connection is held
func (j *Job) Released() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.released()
}

func (j *Job) released() bool {
	return j.file == nil && j.stream == nil
}

// Info returns a snapshot of the job
func (j *Job) Info() Info {
	j.mu.Lock()
	defer j.mu.Unlock()

	info := Info{
		Status:        j.status,
		URL:           j.url.Raw,
		Folder:        j.folder,
		Path:          j.path,
		Written:       j.written,
		ContentLength: j.contentLength,
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	return info
}

// Start opens the destination and issues the request. On error the job
// is Failed and holds no file.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Close any previously open handle
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}

	// Clear a read-only attribute, if any
	_ = j.fs.Chmod(j.path, 0o644)

	f, err := j.open()
	if err != nil {
		return j.fail(fmt.Errorf("%w %s: %v", ErrCannotOpenFile, j.path, err))
	}
	j.file = f
	j.status = StatusStarted

	j.cfg.Logger.Info("downloading", "host", j.url.Host, "uri", j.url.URI, "path", j.path)
	stream, err := j.transport.Start(ctx, Request{URL: j.url, SkipTLSVerify: j.cfg.SkipTLSVerify})
	if err != nil {
		if cerr := j.file.Close(); cerr != nil {
			j.cfg.Logger.Warn("error closing file", "path", j.path, "err", cerr)
		}
		j.file = nil
		return j.fail(fmt.Errorf("%w: %v", ErrCannotStartDownload, err))
	}
	j.stream = stream
	return nil
}

// open creates or truncates the destination. A file that cannot be
// opened for writing is removed and created once more.
func (j *Job) open() (afero.File, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	f, err := j.fs.OpenFile(j.path, flags, 0o644)
	if err == nil || !errors.Is(err, fs.ErrPermission) {
		return f, err
	}

	j.cfg.Logger.Info("file is locked, removing and creating again", "path", j.path)
	if rerr := j.fs.Remove(j.path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		return nil, err
	}
	return j.fs.OpenFile(j.path, flags, 0o644)
}

func (j *Job) fail(err error) error {
	j.status = StatusFailed
	j.err = err
	j.cfg.Logger.Warn("download failed", "err", err)
	return err
}

// Poll waits up to one poll slice for transport events and applies them
// in arrival order. Returns true while the job is still running.
func (j *Job) Poll(ctx context.Context) bool {
	j.mu.Lock()
	stream := j.stream
	interval := j.cfg.PollInterval
	j.mu.Unlock()

	if stream == nil {
		return false
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case ev := <-stream.Events():
		j.apply(stream, ev)
		// Apply whatever else is already queued
		for drained := false; !drained; {
			select {
			case ev := <-stream.Events():
				j.apply(stream, ev)
			default:
				drained = true
			}
		}
	case <-timer.C:
	case <-ctx.Done():
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status == StatusStarted || j.status == StatusInProgress
}

func (j *Job) apply(stream Stream, ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusStarted && j.status != StatusInProgress {
		return
	}

	switch ev.Kind {
	case EventHeader:
		if n, ok := parseContentLength(ev.Header); ok {
			j.contentLength = n
			j.cfg.Logger.Debug("content length", "bytes", n)
		}
		j.status = StatusInProgress

	case EventBody:
		if j.file == nil {
			j.fail(errors.New("no open file"))
			return
		}
		n, err := j.file.Write(ev.Data)
		if err != nil || n != len(ev.Data) {
			j.fail(fmt.Errorf("error writing to file: wrote %d of %d: %v", n, len(ev.Data), err))
			return
		}
		j.written += int64(n)
		stream.Ack(n)
		j.status = StatusInProgress

	case EventDone:
		if ev.Err != nil {
			j.fail(ev.Err)
			return
		}
		j.status = StatusCompleted
		j.cfg.Logger.Info("end of data", "bytes", j.written)
	}
}

// Finish closes the file and releases the connection. A completed job
// returns to Idle. It fails with ErrCannotCloseFile, leaving the job
// Failed, if the close fails and with ErrForcedAbort if the job did not
// complete. The transition happens under the job lock so a Request
// accepted right after Finish is never overwritten.
func (j *Job) Finish() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var closeErr error
	if j.file != nil {
		closeErr = j.file.Close()
		j.file = nil
	}
	if j.stream != nil {
		_ = j.stream.Close()
		j.stream = nil
	}

	if closeErr != nil {
		return j.fail(fmt.Errorf("%w %s: %v", ErrCannotCloseFile, j.path, closeErr))
	}
	if j.status != StatusCompleted {
		return ErrForcedAbort
	}
	j.status = StatusIdle
	return nil
}

// parseContentLength finds the Content-Length value in raw header text
func parseContentLength(header string) (int64, bool) {
	const label = "Content-Length:"
	i := strings.Index(header, label)
	if i < 0 {
		return 0, false
	}
	rest := strings.TrimLeft(header[i+len(label):], " ")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
