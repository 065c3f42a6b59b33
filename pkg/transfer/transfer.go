// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transfer implements the token-keyed chunked file transfer
// sessions used by the browser to upload files to, and download files
// from, the storage.
//
// Every chunk targets an absolute offset (index * chunk size), so a chunk
// re-sent after a client retry overwrites exactly the same bytes.
package transfer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// Table limits
const (
	MaxSessions = 4
	MaxTokenLen = 31
	MaxPathLen  = 255
)

// Defaults
const (
	DefaultUploadChunkSize   = 4096
	DefaultDownloadChunkSize = 2048
)

// Upload chunk methods advertised to the client
const (
	MethodPOST = "POST" // raw binary body
	MethodGET  = "GET"  // base64 payload parameter
)

// Session errors
var (
	ErrNoFreeSlot   = errors.New("no context available")
	ErrUnknownToken = errors.New("invalid token")
	ErrPathInvalid  = errors.New("invalid path")
	ErrOpenFailed   = errors.New("cannot open file")
	ErrDecodeFailed = errors.New("invalid base64")
	ErrIOFailed     = errors.New("i/o failed")
)

// Config holds the registry configuration
type Config struct {
	UploadChunkSize   int
	DownloadChunkSize int
	UploadMethod      string
	Logger            *slog.Logger
}

func defaultConfig() Config {
	return Config{
		UploadChunkSize:   DefaultUploadChunkSize,
		DownloadChunkSize: DefaultDownloadChunkSize,
		UploadMethod:      MethodPOST,
		Logger:            slog.New(slog.DiscardHandler),
	}
}

// Option is a functional option for configuring the Registry
type Option func(*Config)

// WithUploadChunkSize sets the upload chunk size
func WithUploadChunkSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.UploadChunkSize = n
		}
	}
}

// WithDownloadChunkSize sets the download chunk size
func WithDownloadChunkSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.DownloadChunkSize = n
		}
	}
}

// WithUploadMethod sets the advertised upload method, GET or POST
func WithUploadMethod(m string) Option {
	return func(c *Config) {
		if m == MethodGET || m == MethodPOST {
			c.UploadMethod = m
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// UploadStart is returned when an upload session opens
type UploadStart struct {
	ChunkSize int
	Method    string
}

// DownloadStart is returned when a download session opens
type DownloadStart struct {
	ChunkSize int
	FileSize  int64
}

type session struct {
	inUse bool
	token string
	path  string
	file  afero.File
	size  int64
}

// table is a fixed set of sessions scanned linearly under one lock
type table struct {
	mu    sync.Mutex
	slots [MaxSessions]session
}

func (t *table) find(token string) *session {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].token == token {
			return &t.slots[i]
		}
	}
	return nil
}

func (t *table) alloc(token string) *session {
	for i := range t.slots {
		if !t.slots[i].inUse {
			t.slots[i] = session{inUse: true, token: token}
			return &t.slots[i]
		}
	}
	return nil
}

func (t *table) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.slots {
		if t.slots[i].inUse {
			n++
		}
	}
	return n
}

// release closes the file and frees the slot
func release(s *session) error {
	var err error
	if s.file != nil {
		err = s.file.Close()
	}
	*s = session{}
	return err
}

// Registry owns the upload and download session tables
type Registry struct {
	cfg       Config
	fs        afero.Fs
	uploads   table
	downloads table
}

// NewRegistry creates an empty registry over fsys
func NewRegistry(fsys afero.Fs, opts ...Option) *Registry {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{cfg: cfg, fs: fsys}
}

// UploadChunkSize returns the negotiated upload chunk size
func (r *Registry) UploadChunkSize() int { return r.cfg.UploadChunkSize }

// DownloadChunkSize returns the negotiated download chunk size
func (r *Registry) DownloadChunkSize() int { return r.cfg.DownloadChunkSize }

// ActiveUploads returns the number of open upload sessions
func (r *Registry) ActiveUploads() int { return r.uploads.active() }

// ActiveDownloads returns the number of open download sessions
func (r *Registry) ActiveDownloads() int { return r.downloads.active() }

func validate(token, path string) error {
	if token == "" || len(token) > MaxTokenLen {
		return fmt.Errorf("%w: bad token", ErrPathInvalid)
	}
	if path == "" || len(path) > MaxPathLen {
		return ErrPathInvalid
	}
	return nil
}

// open fills a slot with a freshly opened file. A token already in use
// restarts its own slot instead of taking a new one.
func (r *Registry) open(t *table, token, path string, flag int) (*session, error) {
	if err := validate(token, path); err != nil {
		return nil, err
	}

	s := t.find(token)
	if s != nil {
		r.cfg.Logger.Info("restarting session", "token", token)
		_ = release(s)
		*s = session{inUse: true, token: token}
	} else if s = t.alloc(token); s == nil {
		return nil, ErrNoFreeSlot
	}

	f, err := r.fs.OpenFile(path, flag, 0o644)
	if err != nil {
		*s = session{}
		return nil, fmt.Errorf("%w %s: %v", ErrOpenFailed, path, err)
	}
	s.file = f
	s.path = path
	return s, nil
}

// StartUpload creates (or truncates) path and opens an upload session
func (r *Registry) StartUpload(token, path string) (UploadStart, error) {
	r.uploads.mu.Lock()
	defer r.uploads.mu.Unlock()

	if _, err := r.open(&r.uploads, token, path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC); err != nil {
		return UploadStart{}, err
	}
	r.cfg.Logger.Info("upload started", "token", token, "path", path)
	return UploadStart{ChunkSize: r.cfg.UploadChunkSize, Method: r.cfg.UploadMethod}, nil
}

// WriteChunk writes raw chunk data at index * chunk size
func (r *Registry) WriteChunk(token string, index int, data []byte) error {
	if len(data) > r.cfg.UploadChunkSize {
		return fmt.Errorf("%w: chunk of %d bytes exceeds %d", ErrDecodeFailed, len(data), r.cfg.UploadChunkSize)
	}
	if index < 0 {
		return fmt.Errorf("%w: negative chunk index", ErrIOFailed)
	}

	r.uploads.mu.Lock()
	defer r.uploads.mu.Unlock()

	s := r.uploads.find(token)
	if s == nil {
		return ErrUnknownToken
	}

	off := int64(index) * int64(r.cfg.UploadChunkSize)
	n, err := s.file.WriteAt(data, off)
	if err != nil || n != len(data) {
		return fmt.Errorf("%w: wrote %d of %d at %d: %v", ErrIOFailed, n, len(data), off, err)
	}
	r.cfg.Logger.Debug("chunk written", "token", token, "chunk", index, "bytes", n)
	return nil
}

// WriteChunkBase64 decodes a base64 payload and writes it like WriteChunk
func (r *Registry) WriteChunkBase64(token string, index int, payload string) error {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return r.WriteChunk(token, index, data)
}

// EndUpload closes the file and frees the session
func (r *Registry) EndUpload(token string) error {
	return r.finish(&r.uploads, token, "upload completed")
}

// CancelUpload frees the session. The partial file is kept.
func (r *Registry) CancelUpload(token string) error {
	return r.finish(&r.uploads, token, "upload cancelled")
}

// StartDownload opens path for reading and reports its size
func (r *Registry) StartDownload(token, path string) (DownloadStart, error) {
	r.downloads.mu.Lock()
	defer r.downloads.mu.Unlock()

	s, err := r.open(&r.downloads, token, path, os.O_RDONLY)
	if err != nil {
		return DownloadStart{}, err
	}

	info, err := s.file.Stat()
	if err != nil {
		_ = release(s)
		return DownloadStart{}, fmt.Errorf("%w %s: %v", ErrOpenFailed, path, err)
	}
	if info.IsDir() {
		_ = release(s)
		return DownloadStart{}, fmt.Errorf("%w %s: is a directory", ErrOpenFailed, path)
	}

	s.size = info.Size()
	r.cfg.Logger.Info("download started", "token", token, "path", path, "size", s.size)
	return DownloadStart{ChunkSize: r.cfg.DownloadChunkSize, FileSize: info.Size()}, nil
}

// ReadChunk reads up to one chunk at index * chunk size.
// Past the end of the file it returns no data and no error.
func (r *Registry) ReadChunk(token string, index int) ([]byte, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: negative chunk index", ErrIOFailed)
	}

	r.downloads.mu.Lock()
	defer r.downloads.mu.Unlock()

	s := r.downloads.find(token)
	if s == nil {
		return nil, ErrUnknownToken
	}

	off := int64(index) * int64(r.cfg.DownloadChunkSize)
	if off >= s.size {
		return []byte{}, nil
	}

	buf := make([]byte, min(int64(r.cfg.DownloadChunkSize), s.size-off))
	n, err := s.file.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read at %d: %v", ErrIOFailed, off, err)
	}
	return buf[:n], nil
}

// EndDownload closes the file and frees the session
func (r *Registry) EndDownload(token string) error {
	return r.finish(&r.downloads, token, "download completed")
}

// CancelDownload frees the session
func (r *Registry) CancelDownload(token string) error {
	return r.finish(&r.downloads, token, "download cancelled")
}

func (r *Registry) finish(t *table, token, msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.find(token)
	if s == nil {
		return ErrUnknownToken
	}
	path := s.path
	if err := release(s); err != nil {
		r.cfg.Logger.Warn("error closing file", "path", path, "err", err)
	}
	r.cfg.Logger.Info(msg, "token", token, "path", path)
	return nil
}

// Close releases every session
func (r *Registry) Close() {
	for _, t := range []*table{&r.uploads, &r.downloads} {
		t.mu.Lock()
		for i := range t.slots {
			if t.slots[i].inUse {
				_ = release(&t.slots[i])
			}
		}
		t.mu.Unlock()
	}
}
