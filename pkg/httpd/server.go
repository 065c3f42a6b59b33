// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package httpd serves the CGI-style endpoints used by the browser UI:
// chunked transfer sessions, background download requests, directory
// listing and basic file management.
package httpd

import (
	"log/slog"
	"net/http"

	"github.com/spf13/afero"

	"github.com/Thermoquad/mngr/pkg/download"
	"github.com/Thermoquad/mngr/pkg/transfer"
)

// BufferSize is the capacity of the JSON response buffer
const BufferSize = 4096

// DownloadJob is the part of the download job the endpoints drive
type DownloadJob interface {
	Request(rawURL, folder string) error
	Info() download.Info
}

// Server holds the collaborators behind the endpoints
type Server struct {
	fs       afero.Fs
	sessions *transfer.Registry
	job      DownloadJob
	display  http.Handler
	htmlDir  string
	logger   *slog.Logger
}

// Option is a functional option for configuring the Server
type Option func(*Server)

// WithDisplayHub mounts the display event stream at /ws/display
func WithDisplayHub(h http.Handler) Option {
	return func(s *Server) { s.display = h }
}

// WithStaticDir serves the web UI from dir
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.htmlDir = dir }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server over the storage, the session registry and the job
func New(fsys afero.Fs, sessions *transfer.Registry, job DownloadJob, opts ...Option) *Server {
	s := &Server{
		fs:       fsys,
		sessions: sessions,
		job:      job,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with every endpoint registered
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.logRequests(mux)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/download.cgi", s.handleDownload)
	mux.HandleFunc("/download_status.cgi", s.handleDownloadStatus)
	mux.HandleFunc("/test.cgi", s.handleTest)

	mux.HandleFunc("/upload_start.cgi", s.handleUploadStart)
	mux.HandleFunc("/upload_chunk.cgi", s.handleUploadChunk)
	mux.HandleFunc("/upload_end.cgi", s.handleUploadEnd)
	mux.HandleFunc("/upload_cancel.cgi", s.handleUploadCancel)

	mux.HandleFunc("/download_start.cgi", s.handleDownloadStart)
	mux.HandleFunc("/download_chunk.cgi", s.handleDownloadChunk)
	mux.HandleFunc("/download_end.cgi", s.handleDownloadEnd)
	mux.HandleFunc("/download_cancel.cgi", s.handleDownloadCancel)

	mux.HandleFunc("/ls.cgi", s.handleList)
	mux.HandleFunc("/folder.cgi", s.handleFolders)
	mux.HandleFunc("/mkdir.cgi", s.handleMkdir)
	mux.HandleFunc("/ren.cgi", s.handleRename)
	mux.HandleFunc("/del.cgi", s.handleDelete)
	mux.HandleFunc("/attr.cgi", s.handleAttr)

	if s.display != nil {
		mux.Handle("/ws/display", s.display)
	}
	if s.htmlDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.htmlDir)))
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
