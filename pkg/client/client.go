// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package client drives the chunked transfer endpoints the same way the
// browser UI does, for pushing files to and pulling files from a device.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ServerError is an {"error": ...} reply from the device
type ServerError struct {
	Endpoint string
	Message  string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
}

// Progress is called after every chunk with the bytes done so far.
// total is -1 when unknown.
type Progress func(done, total int64)

// Config holds the client configuration
type Config struct {
	HTTPClient *http.Client
	Retries    int
	Logger     *slog.Logger
}

// Option is a functional option for configuring the Client
type Option func(*Config)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *Config) { cfg.HTTPClient = c }
}

// WithRetries sets how many times a failed chunk is re-sent
func WithRetries(n int) Option {
	return func(cfg *Config) { cfg.Retries = n }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// Client talks to one device
type Client struct {
	base string
	cfg  Config
}

// New creates a client for the device at baseURL (e.g. http://sidecart)
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid device URL %q", baseURL)
	}

	cfg := Config{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Retries:    2,
		Logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), cfg: cfg}, nil
}

// NewToken returns a fresh session token short enough for the device
func NewToken() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

type reply struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	ChunkSize int    `json:"chunkSize"`
	Method    string `json:"method"`
	FileSize  int64  `json:"fileSize"`
	Length    int    `json:"length"`
	Data      string `json:"data"`
}

func (c *Client) endpoint(name string, q url.Values) string {
	return c.base + "/" + name + "?" + q.Encode()
}

func (c *Client) call(ctx context.Context, method, name string, q url.Values, body []byte) (reply, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(name, q), rd)
	if err != nil {
		return reply{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return reply{}, fmt.Errorf("%s: %v", name, err)
	}
	defer resp.Body.Close()

	var r reply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return reply{}, fmt.Errorf("%s: invalid response (HTTP %d): %v", name, resp.StatusCode, err)
	}
	if r.Error != "" {
		return r, &ServerError{Endpoint: name, Message: r.Error}
	}
	return r, nil
}

// retry re-sends an idempotent chunk request
func (c *Client) retry(ctx context.Context, fn func() (reply, error)) (reply, error) {
	var r reply
	var err error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		r, err = fn()
		if err == nil {
			return r, nil
		}
		var se *ServerError
		if errors.As(err, &se) || ctx.Err() != nil {
			return r, err
		}
		c.cfg.Logger.Warn("chunk failed, retrying", "attempt", attempt+1, "err", err)
	}
	return r, err
}

// Push uploads size bytes from src to fullpath on the device
func (c *Client) Push(ctx context.Context, src io.Reader, size int64, fullpath string, progress Progress) error {
	token := NewToken()
	start, err := c.call(ctx, http.MethodGet, "upload_start.cgi", url.Values{
		"token":    {token},
		"fullpath": {fullpath},
	}, nil)
	if err != nil {
		return err
	}
	if start.ChunkSize <= 0 {
		return fmt.Errorf("upload_start.cgi: invalid chunk size %d", start.ChunkSize)
	}
	c.cfg.Logger.Info("upload started", "path", fullpath, "chunk_size", start.ChunkSize, "method", start.Method)

	if err := c.pushChunks(ctx, token, src, size, start, progress); err != nil {
		_, _ = c.call(context.WithoutCancel(ctx), http.MethodGet, "upload_cancel.cgi", url.Values{"token": {token}}, nil)
		return err
	}

	_, err = c.call(ctx, http.MethodGet, "upload_end.cgi", url.Values{"token": {token}}, nil)
	return err
}

func (c *Client) pushChunks(ctx context.Context, token string, src io.Reader, size int64, start reply, progress Progress) error {
	buf := make([]byte, start.ChunkSize)
	var done int64

	for index := 0; ; index++ {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			chunk := buf[:n]
			q := url.Values{"token": {token}, "chunk": {strconv.Itoa(index)}}
			_, err := c.retry(ctx, func() (reply, error) {
				if start.Method == "GET" {
					q.Set("payload", base64.StdEncoding.EncodeToString(chunk))
					return c.call(ctx, http.MethodGet, "upload_chunk.cgi", q, nil)
				}
				return c.call(ctx, http.MethodPost, "upload_chunk.cgi", q, chunk)
			})
			if err != nil {
				return err
			}
			done += int64(n)
			if progress != nil {
				progress(done, size)
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read source: %v", rerr)
		}
	}
}

// Pull downloads fullpath from the device into dst
func (c *Client) Pull(ctx context.Context, fullpath string, dst io.Writer, progress Progress) (int64, error) {
	token := NewToken()
	start, err := c.call(ctx, http.MethodGet, "download_start.cgi", url.Values{
		"token":    {token},
		"fullpath": {fullpath},
	}, nil)
	if err != nil {
		return 0, err
	}
	c.cfg.Logger.Info("download started", "path", fullpath, "size", start.FileSize)

	written, err := c.pullChunks(ctx, token, dst, start.FileSize, progress)
	if err != nil {
		_, _ = c.call(context.WithoutCancel(ctx), http.MethodGet, "download_cancel.cgi", url.Values{"token": {token}}, nil)
		return written, err
	}

	_, err = c.call(ctx, http.MethodGet, "download_end.cgi", url.Values{"token": {token}}, nil)
	return written, err
}

func (c *Client) pullChunks(ctx context.Context, token string, dst io.Writer, size int64, progress Progress) (int64, error) {
	var written int64
	for index := 0; written < size; index++ {
		q := url.Values{"token": {token}, "chunk": {strconv.Itoa(index)}}
		r, err := c.retry(ctx, func() (reply, error) {
			return c.call(ctx, http.MethodGet, "download_chunk.cgi", q, nil)
		})
		if err != nil {
			return written, err
		}
		if r.Length == 0 {
			return written, fmt.Errorf("download_chunk.cgi: file ended at %d of %d bytes", written, size)
		}

		data, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil || len(data) != r.Length {
			return written, fmt.Errorf("download_chunk.cgi: corrupt chunk %d", index)
		}
		n, err := dst.Write(data)
		written += int64(n)
		if err != nil {
			return written, err
		}
		if progress != nil {
			progress(written, size)
		}
	}
	return written, nil
}
