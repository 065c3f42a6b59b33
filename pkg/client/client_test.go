// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/mngr/pkg/download"
	"github.com/Thermoquad/mngr/pkg/httpd"
	"github.com/Thermoquad/mngr/pkg/transfer"
)

type idleJob struct{}

func (idleJob) Request(string, string) error { return nil }
func (idleJob) Info() download.Info          { return download.Info{} }

func newDevice(t *testing.T, opts ...transfer.Option) (*httptest.Server, afero.Fs, *transfer.Registry) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/user", 0o755))
	sessions := transfer.NewRegistry(fs, opts...)
	srv := httptest.NewServer(httpd.New(fs, sessions, idleJob{}).Handler())
	t.Cleanup(srv.Close)
	return srv, fs, sessions
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://x", "sidecart", "http://"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}
}

func TestNewTokenFitsDevice(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.LessOrEqual(t, len(a), transfer.MaxTokenLen)
	assert.NotEqual(t, a, b)
}

func TestPushPullPost(t *testing.T) {
	srv, fs, sessions := newDevice(t)
	c, err := New(srv.URL)
	require.NoError(t, err)

	data := payload(3*transfer.DefaultUploadChunkSize + 123)
	var calls int
	err = c.Push(context.Background(), bytes.NewReader(data), int64(len(data)), "/user/app.bin", func(done, total int64) {
		calls++
		assert.Equal(t, int64(len(data)), total)
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 0, sessions.ActiveUploads())

	stored, err := afero.ReadFile(fs, "/user/app.bin")
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	var out bytes.Buffer
	n, err := c.Pull(context.Background(), "/user/app.bin", &out, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, out.Bytes())
	assert.Equal(t, 0, sessions.ActiveDownloads())
}

func TestPushGetMethod(t *testing.T) {
	srv, fs, _ := newDevice(t, transfer.WithUploadMethod(transfer.MethodGET), transfer.WithUploadChunkSize(100))
	c, err := New(srv.URL + "/")
	require.NoError(t, err)

	data := payload(250)
	require.NoError(t, c.Push(context.Background(), bytes.NewReader(data), int64(len(data)), "/user/g.bin", nil))

	stored, err := afero.ReadFile(fs, "/user/g.bin")
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestPushEmptyFile(t *testing.T) {
	srv, fs, _ := newDevice(t)
	c, err := New(srv.URL)
	require.NoError(t, err)

	require.NoError(t, c.Push(context.Background(), bytes.NewReader(nil), 0, "/user/empty", nil))
	stored, err := afero.ReadFile(fs, "/user/empty")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestPullMissingFile(t *testing.T) {
	srv, _, _ := newDevice(t)
	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Pull(context.Background(), "/user/missing", &bytes.Buffer{}, nil)
	var se *ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "download_start.cgi", se.Endpoint)
	assert.Equal(t, "cannot open file", se.Message)
}

func TestPushRetriesTransportFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/user", 0o755))
	device := httpd.New(fs, transfer.NewRegistry(fs, transfer.WithUploadChunkSize(4)), idleJob{}).Handler()

	// Drop the first attempt of every chunk on the floor
	var chunkCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/upload_chunk.cgi" && chunkCalls.Add(1)%2 == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("bad gateway"))
			return
		}
		device.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithRetries(1))
	require.NoError(t, err)

	data := []byte("0123456789")
	require.NoError(t, c.Push(context.Background(), bytes.NewReader(data), int64(len(data)), "/user/r.bin", nil))
	assert.Equal(t, int32(6), chunkCalls.Load())

	stored, err := afero.ReadFile(fs, "/user/r.bin")
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestPushCancelsOnFailure(t *testing.T) {
	srv, fs, sessions := newDevice(t, transfer.WithUploadChunkSize(4))
	c, err := New(srv.URL)
	require.NoError(t, err)

	err = c.Push(context.Background(), failingReader{}, 100, "/user/f.bin", nil)
	require.Error(t, err)
	assert.Equal(t, 0, sessions.ActiveUploads())

	exists, _ := afero.Exists(fs, "/user/f.bin")
	assert.True(t, exists, "cancel keeps the partial file")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }
