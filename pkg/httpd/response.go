// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/Thermoquad/mngr/pkg/transfer"
)

// Error messages shared with the browser UI
const (
	msgMissingParameters = "missing parameters"
	msgInvalidParameters = "invalid parameters"
	msgInvalidEncoding   = "invalid encoding"
	msgInvalidPayload    = "invalid payload encoding"
	msgWriteFailed       = "write failed"
	msgReadFailed        = "read failed"
	msgDirectoryNotEmpty = "directory not empty"
)

// Error page redirects for the download form
const (
	errorPage       = "/error.shtml"
	downloadingPage = "/downloading.shtml"
	testPage        = "/test.shtml"
)

type errorBody struct {
	Error string `json:"error"`
}

type statusBody struct {
	Status string `json:"status"`
}

// writeJSON renders v into the response buffer
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("cannot encode response", "err", err)
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}`)
	}
	if len(body) > BufferSize {
		s.logger.Warn("response exceeds buffer", "size", len(body))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func (s *Server) writeStatus(w http.ResponseWriter, status string) {
	s.writeJSON(w, http.StatusOK, statusBody{Status: status})
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorBody{Error: msg})
}

// writeSessionError maps a session error to its message. op is
// msgWriteFailed or msgReadFailed, used for I/O failures.
func (s *Server) writeSessionError(w http.ResponseWriter, err error, op string) {
	s.logger.Info("session request failed", "err", err)

	switch {
	case errors.Is(err, transfer.ErrNoFreeSlot):
		s.writeError(w, http.StatusServiceUnavailable, transfer.ErrNoFreeSlot.Error())
	case errors.Is(err, transfer.ErrUnknownToken):
		s.writeError(w, http.StatusNotFound, transfer.ErrUnknownToken.Error())
	case errors.Is(err, transfer.ErrPathInvalid):
		s.writeError(w, http.StatusBadRequest, transfer.ErrPathInvalid.Error())
	case errors.Is(err, transfer.ErrOpenFailed):
		s.writeError(w, http.StatusNotFound, transfer.ErrOpenFailed.Error())
	case errors.Is(err, transfer.ErrDecodeFailed):
		s.writeError(w, http.StatusBadRequest, transfer.ErrDecodeFailed.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, op)
	}
}

// redirectError sends the browser to the error page
func redirectError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	target := fmt.Sprintf("%s?error=%d&error_msg=%s", errorPage, code, url.PathEscape(msg))
	http.Redirect(w, r, target, http.StatusFound)
}

// params returns the named query values, or false if any is missing.
// Values are already percent-decoded by net/url.
func params(r *http.Request, names ...string) ([]string, bool) {
	q := r.URL.Query()
	out := make([]string, len(names))
	for i, n := range names {
		if !q.Has(n) {
			return nil, false
		}
		out[i] = q.Get(n)
	}
	return out, true
}

// storagePath joins folder and name the way the UI builds paths
func storagePath(folder, name string) string {
	return path.Clean("/" + folder + "/" + name)
}

func parseIndex(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Storage result codes reported in "... failed %d" messages
const (
	resultDiskErr = 1
	resultNoFile  = 4
	resultInvalid = 6
	resultDenied  = 7
	resultExist   = 8
)

func resultCode(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return resultNoFile
	case errors.Is(err, fs.ErrExist):
		return resultExist
	case errors.Is(err, fs.ErrPermission):
		return resultDenied
	case errors.Is(err, fs.ErrInvalid):
		return resultInvalid
	default:
		return resultDiskErr
	}
}

func resultStatus(code int) int {
	switch code {
	case resultNoFile:
		return http.StatusNotFound
	case resultExist:
		return http.StatusConflict
	case resultDenied:
		return http.StatusForbidden
	case resultInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
