// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpd

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"
)

type uploadStartBody struct {
	Status    string `json:"status"`
	ChunkSize int    `json:"chunkSize"`
	Method    string `json:"method"`
}

type downloadStartBody struct {
	Status    string `json:"status"`
	ChunkSize int    `json:"chunkSize"`
	FileSize  int64  `json:"fileSize"`
}

type chunkBody struct {
	Status string `json:"status"`
	Length int    `json:"length"`
	Data   string `json:"data"`
}

func (s *Server) handleUploadStart(w http.ResponseWriter, r *http.Request) {
	p, ok := params(r, "token", "fullpath")
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgMissingParameters)
		return
	}

	start, err := s.sessions.StartUpload(p[0], storagePath(p[1], ""))
	if err != nil {
		s.writeSessionError(w, err, msgWriteFailed)
		return
	}
	s.writeJSON(w, http.StatusOK, uploadStartBody{
		Status:    "started",
		ChunkSize: start.ChunkSize,
		Method:    start.Method,
	})
}

// handleUploadChunk accepts either a base64 payload parameter (GET) or
// the raw chunk as the request body (POST).
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	p, ok := params(r, "token", "chunk")
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgMissingParameters)
		return
	}
	token := p[0]
	index, ok := parseIndex(p[1])
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgInvalidParameters)
		return
	}

	var err error
	if r.Method == http.MethodPost {
		limit := int64(s.sessions.UploadChunkSize())
		data, rerr := io.ReadAll(io.LimitReader(r.Body, limit+1))
		if rerr != nil || int64(len(data)) > limit {
			s.writeError(w, http.StatusBadRequest, msgInvalidPayload)
			return
		}
		err = s.sessions.WriteChunk(token, index, data)
	} else {
		payload, ok := params(r, "payload")
		if !ok {
			s.writeError(w, http.StatusBadRequest, msgMissingParameters)
			return
		}
		// A literal '+' that was not percent-encoded decodes to a space
		err = s.sessions.WriteChunkBase64(token, index, strings.ReplaceAll(payload[0], " ", "+"))
	}

	if err != nil {
		s.writeSessionError(w, err, msgWriteFailed)
		return
	}
	s.writeStatus(w, "chunk_ok")
}

func (s *Server) handleUploadEnd(w http.ResponseWriter, r *http.Request) {
	s.endSession(w, r, s.sessions.EndUpload, "completed")
}

func (s *Server) handleUploadCancel(w http.ResponseWriter, r *http.Request) {
	s.endSession(w, r, s.sessions.CancelUpload, "cancelled")
}

func (s *Server) handleDownloadStart(w http.ResponseWriter, r *http.Request) {
	p, ok := params(r, "token", "fullpath")
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgMissingParameters)
		return
	}

	start, err := s.sessions.StartDownload(p[0], storagePath(p[1], ""))
	if err != nil {
		s.writeSessionError(w, err, msgReadFailed)
		return
	}
	s.writeJSON(w, http.StatusOK, downloadStartBody{
		Status:    "started",
		ChunkSize: start.ChunkSize,
		FileSize:  start.FileSize,
	})
}

func (s *Server) handleDownloadChunk(w http.ResponseWriter, r *http.Request) {
	p, ok := params(r, "token", "chunk")
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgMissingParameters)
		return
	}
	index, ok := parseIndex(p[1])
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgInvalidParameters)
		return
	}

	data, err := s.sessions.ReadChunk(p[0], index)
	if err != nil {
		s.writeSessionError(w, err, msgReadFailed)
		return
	}
	s.writeJSON(w, http.StatusOK, chunkBody{
		Status: "chunk",
		Length: len(data),
		Data:   base64.StdEncoding.EncodeToString(data),
	})
}

func (s *Server) handleDownloadEnd(w http.ResponseWriter, r *http.Request) {
	s.endSession(w, r, s.sessions.EndDownload, "completed")
}

func (s *Server) handleDownloadCancel(w http.ResponseWriter, r *http.Request) {
	s.endSession(w, r, s.sessions.CancelDownload, "cancelled")
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request, end func(string) error, status string) {
	p, ok := params(r, "token")
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgMissingParameters)
		return
	}
	if err := end(p[0]); err != nil {
		s.writeSessionError(w, err, msgWriteFailed)
		return
	}
	s.writeStatus(w, status)
}
