// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpd

import (
	"errors"
	"net/http"

	"github.com/Thermoquad/mngr/pkg/download"
)

type downloadStatusBody struct {
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	URL           string `json:"url"`
	Folder        string `json:"folder"`
	Written       int64  `json:"written"`
	ContentLength int64  `json:"contentLength"`
}

// handleDownload queues the background download and sends the browser
// to the progress page
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p, ok := params(r, "folder", "url")
	if !ok {
		redirectError(w, r, http.StatusBadRequest, "Bad request")
		return
	}
	folder, rawURL := p[0], p[1]

	if err := s.job.Request(rawURL, folder); err != nil {
		s.logger.Info("download request rejected", "url", rawURL, "err", err)
		switch {
		case errors.Is(err, download.ErrBusy):
			redirectError(w, r, http.StatusConflict, "Download in progress")
		default:
			redirectError(w, r, http.StatusBadRequest, "Invalid url")
		}
		return
	}
	http.Redirect(w, r, downloadingPage, http.StatusFound)
}

func (s *Server) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	info := s.job.Info()
	s.writeJSON(w, http.StatusOK, downloadStatusBody{
		Status:        info.Status.String(),
		Error:         info.Error,
		URL:           info.URL,
		Folder:        info.Folder,
		Written:       info.Written,
		ContentLength: info.ContentLength,
	})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, testPage, http.StatusFound)
}
