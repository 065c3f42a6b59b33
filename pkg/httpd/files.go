// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Entry attribute bits, FAT layout
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrDirectory = 0x10
	AttrArchive   = 0x20
)

// listSentinel closes a truncated listing
const listSentinel = ",{}]"

// listEntry is one ls.cgi element
type listEntry struct {
	Name string `json:"n"`
	Attr uint8  `json:"a"`
	Size int64  `json:"s"`
	Time uint32 `json:"t"`
}

func attributes(fi fs.FileInfo) uint8 {
	var a uint8
	if fi.IsDir() {
		a |= AttrDirectory
	} else {
		a |= AttrArchive
	}
	if fi.Mode().Perm()&0o200 == 0 {
		a |= AttrReadOnly
	}
	if strings.HasPrefix(fi.Name(), ".") {
		a |= AttrHidden
	}
	return a
}

// fatTimestamp packs t as FAT date in the high half and FAT time in the low half
func fatTimestamp(t time.Time) uint32 {
	if t.Year() < 1980 {
		return 0
	}
	date := uint32(t.Year()-1980)<<9 | uint32(t.Month())<<5 | uint32(t.Day())
	clock := uint32(t.Hour())<<11 | uint32(t.Minute())<<5 | uint32(t.Second()/2)
	return date<<16 | clock
}

// handleList writes the entries of folder starting at nextItem. When the
// buffer fills up the array ends with an empty {} element and the client
// asks again from the next index.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("folder") {
		s.writeRaw(w, []byte("[]"))
		return
	}
	next := 0
	if raw := q.Get("nextItem"); raw != "" {
		next, _ = parseIndex(raw)
	}

	entries, err := afero.ReadDir(s.fs, storagePath(q.Get("folder"), ""))
	if err != nil {
		s.logger.Info("cannot open directory", "folder", q.Get("folder"), "err", err)
		s.writeRaw(w, []byte("[]"))
		return
	}

	s.writeRaw(w, listJSON(entries, next))
}

func listJSON(entries []os.FileInfo, next int) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')

	count := 0
	truncated := false
	for i, fi := range entries {
		if i < next {
			continue
		}
		item, err := json.Marshal(listEntry{
			Name: fi.Name(),
			Attr: attributes(fi),
			Size: entrySize(fi),
			Time: fatTimestamp(fi.ModTime()),
		})
		if err != nil {
			continue
		}
		// The entry, its separator and the sentinel must all fit
		if buf.Len()+1+len(item)+len(listSentinel) > BufferSize {
			truncated = true
			break
		}
		if count > 0 {
			buf.WriteByte(',')
		}
		buf.Write(item)
		count++
	}

	if truncated {
		if count > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("{}")
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func entrySize(fi fs.FileInfo) int64 {
	if fi.IsDir() {
		return 0
	}
	return fi.Size()
}

// handleFolders lists the subdirectory names of folder
func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	names := []string{}

	p, ok := params(r, "folder")
	if ok {
		entries, err := afero.ReadDir(s.fs, storagePath(p[0], ""))
		if err != nil {
			s.logger.Info("cannot open directory", "folder", p[0], "err", err)
		}
		for _, fi := range entries {
			if fi.IsDir() {
				names = append(names, fi.Name())
			}
		}
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	p, ok := params(r, "folder", "src")
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgMissingParameters)
		return
	}
	if err := s.fs.Mkdir(storagePath(p[0], p[1]), 0o755); err != nil {
		s.failed(w, "mkdir", err)
		return
	}
	s.writeStatus(w, "created")
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	p, ok := params(r, "folder", "src", "dst")
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgMissingParameters)
		return
	}
	from, to := storagePath(p[0], p[1]), storagePath(p[0], p[2])
	if _, err := s.fs.Stat(to); err == nil {
		s.failed(w, "rename", fs.ErrExist)
		return
	}
	if err := s.fs.Rename(from, to); err != nil {
		s.failed(w, "rename", err)
		return
	}
	s.writeStatus(w, "renamed")
}

// handleDelete removes a file, or a directory only when it is empty
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := params(r, "folder", "src")
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgMissingParameters)
		return
	}
	target := storagePath(p[0], p[1])

	fi, err := s.fs.Stat(target)
	if err != nil {
		s.failed(w, "delete", err)
		return
	}
	if fi.IsDir() {
		empty, err := afero.IsEmpty(s.fs, target)
		if err != nil {
			s.failed(w, "delete", err)
			return
		}
		if !empty {
			s.writeError(w, http.StatusConflict, msgDirectoryNotEmpty)
			return
		}
	}
	if err := s.fs.Remove(target); err != nil {
		s.failed(w, "delete", err)
		return
	}
	s.writeStatus(w, "deleted")
}

// handleAttr sets the read-only flag. Hidden has no host equivalent
// and is accepted but not applied.
func (s *Server) handleAttr(w http.ResponseWriter, r *http.Request) {
	p, ok := params(r, "folder", "src", "hidden", "readonly")
	if !ok {
		s.writeError(w, http.StatusBadRequest, msgMissingParameters)
		return
	}
	target := storagePath(p[0], p[1])
	ro, _ := strconv.Atoi(p[3])
	readOnly := ro != 0

	fi, err := s.fs.Stat(target)
	if err != nil {
		s.failed(w, "chmod", err)
		return
	}

	mode := fs.FileMode(0o644)
	if fi.IsDir() {
		mode = 0o755
	}
	if readOnly {
		mode &^= 0o222
	}
	if err := s.fs.Chmod(target, mode); err != nil {
		s.failed(w, "chmod", err)
		return
	}
	s.writeStatus(w, "attributes updated")
}

func (s *Server) failed(w http.ResponseWriter, op string, err error) {
	code := resultCode(err)
	s.logger.Info("file operation failed", "op", op, "code", code, "err", err)
	s.writeError(w, resultStatus(code), fmt.Sprintf("%s failed %d", op, code))
}

func (s *Server) writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}
