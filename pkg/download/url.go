// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package download

import (
	"fmt"
	"strings"
)

// Component limits, including room for a terminator on the device
const (
	maxProtocolLen = 16
	maxHostLen     = 128
	maxURILen      = 256
)

// DefaultFilename is used when the URL path has no file name
const DefaultFilename = "default.bin"

// URL is a download URL split the way the HTTP client needs it
type URL struct {
	Raw      string
	Protocol string
	Host     string
	URI      string // includes the leading '/', may be empty
	Filename string
}

// String returns the URL the request is sent to
func (u URL) String() string {
	uri := u.URI
	if uri == "" {
		uri = "/"
	}
	return u.Protocol + "://" + u.Host + uri
}

// ParseURL splits a URL into protocol, host, URI and file name
func ParseURL(raw string) (URL, error) {
	u := URL{Raw: raw}

	protocolEnd := strings.Index(raw, "://")
	if protocolEnd < 0 {
		return u, fmt.Errorf("%w: missing protocol separator", ErrURLParse)
	}
	if protocolEnd >= maxProtocolLen {
		return u, fmt.Errorf("%w: protocol too long", ErrURLParse)
	}
	u.Protocol = raw[:protocolEnd]

	rest := raw[protocolEnd+3:]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		u.Host = rest[:slash]
		u.URI = rest[slash:]
	} else {
		u.Host = rest
	}
	if len(u.Host) >= maxHostLen {
		return u, fmt.Errorf("%w: host too long", ErrURLParse)
	}
	if len(u.URI) >= maxURILen {
		return u, fmt.Errorf("%w: URI too long", ErrURLParse)
	}

	u.Filename = u.URI[strings.LastIndexByte(u.URI, '/')+1:]
	if u.Filename == "" {
		u.Filename = DefaultFilename
	}

	return u, nil
}
