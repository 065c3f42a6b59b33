// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package download

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// EventKind identifies a stream event
type EventKind int

// Stream events
const (
	EventHeader EventKind = iota
	EventBody
	EventDone
)

// Event is one step of a streaming response
type Event struct {
	Kind   EventKind
	Header string // raw header text, EventHeader only
	Data   []byte // EventBody only
	Err    error  // EventDone only, nil on success
}

// Request is what a transport needs to fetch a file
type Request struct {
	URL           URL
	SkipTLSVerify bool
}

// Stream is an in-flight response. Body events are flow controlled:
// the next one is not produced until the previous one is acknowledged.
type Stream interface {
	Events() <-chan Event
	Ack(n int)
	Close() error
}

// Transport starts streaming requests
type Transport interface {
	Start(ctx context.Context, req Request) (Stream, error)
}

// HTTPTransport streams files over HTTP and HTTPS
type HTTPTransport struct {
	// BufferSize bounds a single body event
	BufferSize int
}

const defaultBufferSize = 1460

// Start issues the request in the background
func (t *HTTPTransport) Start(ctx context.Context, req Request) (Stream, error) {
	switch req.URL.Protocol {
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", req.URL.Protocol)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}

	transport := &http.Transport{}
	if req.URL.Protocol == "https" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: req.SkipTLSVerify}
	}

	size := t.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}

	s := &httpStream{
		events:    make(chan Event, 1),
		acks:      make(chan int, 1),
		ctx:       ctx,
		cancel:    cancel,
		transport: transport,
	}
	s.wg.Add(1)
	go s.run(&http.Client{Transport: transport}, httpReq, size)

	return s, nil
}

type httpStream struct {
	events    chan Event
	acks      chan int
	ctx       context.Context
	cancel    context.CancelFunc
	transport *http.Transport
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *httpStream) Events() <-chan Event { return s.events }

func (s *httpStream) Ack(n int) {
	select {
	case s.acks <- n:
	default:
	}
}

// Close cancels the request and releases the connection and TLS state
func (s *httpStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.transport.CloseIdleConnections()
	})
	return nil
}

func (s *httpStream) send(e Event) bool {
	select {
	case s.events <- e:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *httpStream) run(client *http.Client, req *http.Request, size int) {
	defer s.wg.Done()

	resp, err := client.Do(req)
	if err != nil {
		s.send(Event{Kind: EventDone, Err: err})
		return
	}
	defer resp.Body.Close()

	var hdr bytes.Buffer
	fmt.Fprintf(&hdr, "%s %s\r\n", resp.Proto, resp.Status)
	_ = resp.Header.Write(&hdr)
	if resp.ContentLength >= 0 && resp.Header.Get("Content-Length") == "" {
		fmt.Fprintf(&hdr, "Content-Length: %d\r\n", resp.ContentLength)
	}
	if !s.send(Event{Kind: EventHeader, Header: hdr.String()}) {
		return
	}

	if resp.StatusCode/100 != 2 {
		s.send(Event{Kind: EventDone, Err: fmt.Errorf("server responded %s", resp.Status)})
		return
	}

	buf := make([]byte, size)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !s.send(Event{Kind: EventBody, Data: data}) {
				return
			}
			select {
			case <-s.acks:
			case <-s.ctx.Done():
				return
			}
		}
		if err == io.EOF {
			s.send(Event{Kind: EventDone})
			return
		}
		if err != nil {
			s.send(Event{Kind: EventDone, Err: err})
			return
		}
	}
}
