// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package display

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Hub serves the screen as a CBOR event stream over WebSocket.
// A new client first receives the events rebuilding the current
// screen, then every change as it happens.
type Hub struct {
	screen   *Screen
	bus      *Bus
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a hub for the screen
func NewHub(screen *Screen, bus *Bus, logger *slog.Logger) *Hub {
	return &Hub{
		screen: screen,
		bus:    bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	h.logger.Info("display client connected", "remote", r.RemoteAddr)

	for _, e := range h.screen.State().Events() {
		if err := h.write(conn, e); err != nil {
			return
		}
	}

	// Reader goroutine only detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			h.logger.Info("display client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			e, ok := msg.(Event)
			if !ok {
				continue
			}
			if err := h.write(conn, e); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, e Event) error {
	data, err := EncodeEvent(e)
	if err != nil {
		h.logger.Warn("failed to encode display event", "err", err)
		return nil
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		h.logger.Debug("display client write failed", "err", err)
		return err
	}
	return nil
}
