// Package web streams rendered previews and capture events to browsers over
// a websocket.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"astrorig/internal/display"
	"astrorig/internal/imaging"
	"astrorig/internal/pipeline"
)

// Binary frames start with one of these tags, followed by a PNG.
const (
	TagPreview byte = 1
	TagZoom    byte = 2
)

const writeWait = 2 * time.Second

type message struct {
	kind int
	data []byte
}

// Hub fans messages out to every connected websocket client. Only the hub
// goroutine writes to connections.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	broadcast  chan message
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	count      atomic.Int32
	log        *slog.Logger
}

// NewHub returns an idle hub; call Run to start it.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the rig sits on a private network
			},
		},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan message, 4),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run services registrations and broadcasts until ctx is done, then closes
// every client. Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			client.Close()
			delete(h.clients, client)
		}
		h.count.Store(0)
	}()
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int32(len(h.clients)))
			h.log.Info("websocket client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.count.Store(int32(len(h.clients)))
				h.log.Info("websocket client disconnected", "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(msg.kind, msg.data); err != nil {
					delete(h.clients, client)
					client.Close()
					h.count.Store(int32(len(h.clients)))
				}
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// ServeHTTP upgrades the request and keeps reading until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// send queues a message, dropping it when the hub is behind.
func (h *Hub) send(msg message) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		return false
	}
}

// SendRaster encodes the preview and zoom rasters as tagged PNG messages.
func (h *Hub) SendRaster(r *display.Raster) error {
	if h.Clients() == 0 || r == nil {
		return nil
	}
	if err := h.sendPNG(TagPreview, r.Preview); err != nil {
		return err
	}
	return h.sendPNG(TagZoom, r.Zoom)
}

func (h *Hub) sendPNG(tag byte, img *image.Gray) error {
	if img == nil {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteByte(tag)
	if err := imaging.EncodePNG(&buf, img); err != nil {
		return err
	}
	h.send(message{kind: websocket.BinaryMessage, data: buf.Bytes()})
	return nil
}

// SendJSON broadcasts v as a text message.
func (h *Hub) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.send(message{kind: websocket.TextMessage, data: b})
	return nil
}

// Pump forwards rasters and capture events until ctx is done or both
// channels close.
func (h *Hub) Pump(ctx context.Context, rasters <-chan *display.Raster, events <-chan pipeline.Event) {
	for rasters != nil || events != nil {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-rasters:
			if !ok {
				rasters = nil
				continue
			}
			if err := h.SendRaster(r); err != nil {
				h.log.Warn("preview encode failed", "error", err)
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if h.Clients() > 0 {
				_ = h.SendJSON(ev)
			}
		}
	}
}
