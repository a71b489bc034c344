// Package mjpeg implements the optional multipart/x-mixed-replace
// frame push: one goroutine owns the listener set and fans a frame out
// to every listener's single-slot queue, dropping a slow listener's
// stale frame instead of blocking the pipeline thread.
package mjpeg

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

const boundary = "boundarydonotcross"

// Frame is one encoded JPEG image pushed to every connected listener.
type Frame struct {
	Data []byte
}

type listener struct {
	queue chan Frame
}

// Hub fans out frames to any number of HTTP listeners. Callers push
// frames with Publish; listeners attach by calling ServeHTTP (mounted
// under a streaming route).
type Hub struct {
	mu        sync.RWMutex
	listeners map[*listener]struct{}
	log       *slog.Logger

	register   chan *listener
	unregister chan *listener
	broadcast  chan Frame
}

// NewHub creates a frame fan-out hub. Call Run in its own goroutine
// before serving any connections.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		listeners:  make(map[*listener]struct{}),
		log:        log.With("component", "mjpeg-hub"),
		register:   make(chan *listener),
		unregister: make(chan *listener),
		broadcast:  make(chan Frame, 4),
	}
}

// Run owns the listener set until ctx-equivalent shutdown (the caller
// stops it by no longer publishing and letting connections close).
func (h *Hub) Run() {
	for {
		select {
		case l := <-h.register:
			h.mu.Lock()
			h.listeners[l] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("listener connected", "total", len(h.listeners))

		case l := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.listeners[l]; ok {
				delete(h.listeners, l)
				close(l.queue)
			}
			h.mu.Unlock()
			h.log.Debug("listener disconnected", "total", len(h.listeners))

		case frame := <-h.broadcast:
			h.mu.RLock()
			for l := range h.listeners {
				select {
				case l.queue <- frame:
				default:
					// Listener hasn't drained the previous frame; drop
					// this one rather than block the publisher.
					select {
					case <-l.queue:
					default:
					}
					l.queue <- frame
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish pushes a newly encoded frame to every connected listener.
// Non-blocking: if the hub's internal buffer is full the frame is
// dropped, since a live view only ever wants the latest frame.
func (h *Hub) Publish(data []byte) {
	select {
	case h.broadcast <- Frame{Data: data}:
	default:
		h.log.Warn("broadcast channel full, dropping frame")
	}
}

// ListenerCount reports the number of currently attached listeners.
func (h *Hub) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// ServeHTTP streams frames to one client as multipart/x-mixed-replace
// until the client disconnects or the request context is canceled.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	l := &listener{queue: make(chan Frame, 1)}
	h.register <- l
	defer func() { h.unregister <- l }()

	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", boundary))
	w.Header().Set("Cache-Control", "no-cache")
	bw := bufio.NewWriter(w)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-l.queue:
			if !ok {
				return
			}
			if err := writePart(bw, frame.Data); err != nil {
				h.log.Debug("listener write failed, closing", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w *bufio.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}
