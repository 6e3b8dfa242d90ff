package presentation

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vmio/internal/logging"
)

// viewerBacklog bounds frames queued per viewer; a slow viewer loses old
// frames rather than stalling the pipeline.
const viewerBacklog = 8

// Hub fans frames out to websocket viewers. Broadcast never blocks on a
// viewer's socket: each viewer has a bounded ring drained by its own
// writer goroutine.
type Hub struct {
	log *logging.Logger

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	closed  bool
}

type viewer struct {
	conn *websocket.Conn
	cond *sync.Cond
	ring *queue.Queue
	dead bool
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		log:     log.Named("viewers"),
		viewers: make(map[*viewer]struct{}),
	}
}

// Add attaches a viewer connection. The hub owns the connection from here
// on and closes it when the viewer drops or the hub shuts down.
func (h *Hub) Add(conn *websocket.Conn) {
	v := &viewer{
		conn: conn,
		cond: sync.NewCond(&sync.Mutex{}),
		ring: queue.New(),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.viewers[v] = struct{}{}
	h.mu.Unlock()

	h.log.Info("viewer attached", zap.String("remote", conn.RemoteAddr().String()))
	go h.writeLoop(v)
}

// Len reports the number of attached viewers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Broadcast queues a frame for every viewer, dropping each viewer's
// oldest frame when its ring is full.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.Lock()
	targets := make([]*viewer, 0, len(h.viewers))
	for v := range h.viewers {
		targets = append(targets, v)
	}
	h.mu.Unlock()

	for _, v := range targets {
		v.cond.L.Lock()
		if !v.dead {
			for v.ring.Length() >= viewerBacklog {
				v.ring.Remove()
			}
			v.ring.Add(frame)
			v.cond.Signal()
		}
		v.cond.L.Unlock()
	}
}

// writeLoop drains one viewer's ring onto its socket.
func (h *Hub) writeLoop(v *viewer) {
	for {
		v.cond.L.Lock()
		for v.ring.Length() == 0 && !v.dead {
			v.cond.Wait()
		}
		if v.dead {
			v.cond.L.Unlock()
			return
		}
		frame := v.ring.Remove().([]byte)
		v.cond.L.Unlock()

		if err := v.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			h.drop(v)
			return
		}
	}
}

// drop detaches one viewer and closes its socket.
func (h *Hub) drop(v *viewer) {
	h.mu.Lock()
	delete(h.viewers, v)
	h.mu.Unlock()

	v.cond.L.Lock()
	v.dead = true
	v.cond.Signal()
	v.cond.L.Unlock()
	_ = v.conn.Close()

	h.log.Info("viewer detached")
}

// Close detaches every viewer. The hub accepts no viewers afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	targets := make([]*viewer, 0, len(h.viewers))
	for v := range h.viewers {
		targets = append(targets, v)
	}
	h.viewers = make(map[*viewer]struct{})
	h.mu.Unlock()

	for _, v := range targets {
		v.cond.L.Lock()
		v.dead = true
		v.cond.Signal()
		v.cond.L.Unlock()
		_ = v.conn.Close()
	}
}
