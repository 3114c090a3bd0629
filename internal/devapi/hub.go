package devapi

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/outbox"
)

const (
	// wsPingInterval keeps idle status streams alive through NAT and
	// proxy timeouts on the host device.
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
	// wsPongWait tolerates two missed pings before the read side gives
	// up on the peer.
	wsPongWait = 2*wsPingInterval + wsWriteWait

	wsReadLimit = 512
)

// statusHub owns the live status streams. Each connection gets its own
// queue subscription and writer loop; the hub only tracks connections so
// shutdown can close them.
type statusHub struct {
	queue  SubmissionQueue
	logger logging.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func newStatusHub(queue SubmissionQueue, logger logging.Logger) *statusHub {
	return &statusHub{
		queue:  queue,
		logger: logging.OrNop(logger),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

func (h *statusHub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *statusHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// closeAll sends a close frame to every stream and refuses newcomers.
// Called once during server shutdown.
func (h *statusHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.conns {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "agent shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		_ = conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}

// serve pushes the current queue status, then one frame per status
// change, plus periodic pings. It returns when the peer goes away or
// the hub shuts down. Slow peers skip intermediate frames instead of
// stalling the queue: every frame is a full snapshot anyway.
func (h *statusHub) serve(conn *websocket.Conn) {
	if !h.add(conn) {
		_ = conn.Close()
		return
	}
	defer func() {
		h.remove(conn)
		_ = conn.Close()
	}()

	statuses, detach := h.queue.Subscribe()
	defer detach()

	// Reader loop: inbound frames are ignored, but reading surfaces
	// close frames and keeps the pong handler running.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.writeStatus(conn, h.queue.Status()); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-readerDone:
			return
		case status, ok := <-statuses:
			if !ok {
				return
			}
			if err := h.writeStatus(conn, status); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *statusHub) writeStatus(conn *websocket.Conn, status outbox.Status) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(status); err != nil {
		h.logger.Debug("Status stream write failed: %v", err)
		return err
	}
	return nil
}
