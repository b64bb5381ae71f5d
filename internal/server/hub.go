package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bamsammich/tally/internal/progress"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientBuffer   = 8
	maxInboundSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// hub fans progress statistics out to connected stream clients. A slow
// client loses its oldest queued updates rather than stalling the others.
type hub struct {
	log     *slog.Logger
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan progress.Statistics
	done chan struct{}
	once sync.Once
}

func newHub(log *slog.Logger) *hub {
	return &hub{log: log, clients: make(map[*client]struct{})}
}

func (h *hub) add(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan progress.Statistics, clientBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("progress stream opened", "remote", conn.RemoteAddr().String(), "clients", n)
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *hub) broadcast(st progress.Statistics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.enqueue(st)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (c *client) enqueue(st progress.Statistics) {
	for {
		select {
		case c.send <- st:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// readLoop discards inbound messages and closes the client when the peer
// goes away.
func (c *client) readLoop() {
	defer c.close()
	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // deadline on a live conn
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case st := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // checked by the write
			if err := c.conn.WriteJSON(st); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)) //nolint:errcheck // best-effort close
			return nil
		}
	}
}

func (s *Server) progressStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, errNoProgress)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.log.Debug("progress stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := s.hub.add(conn)
	defer s.hub.remove(c)
	c.enqueue(s.cfg.Progress.Current())

	go c.readLoop()
	if err := c.writeLoop(); err != nil {
		s.log.Debug("progress stream closed", "error", err)
	}
}
