// File: internal/control/stream.go
package control

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
)

const (
	writeWait      = 10 * time.Second
	clientBacklog  = 32
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local control surface, same-host clients only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ActionEvent is one streamed log change. Updated distinguishes an in-place
// enrichment of a previously streamed action from a fresh append.
type ActionEvent struct {
	Action  *schemas.RecordedAction `json:"action"`
	Updated bool                    `json:"updated"`
}

// Stream fans recorded actions out to websocket observers. Slow observers
// are disconnected rather than allowed to stall the rest.
type Stream struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan ActionEvent
	done chan struct{}
	once sync.Once
}

// NewStream creates an empty observer hub.
func NewStream(logger *zap.Logger) *Stream {
	return &Stream{
		logger:  logger.Named("stream"),
		clients: make(map[*streamClient]struct{}),
	}
}

// Observe is a recorder.ActionObserver feeding the hub.
func (s *Stream) Observe(a *schemas.RecordedAction, updated bool) {
	s.Broadcast(ActionEvent{Action: a, Updated: updated})
}

// Broadcast queues the event for every connected observer.
func (s *Stream) Broadcast(ev ActionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- ev:
		default:
			s.logger.Warn("Observer too slow, disconnecting.")
			delete(s.clients, c)
			c.close()
		}
	}
}

// Handle upgrades the request and serves the observer until it disconnects.
func (s *Stream) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed.", zap.Error(err))
		return
	}

	c := &streamClient{
		conn: conn,
		send: make(chan ActionEvent, clientBacklog),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.readLoop(c)
	s.writeLoop(c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// readLoop drains client frames so pings are answered and disconnects are
// noticed; observers are not expected to send anything meaningful.
func (s *Stream) readLoop(c *streamClient) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.close()
			return
		}
	}
}

func (s *Stream) writeLoop(c *streamClient) {
	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				s.logger.Debug("Observer write failed.", zap.Error(err))
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close disconnects every observer and rejects new ones.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
