// Package monitor streams sink events to WebSocket clients as JSON.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/oxplot/go-pdsink/sink"
)

const (
	writeTimeout = 250 * time.Millisecond

	// Updates buffered per client before it is dropped.
	clientQueue = 16
)

// Update is the JSON message sent to clients. Type is either "state", sent
// once on connect, or the kind of the sink event.
type Update struct {
	Type         string   `json:"type"`
	Protocol     string   `json:"protocol,omitempty"`
	VoltageMV    uint16   `json:"voltage_mv,omitempty"`
	MaxCurrentMA uint16   `json:"max_current_ma,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// client is a connection with its own writer goroutine draining send.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server is an http.Handler upgrading requests to WebSocket connections and
// a sink.EventHandler broadcasting every event to them. HandleEvent never
// waits on the network.
type Server struct {
	log zerolog.Logger

	mtx      sync.Mutex
	clients  map[*client]struct{}
	protocol sink.Protocol
	contract sink.Power
	caps     []string
}

func New(log zerolog.Logger) *Server {
	return &Server{
		log:      log,
		clients:  make(map[*client]struct{}),
		contract: sink.DefaultPower,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.log.Info().Str("remote", r.RemoteAddr).Msg("websocket connection")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: ws, send: make(chan []byte, clientQueue)}
	s.mtx.Lock()
	s.clients[c] = struct{}{}
	if data, ok := s.marshal(s.stateLocked()); ok {
		s.enqueueLocked(c, data)
	}
	s.mtx.Unlock()

	go s.writer(c)
	s.reader(c)
}

// reader discards client messages until the connection closes.
func (s *Server) reader(c *client) {
	defer func() {
		s.mtx.Lock()
		s.dropLocked(c)
		s.mtx.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.log.Debug().Err(err).Msg("websocket read")
			return
		}
	}
}

// writer sends queued updates until the client is dropped or a write fails.
func (s *Server) writer(c *client) {
	defer func() {
		if err := c.conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("error closing websocket")
		}
	}()
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.log.Warn().Err(err).Msg("failed to send update")
			return
		}
	}
}

// dropLocked unregisters c and stops its writer. It is a no-op for clients
// already dropped.
func (s *Server) dropLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.clients)
}

func (s *Server) stateLocked() Update {
	return Update{
		Type:         "state",
		Protocol:     s.protocol.String(),
		VoltageMV:    s.contract.Voltage,
		MaxCurrentMA: s.contract.MaxCurrent,
		Capabilities: s.caps,
	}
}

// HandleEvent records e and queues it for every client. Clients whose queue
// is full are dropped.
func (s *Server) HandleEvent(e sink.Event) {
	u := Update{Type: string(e.Kind)}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	switch e.Kind {
	case sink.EventProtocolChanged:
		s.protocol = e.Protocol
		u.Protocol = e.Protocol.String()
		if e.Protocol == sink.ProtocolUSB20 {
			s.contract = sink.DefaultPower
			s.caps = nil
		}
	case sink.EventSourceCapabilitiesChanged:
		caps := make([]string, len(e.Capabilities))
		for i, p := range e.Capabilities {
			caps[i] = p.String()
		}
		s.caps = caps
		u.Capabilities = caps
	case sink.EventPowerAccepted:
		u.VoltageMV, u.MaxCurrentMA = e.Power.Voltage, e.Power.MaxCurrent
	case sink.EventPowerReady:
		s.contract = e.Power
		u.VoltageMV, u.MaxCurrentMA = e.Power.Voltage, e.Power.MaxCurrent
	case sink.EventFailed:
		if e.Err != nil {
			u.Error = e.Err.Error()
		}
	}

	data, ok := s.marshal(u)
	if !ok {
		return
	}
	for c := range s.clients {
		s.enqueueLocked(c, data)
	}
}

func (s *Server) marshal(u Update) ([]byte, bool) {
	data, err := json.Marshal(u)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal update")
		return nil, false
	}
	return data, true
}

func (s *Server) enqueueLocked(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		s.log.Warn().Msg("client too slow, dropping")
		s.dropLocked(c)
	}
}
