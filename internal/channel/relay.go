package channel

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/walletd/walletd/internal/config"
)

type relayClient struct {
	conn    *websocket.Conn
	send    chan []byte
	channel string
}

func newRelayClient(conn *websocket.Conn, channel string) *relayClient {
	c := &relayClient{
		conn:    conn,
		send:    make(chan []byte, 64),
		channel: channel,
	}
	go c.writePump()
	return c
}

func (c *relayClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Relay is the websocket hub behind the ws transport. Each text frame a
// client sends is forwarded to every other client joined to the same
// channel.
type Relay struct {
	mu       sync.RWMutex
	clients  map[*relayClient]bool
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewRelay(log logrus.FieldLogger) *Relay {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Relay{
		clients: make(map[*relayClient]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("channel")
	if name == "" {
		name = config.DefaultChannelName
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.WithError(err).Warn("relay upgrade failed")
		return
	}

	c := newRelayClient(conn, name)
	r.mu.Lock()
	r.clients[c] = true
	r.mu.Unlock()
	r.log.WithFields(logrus.Fields{"remote": req.RemoteAddr, "channel": name}).Debug("relay client joined")

	go func() {
		defer func() {
			r.remove(c)
			r.log.WithField("remote", req.RemoteAddr).Debug("relay client left")
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if !gjson.ValidBytes(data) || gjson.GetBytes(data, "type").String() == "" {
				continue
			}
			r.relay(c, data)
		}
	}()
}

func (r *Relay) remove(c *relayClient) {
	r.mu.Lock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}
	r.mu.Unlock()
}

func (r *Relay) relay(from *relayClient, data []byte) {
	var slow []*relayClient

	// Sends happen under the read lock so remove cannot close a send
	// channel mid-relay.
	r.mu.RLock()
	for c := range r.clients {
		if c == from || c.channel != from.channel {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range slow {
		r.log.Warn("relay client too slow, disconnecting")
		r.remove(c)
	}
}

// ClientCount reports the number of connected clients across all channels.
func (r *Relay) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close disconnects every client.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		delete(r.clients, c)
		close(c.send)
	}
}
