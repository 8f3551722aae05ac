// Package ws streams session snapshots to presentation clients over
// websockets.
package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/walletd/walletd/internal/metrics"
	"github.com/walletd/walletd/internal/session"
)

// ErrTooManyClients is returned by AddClient when the connection limit is
// reached.
var ErrTooManyClients = errors.New("too many stream clients")

const writeWait = 10 * time.Second

// SnapshotSource is the state being streamed.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster pushes the full snapshot to every client: once on connect,
// after state changes (throttled) and periodically.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	source   SnapshotSource
	privacy  *session.PrivacyFilter
	throttle time.Duration
	maxConns int
	log      logrus.FieldLogger

	snapshotTicker *time.Ticker
	done           chan struct{}
	stopOnce       sync.Once

	flushTimer *time.Timer
	flushMu    sync.Mutex
}

func NewBroadcaster(source SnapshotSource, privacy *session.PrivacyFilter, throttle, snapshotInterval time.Duration, maxConns int, log logrus.FieldLogger) *Broadcaster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		source:   source,
		privacy:  privacy,
		throttle: throttle,
		maxConns: maxConns,
		log:      log.WithField("component", "ws"),
		done:     make(chan struct{}),
	}

	if snapshotInterval > 0 {
		b.snapshotTicker = time.NewTicker(snapshotInterval)
		go b.snapshotLoop()
	}
	return b
}

// AddClient registers conn and queues the current snapshot for it.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyClients
	}
	b.clients[c] = true
	b.mu.Unlock()
	metrics.StreamClientConnected()

	if data, err := b.encodeSnapshot(); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}
	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		metrics.StreamClientDisconnected()
	}
	b.mu.Unlock()
}

// QueueUpdate schedules a snapshot broadcast. Calls within the throttle
// window collapse into one message carrying the latest state.
func (b *Broadcaster) QueueUpdate() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	b.flushTimer = nil
	b.flushMu.Unlock()

	b.broadcastSnapshot()
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.broadcastSnapshot()
		}
	}
}

func (b *Broadcaster) encodeSnapshot() ([]byte, error) {
	snap := b.source.Snapshot()
	if !b.privacy.IsNoop() {
		snap = b.privacy.Apply(snap)
	}
	return json.Marshal(WSMessage{Type: MsgSnapshot, Payload: SnapshotPayload{State: snap}})
}

func (b *Broadcaster) broadcastSnapshot() {
	data, err := b.encodeSnapshot()
	if err != nil {
		b.log.WithError(err).Error("Snapshot marshal failed")
		return
	}
	b.broadcast(data)
}

// Navigate tells every client to open path.
func (b *Broadcaster) Navigate(path string) {
	data, err := json.Marshal(WSMessage{Type: MsgNavigate, Payload: NavigatePayload{Path: path}})
	if err != nil {
		return
	}
	b.broadcast(data)
}

func (b *Broadcaster) broadcast(data []byte) {
	var slow []*client

	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.log.Warn("Stream client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop ends the periodic snapshots and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		if b.snapshotTicker != nil {
			b.snapshotTicker.Stop()
		}
		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
			metrics.StreamClientDisconnected()
		}
		b.mu.Unlock()
	})
}
