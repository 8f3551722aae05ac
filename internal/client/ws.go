package client

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/walletd/walletd/internal/ws"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// Event is one decoded stream message. Exactly one of Snapshot and Navigate
// is set.
type Event struct {
	Snapshot *ws.SnapshotPayload
	Navigate *ws.NavigatePayload
}

// WSClient follows the snapshot stream, reconnecting with backoff.
type WSClient struct {
	url string
	log logrus.FieldLogger
}

// NewWSClient creates a client for the stream at wsURL. A non-empty token is
// sent as the token query parameter.
func NewWSClient(wsURL, token string, log logrus.FieldLogger) (*WSClient, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSClient{url: u.String(), log: log}, nil
}

// Watch calls fn for every event until ctx ends or fn returns false.
func (c *WSClient) Watch(ctx context.Context, fn func(Event) bool) error {
	delay := reconnectBaseDelay
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.WithError(err).WithField("retry_in", delay).Warn("ws dial error")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}
		delay = reconnectBaseDelay

		stop, err := c.readLoop(ctx, conn, fn)
		if stop {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WithError(err).Info("ws disconnected, reconnecting")
	}
}

// readLoop reads conn until it fails; stop reports that fn asked to stop.
func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn, fn func(Event) bool) (stop bool, err error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	go func() {
		<-connCtx.Done()
		conn.Close()
	}()
	go pingLoop(connCtx, conn)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false, err
		}
		ev, ok := decodeEvent(data)
		if !ok {
			continue
		}
		if !fn(ev) {
			return true, nil
		}
	}
}

func decodeEvent(data []byte) (Event, bool) {
	var msg struct {
		Type    ws.MessageType  `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false
	}
	switch msg.Type {
	case ws.MsgSnapshot:
		var p ws.SnapshotPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return Event{Snapshot: &p}, true
		}
	case ws.MsgNavigate:
		var p ws.NavigatePayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return Event{Navigate: &p}, true
		}
	}
	return Event{}, false
}

// pingLoop is the only writer on conn.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
