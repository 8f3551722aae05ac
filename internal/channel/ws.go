package channel

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// WSBus joins a channel through a Relay over a websocket connection.
type WSBus struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	out     *fanout
	log     logrus.FieldLogger
}

// DialWS connects to the relay at rawURL and joins channel name.
func DialWS(ctx context.Context, rawURL, name string, log logrus.FieldLogger) (*WSBus, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("channel", name)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", u.Host, err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	b := &WSBus{conn: conn, out: newFanout(), log: log}
	go b.readLoop()
	return b, nil
}

func (b *WSBus) readLoop() {
	defer b.out.closeAll()
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if !b.out.isClosed() {
				b.log.WithError(err).Debug("relay connection closed")
			}
			return
		}
		msg, err := decode(data)
		if err != nil {
			b.log.WithError(err).Debug("dropping malformed channel message")
			continue
		}
		b.out.deliver(msg)
	}
}

func (b *WSBus) Publish(_ context.Context, msg Message) error {
	if b.out.isClosed() {
		return ErrClosed
	}
	data, err := encode(msg)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *WSBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	return b.out.add(ctx)
}

func (b *WSBus) Close() error {
	b.out.closeAll()
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return b.conn.Close()
}
