// Package channel is the broadcast channel that instances of walletd on the
// same host use to notice each other. Every transport delivers a published
// Message to all other subscribers on the same channel name.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/walletd/walletd/internal/config"
)

type MessageType string

const (
	MsgNewTab      MessageType = "NEW_TAB"
	MsgExistingTab MessageType = "EXISTING_TAB"
)

// Message is the wire form shared by every transport. From carries the
// sender's instance id so receivers can drop their own echoes.
type Message struct {
	Type MessageType `json:"type"`
	From string      `json:"from"`
}

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("channel: bus closed")

// Bus is a named broadcast channel.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe returns a stream of messages that is closed when ctx is
	// done or the bus is closed. The subscription is live once Subscribe
	// returns.
	Subscribe(ctx context.Context) (<-chan Message, error)
	Close() error
}

var defaultHub = NewHub()

// Open builds the transport selected in cfg. The memory transport shares a
// process-wide hub.
func Open(cfg config.ChannelConfig, log logrus.FieldLogger) (Bus, error) {
	name := cfg.Name
	if name == "" {
		name = config.DefaultChannelName
	}
	switch cfg.Transport {
	case "", "memory":
		return defaultHub.Connect(), nil
	case "redis":
		return NewRedisBus(cfg.RedisAddr, name)
	case "ws":
		return DialWS(context.Background(), cfg.URL, name, log)
	}
	return nil, fmt.Errorf("unknown channel transport %q", cfg.Transport)
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("message without type")
	}
	return m, nil
}

const subscriberBuffer = 16

// fanout tracks the local subscribers of one bus.
type fanout struct {
	mu     sync.Mutex
	subs   map[chan Message]struct{}
	closed bool
}

func newFanout() *fanout {
	return &fanout{subs: make(map[chan Message]struct{})}
}

func (f *fanout) add(ctx context.Context) (<-chan Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	ch := make(chan Message, subscriberBuffer)
	f.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		f.remove(ch)
	}()
	return ch, nil
}

func (f *fanout) remove(ch chan Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

// deliver hands msg to every subscriber. Slow subscribers lose the message
// rather than stall the transport.
func (f *fanout) deliver(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}

func (f *fanout) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
