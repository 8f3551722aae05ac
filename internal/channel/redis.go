package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBus maps the channel onto a Redis pub/sub channel. Redis echoes a
// publisher's own messages back to it; receivers filter on Message.From.
type RedisBus struct {
	rdb  *redis.Client
	name string
	out  *fanout
	own  bool

	mu     sync.Mutex
	ps     *redis.PubSub
	cancel context.CancelFunc
}

// NewRedisBus connects to addr and pings it once.
func NewRedisBus(addr, name string) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	b := NewRedisBusFromClient(rdb, name)
	b.own = true
	return b, nil
}

// NewRedisBusFromClient wraps an existing client. Close leaves the client
// open.
func NewRedisBusFromClient(rdb *redis.Client, name string) *RedisBus {
	return &RedisBus{rdb: rdb, name: name, out: newFanout()}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	if b.out.isClosed() {
		return ErrClosed
	}
	data, err := encode(msg)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.name, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", b.name, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	if err := b.ensureSubscribed(ctx); err != nil {
		return nil, err
	}
	return b.out.add(ctx)
}

// ensureSubscribed opens the single Redis subscription shared by all local
// subscribers.
func (b *RedisBus) ensureSubscribed(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.out.isClosed() {
		return ErrClosed
	}
	if b.ps != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ps := b.rdb.Subscribe(runCtx, b.name)
	// Wait for the confirmation so a publish issued right after Subscribe
	// returns is not missed.
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", b.name, err)
	}
	b.ps = ps
	b.cancel = cancel

	go b.receive(runCtx, ps)
	return nil
}

func (b *RedisBus) receive(ctx context.Context, ps *redis.PubSub) {
	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			msg, err := decode([]byte(m.Payload))
			if err != nil {
				continue
			}
			b.out.deliver(msg)
		}
	}
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.ps.Close()
	}
	b.mu.Unlock()

	b.out.closeAll()
	if b.own {
		return b.rdb.Close()
	}
	return nil
}
