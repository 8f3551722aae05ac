// Package guard detects whether another walletd instance already owns the
// shared storage. It is a cooperative handshake, not a lock: a new instance
// announces itself and backs off if a running one answers within the wait
// window.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/walletd/walletd/internal/channel"
)

const DefaultWaitWindow = 500 * time.Millisecond

var errAlreadyStarted = errors.New("guard already started")

// Guard announces this instance on a channel and answers later arrivals.
type Guard struct {
	id     string
	bus    channel.Bus
	window time.Duration
	log    logrus.FieldLogger

	mu       sync.Mutex
	started  bool
	decided  bool
	detected bool
	existing chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a guard on bus. A non-positive window uses DefaultWaitWindow.
func New(bus channel.Bus, window time.Duration, log logrus.FieldLogger) *Guard {
	if window <= 0 {
		window = DefaultWaitWindow
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	id := uuid.NewString()
	return &Guard{
		id:       id,
		bus:      bus,
		window:   window,
		log:      log.WithField("instance", id),
		existing: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the instance id stamped on outgoing messages.
func (g *Guard) ID() string { return g.id }

// Start subscribes to the channel, then announces this instance. From here
// on the guard answers every other instance's announcement.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return errAlreadyStarted
	}
	g.started = true
	g.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	sub, err := g.bus.Subscribe(runCtx)
	if err != nil {
		cancel()
		close(g.done)
		return err
	}
	g.cancel = cancel
	go g.listen(runCtx, sub)

	return g.bus.Publish(ctx, channel.Message{Type: channel.MsgNewTab, From: g.id})
}

func (g *Guard) listen(ctx context.Context, sub <-chan channel.Message) {
	defer close(g.done)
	for msg := range sub {
		if msg.From != "" && msg.From == g.id {
			continue
		}
		switch msg.Type {
		case channel.MsgNewTab:
			g.log.WithField("peer", msg.From).Info("Another instance announced itself, replying")
			reply := channel.Message{Type: channel.MsgExistingTab, From: g.id}
			if err := g.bus.Publish(ctx, reply); err != nil && ctx.Err() == nil {
				g.log.WithError(err).Warn("Failed to answer announcement")
			}
		case channel.MsgExistingTab:
			g.markExisting(msg.From)
		}
	}
}

func (g *Guard) markExisting(peer string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.decided || g.detected {
		return
	}
	g.detected = true
	close(g.existing)
	g.log.WithField("peer", peer).Warn("Existing instance detected")
}

// Wait blocks until an existing instance answers, the wait window elapses or
// ctx is done, and reports whether another instance was detected. The first
// call fixes the outcome; later replies never flip it.
func (g *Guard) Wait(ctx context.Context) bool {
	g.mu.Lock()
	if g.decided {
		d := g.detected
		g.mu.Unlock()
		return d
	}
	g.mu.Unlock()

	timer := time.NewTimer(g.window)
	defer timer.Stop()
	select {
	case <-g.existing:
	case <-timer.C:
	case <-ctx.Done():
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.decided = true
	return g.detected
}

// Detected reports whether another instance answered before the decision.
func (g *Guard) Detected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.detected
}

// Close stops answering announcements. The bus is left open.
func (g *Guard) Close() error {
	g.mu.Lock()
	started := g.started
	g.mu.Unlock()
	if !started {
		return nil
	}
	if g.cancel != nil {
		g.cancel()
	}
	<-g.done
	return nil
}
