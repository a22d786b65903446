// Package fsadapter implements the client-side filesystem adapter: a
// go-fuse kernel callback surface backed by an sftpc.Client, with TTL
// caching, write coalescing, chunked I/O, automatic reconnection, and an
// optional bulk metadata prefetch, per spec.md §4.F.
package fsadapter

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/qbane/websocketfs/pkg/sftpc"
)

// backoffFactor is the multiplicative growth applied to backoffBase on each
// successive failed connect attempt, per spec.md §4.F.
const backoffFactor = 1.3

// State is one point in the adapter's connection lifecycle, spec.md §4.F.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Dialer opens a fresh client connection; supplied by the caller so tests
// can substitute an in-process transport.
type Dialer func(ctx context.Context) (*sftpc.Client, error)

// connection owns the lifecycle state machine and the live *sftpc.Client,
// reconnecting with exponential backoff whenever the channel drops.
type connection struct {
	mu    sync.RWMutex
	state State
	cli   *sftpc.Client

	dial      Dialer
	reconnect bool

	backoffBase time.Duration
	backoffMax  time.Duration

	closeOnce sync.Once
	stopCh    chan struct{}
}

func newConnection(dial Dialer, reconnect bool) *connection {
	return &connection{
		state:       StateInit,
		dial:        dial,
		reconnect:   reconnect,
		backoffBase: 1000 * time.Millisecond,
		backoffMax:  7500 * time.Millisecond,
		stopCh:      make(chan struct{}),
	}
}

// DialWS builds a Dialer that connects to url over a WebSocket channel,
// the production entry point behind NewFileSystem.
func DialWS(url string, header http.Header) Dialer {
	return func(ctx context.Context) (*sftpc.Client, error) {
		return sftpc.Dial(ctx, url, header)
	}
}

func (c *connection) start(ctx context.Context) {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()
	go c.connectLoop(ctx)
}

func (c *connection) connectLoop(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		cli, err := c.dial(ctx)
		if err != nil {
			attempt++
			delay := c.backoff(attempt)
			glog.Warningf("fsadapter: connect attempt %d failed: %v, retrying in %s", attempt, err, delay)
			select {
			case <-time.After(delay):
				continue
			case <-c.stopCh:
				return
			}
		}

		c.mu.Lock()
		c.cli = cli
		c.state = StateReady
		c.mu.Unlock()
		glog.V(1).Infof("fsadapter: connected")

		cli.OnDisconnect(func() {
			c.mu.Lock()
			if c.state == StateClosed {
				c.mu.Unlock()
				return
			}
			if !c.reconnect {
				c.state = StateClosed
				c.cli = nil
				c.mu.Unlock()
				glog.Warningf("fsadapter: channel dropped, reconnect disabled")
				return
			}
			c.state = StateConnecting
			c.cli = nil
			c.mu.Unlock()
			glog.Warningf("fsadapter: channel dropped, reconnecting")
			go c.connectLoop(ctx)
		})
		return
	}
}

func (c *connection) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.backoffBase) * math.Pow(backoffFactor, float64(attempt-1)))
	if d > c.backoffMax {
		d = c.backoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d + jitter
}

// current returns the live client and current state. Operations must call
// this each time rather than caching the client, since reconnects swap it.
func (c *connection) current() (*sftpc.Client, State) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cli, c.state
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		cli := c.cli
		c.cli = nil
		c.mu.Unlock()
		close(c.stopCh)
		if cli != nil {
			cli.Close()
		}
	})
}
