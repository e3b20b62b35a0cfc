package correlator

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/linxiaolu/xiaolubot/pkg/bus"
)

// ErrTimeout is returned by AwaitMatch when no response carrying the
// token arrives before the deadline. The caller decides whether to
// retry or abandon.
var ErrTimeout = errors.New("correlator: no response before timeout")

// DefaultTTL bounds how long an unclaimed entry may linger before the
// sweep removes it (e.g. the awaiting caller died before matching).
const DefaultTTL = 60 * time.Second

// DefaultSweepInterval is how often the expiry sweep runs.
const DefaultSweepInterval = 15 * time.Second

type entry struct {
	ch        chan bus.SendResult
	createdAt time.Time
}

// Correlator matches outbound requests to asynchronous transport
// responses by their opaque echo token. Each token resolves at most
// once: the response is buffered into the token's future and handed to
// exactly one awaiting caller, whether it arrives before or after that
// caller starts waiting.
type Correlator struct {
	outbound      *bus.MessageBus
	ttl           time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	pending map[string]*entry

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Correlator that forwards payloads to the given bus.
// Non-positive ttl or sweepInterval fall back to the defaults.
func New(outbound *bus.MessageBus, ttl, sweepInterval time.Duration) *Correlator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Correlator{
		outbound:      outbound,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		pending:       make(map[string]*entry),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the background expiry sweep.
func (c *Correlator) Start() {
	go c.sweepLoop()
}

// Stop terminates the sweep loop and waits for it to exit.
func (c *Correlator) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	<-c.done
}

// Send registers token as in-flight and hands the payload to the
// outbound FIFO. The token must be unique per in-flight request.
func (c *Correlator) Send(token string, p bus.Payload) {
	c.register(token)
	c.outbound.PublishOutbound(p)
}

// AwaitMatch blocks until a response carrying token is resolved, or
// fails with ErrTimeout after the given timeout. The entry is removed
// on receipt, so a token already consumed by an earlier match acts as a
// fresh registration and a stale value is never returned.
func (c *Correlator) AwaitMatch(token string, timeout time.Duration) (bus.SendResult, error) {
	e := c.register(token)

	select {
	case res := <-e.ch:
		c.remove(token, e)
		return res, nil
	case <-time.After(timeout):
		c.remove(token, e)
		return bus.SendResult{}, ErrTimeout
	}
}

// Resolve buffers a transport response into its token's future. The
// entry stays registered until the awaiting caller claims it, so a
// response that lands before AwaitMatch is not lost; entries nobody
// ever claims age out in the sweep. Reports whether the token was
// pending; unclaimed responses are dropped.
func (c *Correlator) Resolve(res bus.SendResult) bool {
	c.mu.Lock()
	e, ok := c.pending[res.Echo]
	c.mu.Unlock()

	if !ok {
		return false
	}
	// ch is buffered; delivery never blocks. A second response for the
	// same token is a duplicate and is dropped.
	select {
	case e.ch <- res:
	default:
	}
	return true
}

// Pending reports whether token currently has an in-flight entry.
func (c *Correlator) Pending(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[token]
	return ok
}

// PendingCount returns the number of in-flight entries.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// remove deletes the entry for token, but only if it is still the same
// registration the caller holds.
func (c *Correlator) remove(token string, e *entry) {
	c.mu.Lock()
	if cur, ok := c.pending[token]; ok && cur == e {
		delete(c.pending, token)
	}
	c.mu.Unlock()
}

func (c *Correlator) register(token string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.pending[token]; ok {
		return e
	}
	e := &entry{ch: make(chan bus.SendResult, 1), createdAt: time.Now()}
	c.pending[token] = e
	return e
}

func (c *Correlator) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Correlator) sweep() {
	cutoff := time.Now().Add(-c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	for token, e := range c.pending {
		if e.createdAt.Before(cutoff) {
			delete(c.pending, token)
			log.Printf("Correlator: expired unclaimed entry (echo=%s, age>%s)", token, c.ttl)
		}
	}
}
