package session

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/linxiaolu/xiaolubot/pkg/decision"
	"github.com/linxiaolu/xiaolubot/pkg/stream"
)

// State is the actor lifecycle. Transitions only move forward:
// Idle -> Running -> Stopping -> Stopped.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Engine runs one decision cycle over a conversation snapshot.
type Engine interface {
	RunCycle(ctx context.Context, cc decision.CycleContext, chat string, memory []string) decision.Outcome
}

// Config gathers actor wiring. Zero probability means the actor only
// ever drains and discards.
type Config struct {
	Channel          string
	GroupID          string
	Stream           *stream.Stream
	Engine           Engine
	ReplyProbability float64
	PollInterval     time.Duration
	DrainCount       int
	MaxMemory        int
	Alias            string
}

// Actor watches one conversation buffer. Each poll with unseen content
// draws against the reply probability: a winning draw runs a full
// decision cycle, a losing draw drains and discards so stale context
// never accumulates.
type Actor struct {
	ID      uuid.UUID
	Channel string
	GroupID string

	stream       *stream.Stream
	engine       Engine
	probability  float64
	pollInterval time.Duration
	drainCount   int
	maxMemory    int
	alias        string

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	memMu  sync.Mutex
	memory []string

	// draw is the probability source, replaced in tests.
	draw func() float64
}

func NewActor(cfg Config) *Actor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.MaxMemory <= 0 {
		cfg.MaxMemory = 10
	}
	return &Actor{
		ID:           uuid.New(),
		Channel:      cfg.Channel,
		GroupID:      cfg.GroupID,
		stream:       cfg.Stream,
		engine:       cfg.Engine,
		probability:  cfg.ReplyProbability,
		pollInterval: cfg.PollInterval,
		drainCount:   cfg.DrainCount,
		maxMemory:    cfg.MaxMemory,
		alias:        cfg.Alias,
		done:         make(chan struct{}),
		draw:         rand.Float64,
	}
}

// Start launches the poll loop. Calling Start twice, or after Stop, is
// a no-op.
func (a *Actor) Start() {
	if !a.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.run(ctx)
}

// Stop requests shutdown and waits for the loop to actually exit, or
// for ctx to give up first.
func (a *Actor) Stop(ctx context.Context) error {
	switch {
	case a.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)):
		close(a.done)
		return nil
	case a.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)):
		a.cancel()
	}
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) State() State {
	return State(a.state.Load())
}

func (a *Actor) run(ctx context.Context) {
	defer close(a.done)
	defer a.state.Store(int32(StateStopped))

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !a.stream.Unseen() {
			continue
		}
		if a.draw() < a.probability {
			a.cycle(ctx)
		} else {
			a.stream.Drain(a.drainCount)
		}
	}
}

// cycle runs one drain-decide-execute pass. A panicking cycle is logged
// and swallowed, the loop keeps going.
func (a *Actor) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("群%s决策循环panic恢复: %v", a.GroupID, r)
		}
	}()

	chat, ok := a.stream.Drain(a.drainCount)
	if !ok {
		return
	}

	out := a.engine.RunCycle(ctx, decision.CycleContext{Channel: a.Channel, GroupID: a.GroupID}, chat, a.RecentMemory())
	if !out.Committed {
		return
	}
	a.Record(out.Memory)
	if out.SentText != "" {
		line := time.Now().Format("2006-01-02 15:04:05") + " [" + a.alias + "]-[群成员]: " + out.SentText
		a.stream.Append("self:"+out.Echo, line, true)
	}
}

// Record appends one timestamped memory line. Storage is unbounded,
// reads are bounded by RecentMemory.
func (a *Actor) Record(memory string) {
	if memory == "" {
		return
	}
	line := "[" + time.Now().Format("2006-01-02 15:04:05") + "]:" + memory
	a.memMu.Lock()
	a.memory = append(a.memory, line)
	a.memMu.Unlock()
}

// RecentMemory returns the newest maxMemory lines, oldest first.
func (a *Actor) RecentMemory() []string {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	start := 0
	if len(a.memory) > a.maxMemory {
		start = len(a.memory) - a.maxMemory
	}
	out := make([]string, len(a.memory)-start)
	copy(out, a.memory[start:])
	return out
}

// Memory returns the full memory history.
func (a *Actor) Memory() []string {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	out := make([]string, len(a.memory))
	copy(out, a.memory)
	return out
}
