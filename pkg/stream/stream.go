package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDrainCount is used when Drain is asked for a non-positive count.
const DefaultDrainCount = 15

// NoHistory is returned by Drain when the unseen flag is set but the
// buffer holds no messages, so callers can tell "flagged but empty"
// apart from "nothing new".
const NoHistory = "（暂无聊天记录）"

// Stream is the per-group conversation buffer: an append-only,
// insertion-ordered store of formatted one-line messages keyed by
// message id. Appending with an existing id overwrites in place.
//
// The dispatcher appends while the owning session actor drains, so all
// operations lock. Drain is destructive (it consumes the unseen flag)
// and must have a single consumer: the owning actor.
type Stream struct {
	ID        string
	GroupKey  string
	CreatedAt time.Time

	mu        sync.Mutex
	order     []string
	lines     map[string]string
	hasUnseen bool
}

// New creates an empty Stream for a conversation key.
func New(groupKey string) *Stream {
	return &Stream{
		ID:        uuid.New().String(),
		GroupKey:  groupKey,
		CreatedAt: time.Now(),
		lines:     make(map[string]string),
	}
}

// Append inserts (or overwrites) the line at messageID. Line breaks are
// stripped to preserve one-line-per-message framing. Appends from the
// bot itself (self=true) do not raise the unseen flag.
func (s *Stream) Append(messageID, line string, self bool) {
	line = strings.ReplaceAll(line, "\r", " ")
	line = strings.ReplaceAll(line, "\n", " ")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lines[messageID]; !exists {
		s.order = append(s.order, messageID)
	}
	s.lines[messageID] = line
	if !self {
		s.hasUnseen = true
	}
}

// Drain returns the newline-joined last maxCount lines in insertion
// order and clears the unseen flag. When nothing unseen has arrived it
// returns ("", false) without touching the buffer. maxCount <= 0 falls
// back to DefaultDrainCount.
func (s *Stream) Drain(maxCount int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasUnseen {
		return "", false
	}
	s.hasUnseen = false

	if maxCount <= 0 {
		maxCount = DefaultDrainCount
	}
	if len(s.order) == 0 {
		return NoHistory, true
	}

	start := len(s.order) - maxCount
	if start < 0 {
		start = 0
	}
	recent := make([]string, 0, len(s.order)-start)
	for _, id := range s.order[start:] {
		recent = append(recent, s.lines[id])
	}
	return strings.Join(recent, "\n"), true
}

// Trim deletes all but the most recent keepCount entries and returns the
// number removed. Never invoked by the stream itself; bounding is the
// caller's policy.
func (s *Stream) Trim(keepCount int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keepCount < 0 {
		keepCount = 0
	}
	removed := len(s.order) - keepCount
	if removed <= 0 {
		return 0
	}
	for _, id := range s.order[:removed] {
		delete(s.lines, id)
	}
	s.order = append([]string(nil), s.order[removed:]...)
	return removed
}

// Len returns the number of buffered messages.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Unseen reports whether externally-sourced content arrived since the
// last Drain.
func (s *Stream) Unseen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasUnseen
}

// Lines returns a snapshot of all buffered lines in insertion order.
// Used by debug introspection; does not consume the unseen flag.
func (s *Stream) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]string, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, s.lines[id])
	}
	return snapshot
}
