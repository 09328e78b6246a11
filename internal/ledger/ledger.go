// Package ledger implements the append-only message log that agents commit
// their outputs to, and the cursored socket that lets one agent read another's
// ledger without disturbing it for other readers.
package ledger

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is an immutable record of one committed output. Two snapshots with
// identical fields render to identical text, so downstream prompt assembly is
// reproducible, except for ID which is always freshly generated.
type Snapshot struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Output    string    `json:"output"`
	Context   string    `json:"context,omitempty"`
}

// String renders the snapshot deterministically for prompt assembly.
func (s Snapshot) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return s.Output
	}
	return string(b)
}

// Ledger is an append-only sequence of snapshots. It is safe for concurrent
// use: a single writer commits while multiple sockets read.
type Ledger struct {
	mu        sync.RWMutex
	snapshots []Snapshot
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Commit appends a new snapshot. Snapshots are never mutated once committed.
func (l *Ledger) Commit(output string, context string) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := Snapshot{ID: uuid.Must(uuid.NewV7()).String(), Timestamp: time.Now(), Output: output, Context: context}
	l.snapshots = append(l.snapshots, snap)
	return snap
}

// Last returns the most recent snapshot, or false if the ledger is empty.
func (l *Ledger) Last() (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.snapshots) == 0 {
		return Snapshot{}, false
	}
	return l.snapshots[len(l.snapshots)-1], true
}

// History returns every committed snapshot, oldest first.
func (l *Ledger) History() []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Snapshot, len(l.snapshots))
	copy(out, l.snapshots)
	return out
}

// Count returns the number of committed snapshots.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.snapshots)
}

// since returns snapshots committed after the given cursor.
func (l *Ledger) since(cursor int) []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if cursor >= len(l.snapshots) {
		return nil
	}
	out := make([]Snapshot, len(l.snapshots)-cursor)
	copy(out, l.snapshots[cursor:])
	return out
}

// Socket is a named, single-reader cursor over a ledger it does not own.
// Multiple sockets may read the same ledger independently; a socket must not
// be shared between concurrent readers.
type Socket struct {
	Name        string
	Description string

	ledger *Ledger
	cursor int
}

// NewSocket creates a socket positioned at the start of ledger.
func NewSocket(name, description string, ledger *Ledger) *Socket {
	return &Socket{Name: name, Description: description, ledger: ledger}
}

// HasNew reports whether the ledger has snapshots beyond the cursor.
func (s *Socket) HasNew() bool {
	return s.ledger.Count() > s.cursor
}

// UnreadCount returns how many snapshots are pending for this socket.
func (s *Socket) UnreadCount() int {
	n := s.ledger.Count() - s.cursor
	if n < 0 {
		return 0
	}
	return n
}

// PeekLatest returns the most recent snapshot's text without moving the
// cursor. Idempotent: calling it repeatedly never changes socket state.
func (s *Socket) PeekLatest() (string, bool) {
	snap, ok := s.ledger.Last()
	if !ok {
		return "", false
	}
	return snap.String(), true
}

// ReadLatest returns the most recent snapshot's text and advances the cursor
// to the ledger's current length. Calling it twice in a row is equivalent to
// calling it once.
func (s *Socket) ReadLatest() (string, bool) {
	s.cursor = s.ledger.Count()
	snap, ok := s.ledger.Last()
	if !ok {
		return "", false
	}
	return snap.String(), true
}

// ReadNewHistory returns the snapshots committed since the last read on this
// socket, then advances the cursor past them.
func (s *Socket) ReadNewHistory() []string {
	items := s.ledger.since(s.cursor)
	s.cursor = s.ledger.Count()
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.String()
	}
	return out
}

// ReadAll advances the cursor to the end and returns every snapshot ever
// committed to the underlying ledger.
func (s *Socket) ReadAll() []string {
	s.cursor = s.ledger.Count()
	history := s.ledger.History()
	out := make([]string, len(history))
	for i, item := range history {
		out[i] = item.String()
	}
	return out
}

// Cursor returns the socket's current read position, for tests and invariant
// checks (cursor is always <= the ledger's length).
func (s *Socket) Cursor() int {
	return s.cursor
}
