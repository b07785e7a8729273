// Package session tracks per-client query sessions. A session runs at most
// one query at a time and expires after a period of inactivity.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is the mutable server-side state of one client. Fields are
// guarded by the manager's lock; use Manager.WithSession to read or
// update them.
type Session struct {
	Token        string
	State        State
	CreatedAt    time.Time
	LastActivity time.Time

	// Datasets are the dataset IDs bound by the last query
	Datasets []string

	// LastQuery is the SQL of the most recent execution
	LastQuery string

	// Cursor resumes the last query; empty when it was exhausted
	Cursor string

	expiredAt time.Time
	run       *Run
}

// Info is a read-only snapshot of a Session.
type Info struct {
	Token        string    `json:"token"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Datasets     []string  `json:"datasets,omitempty"`
	LastQuery    string    `json:"last_query,omitempty"`
	Cursor       string    `json:"cursor,omitempty"`
}

func (s *Session) info() Info {
	return Info{
		Token:        s.Token,
		State:        s.State,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		Datasets:     append([]string(nil), s.Datasets...),
		LastQuery:    s.LastQuery,
		Cursor:       s.Cursor,
	}
}

// Run is one in-flight execution on a session. The executor polls
// Cancelled between row batches and passes Context to the engine.
type Run struct {
	token     string
	sql       string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once
	manager   *Manager
}

// Token returns the owning session token.
func (r *Run) Token() string { return r.token }

// SQL returns the statement being executed.
func (r *Run) SQL() string { return r.sql }

// StartedAt returns when the run began.
func (r *Run) StartedAt() time.Time { return r.startedAt }

// Context is cancelled when the run is cancelled or its session destroyed.
func (r *Run) Context() context.Context { return r.ctx }

// Cancelled reports whether cancellation was requested.
func (r *Run) Cancelled() bool { return r.cancelled.Load() }

// Done is closed once the run has released its session.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) requestCancel() {
	r.cancelled.Store(true)
	r.cancel()
}

// Finish releases the session and records what the query touched. It is
// safe to call more than once; only the first call has effect.
func (r *Run) Finish(datasets []string, cursor string) {
	r.once.Do(func() {
		r.manager.finish(r, datasets, cursor)
		r.cancel()
		close(r.done)
	})
}
