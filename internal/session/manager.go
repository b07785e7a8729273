package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smoosense/smoosense/internal/config"
	apperrors "github.com/smoosense/smoosense/internal/errors"
	"github.com/smoosense/smoosense/internal/observability"
)

// Manager owns all sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	idleTimeout  time.Duration
	reapInterval time.Duration
	policy       config.BusyPolicy
	maxSessions  int
	now          func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	reaperWG sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager. Call Start to run the background reaper.
func NewManager(cfg config.SessionConfig, opts ...Option) *Manager {
	m := &Manager{
		sessions:     make(map[string]*Session),
		idleTimeout:  cfg.IdleTimeout,
		reapInterval: cfg.ReapInterval,
		policy:       cfg.BusyPolicy,
		maxSessions:  cfg.MaxSessions,
		now:          time.Now,
		stop:         make(chan struct{}),
	}
	if m.idleTimeout <= 0 {
		m.idleTimeout = 30 * time.Minute
	}
	if m.reapInterval <= 0 {
		m.reapInterval = time.Minute
	}
	if m.policy == "" {
		m.policy = config.BusyReject
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the busy policy in effect.
func (m *Manager) Policy() config.BusyPolicy {
	return m.policy
}

// Create opens a new idle session and returns its token.
func (m *Manager) Create() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && m.liveLocked() >= m.maxSessions {
		return "", apperrors.NewSessionLimitError(m.maxSessions)
	}

	now := m.now()
	token := uuid.NewString()
	m.sessions[token] = &Session{
		Token:        token,
		State:        StateIdle,
		CreatedAt:    now,
		LastActivity: now,
	}
	observability.ObserveActiveSessions(m.liveLocked())
	slog.Debug("Session created.", "session", token)
	return token, nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(token string) (Info, error) {
	var info Info
	err := m.WithSession(token, func(s *Session) error {
		info = s.info()
		return nil
	})
	return info, err
}

// WithSession runs fn with the live session locked. Expired or unknown
// sessions fail before fn runs. Access counts as activity.
func (m *Manager) WithSession(token string, fn func(s *Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookupLocked(token)
	if err != nil {
		return err
	}
	if s.State != StateRunning {
		s.LastActivity = m.now()
	}
	return fn(s)
}

// Begin marks the session Running for sql. Under the reject policy a busy
// session fails with SessionBusyError; under cancel_prior the running
// query is cancelled and Begin waits for it to release the session.
// The caller must call Run.Finish.
func (m *Manager) Begin(ctx context.Context, token, sql string) (*Run, error) {
	for {
		m.mu.Lock()
		s, err := m.lookupLocked(token)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}

		if prior := s.run; prior != nil {
			if m.policy != config.BusyCancelPrior {
				m.mu.Unlock()
				observability.ObserveBusy(string(config.BusyReject))
				return nil, apperrors.NewSessionBusyError(token)
			}
			prior.requestCancel()
			m.mu.Unlock()
			observability.ObserveBusy(string(config.BusyCancelPrior))
			slog.Debug("Cancelling prior query.", "session", token)

			select {
			case <-prior.Done():
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		runCtx, cancel := context.WithCancel(ctx)
		now := m.now()
		run := &Run{
			token:     token,
			sql:       sql,
			startedAt: now,
			ctx:       runCtx,
			cancel:    cancel,
			done:      make(chan struct{}),
			manager:   m,
		}
		s.run = run
		s.State = StateRunning
		s.LastQuery = sql
		s.LastActivity = now
		m.mu.Unlock()
		return run, nil
	}
}

func (m *Manager) finish(run *Run, datasets []string, cursor string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[run.token]
	if !ok || s.run != run {
		return
	}
	s.run = nil
	if s.State == StateRunning {
		s.State = StateIdle
	}
	s.LastActivity = m.now()
	if datasets != nil {
		s.Datasets = datasets
	}
	s.Cursor = cursor
}

// Cancel requests cancellation of the running query. It reports whether a
// query was running.
func (m *Manager) Cancel(token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookupLocked(token)
	if err != nil {
		return false, err
	}
	if s.run == nil {
		return false, nil
	}
	s.run.requestCancel()
	slog.Debug("Query cancellation requested.", "session", token)
	return true, nil
}

// Destroy removes the session, cancelling any running query.
func (m *Manager) Destroy(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return apperrors.NewSessionNotFoundError(token)
	}
	if s.run != nil {
		s.run.requestCancel()
	}
	delete(m.sessions, token)
	observability.ObserveActiveSessions(m.liveLocked())
	slog.Debug("Session destroyed.", "session", token)
	return nil
}

// Reap expires sessions idle past the timeout and forgets expired ones
// after a further idle period. Running sessions are never expired.
func (m *Manager) Reap(now time.Time) (expired, removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for token, s := range m.sessions {
		switch {
		case s.State == StateExpired:
			if now.Sub(s.expiredAt) > m.idleTimeout {
				delete(m.sessions, token)
				removed++
			}
		case s.run == nil && now.Sub(s.LastActivity) > m.idleTimeout:
			s.State = StateExpired
			s.expiredAt = now
			expired++
		}
	}
	if expired > 0 || removed > 0 {
		observability.ObserveExpired(expired)
		observability.ObserveActiveSessions(m.liveLocked())
		slog.Debug("Sessions reaped.", "expired", expired, "removed", removed)
	}
	return expired, removed
}

// Start runs the reaper until ctx is done or Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.reaperWG.Add(1)
	go m.reapLoop(ctx)
}

func (m *Manager) reapLoop(ctx context.Context) {
	defer m.reaperWG.Done()

	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Reap(m.now())
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		}
	}
}

// Len returns the number of tracked sessions, tombstones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops the reaper and cancels every running query.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.reaperWG.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.run != nil {
			s.run.requestCancel()
		}
	}
}

// lookupLocked resolves a token, expiring the session lazily if the reaper
// has not caught up yet.
func (m *Manager) lookupLocked(token string) (*Session, error) {
	s, ok := m.sessions[token]
	if !ok {
		return nil, apperrors.NewSessionNotFoundError(token)
	}
	now := m.now()
	if s.State != StateExpired && s.run == nil && now.Sub(s.LastActivity) > m.idleTimeout {
		s.State = StateExpired
		s.expiredAt = now
	}
	if s.State == StateExpired {
		return nil, apperrors.NewSessionExpiredError(token)
	}
	return s, nil
}

func (m *Manager) liveLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.State != StateExpired {
			n++
		}
	}
	return n
}
