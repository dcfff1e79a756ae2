// Package session owns authenticated-session state for interactive clients
// of the API. Embedders hand it a Resolver (the app service satisfies the
// interface) and feed session-change events into a Manager; the Manager keeps
// {session, profile, loading} consistent across concurrent changes.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"nutriflow/pkg/domain"
	"nutriflow/pkg/store"
)

// NoticeSessionExpired is the retryable user-facing notice set when stored
// credentials are no longer valid and a fresh sign-in is required.
const NoticeSessionExpired = "Your session has expired. Please sign in again."

// Resolver fetches the profile belonging to a session identity.
type Resolver interface {
	ResolveProfile(ctx context.Context, userID string) (domain.Profile, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, userID string) (domain.Profile, error)

func (f ResolverFunc) ResolveProfile(ctx context.Context, userID string) (domain.Profile, error) {
	return f(ctx, userID)
}

// State is one consistent snapshot of the authentication state. While Loading
// is true the profile belongs to a previous session and must not be trusted.
type State struct {
	Session *domain.Session
	Profile *domain.Profile
	Loading bool
	Notice  string
}

// Manager owns the current session and its derived profile. Session changes
// are serialized by cancel-and-replace: applying a new session cancels any
// in-flight profile resolution, so a slow fetch for an old session can never
// clobber the state of a newer one. Loading stays true from the moment a
// change is applied until its resolution settles.
type Manager struct {
	resolver Resolver
	onChange func(State)

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	gen    uint64
	wg     sync.WaitGroup
}

// NewManager builds a manager. onChange, when non-nil, is invoked after every
// state transition with a snapshot copy. Notifications are delivered in
// transition order; onChange must not call back into the Manager.
func NewManager(resolver Resolver, onChange func(State)) *Manager {
	return &Manager{resolver: resolver, onChange: onChange}
}

// SetSession applies a session-change event (sign-in, sign-out, token
// refresh). Passing nil clears the session immediately; otherwise profile
// resolution starts in the background and Loading is raised until it settles.
func (m *Manager) SetSession(s *domain.Session) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.state.Profile = nil
	m.state.Notice = ""
	if s == nil {
		m.state.Session = nil
		m.state.Loading = false
		m.notifyLocked()
		m.mu.Unlock()
		return
	}
	copied := *s
	m.state.Session = &copied
	m.state.Loading = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.notifyLocked()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.resolve(ctx, gen, copied)
}

func (m *Manager) resolve(ctx context.Context, gen uint64, s domain.Session) {
	defer m.wg.Done()
	profile, err := m.resolver.ResolveProfile(ctx, s.UserID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		// Superseded by a newer session change; drop the result.
		return
	}
	m.cancel = nil
	switch {
	case err == nil:
		m.state.Profile = &profile
	case errors.Is(err, store.ErrSessionExpired):
		// Invalid credential: force sign-out and surface a retryable notice.
		m.state.Session = nil
		m.state.Profile = nil
		m.state.Notice = NoticeSessionExpired
	case ctx.Err() != nil:
		return
	default:
		// Transient fetch failure: keep the session, degrade to no profile.
		slog.Error("profile resolution failed", "user_id", s.UserID, "err", err)
		m.state.Profile = nil
	}
	m.state.Loading = false
	m.notifyLocked()
}

// RefreshProfile re-resolves the profile for the current session, using the
// same serialization rules as a session change.
func (m *Manager) RefreshProfile() {
	m.mu.Lock()
	current := m.state.Session
	m.mu.Unlock()
	m.SetSession(current)
}

// State returns a snapshot copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Close cancels any in-flight resolution and waits for it to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) snapshotLocked() State {
	out := State{Loading: m.state.Loading, Notice: m.state.Notice}
	if m.state.Session != nil {
		s := *m.state.Session
		out.Session = &s
	}
	if m.state.Profile != nil {
		p := *m.state.Profile
		out.Profile = &p
	}
	return out
}

func (m *Manager) notifyLocked() {
	if m.onChange == nil {
		return
	}
	m.onChange(m.snapshotLocked())
}
