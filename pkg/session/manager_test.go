package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nutriflow/pkg/domain"
	"nutriflow/pkg/store"
)

// blockingResolver parks resolutions until released per user ID.
type blockingResolver struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	fail  map[string]error
}

func newBlockingResolver() *blockingResolver {
	return &blockingResolver{
		gates: make(map[string]chan struct{}),
		fail:  make(map[string]error),
	}
}

func (r *blockingResolver) block(userID string) {
	r.mu.Lock()
	r.gates[userID] = make(chan struct{})
	r.mu.Unlock()
}

func (r *blockingResolver) release(userID string) {
	r.mu.Lock()
	gate := r.gates[userID]
	delete(r.gates, userID)
	r.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (r *blockingResolver) failWith(userID string, err error) {
	r.mu.Lock()
	r.fail[userID] = err
	r.mu.Unlock()
}

func (r *blockingResolver) ResolveProfile(ctx context.Context, userID string) (domain.Profile, error) {
	r.mu.Lock()
	gate := r.gates[userID]
	failErr := r.fail[userID]
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Profile{}, ctx.Err()
		}
	}
	if failErr != nil {
		return domain.Profile{}, failErr
	}
	return domain.Profile{ID: userID, Name: "user " + userID}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met")
}

func TestSetSessionResolvesProfile(t *testing.T) {
	m := NewManager(newBlockingResolver(), nil)
	defer m.Close()

	m.SetSession(&domain.Session{Token: "t", UserID: "u1", Email: "u1@x"})
	waitFor(t, func() bool { return !m.State().Loading })

	st := m.State()
	if st.Profile == nil || st.Profile.ID != "u1" {
		t.Fatalf("profile not resolved: %+v", st)
	}
	if st.Session == nil || st.Session.UserID != "u1" {
		t.Fatalf("session lost: %+v", st)
	}
}

func TestLoadingTrueUntilResolutionSettles(t *testing.T) {
	r := newBlockingResolver()
	r.block("u1")
	m := NewManager(r, nil)
	defer m.Close()

	m.SetSession(&domain.Session{Token: "t", UserID: "u1"})
	st := m.State()
	if !st.Loading {
		t.Fatalf("loading must be true while resolution is in flight")
	}
	if st.Profile != nil {
		t.Fatalf("stale profile visible during loading: %+v", st.Profile)
	}

	r.release("u1")
	waitFor(t, func() bool { return !m.State().Loading })
	if m.State().Profile == nil {
		t.Fatalf("profile missing after resolution")
	}
}

func TestSlowOldResolutionCannotClobberNewerSession(t *testing.T) {
	r := newBlockingResolver()
	r.block("old")
	m := NewManager(r, nil)
	defer m.Close()

	m.SetSession(&domain.Session{Token: "t-old", UserID: "old"})
	m.SetSession(&domain.Session{Token: "t-new", UserID: "new"})

	waitFor(t, func() bool { return !m.State().Loading })
	// Let the superseded resolution finish late.
	r.release("old")
	time.Sleep(50 * time.Millisecond)

	st := m.State()
	if st.Profile == nil || st.Profile.ID != "new" {
		t.Fatalf("old resolution clobbered newer session: %+v", st.Profile)
	}
	if st.Session == nil || st.Session.UserID != "new" {
		t.Fatalf("unexpected session: %+v", st.Session)
	}
}

func TestExpiredCredentialForcesSignOut(t *testing.T) {
	r := newBlockingResolver()
	r.failWith("u1", store.ErrSessionExpired)
	m := NewManager(r, nil)
	defer m.Close()

	m.SetSession(&domain.Session{Token: "t", UserID: "u1"})
	waitFor(t, func() bool { return !m.State().Loading })

	st := m.State()
	if st.Session != nil || st.Profile != nil {
		t.Fatalf("expected forced sign-out, got %+v", st)
	}
	if st.Notice != NoticeSessionExpired {
		t.Fatalf("expected session-expired notice, got %q", st.Notice)
	}
}

func TestTransientFailureKeepsSession(t *testing.T) {
	r := newBlockingResolver()
	r.failWith("u1", errors.New("network down"))
	m := NewManager(r, nil)
	defer m.Close()

	m.SetSession(&domain.Session{Token: "t", UserID: "u1"})
	waitFor(t, func() bool { return !m.State().Loading })

	st := m.State()
	if st.Session == nil || st.Session.UserID != "u1" {
		t.Fatalf("transient failure must keep the session: %+v", st)
	}
	if st.Profile != nil {
		t.Fatalf("profile must be cleared on fetch failure")
	}
	if st.Notice != "" {
		t.Fatalf("transient failure must not force a notice, got %q", st.Notice)
	}
}

func TestClearSession(t *testing.T) {
	var notifications []State
	m := NewManager(newBlockingResolver(), func(s State) {
		notifications = append(notifications, s)
	})
	defer m.Close()

	m.SetSession(&domain.Session{Token: "t", UserID: "u1"})
	waitFor(t, func() bool { return !m.State().Loading })
	m.SetSession(nil)

	st := m.State()
	if st.Session != nil || st.Profile != nil || st.Loading {
		t.Fatalf("clear left residue: %+v", st)
	}
	if len(notifications) == 0 {
		t.Fatalf("expected change notifications")
	}
}
