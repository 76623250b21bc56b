package core

import (
	"context"
	"sort"
	"sync"

	"logsock/internal/session"
)

// ActiveSessionSet tracks running sessions so shutdown can wait for
// all of them.  Sessions remove themselves concurrently as they finish.
type ActiveSessionSet struct {
	mu       sync.Mutex
	sessions map[uint64]*session.Session
	wg       sync.WaitGroup
}

// NewActiveSessionSet returns an empty set.
func NewActiveSessionSet() *ActiveSessionSet {
	return &ActiveSessionSet{sessions: make(map[uint64]*session.Session)}
}

// Add registers s.  Must be called before the session goroutine starts.
func (a *ActiveSessionSet) Add(s *session.Session) {
	a.wg.Add(1)
	a.mu.Lock()
	a.sessions[s.ID] = s
	a.mu.Unlock()
}

// Done unregisters the session with the given id.  Marking an
// unknown id is a no-op.
func (a *ActiveSessionSet) Done(id uint64) {
	a.mu.Lock()
	_, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()
	if ok {
		a.wg.Done()
	}
}

// Len returns the number of registered sessions.
func (a *ActiveSessionSet) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Snapshot returns the registered sessions ordered by id.
func (a *ActiveSessionSet) Snapshot() []*session.Session {
	a.mu.Lock()
	out := make([]*session.Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, s)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Wait blocks until every registered session has been removed or ctx
// is done.  No session may be added once Wait has been called.
func (a *ActiveSessionSet) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
