package session

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an idle session survives before the sweeper
	// drops it.
	DefaultTTL = 24 * time.Hour

	sweepInterval = time.Hour
)

type entry struct {
	mu         sync.Mutex
	sess       *Session
	lastActive time.Time
}

// Store maps user IDs to sessions. Do serializes all work on one user's
// session while different users run concurrently, which is what keeps two
// workflow transitions for the same user from ever overlapping.
type Store struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	ttl     time.Duration

	cancelSweep context.CancelFunc
	sweepDone   chan struct{}
}

// NewStore creates a store and starts the background sweep of idle sessions.
// ttl <= 0 selects DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		entries:     make(map[int64]*entry),
		ttl:         ttl,
		cancelSweep: cancel,
		sweepDone:   make(chan struct{}),
	}
	go s.sweepLoop(ctx)
	return s
}

// Do runs fn with exclusive ownership of the user's session, creating it
// lazily on first use. Calls for the same user queue in arrival order.
func (s *Store) Do(userID int64, fn func(*Session)) {
	e := s.acquire(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.sess)
}

func (s *Store) acquire(userID int64) *entry {
	now := time.Now()

	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok {
		s.mu.Lock()
		e.lastActive = now
		s.mu.Unlock()
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another goroutine may have created the entry while we upgraded the lock.
	if e, ok := s.entries[userID]; ok {
		e.lastActive = now
		return e
	}
	e = &entry{
		sess:       &Session{UserID: userID},
		lastActive: now,
	}
	s.entries[userID] = e
	return e
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background sweeper.
func (s *Store) Close() {
	s.cancelSweep()
	<-s.sweepDone
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep drops sessions idle past the TTL. An entry whose session lock is held
// is mid-transition and is skipped until the next pass.
func (s *Store) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if now.Sub(e.lastActive) < s.ttl {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		e.mu.Unlock()
		delete(s.entries, id)
		removed++
	}
	return removed
}
