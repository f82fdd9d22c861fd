package orchestrator

import (
	"context"
	"espdesk/internal/model"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type statusEntry struct {
	job        model.DeletionJob
	terminalAt time.Time
	// zero until the terminal state is first read
	expiresAt time.Time
}

// StatusStore keeps deletion job snapshots in memory. A finished entry
// lives for the retention window counted from the first read that saw it
// finished; finished entries nobody reads are dropped after maxUnread.
type StatusStore struct {
	mu        sync.Mutex
	entries   map[string]*statusEntry
	retention time.Duration
	maxUnread time.Duration
	now       func() time.Time
}

func NewStatusStore(retention, maxUnread time.Duration, clock func() time.Time) *StatusStore {
	if retention <= 0 {
		retention = 60 * time.Second
	}
	if maxUnread <= 0 {
		maxUnread = time.Hour
	}
	if clock == nil {
		clock = time.Now
	}

	return &StatusStore{
		entries:   make(map[string]*statusEntry),
		retention: retention,
		maxUnread: maxUnread,
		now:       clock,
	}
}

func (s *StatusStore) Put(job model.DeletionJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &statusEntry{job: job}
	if job.IsTerminal() {
		entry.terminalAt = s.now()
	}
	s.entries[job.ID] = entry
}

// Update applies fn to the stored snapshot. Terminal snapshots are frozen.
func (s *StatusStore) Update(id string, fn func(job *model.DeletionJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: deletion job %s", ErrNotFound, id)
	}
	if entry.job.IsTerminal() {
		return fmt.Errorf("%w: deletion job %s already %s", ErrInvalidState, id, entry.job.Status)
	}

	now := s.now()
	fn(&entry.job)
	entry.job.UpdatedAt = now
	if entry.job.IsTerminal() {
		entry.terminalAt = now
	}
	return nil
}

// Get returns a copy of the snapshot. The first read of a terminal
// snapshot arms its expiry.
func (s *StatusStore) Get(id string) (*model.DeletionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: deletion job %s", ErrNotFound, id)
	}

	now := s.now()
	if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
		delete(s.entries, id)
		return nil, fmt.Errorf("%w: deletion job %s expired", ErrNotFound, id)
	}

	if entry.job.IsTerminal() && entry.expiresAt.IsZero() {
		entry.expiresAt = now.Add(s.retention)
		log.Debug().
			Str("jobId", id).
			Time("expiresAt", entry.expiresAt).
			Msg("Deletion status retention armed")
	}

	job := entry.job
	return &job, nil
}

// Sweep drops expired entries and finished entries nobody read in time.
// It returns the number of entries removed.
func (s *StatusStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		expired := !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt)
		abandoned := entry.expiresAt.IsZero() && !entry.terminalAt.IsZero() && now.Sub(entry.terminalAt) >= s.maxUnread
		if expired || abandoned {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// peek reads a snapshot without arming its expiry
func (s *StatusStore) peek(id string) (*model.DeletionJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	job := entry.job
	return &job, true
}

func (s *StatusStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps every interval until ctx is done
func (s *StatusStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("Swept deletion statuses")
			}
		case <-ctx.Done():
			return
		}
	}
}
