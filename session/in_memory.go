package session

import (
	"sync"

	"github.com/cockroachdb/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hupe1980/agentloop/core"
)

// InMemoryStore is a volatile TranscriptStore keeping transcripts in a
// process local map. It is safe for concurrent access and best suited for
// tests, the CLI and ephemeral demo servers. Transcripts are deep-copied on
// the way in and out to prevent external mutation of stored state.
//
// When MaxRuns is positive the oldest transcripts are evicted first.
type InMemoryStore struct {
	mu      sync.RWMutex
	runs    *orderedmap.OrderedMap[string, []core.Turn]
	maxRuns int
}

// InMemoryOptions configure an InMemoryStore.
type InMemoryOptions struct {
	// MaxRuns bounds the number of stored transcripts; <= 0 is unbounded.
	MaxRuns int
}

// NewInMemoryStore constructs an empty in-memory transcript store.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	var opts InMemoryOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	return &InMemoryStore{
		runs:    orderedmap.New[string, []core.Turn](),
		maxRuns: opts.MaxRuns,
	}
}

// Save stores a snapshot of turns. Re-saving a run keeps its position.
func (s *InMemoryStore) Save(runID string, turns []core.Turn) error {
	if runID == "" {
		return errors.New("run id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs.Set(runID, core.CloneTurns(turns))

	for s.maxRuns > 0 && s.runs.Len() > s.maxRuns {
		oldest := s.runs.Oldest()
		s.runs.Delete(oldest.Key)
	}

	return nil
}

// Get returns a copy of the stored transcript.
func (s *InMemoryStore) Get(runID string) ([]core.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.runs.Get(runID)
	if !ok {
		return nil, errors.Wrapf(core.ErrRunNotFound, "run %s", runID)
	}

	return core.CloneTurns(turns), nil
}

// List returns the stored run ids in insertion order.
func (s *InMemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, s.runs.Len())
	for pair := s.runs.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}

	return ids, nil
}

// Delete removes a stored transcript.
func (s *InMemoryStore) Delete(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs.Delete(runID)

	return nil
}
