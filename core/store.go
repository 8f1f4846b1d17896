package core

import "github.com/cockroachdb/errors"

// ErrRunNotFound is returned by a TranscriptStore for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// TranscriptStore persists finished (or interrupted) run transcripts so they
// can be inspected after Run returns.
type TranscriptStore interface {
	// Save stores a snapshot of the transcript, replacing any previous one.
	Save(runID string, turns []Turn) error
	// Get returns a copy of the stored transcript.
	Get(runID string) ([]Turn, error)
	// List returns the stored run ids in insertion order.
	List() ([]string, error)
	// Delete removes a stored transcript. Deleting an unknown id is a no-op.
	Delete(runID string) error
}
