package prescription

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Ledger stores committed results and drives their verification.
// Every mutation holds a ledger-wide lock.
type Ledger struct {
	mu sync.Mutex
	db DB
}

// NewLedger creates a Ledger over db
func NewLedger(db DB) *Ledger {
	return &Ledger{db: db}
}

// Commit appends result as a new pending entry
func (l *Ledger) Commit(result *Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.GetResult(result.ID); err == nil {
		return fmt.Errorf("result %s already committed", result.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("checking result: %w", err)
	}

	entry := result.clone()
	entry.Status = StatusPending
	if err := l.db.SaveResult(entry); err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	result.Status = StatusPending
	return nil
}

// Get returns the entry with id
func (l *Ledger) Get(id string) (*Result, error) {
	result, err := l.db.GetResult(id)
	if err != nil {
		return nil, fmt.Errorf("getting result: %w", err)
	}
	return result.clone(), nil
}

// List returns every entry, newest first
func (l *Ledger) List() ([]*Result, error) {
	results, err := l.db.ListResults()
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	out := make([]*Result, 0, len(results))
	for _, r := range results {
		out = append(out, r.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ProcessedAt.After(out[j].ProcessedAt)
	})
	return out, nil
}

// Verify moves a pending entry to verified
func (l *Ledger) Verify(id string) (*Result, error) {
	return l.transition(id, StatusVerified)
}

// Reject moves a pending entry to rejected
func (l *Ledger) Reject(id string) (*Result, error) {
	return l.transition(id, StatusRejected)
}

func (l *Ledger) transition(id string, to Status) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.db.GetResult(id)
	if err != nil {
		return nil, fmt.Errorf("getting result: %w", err)
	}
	if current.Status != StatusPending {
		return nil, fmt.Errorf("%w: result %s is %s", ErrInvalidTransition, id, current.Status)
	}

	updated := current.clone()
	updated.Status = to
	if err := l.db.SaveResult(updated); err != nil {
		return nil, fmt.Errorf("saving result: %w", err)
	}
	return updated.clone(), nil
}

// Delete removes an entry in any state
func (l *Ledger) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.DeleteResult(id); err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}
	return nil
}

// Stats counts entries by status and averages their overall confidence
func (l *Ledger) Stats() (Stats, error) {
	results, err := l.db.ListResults()
	if err != nil {
		return Stats{}, fmt.Errorf("listing results: %w", err)
	}

	var stats Stats
	var sum float64
	for _, r := range results {
		stats.Total++
		sum += r.OverallConfidence
		switch r.Status {
		case StatusPending:
			stats.Pending++
		case StatusVerified:
			stats.Verified++
		case StatusRejected:
			stats.Rejected++
		}
	}
	if stats.Total > 0 {
		stats.AverageConfidence = math.Round(sum / float64(stats.Total))
	}
	return stats, nil
}
