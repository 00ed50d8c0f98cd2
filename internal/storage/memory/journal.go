// Package memory keeps the lookup journal in process memory.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/food-explorer/internal/domain/journal"
)

var _ journal.Repository = (*Journal)(nil)

// Journal is an in-memory journal.Repository.
type Journal struct {
	mu      sync.RWMutex
	entries []journal.Entry
}

// NewJournal returns an empty Journal.
func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) Record(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *Journal) Latest(_ context.Context, code string) (*journal.Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var latest *journal.Entry
	for i := range j.entries {
		e := &j.entries[i]
		if e.Code != code {
			continue
		}
		if latest == nil || !e.CreatedAt.Before(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, journal.ErrNoEntry
	}
	out := *latest
	return &out, nil
}

func (j *Journal) MissingSince(_ context.Context, since time.Time) ([]string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	seen := make(map[string]struct{})
	var codes []string
	for _, e := range j.entries {
		if e.Outcome != journal.OutcomeNotFound || e.CreatedAt.Before(since) {
			continue
		}
		if _, ok := seen[e.Code]; ok {
			continue
		}
		seen[e.Code] = struct{}{}
		codes = append(codes, e.Code)
	}
	return codes, nil
}

func (j *Journal) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	j.mu.RLock()
	out := slices.Clone(j.entries)
	j.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b journal.Entry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *Journal) Ping(context.Context) error { return nil }
