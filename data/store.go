// Package data holds the in-memory coin reference table.
//
// The table is never persisted. It starts empty, is filled by the first
// refresh and is replaced wholesale on every refresh after that. Readers
// always see one complete snapshot.
package data

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Source supplies the full coin list on demand.
type Source interface {
	Coins(ctx context.Context) ([]Coin, error)
}

// Store owns the current reference table. It has a single writer (the
// refresher) and any number of readers.
type Store struct {
	current atomic.Pointer[snapshot]
}

// snapshot pairs a table with the time it was installed so both are
// swapped together.
type snapshot struct {
	table   *Table
	updated time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Table returns the current snapshot, or nil if the store was never filled.
func (s *Store) Table() *Table {
	t, _ := s.Snapshot()
	return t
}

// Swap installs t as the current snapshot.
func (s *Store) Swap(t *Table) {
	s.current.Store(&snapshot{table: t, updated: time.Now()})
}

// Updated returns when the current snapshot was installed.
func (s *Store) Updated() time.Time {
	_, updated := s.Snapshot()
	return updated
}

// Snapshot returns the current table together with the time it was
// installed. Both are zero before the first Swap.
func (s *Store) Snapshot() (*Table, time.Time) {
	snap := s.current.Load()
	if snap == nil {
		return nil, time.Time{}
	}
	return snap.table, snap.updated
}

// Refresh fetches a new coin list from src and swaps it in. On any error
// the previous snapshot stays in place.
func (s *Store) Refresh(ctx context.Context, src Source) error {
	coins, err := src.Coins(ctx)
	if err != nil {
		return fmt.Errorf("fetching coins: %w", err)
	}

	t, err := NewTable(coins)
	if err != nil {
		return fmt.Errorf("building table: %w", err)
	}

	s.Swap(t)
	log.Info().Str("component", "data").Int("coins", t.Len()).Msg("reference table refreshed")
	return nil
}

// Run refreshes immediately and then every interval until ctx is done.
func (s *Store) Run(ctx context.Context, src Source, interval time.Duration) {
	if err := s.Refresh(ctx, src); err != nil {
		log.Error().Str("component", "data").Err(err).Msg("initial refresh failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Str("component", "data").Dur("interval", interval).Msg("background refresh started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx, src); err != nil {
				log.Error().Str("component", "data").Err(err).Msg("refresh failed, keeping previous table")
			}
		}
	}
}
