package data

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyID is returned when a coin in a refresh has no id.
	ErrEmptyID = errors.New("coin has empty id")
	// ErrDuplicateID is returned when two coins in a refresh share an id.
	ErrDuplicateID = errors.New("duplicate coin id")
)

// Coin is one row of the reference table.
type Coin struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Table is an immutable snapshot of the known coins in upstream order.
// Lookups are case-insensitive and return the first row that matches.
type Table struct {
	coins  []Coin
	byID   map[string]int
	byName map[string]int
}

// NewTable validates coins and indexes them. Ids must be non-empty and
// unique within the snapshot.
func NewTable(coins []Coin) (*Table, error) {
	t := &Table{
		coins:  make([]Coin, len(coins)),
		byID:   make(map[string]int, len(coins)),
		byName: make(map[string]int, len(coins)),
	}
	copy(t.coins, coins)

	for i, c := range t.coins {
		if len(c.ID) == 0 {
			return nil, fmt.Errorf("row %d: %w", i, ErrEmptyID)
		}

		// ids are looked up case-insensitively, so they must be unique that way
		id := strings.ToLower(c.ID)
		if j, ok := t.byID[id]; ok {
			return nil, fmt.Errorf("%w: %q and %q", ErrDuplicateID, t.coins[j].ID, c.ID)
		}
		t.byID[id] = i
		name := strings.ToLower(c.Name)
		if _, ok := t.byName[name]; !ok {
			t.byName[name] = i
		}
	}

	return t, nil
}

// Len returns the number of coins. A nil table is empty.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.coins)
}

// At returns the coin at position i.
func (t *Table) At(i int) Coin {
	return t.coins[i]
}

// Coins returns the rows in table order. The slice must not be modified.
func (t *Table) Coins() []Coin {
	if t == nil {
		return nil
	}
	return t.coins
}

// ByID finds a coin by id, ignoring case.
func (t *Table) ByID(id string) (Coin, bool) {
	if t == nil {
		return Coin{}, false
	}
	i, ok := t.byID[strings.ToLower(id)]
	if !ok {
		return Coin{}, false
	}
	return t.coins[i], true
}

// ByName finds a coin by display name, ignoring case.
func (t *Table) ByName(name string) (Coin, bool) {
	if t == nil {
		return Coin{}, false
	}
	i, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return Coin{}, false
	}
	return t.coins[i], true
}
