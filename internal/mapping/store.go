package mapping

import (
	"encoding/json"

	"github.com/leapstack-labs/queryx/internal/sheet"
)

// Store holds the finalized mapping of a session, keyed by sheet and kept
// in insertion order. The zero value is an empty store.
type Store struct {
	tables []Table
}

// Accept validates tables and, if valid, replaces the stored mapping.
// On error the store is left unchanged.
func (s *Store) Accept(tables []Table) error {
	if err := Validate(tables); err != nil {
		return err
	}
	s.tables = make([]Table, len(tables))
	for i, t := range tables {
		s.tables[i] = t.clone()
	}
	return nil
}

// Get returns the mapping for one sheet.
func (s *Store) Get(key sheet.Key) (Table, bool) {
	for _, t := range s.tables {
		if t.Key == key {
			return t.clone(), true
		}
	}
	return Table{}, false
}

// Tables returns a copy of the stored mapping in insertion order.
func (s *Store) Tables() []Table {
	out := make([]Table, len(s.tables))
	for i, t := range s.tables {
		out[i] = t.clone()
	}
	return out
}

// Len returns the number of mapped sheets.
func (s *Store) Len() int {
	return len(s.tables)
}

// MarshalJSON encodes the store as a plain array of tables.
func (s Store) MarshalJSON() ([]byte, error) {
	if s.tables == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.tables)
}

// UnmarshalJSON decodes and validates a stored mapping.
func (s *Store) UnmarshalJSON(data []byte) error {
	var tables []Table
	if err := json.Unmarshal(data, &tables); err != nil {
		return err
	}
	if len(tables) == 0 {
		s.tables = nil
		return nil
	}
	return s.Accept(tables)
}
