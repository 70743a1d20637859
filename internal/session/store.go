package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no session exists for an ID.
var ErrNotFound = errors.New("session not found")

// Store persists session contexts between invocations.
type Store interface {
	Load(ctx context.Context, id string) (Context, error)
	Save(ctx context.Context, c Context) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process memory, encoded as JSON so stored
// values never alias a caller's Context.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Load returns the stored session.
func (s *MemoryStore) Load(_ context.Context, id string) (Context, error) {
	s.mu.RLock()
	raw, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return Context{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return Decode(raw)
}

// Save stores c under c.ID.
func (s *MemoryStore) Save(_ context.Context, c Context) error {
	if c.ID == "" {
		return errors.New("session has no ID")
	}
	raw, err := Encode(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[c.ID] = raw
	s.mu.Unlock()
	return nil
}

// Delete removes a session. Deleting an unknown ID is not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
	return nil
}

// Encode serialises a session.
func Encode(c Context) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return raw, nil
}

// Decode is the inverse of Encode. The stored mapping is re-validated.
func Decode(raw []byte) (Context, error) {
	var c Context
	if err := json.Unmarshal(raw, &c); err != nil {
		return Context{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return c, nil
}

var _ Store = (*MemoryStore)(nil)
