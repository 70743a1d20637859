// Package audit keeps the append-only record of every language-model
// interaction in a session.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/queryx/internal/llm"
)

// Kind distinguishes generation from repair interactions.
type Kind string

const (
	KindGeneration Kind = "generation"
	KindFix        Kind = "fix"
)

// Label is the human-readable name shown in prompt history.
func (k Kind) Label() string {
	switch k {
	case KindGeneration:
		return "SQL Generation"
	case KindFix:
		return "SQL Fix"
	default:
		return string(k)
	}
}

// Entry is one recorded interaction. Entries are never modified after
// they are appended. Usage is nil when the provider reported none; Error is
// set only for fix entries.
type Entry struct {
	ID        uuid.UUID  `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      Kind       `json:"kind"`
	Prompt    string     `json:"prompt"`
	Response  string     `json:"response"`
	Rule      string     `json:"rule"`
	Model     string     `json:"model"`
	Usage     *llm.Usage `json:"usage,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// NewEntry stamps a new entry with an ID and the current time.
func NewEntry(kind Kind, prompt, response, rule, model string, usage *llm.Usage) Entry {
	return Entry{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Prompt:    prompt,
		Response:  response,
		Rule:      rule,
		Model:     model,
		Usage:     usage,
	}
}

// Tokens renders the token usage for display, "N/A" when unknown.
func (e Entry) Tokens() string {
	if e.Usage == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", e.Usage.TotalTokens)
}

// Log is an ordered, append-only sequence of entries. The zero value is an
// empty log. Log is a value type: copying a Log and appending to the copy
// does not affect the original.
type Log struct {
	entries []Entry
}

// Append adds e at the end of the log.
func (l *Log) Append(e Entry) {
	if e.Usage != nil {
		u := *e.Usage
		e.Usage = &u
	}
	// Full slice expression so an append never writes into a backing array
	// shared with a copy of this Log.
	l.entries = append(l.entries[:len(l.entries):len(l.entries)], e)
}

// List returns the entries in insertion order. The returned slice is a
// copy.
func (l *Log) List() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns the most recent entry.
func (l *Log) Last() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Clear removes every entry. It is the only destructive operation.
func (l *Log) Clear() {
	l.entries = nil
}

// MarshalJSON encodes the log as an array of entries.
func (l Log) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

// UnmarshalJSON decodes an array of entries.
func (l *Log) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		entries = nil
	}
	l.entries = entries
	return nil
}
