// Package store persists per-ad playback state between player teardowns.
// Records are last-writer-wins key-value entries; no migration beyond
// optional-field defaulting on decode.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// keyPrefix namespaces every record under the caller-supplied identifier.
const keyPrefix = "vastplayer.state."

// Record is the persisted playback state for one external identifier. It is
// written on session teardown and read once at session (re)creation; it is
// overwritten, never deleted.
type Record struct {
	LastPosition          float64 `json:"lastPosition"` // seconds
	UserPaused            bool    `json:"userPaused"`
	ClosedCaptionsEnabled bool    `json:"closedCaptionsEnabled"`
	Muted                 bool    `json:"muted"`
}

// DefaultRecord returns the state of a never-seen identifier: captions on,
// unmuted, not paused, position zero.
func DefaultRecord() Record {
	return Record{ClosedCaptionsEnabled: true}
}

// Repository stores one Record per identifier.
type Repository interface {
	// Get returns the record for id; found is false for unknown ids.
	Get(id string) (rec Record, found bool, err error)
	// Put overwrites the record for id.
	Put(id string, rec Record) error
	Close() error
}

func encodeRecord(rec Record) ([]byte, error) {
	return json.Marshal(rec)
}

// decodeRecord applies optional-field defaults: closedCaptionsEnabled was
// introduced defaulting to true, so records written before it must decode
// with captions on.
func decodeRecord(data []byte) (Record, error) {
	aux := struct {
		LastPosition          float64 `json:"lastPosition"`
		UserPaused            bool    `json:"userPaused"`
		ClosedCaptionsEnabled *bool   `json:"closedCaptionsEnabled"`
		Muted                 bool    `json:"muted"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return Record{}, fmt.Errorf("store: decode record: %w", err)
	}

	rec := Record{
		LastPosition:          aux.LastPosition,
		UserPaused:            aux.UserPaused,
		ClosedCaptionsEnabled: true,
		Muted:                 aux.Muted,
	}
	if aux.ClosedCaptionsEnabled != nil {
		rec.ClosedCaptionsEnabled = *aux.ClosedCaptionsEnabled
	}
	return rec, nil
}

// Memory is an in-process Repository for tests and the simulator CLI.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

// Get returns the record for id.
func (m *Memory) Get(id string) (Record, bool, error) {
	m.mu.RLock()
	data, ok := m.records[keyPrefix+id]
	m.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Put overwrites the record for id.
func (m *Memory) Put(id string, rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[keyPrefix+id] = data
	m.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory repository.
func (m *Memory) Close() error { return nil }

// ErrClosed reports use of a closed repository.
var ErrClosed = errors.New("store: repository closed")
