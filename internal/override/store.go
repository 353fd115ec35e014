// Package override persists per-context-key force_on/force_off pins set by
// explicit user action.
package override

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ssandri/blackbox/internal/trigger"
)

// Force is a persisted pin on a context key.
type Force string

const (
	ForceOn  Force = "force_on"
	ForceOff Force = "force_off"
)

func (f Force) Valid() bool {
	return f == ForceOn || f == ForceOff
}

// storageKey is the single fixed key under which the whole map lives.
const storageKey = "recording_overrides"

// KV is the persisted key-value collaborator backing the store.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
}

// Store holds the override map, hydrated once at construction and
// rewritten on every mutation.
type Store struct {
	kv KV

	mu       sync.RWMutex
	values   map[trigger.ContextKey]Force
	onChange func()
}

func NewStore(kv KV) (*Store, error) {
	s := &Store{kv: kv, values: make(map[trigger.ContextKey]Force)}
	raw, ok, err := kv.Get(storageKey)
	if err != nil {
		return nil, fmt.Errorf("hydrate overrides: %w", err)
	}
	if ok && len(raw) > 0 {
		var decoded map[trigger.ContextKey]Force
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("decode overrides: %w", err)
		}
		for key, force := range decoded {
			if force.Valid() {
				s.values[key] = force
			}
		}
	}
	return s, nil
}

// SetOnChange registers a hook fired after every effective mutation.
func (s *Store) SetOnChange(hook func()) {
	s.mu.Lock()
	s.onChange = hook
	s.mu.Unlock()
}

// Set pins a key. No-op when the value is already in place.
func (s *Store) Set(key trigger.ContextKey, force Force) error {
	if !force.Valid() {
		return fmt.Errorf("invalid override %q", force)
	}
	s.mu.Lock()
	if s.values[key] == force {
		s.mu.Unlock()
		return nil
	}
	s.values[key] = force
	err := s.persistLocked()
	hook := s.onChange
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

// Clear removes a pin. No-op when absent.
func (s *Store) Clear(key trigger.ContextKey) error {
	s.mu.Lock()
	if _, ok := s.values[key]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.values, key)
	err := s.persistLocked()
	hook := s.onChange
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

// Get returns the pin for a key, if any.
func (s *Store) Get(key trigger.ContextKey) (Force, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	force, ok := s.values[key]
	return force, ok
}

// Snapshot returns a copy of the current override map.
func (s *Store) Snapshot() map[trigger.ContextKey]Force {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[trigger.ContextKey]Force, len(s.values))
	for key, force := range s.values {
		out[key] = force
	}
	return out
}

// Prune drops force_off pins for keys that are no longer active, except
// manual:global. force_on pins persist as standing preferences. Returns the
// number of pins removed.
func (s *Store) Prune(active map[trigger.ContextKey]bool) (int, error) {
	s.mu.Lock()
	removed := 0
	for key, force := range s.values {
		if key == trigger.ManualGlobal {
			continue
		}
		if force == ForceOff && !active[key] {
			delete(s.values, key)
			removed++
		}
	}
	var err error
	if removed > 0 {
		err = s.persistLocked()
	}
	s.mu.Unlock()
	return removed, err
}

func (s *Store) persistLocked() error {
	raw, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}
	if err := s.kv.Set(storageKey, raw); err != nil {
		return fmt.Errorf("persist overrides: %w", err)
	}
	return nil
}
