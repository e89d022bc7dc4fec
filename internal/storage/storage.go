// Package storage defines the durable key/value contract used by the persisted stores,
// including notification of writes made by other processes sharing the same data.
//
// Two implementations are provided: [Memory] for tests and single-process use, and [Durable],
// which is backed by SQLite and polls for changes written by other handles.
package storage

import "sync"

// Change describes a write observed from outside the receiving handle.
type Change struct {
	Key     string
	Value   []byte
	Removed bool
}

// Handler receives external changes for a subscribed key.
type Handler func(Change)

// Storage is a synchronous, key-addressed byte store.
//
// OnExternalChange handlers fire only for writes made through a different handle;
// a handle never observes its own writes.
type Storage interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Remove(key string) error
	OnExternalChange(key string, h Handler) (unsubscribe func())
}

// subscribers is a per-key handler registry.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	byKey  map[string]map[int]Handler
}

func (s *subscribers) add(key string, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byKey == nil {
		s.byKey = make(map[string]map[int]Handler)
	}
	if s.byKey[key] == nil {
		s.byKey[key] = make(map[int]Handler)
	}
	id := s.nextID
	s.nextID++
	s.byKey[key][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.byKey[key], id)
		})
	}
}

// dispatch calls handlers outside the registry lock so they may subscribe or unsubscribe.
func (s *subscribers) dispatch(c Change) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.byKey[c.Key]))
	for _, h := range s.byKey[c.Key] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(c)
	}
}
