package storage

import (
	"slices"
	"sync"
)

type memoryData struct {
	mu      sync.RWMutex
	values  map[string][]byte
	handles []*Memory
}

// Memory is an in-process [Storage]. Handles created with [Memory.Peer] share data and see
// each other's writes as external changes, the way separate processes would.
type Memory struct {
	data *memoryData
	subs subscribers
}

// NewMemory creates an empty store with a single handle.
func NewMemory() *Memory {
	m := &Memory{data: &memoryData{values: make(map[string][]byte)}}
	m.data.handles = append(m.data.handles, m)
	return m
}

// Peer returns another handle onto the same data.
func (m *Memory) Peer() *Memory {
	p := &Memory{data: m.data}
	m.data.mu.Lock()
	m.data.handles = append(m.data.handles, p)
	m.data.mu.Unlock()
	return p
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.data.mu.RLock()
	defer m.data.mu.RUnlock()
	v, ok := m.data.values[key]
	return slices.Clone(v), ok
}

func (m *Memory) Set(key string, value []byte) error {
	m.write(key, value, false)
	return nil
}

func (m *Memory) Remove(key string) error {
	m.write(key, nil, true)
	return nil
}

func (m *Memory) OnExternalChange(key string, h Handler) func() {
	return m.subs.add(key, h)
}

// SimulateExternal applies a write as if another process made it, notifying this handle's subscribers.
// A nil value removes the key.
func (m *Memory) SimulateExternal(key string, value []byte) {
	m.data.mu.Lock()
	if value == nil {
		delete(m.data.values, key)
	} else {
		m.data.values[key] = slices.Clone(value)
	}
	m.data.mu.Unlock()

	m.subs.dispatch(Change{Key: key, Value: slices.Clone(value), Removed: value == nil})
}

func (m *Memory) write(key string, value []byte, removed bool) {
	m.data.mu.Lock()
	if removed {
		delete(m.data.values, key)
	} else {
		m.data.values[key] = slices.Clone(value)
	}
	others := make([]*Memory, 0, len(m.data.handles))
	for _, h := range m.data.handles {
		if h != m {
			others = append(others, h)
		}
	}
	m.data.mu.Unlock()

	for _, h := range others {
		h.subs.dispatch(Change{Key: key, Value: slices.Clone(value), Removed: removed})
	}
}
