package stores

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/desertthunder/vinyldeck/internal/storage"
)

// envelope is the on-disk shape shared by every store.
type envelope struct {
	State   json.RawMessage `json:"state"`
	Version int             `json:"version"`
}

// persistOptions configures a [persisted] value.
//
// sanitize receives the raw state and its stored version (0 when the key is absent or unreadable)
// and must always return a usable value. prepare, when set, shapes the value before it is written.
type persistOptions[T any] struct {
	key      string
	version  int
	sanitize func(raw json.RawMessage, version int) T
	prepare  func(T) T
}

// persisted is a write-through, observable value stored under one key.
type persisted[T any] struct {
	opts   persistOptions[T]
	store  storage.Storage
	logger *log.Logger

	mu    sync.Mutex
	state T

	lmu       sync.Mutex
	nextID    int
	listeners map[int]func(T)

	unsubscribe func()
}

func newPersisted[T any](s storage.Storage, logger *log.Logger, opts persistOptions[T]) *persisted[T] {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	p := &persisted[T]{
		opts:      opts,
		store:     s,
		logger:    logger,
		listeners: make(map[int]func(T)),
	}

	raw, found := s.Get(opts.key)
	p.state = p.decode(raw, found)
	p.unsubscribe = s.OnExternalChange(opts.key, p.reload)
	return p
}

func (p *persisted[T]) decode(raw []byte, found bool) T {
	if !found || len(raw) == 0 {
		return p.opts.sanitize(nil, 0)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Warn("discarding unreadable persisted state", "key", p.opts.key, "err", err)
		return p.opts.sanitize(nil, 0)
	}
	return p.opts.sanitize(env.State, env.Version)
}

// get returns the current value.
func (p *persisted[T]) get() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// update applies fn atomically. When fn reports no change nothing is written and no listener runs.
func (p *persisted[T]) update(fn func(T) (T, bool)) bool {
	p.mu.Lock()
	next, changed := fn(p.state)
	if !changed {
		p.mu.Unlock()
		return false
	}
	p.state = next
	p.write(next)
	p.mu.Unlock()

	p.notify(next)
	return true
}

// write must be called with mu held so writes land in action order.
func (p *persisted[T]) write(v T) {
	if p.opts.prepare != nil {
		v = p.opts.prepare(v)
	}
	state, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("failed to encode state", "key", p.opts.key, "err", err)
		return
	}
	raw, err := json.Marshal(envelope{State: state, Version: p.opts.version})
	if err != nil {
		p.logger.Error("failed to encode state", "key", p.opts.key, "err", err)
		return
	}
	if err := p.store.Set(p.opts.key, raw); err != nil {
		p.logger.Error("failed to persist state", "key", p.opts.key, "err", err)
	}
}

// reload replaces the in-memory value with one written elsewhere.
func (p *persisted[T]) reload(c storage.Change) {
	next := p.decode(c.Value, !c.Removed)

	p.mu.Lock()
	p.state = next
	p.mu.Unlock()

	p.notify(next)
}

func (p *persisted[T]) subscribe(fn func(T)) func() {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			p.lmu.Lock()
			defer p.lmu.Unlock()
			delete(p.listeners, id)
		})
	}
}

func (p *persisted[T]) notify(v T) {
	p.lmu.Lock()
	fns := make([]func(T), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.lmu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (p *persisted[T]) close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

// fields decodes raw into a field map, returning an empty map for anything that is not a JSON object.
func fields(raw json.RawMessage) map[string]json.RawMessage {
	m := map[string]json.RawMessage{}
	if len(raw) == 0 {
		return m
	}
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]json.RawMessage{}
	}
	return m
}

func stringField(m map[string]json.RawMessage, name string) (string, bool) {
	var s string
	if raw, ok := m[name]; ok && json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	return "", false
}

func boolField(m map[string]json.RawMessage, name string) (bool, bool) {
	var b bool
	if raw, ok := m[name]; ok && json.Unmarshal(raw, &b) == nil {
		return b, true
	}
	return false, false
}

// intField accepts only whole, non-negative numbers.
func intField(m map[string]json.RawMessage, name string) (int, bool) {
	var f float64
	raw, ok := m[name]
	if !ok || json.Unmarshal(raw, &f) != nil {
		return 0, false
	}
	if f < 0 || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
