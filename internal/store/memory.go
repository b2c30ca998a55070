package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"ever/pkg/platform/sentinel"
)

// Memory is the in-memory Store implementation. It keeps the default wiring
// lightweight and testable and intentionally favors clarity over performance.
//
// The store is the sole arbiter of mutation ordering for a given id: every
// mutation and its fan-out to watchers happens under the write lock, so all
// subscriptions observe the same sequence of states.
type Memory[T Entity[T]] struct {
	mu      sync.RWMutex
	records map[string]T
	watch   *Hub[T]

	newID     func() string
	uniqueKey func(T) (string, bool)
	keyIndex  map[string]string // unique key -> record id
}

// MemoryOption configures a Memory store.
type MemoryOption[T Entity[T]] func(*Memory[T])

// WithIDFunc overrides id assignment for records created without one.
func WithIDFunc[T Entity[T]](fn func() string) MemoryOption[T] {
	return func(m *Memory[T]) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithUniqueKey installs a uniqueness constraint. The function returns the
// key for a record and whether the record currently participates in the
// constraint (soft-deleted records are expected to opt out so their key can
// be reused).
func WithUniqueKey[T Entity[T]](fn func(T) (string, bool)) MemoryOption[T] {
	return func(m *Memory[T]) {
		m.uniqueKey = fn
	}
}

// NewMemory constructs an empty in-memory store.
func NewMemory[T Entity[T]](opts ...MemoryOption[T]) *Memory[T] {
	m := &Memory[T]{
		records:  make(map[string]T),
		watch:    NewHub[T](),
		newID:    uuid.NewString,
		keyIndex: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory[T]) Get(_ context.Context, id string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if record, ok := m.records[id]; ok {
		return record, nil
	}
	var zero T
	return zero, sentinel.ErrNotFound
}

func (m *Memory[T]) Watch(ctx context.Context, id string) (<-chan Event[T], CancelFunc, error) {
	// Registration and the initial snapshot happen under the write lock so
	// no mutation can slip between them.
	m.mu.Lock()
	record, ok := m.records[id]
	ch, cancel := m.watch.Subscribe(id, Event[T]{Record: record, Exists: ok})
	m.mu.Unlock()

	stop := context.AfterFunc(ctx, cancel)
	return ch, func() {
		stop()
		cancel()
	}, nil
}

func (m *Memory[T]) Find(_ context.Context, pred Predicate[T]) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []T
	for _, record := range m.records {
		if pred == nil || pred(record) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (m *Memory[T]) Count(_ context.Context, pred Predicate[T]) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, record := range m.records {
		if pred == nil || pred(record) {
			n++
		}
	}
	return n, nil
}

func (m *Memory[T]) Create(_ context.Context, record T) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := record.EntityID()
	var zero T
	if id == "" {
		id = m.newID()
		record = record.WithEntityID(id)
	}
	if _, exists := m.records[id]; exists {
		return zero, sentinel.ErrConflict
	}
	if m.uniqueKey != nil {
		if key, active := m.uniqueKey(record); active {
			if _, taken := m.keyIndex[key]; taken {
				return zero, sentinel.ErrConflict
			}
			m.keyIndex[key] = id
		}
	}

	m.records[id] = record
	m.watch.Publish(id, Event[T]{Record: record, Exists: true})
	return record, nil
}

func (m *Memory[T]) Update(_ context.Context, id string, patch Patch[T]) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[id]
	var zero T
	if !ok {
		return zero, sentinel.ErrNotFound
	}

	next := patch(current).WithEntityID(id) // the id is immutable
	if m.uniqueKey != nil {
		if err := m.reindex(id, current, next); err != nil {
			return zero, err
		}
	}

	m.records[id] = next
	m.watch.Publish(id, Event[T]{Record: next, Exists: true})
	return next, nil
}

// reindex moves the unique-key index entry when a mutation changes the key or
// the record's participation in the constraint.
func (m *Memory[T]) reindex(id string, current, next T) error {
	oldKey, oldActive := m.uniqueKey(current)
	newKey, newActive := m.uniqueKey(next)
	if oldActive == newActive && oldKey == newKey {
		return nil
	}
	if newActive {
		if owner, taken := m.keyIndex[newKey]; taken && owner != id {
			return sentinel.ErrConflict
		}
	}
	if oldActive {
		delete(m.keyIndex, oldKey)
	}
	if newActive {
		m.keyIndex[newKey] = id
	}
	return nil
}
