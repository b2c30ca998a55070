// Package store defines the generic persistence contract shared by every
// entity kind in the service, plus the in-memory implementation used by
// default and in tests.
//
// Implementations are interface-driven so the domain logic stays testable and
// in-memory, Postgres, or Redis persistence can be swapped without rewiring
// business code.
package store

import "context"

// Entity is the minimal shape a stored record must have: a unique string id
// that the store can read and assign. The constraint is self-referential so
// WithEntityID can return the concrete record type by value.
type Entity[T any] interface {
	EntityID() string
	WithEntityID(id string) T
}

// Predicate filters records for Find and Count. A nil Predicate matches
// everything.
type Predicate[T any] func(T) bool

// Patch mutates a copy of the current record and returns the new value.
// Update applies it under the store's own ordering; the patch must not retain
// references to the input.
type Patch[T any] func(T) T

// Event is a single delivery on a Watch subscription. Exists is false when
// the record is absent at subscription time; deliveries after that always
// carry the record that was just written.
type Event[T any] struct {
	Record T
	Exists bool
}

// CancelFunc tears down a Watch subscription. After it returns, no further
// delivery is made on the subscription channel and the channel is closed.
// Calling it more than once is safe.
type CancelFunc func()

// Store is the entity-agnostic CRUD contract with soft-delete-aware callers
// in mind: the store itself never filters on a deletion flag, it only
// enforces id lookup and uniqueness.
type Store[T Entity[T]] interface {
	// Get returns the current record or sentinel.ErrNotFound.
	Get(ctx context.Context, id string) (T, error)

	// Watch returns a live view of the record: the current state first
	// (Exists=false when absent), then one event per mutation until cancel.
	// Concurrent subscriptions to the same id are independent and never
	// block each other.
	Watch(ctx context.Context, id string) (<-chan Event[T], CancelFunc, error)

	// Find returns all records matching the predicate, in unspecified order.
	Find(ctx context.Context, pred Predicate[T]) ([]T, error)

	// Count returns the number of records matching the predicate.
	Count(ctx context.Context, pred Predicate[T]) (int, error)

	// Create inserts the record, assigning an id when empty, and returns
	// the stored value. Returns sentinel.ErrConflict when a uniqueness
	// constraint is violated. Uniqueness is checked atomically; this is
	// the only hard exclusivity guarantee the store makes.
	Create(ctx context.Context, record T) (T, error)

	// Update applies the patch to the record with the given id and returns
	// the new value, or sentinel.ErrNotFound when the id does not exist.
	// Deleted records are updatable: soft delete is a caller concern.
	Update(ctx context.Context, id string, patch Patch[T]) (T, error)
}
