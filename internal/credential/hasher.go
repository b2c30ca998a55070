package credential

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Hasher computes salted, cost-parameterized bcrypt hashes. The cost factor
// is fixed at construction: one service instance always hashes at the same
// cost.
//
// bcrypt at a meaningful cost is deliberately expensive, so every hash and
// verify acquires a slot on a bounded semaphore. Concurrent request handling
// keeps making progress while at most maxParallel hashing operations occupy
// the CPU.
type Hasher struct {
	cost  int
	slots *semaphore.Weighted
}

// NewHasher constructs a Hasher with the given bcrypt cost. maxParallel <= 0
// defaults to GOMAXPROCS.
func NewHasher(cost int, maxParallel int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if maxParallel <= 0 {
		maxParallel = runtime.GOMAXPROCS(0)
	}
	return &Hasher{
		cost:  cost,
		slots: semaphore.NewWeighted(int64(maxParallel)),
	}, nil
}

// Hash derives credential material from a plaintext password.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.slots.Release(1)

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored hash. Mismatch is a
// false result, never an error; an empty or malformed stored hash can match
// nothing.
func (h *Hasher) Verify(ctx context.Context, plaintext string, hash string) bool {
	if hash == "" {
		return false
	}
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.slots.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
