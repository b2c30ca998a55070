package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ever/internal/admin/models"
	genstore "ever/internal/store"
	"ever/pkg/platform/sentinel"
)

const (
	redisRecordKeyPrefix = "admin:record:"
	redisEmailKeyPrefix  = "admin:email:"
	redisIDSetKey        = "admin:ids"
	redisWatchPrefix     = "admin:watch:"
)

// Redis implements the admin store over Redis. Records are JSON values, the
// live-email index is a SETNX-guarded key per address, and Watch rides Redis
// pub/sub, so subscriptions see mutations from every process sharing the
// instance.
//
// Only Create's uniqueness check is atomic (SETNX); an update that changes
// the email races other writers, which matches the store contract: create
// uniqueness is the only hard exclusivity guarantee.
type Redis struct {
	client         redis.UniversalClient
	normalizeEmail func(string) string
}

// RedisOption configures the store.
type RedisOption func(*Redis)

// WithRedisEmailNormalizer sets the normalization applied to the unique
// email key; defaults to identity.
func WithRedisEmailNormalizer(fn func(string) string) RedisOption {
	return func(r *Redis) {
		if fn != nil {
			r.normalizeEmail = fn
		}
	}
}

// NewRedis constructs a Redis-backed admin store.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("admin store: nil redis client")
	}
	r := &Redis{
		client:         client,
		normalizeEmail: func(e string) string { return e },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Redis) Get(ctx context.Context, id string) (models.Admin, error) {
	payload, err := r.client.Get(ctx, redisRecordKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Admin{}, sentinel.ErrNotFound
		}
		return models.Admin{}, fmt.Errorf("get admin: %w", err)
	}
	return decodeAdmin(payload)
}

func (r *Redis) Watch(ctx context.Context, id string) (<-chan genstore.Event[models.Admin], genstore.CancelFunc, error) {
	// Subscribe before the snapshot read so a mutation in between is seen
	// as a (harmless) duplicate rather than missed entirely.
	sub := r.client.Subscribe(ctx, redisWatchPrefix+id)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("watch admin: %w", err)
	}

	initial, err := r.Get(ctx, id)
	exists := true
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			_ = sub.Close()
			return nil, nil, err
		}
		exists = false
	}

	out := make(chan genstore.Event[models.Admin], 1)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}

	go func() {
		defer close(out)
		deliver := func(ev genstore.Event[models.Admin]) bool {
			select {
			case out <- ev:
				return true
			case <-done:
				return false
			}
		}
		if !deliver(genstore.Event[models.Admin]{Record: initial, Exists: exists}) {
			return
		}
		for msg := range sub.Channel() {
			record, err := decodeAdmin([]byte(msg.Payload))
			if err != nil {
				continue
			}
			if !deliver(genstore.Event[models.Admin]{Record: record, Exists: true}) {
				return
			}
		}
	}()

	stop := context.AfterFunc(ctx, cancel)
	return out, func() {
		stop()
		cancel()
	}, nil
}

func (r *Redis) Find(ctx context.Context, pred genstore.Predicate[models.Admin]) ([]models.Admin, error) {
	ids, err := r.client.SMembers(ctx, redisIDSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list admin ids: %w", err)
	}
	var out []models.Admin
	for _, id := range ids {
		record, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if pred == nil || pred(record) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *Redis) Count(ctx context.Context, pred genstore.Predicate[models.Admin]) (int, error) {
	matches, err := r.Find(ctx, pred)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func (r *Redis) Create(ctx context.Context, record models.Admin) (models.Admin, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	// Email-less records never claim an index entry, mirroring the memory
	// store's unique-key opt-out.
	emailKey := redisEmailKeyPrefix + r.normalizeEmail(record.Email)
	claimEmail := !record.IsDeleted && record.Email != ""
	if claimEmail {
		claimed, err := r.client.SetNX(ctx, emailKey, record.ID, 0).Result()
		if err != nil {
			return models.Admin{}, fmt.Errorf("claim email: %w", err)
		}
		if !claimed {
			return models.Admin{}, sentinel.ErrConflict
		}
	}

	payload, err := encodeAdmin(record)
	if err != nil {
		return models.Admin{}, err
	}
	stored, err := r.client.SetNX(ctx, redisRecordKeyPrefix+record.ID, payload, 0).Result()
	if err != nil {
		return models.Admin{}, fmt.Errorf("create admin: %w", err)
	}
	if !stored {
		if claimEmail {
			r.client.Del(ctx, emailKey)
		}
		return models.Admin{}, sentinel.ErrConflict
	}

	r.client.SAdd(ctx, redisIDSetKey, record.ID)
	r.client.Publish(ctx, redisWatchPrefix+record.ID, payload)
	return record, nil
}

func (r *Redis) Update(ctx context.Context, id string, patch genstore.Patch[models.Admin]) (models.Admin, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return models.Admin{}, err
	}

	next := patch(current).WithEntityID(id)
	if err := r.moveEmailClaim(ctx, current, next); err != nil {
		return models.Admin{}, err
	}

	payload, err := encodeAdmin(next)
	if err != nil {
		return models.Admin{}, err
	}
	if err := r.client.Set(ctx, redisRecordKeyPrefix+id, payload, 0).Err(); err != nil {
		return models.Admin{}, fmt.Errorf("update admin: %w", err)
	}

	r.client.Publish(ctx, redisWatchPrefix+id, payload)
	return next, nil
}

// moveEmailClaim keeps the live-email index in step with a mutation:
// soft delete releases the claim, undelete or address change re-claims.
func (r *Redis) moveEmailClaim(ctx context.Context, current, next models.Admin) error {
	oldKey := redisEmailKeyPrefix + r.normalizeEmail(current.Email)
	newKey := redisEmailKeyPrefix + r.normalizeEmail(next.Email)
	oldActive := !current.IsDeleted && current.Email != ""
	newActive := !next.IsDeleted && next.Email != ""
	if oldActive == newActive && oldKey == newKey {
		return nil
	}

	if newActive && (!oldActive || oldKey != newKey) {
		claimed, err := r.client.SetNX(ctx, newKey, next.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("claim email: %w", err)
		}
		if !claimed {
			owner, err := r.client.Get(ctx, newKey).Result()
			if err != nil || owner != next.ID {
				return sentinel.ErrConflict
			}
		}
	}
	if oldActive && (oldKey != newKey || !newActive) {
		r.client.Del(ctx, oldKey)
	}
	return nil
}

// redisAdmin is the storage codec. Admin hides Hash from API serialization
// with json:"-"; the store still has to persist it, so the outer field
// shadows the hidden one.
type redisAdmin struct {
	models.Admin
	Hash string `json:"hash,omitempty"`
}

func encodeAdmin(a models.Admin) ([]byte, error) {
	payload, err := json.Marshal(redisAdmin{Admin: a, Hash: a.Hash})
	if err != nil {
		return nil, fmt.Errorf("encode admin: %w", err)
	}
	return payload, nil
}

func decodeAdmin(payload []byte) (models.Admin, error) {
	var ra redisAdmin
	if err := json.Unmarshal(payload, &ra); err != nil {
		return models.Admin{}, fmt.Errorf("decode admin: %w", err)
	}
	a := ra.Admin
	a.Hash = ra.Hash
	return a, nil
}
