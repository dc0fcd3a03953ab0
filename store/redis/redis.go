package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/ragflow/store"
)

// saveScript appends a checkpoint only when its step is above the thread's
// highest step. It returns -1 on success, otherwise the highest stored step.
var saveScript = redis.NewScript(`
local top = redis.call('ZREVRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if top[2] ~= nil and tonumber(top[2]) >= tonumber(ARGV[1]) then
	return tonumber(top[2])
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[1])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	redis.call('PEXPIRE', KEYS[2], ttl)
end
return -1
`)

// RedisCheckpointStore implements store.CheckpointStore using Redis.
// Each thread owns a sorted set of steps and a hash of step -> checkpoint JSON.
type RedisCheckpointStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ store.CheckpointStore = (*RedisCheckpointStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "ragflow:"
	TTL      time.Duration // Expiration of a thread after its last save, 0 keeps it forever
}

// Option configures a store built with NewFromClient.
type Option func(*RedisCheckpointStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *RedisCheckpointStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires a thread ttl after its last save.
func WithTTL(ttl time.Duration) Option {
	return func(s *RedisCheckpointStore) {
		s.ttl = ttl
	}
}

// NewRedisCheckpointStore creates a new Redis checkpoint store
func NewRedisCheckpointStore(opts RedisOptions) *RedisCheckpointStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewFromClient(client, WithPrefix(opts.Prefix), WithTTL(opts.TTL))
}

// NewFromClient wraps an existing client.
func NewFromClient(client redis.UniversalClient, opts ...Option) *RedisCheckpointStore {
	s := &RedisCheckpointStore{client: client, prefix: "ragflow:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCheckpointStore) stepsKey(threadID string) string {
	return fmt.Sprintf("%sthread:%s:steps", s.prefix, threadID)
}

func (s *RedisCheckpointStore) dataKey(threadID string) string {
	return fmt.Sprintf("%sthread:%s:data", s.prefix, threadID)
}

// Save stores a checkpoint
func (s *RedisCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	if err := checkpoint.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	keys := []string{s.stepsKey(checkpoint.ThreadID), s.dataKey(checkpoint.ThreadID)}
	latest, err := saveScript.Run(ctx, s.client, keys, checkpoint.Step, data, s.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	if latest >= 0 {
		return store.StepConflict(checkpoint.ThreadID, checkpoint.Step, int(latest))
	}
	return nil
}

func decode(data string) (*store.Checkpoint, error) {
	var checkpoint store.Checkpoint
	if err := json.Unmarshal([]byte(data), &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// LoadLatest returns the highest-step checkpoint of a thread.
func (s *RedisCheckpointStore) LoadLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	top, err := s.client.ZRevRange(ctx, s.stepsKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load latest checkpoint from redis: %w", err)
	}
	if len(top) == 0 {
		return nil, store.NotFound(threadID)
	}
	step, err := strconv.Atoi(top[0])
	if err != nil {
		return nil, fmt.Errorf("corrupt step %q for thread %s: %w", top[0], threadID, err)
	}
	return s.Load(ctx, threadID, step)
}

// Load retrieves the checkpoint of a thread at step.
func (s *RedisCheckpointStore) Load(ctx context.Context, threadID string, step int) (*store.Checkpoint, error) {
	data, err := s.client.HGet(ctx, s.dataKey(threadID), strconv.Itoa(step)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.NotFound(threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}
	return decode(data)
}

// List returns all checkpoints of a thread in step order.
func (s *RedisCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	steps, err := s.client.ZRange(ctx, s.stepsKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for thread %s: %w", threadID, err)
	}
	if len(steps) == 0 {
		return []*store.Checkpoint{}, nil
	}

	results, err := s.client.HMGet(ctx, s.dataKey(threadID), steps...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkpoints: %w", err)
	}

	checkpoints := make([]*store.Checkpoint, 0, len(results))
	for _, result := range results {
		data, ok := result.(string)
		if !ok {
			continue
		}
		checkpoint, err := decode(data)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	return checkpoints, nil
}

// Clear removes all checkpoints of a thread.
func (s *RedisCheckpointStore) Clear(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.stepsKey(threadID), s.dataKey(threadID)).Err(); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}
