package plancache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Addr is the Redis address (host:port).
	Addr string `yaml:"addr" json:"addr"`

	// Password for AUTH, empty for none.
	Password string `yaml:"password" json:"password"`

	// DB is the database number.
	DB int `yaml:"db" json:"db"`

	// Prefix namespaces every key written by the store.
	Prefix string `yaml:"prefix" json:"prefix"`

	// TTL expires entries; zero keeps them until deleted.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// OpTimeout bounds each Redis round trip.
	OpTimeout time.Duration `yaml:"op_timeout" json:"op_timeout"`
}

// DefaultRedisConfig returns the default Redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Prefix:    "branchplan",
		TTL:       time.Hour,
		OpTimeout: 2 * time.Second,
	}
}

// RedisStore shares plans between processes through Redis.
//
// Each entry is a hash at <prefix>:plan:<graph>:<key> holding the data,
// sequence and creation time. A sorted set at <prefix>:index:<graph>
// orders the keys of a graph by sequence.
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	def := DefaultRedisConfig()
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = def.OpTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.OpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, config: config}, nil
}

func (s *RedisStore) planKey(graphID, key string) string {
	return s.config.Prefix + ":plan:" + graphID + ":" + key
}

func (s *RedisStore) indexKey(graphID string) string {
	return s.config.Prefix + ":index:" + graphID
}

func (s *RedisStore) seqKey(graphID string) string {
	return s.config.Prefix + ":seq:" + graphID
}

func (s *RedisStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.config.OpTimeout)
}

// Save implements Store.
func (s *RedisStore) Save(graphID, key string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	ctx, cancel := s.opContext()
	defer cancel()

	seq, err := s.client.Incr(ctx, s.seqKey(graphID)).Result()
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}

	pk := s.planKey(graphID, key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, pk,
			"data", data,
			"seq", seq,
			"ts", time.Now().UTC().UnixNano(),
		)
		if s.config.TTL > 0 {
			pipe.Expire(ctx, pk, s.config.TTL)
		}
		pipe.ZAdd(ctx, s.indexKey(graphID), redis.Z{Score: float64(seq), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(graphID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ctx, cancel := s.opContext()
	defer cancel()

	data, err := s.client.HGet(ctx, s.planKey(graphID, key), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	return data, nil
}

// List implements Store. Index members whose entry expired are dropped
// from the index as they are found.
func (s *RedisStore) List(graphID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ctx, cancel := s.opContext()
	defer cancel()

	keys, err := s.client.ZRange(ctx, s.indexKey(graphID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}

	cmds := make([]*redis.SliceCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HMGet(ctx, s.planKey(graphID, k), "data", "seq", "ts")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}

	var (
		infos []Info
		stale []any
	)
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 3 || vals[0] == nil {
			stale = append(stale, keys[i])
			continue
		}
		data, _ := vals[0].(string)
		seq, _ := strconv.Atoi(fmt.Sprint(vals[1]))
		ts, _ := strconv.ParseInt(fmt.Sprint(vals[2]), 10, 64)
		infos = append(infos, Info{
			GraphID:   graphID,
			Key:       keys[i],
			Sequence:  seq,
			Timestamp: time.Unix(0, ts).UTC(),
			Size:      int64(len(data)),
		})
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, s.indexKey(graphID), stale...)
	}
	return infos, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(graphID, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	ctx, cancel := s.opContext()
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.planKey(graphID, key))
		pipe.ZRem(ctx, s.indexKey(graphID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}

// DeleteGraph implements Store.
func (s *RedisStore) DeleteGraph(graphID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	ctx, cancel := s.opContext()
	defer cancel()

	keys, err := s.client.ZRange(ctx, s.indexKey(graphID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("delete graph plans: %w", err)
	}
	doomed := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		doomed = append(doomed, s.planKey(graphID, k))
	}
	doomed = append(doomed, s.indexKey(graphID), s.seqKey(graphID))

	if err := s.client.Del(ctx, doomed...).Err(); err != nil {
		return fmt.Errorf("delete graph plans: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
