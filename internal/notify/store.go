package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// WatermarkStore keeps the last-seen instant per (actor, work).
type WatermarkStore interface {
	// MarkSeen raises the watermark to at and reports whether it moved.
	MarkSeen(ctx context.Context, actorID, workID string, at time.Time) (bool, error)
	// Watermark returns the zero time when nothing was seen yet.
	Watermark(ctx context.Context, actorID, workID string) (time.Time, error)
}

// setIfGreater stores ARGV[1] unless the key already holds a larger value.
var setIfGreater = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or tonumber(ARGV[1]) > tonumber(cur) then
  redis.call('SET', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// RedisStore keeps watermarks as unix microseconds under
// <prefix><len(actor)>:<actor>:<work>, so ids containing ':' cannot collide.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "siteline:seen:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient opens a client for addr; the caller closes it.
func NewRedisClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}

func (s *RedisStore) key(actorID, workID string) string {
	return s.prefix + strconv.Itoa(len(actorID)) + ":" + actorID + ":" + workID
}

func (s *RedisStore) MarkSeen(ctx context.Context, actorID, workID string, at time.Time) (bool, error) {
	n, err := setIfGreater.Run(ctx, s.client, []string{s.key(actorID, workID)}, at.UnixMicro()).Int()
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Watermark(ctx context.Context, actorID, workID string) (time.Time, error) {
	val, err := s.client.Get(ctx, s.key(actorID, workID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}
	us, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("watermark %q: %w", val, err)
	}
	return time.UnixMicro(us).UTC(), nil
}

// WatermarkRepo is the SQL side of SQLStore, implemented by repo.Repo.
type WatermarkRepo interface {
	RaiseWatermark(ctx context.Context, actorID, workID string, us int64) (bool, error)
	Watermark(ctx context.Context, actorID, workID string) (int64, bool, error)
}

// SQLStore keeps watermarks in the workspace database. It is the store
// used when no Redis is configured.
type SQLStore struct {
	Repo WatermarkRepo
}

func (s SQLStore) MarkSeen(ctx context.Context, actorID, workID string, at time.Time) (bool, error) {
	moved, err := s.Repo.RaiseWatermark(ctx, actorID, workID, at.UnixMicro())
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return moved, nil
}

func (s SQLStore) Watermark(ctx context.Context, actorID, workID string) (time.Time, error) {
	us, ok, err := s.Repo.Watermark(ctx, actorID, workID)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, nil
	}
	return time.UnixMicro(us).UTC(), nil
}

type markKey struct{ actor, work string }

// MemoryStore holds watermarks for the life of the process.
type MemoryStore struct {
	mu    sync.Mutex
	marks map[markKey]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: map[markKey]int64{}}
}

func (s *MemoryStore) MarkSeen(_ context.Context, actorID, workID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := markKey{actorID, workID}
	us := at.UnixMicro()
	if cur, ok := s.marks[k]; ok && cur >= us {
		return false, nil
	}
	s.marks[k] = us
	return true, nil
}

func (s *MemoryStore) Watermark(_ context.Context, actorID, workID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.marks[markKey{actorID, workID}]
	if !ok {
		return time.Time{}, nil
	}
	return time.UnixMicro(us).UTC(), nil
}
