package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "meetagent:session:"

// Scripts compare the stored owner before touching a key, so one instance
// never drops or extends another's claim.
var (
	releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
if cjson.decode(v)['owner'] == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and cjson.decode(v)['owner'] ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1`)
)

// RedisConfig configures the Redis directory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis is a Directory shared by every instance using the same Redis.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("registry: connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisFromClient(rdb, cfg.TTL), nil
}

// NewRedisFromClient wraps an existing client. A zero ttl uses DefaultTTL.
func NewRedisFromClient(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func key(meetingID string) string { return keyPrefix + meetingID }

func encode(e Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("registry: marshal entry: %w", err)
	}
	return data, nil
}

// Claim implements Directory.
func (r *Redis) Claim(ctx context.Context, meetingID, owner string) (Entry, bool, error) {
	e := Entry{MeetingID: meetingID, Owner: owner, State: "claimed", UpdatedAt: time.Now().UTC()}
	data, err := encode(e)
	if err != nil {
		return Entry{}, false, err
	}

	// The key can expire between SETNX and GET; try twice.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.rdb.SetNX(ctx, key(meetingID), data, r.ttl).Result()
		if err != nil {
			return Entry{}, false, fmt.Errorf("registry: claim %s: %w", meetingID, err)
		}
		if ok {
			return e, true, nil
		}

		cur, found, err := r.Owner(ctx, meetingID)
		if err != nil {
			return Entry{}, false, err
		}
		if !found {
			continue
		}
		if cur.Owner != owner {
			return cur, false, nil
		}
		if err := r.rdb.Expire(ctx, key(meetingID), r.ttl).Err(); err != nil {
			return Entry{}, false, fmt.Errorf("registry: extend %s: %w", meetingID, err)
		}
		return cur, true, nil
	}
	return Entry{}, false, fmt.Errorf("registry: claim %s: entry kept changing", meetingID)
}

// Owner implements Directory.
func (r *Redis) Owner(ctx context.Context, meetingID string) (Entry, bool, error) {
	data, err := r.rdb.Get(ctx, key(meetingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("registry: owner of %s: %w", meetingID, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("registry: decode entry %s: %w", meetingID, err)
	}
	return e, true, nil
}

// Release implements Directory.
func (r *Redis) Release(ctx context.Context, meetingID, owner string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{key(meetingID)}, owner).Err(); err != nil {
		return fmt.Errorf("registry: release %s: %w", meetingID, err)
	}
	return nil
}

// Refresh implements Directory.
func (r *Redis) Refresh(ctx context.Context, meetingID, owner, state string) error {
	data, err := encode(Entry{MeetingID: meetingID, Owner: owner, State: state, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	n, err := refreshScript.Run(ctx, r.rdb, []string{key(meetingID)}, owner, data, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("registry: refresh %s: %w", meetingID, err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

var _ Directory = (*Redis)(nil)
