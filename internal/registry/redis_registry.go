package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/metrics"
)

const keyPrefix = "camview:sessions:"

// SET NX plus SADD, so a record is never indexed twice.
var registerScript = redis.NewScript(`
	local key = KEYS[1]
	local active_key = KEYS[2]
	local data = ARGV[1]
	local ttl = tonumber(ARGV[2])
	local id = ARGV[3]
	local ok = redis.call('SET', key, data, 'PX', ttl, 'NX')
	if not ok then
		return 0
	end
	redis.call('SADD', active_key, id)
	return 1
`)

var listScript = redis.NewScript(`
	local active_key = KEYS[1]
	local prefix = ARGV[1]
	local active = redis.call('SMEMBERS', active_key)
	local result = {}
	for _, id in ipairs(active) do
		local data = redis.call('GET', prefix .. id)
		if data then
			table.insert(result, data)
		else
			redis.call('SREM', active_key, id)
		end
	end
	return result
`)

// RedisRegistry stores each session as a JSON value under
// camview:sessions:<id> with a TTL, indexed by the set
// camview:sessions:active.
type RedisRegistry struct {
	client *redis.Client
	logger logger.Logger
	prefix string
	ttl    time.Duration
	now    func() time.Time

	errors *metrics.Counter
}

func NewRedisRegistry(client *redis.Client, log logger.Logger, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisRegistry{
		client: client,
		logger: logger.WithComponent(logger.OrNull(log), "registry"),
		prefix: keyPrefix,
		ttl:    ttl,
		now:    time.Now,
		errors: metrics.NewCounter("registry_errors_total", nil),
	}
}

func (r *RedisRegistry) key(id string) string {
	return r.prefix + id
}

func (r *RedisRegistry) activeKey() string {
	return r.prefix + "active"
}

func (r *RedisRegistry) Register(ctx context.Context, s *Session) error {
	key := r.key(s.ID)

	existing, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var prev Session
		if err := json.Unmarshal(existing, &prev); err == nil {
			s.CreatedAt = prev.CreatedAt
		}
	case errors.Is(err, redis.Nil):
		existing = nil
		if s.CreatedAt.IsZero() {
			s.CreatedAt = r.now()
		}
	default:
		r.errors.Inc()
		return fmt.Errorf("failed to check existing session: %w", err)
	}
	s.LastHeartbeat = r.now()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if existing != nil {
		// Refresh: keep the record and its index entry, renew the TTL.
		pipe := r.client.TxPipeline()
		pipe.Set(ctx, key, data, r.ttl)
		pipe.SAdd(ctx, r.activeKey(), s.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			r.errors.Inc()
			return fmt.Errorf("failed to refresh session: %w", err)
		}
		r.logger.WithField("session_id", s.ID).Debug("Session refreshed")
		return nil
	}

	created, err := registerScript.Run(ctx, r.client,
		[]string{key, r.activeKey()},
		data, r.ttl.Milliseconds(), s.ID).Int()
	if err != nil {
		r.errors.Inc()
		return fmt.Errorf("failed to register session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("session %s registered concurrently", s.ID)
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id": s.ID,
		"url":        s.URL,
		"host":       s.Host,
	}).Info("Session registered")
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		r.errors.Inc()
		return fmt.Errorf("failed to unregister session: %w", err)
	}

	if err := r.client.SRem(ctx, r.activeKey(), id).Err(); err != nil {
		r.logger.WithError(err).WithField("session_id", id).Warn("Failed to remove session from active set")
	}

	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	r.logger.WithField("session_id", id).Info("Session unregistered")
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		r.errors.Inc()
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]*Session, error) {
	res, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).StringSlice()
	if err != nil {
		r.errors.Inc()
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(res))
	for _, data := range res {
		var s Session
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			r.logger.WithError(err).Warn("Failed to unmarshal session")
			continue
		}
		sessions = append(sessions, &s)
	}

	metrics.SetActiveSessions(len(sessions))
	return sessions, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
