package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisRegistry) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client, NewRedisRegistry(client, nil, time.Minute)
}

func TestRegister(t *testing.T) {
	mr, client, reg := setupTestRedis(t)
	ctx := context.Background()

	s := &Session{ID: "s1", Host: "edge-1", URL: "ws://camera/live", Started: true}
	require.NoError(t, reg.Register(ctx, s))

	exists, err := client.Exists(ctx, "camview:sessions:s1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	members, err := client.SMembers(ctx, "camview:sessions:active").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, members)
	assert.Equal(t, time.Minute, mr.TTL("camview:sessions:s1"))

	got, err := reg.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "edge-1", got.Host)
	assert.True(t, got.Started)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRegisterRefreshKeepsCreatedAt(t *testing.T) {
	mr, _, reg := setupTestRedis(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return created }
	require.NoError(t, reg.Register(ctx, &Session{ID: "s1", State: "Idle"}))

	mr.FastForward(40 * time.Second)
	later := created.Add(40 * time.Second)
	reg.now = func() time.Time { return later }
	require.NoError(t, reg.Register(ctx, &Session{ID: "s1", State: "Normal", PacketsPerSecond: 25}))

	got, err := reg.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.LastHeartbeat.Equal(later))
	assert.Equal(t, "Normal", got.State)
	assert.Equal(t, 25, got.PacketsPerSecond)
	assert.Equal(t, time.Minute, mr.TTL("camview:sessions:s1"))
}

func TestGetMissing(t *testing.T) {
	_, _, reg := setupTestRedis(t)

	_, err := reg.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListPrunesExpired(t *testing.T) {
	mr, client, reg := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, &Session{ID: "old"}))
	mr.FastForward(45 * time.Second)
	require.NoError(t, reg.Register(ctx, &Session{ID: "new"}))
	mr.FastForward(30 * time.Second)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ID)

	members, err := client.SMembers(ctx, "camview:sessions:active").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, members)
}

func TestListEmpty(t *testing.T) {
	_, _, reg := setupTestRedis(t)

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUnregister(t *testing.T) {
	_, client, reg := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, &Session{ID: "s1"}))
	require.NoError(t, reg.Unregister(ctx, "s1"))

	members, err := client.SMembers(ctx, "camview:sessions:active").Result()
	require.NoError(t, err)
	assert.Empty(t, members)

	assert.ErrorIs(t, reg.Unregister(ctx, "s1"), ErrSessionNotFound)
}

func TestRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	reg := NewRedisRegistry(client, nil, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := reg.Register(ctx, &Session{ID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to check existing session")

	_, err = reg.List(ctx)
	assert.Error(t, err)
}

func TestHeartbeat(t *testing.T) {
	_, _, reg := setupTestRedis(t)

	var beats atomic.Int32
	snapshot := func(context.Context) (*Session, error) {
		n := beats.Add(1)
		return &Session{ID: "s1", PacketsPerSecond: int(n)}, nil
	}
	hb := NewHeartbeat(reg, snapshot, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s, err := reg.Get(context.Background(), "s1")
		return err == nil && s.PacketsPerSecond >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	_, err := reg.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHeartbeatSnapshotFailure(t *testing.T) {
	_, _, reg := setupTestRedis(t)

	hb := NewHeartbeat(reg, func(context.Context) (*Session, error) {
		return nil, errors.New("player gone")
	}, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hb.Run(ctx)

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
