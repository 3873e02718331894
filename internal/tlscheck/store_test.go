package tlscheck

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := testCtx(t)

	_, ok, err := kv.Get(ctx, "h:missing.test")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "h:a.test", []byte(`{"httpsEnabled":true}`)))
	require.NoError(t, kv.Set(ctx, "h:a.test", []byte(`{"httpsEnabled":false}`)))
	b, ok, err := kv.Get(ctx, "h:a.test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"httpsEnabled":false}`, string(b))

	assert.NoError(t, kv.Ping(ctx))
}

func TestLevelKV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "leveldb")
	kv, err := openLevelKV(path)
	require.NoError(t, err)
	exerciseKV(t, kv)

	keys, err := kv.Keys(recordKeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"h:a.test"}, keys)
	require.NoError(t, kv.Close())

	reopened, err := openLevelKV(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	_, ok, err := reopened.Get(context.Background(), "h:a.test")
	require.NoError(t, err)
	assert.True(t, ok, "records survive a restart")
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, memoryKV(t))
}

func TestClosedLevelKVFailsPing(t *testing.T) {
	kv, err := openMemoryKV()
	require.NoError(t, err)
	require.NoError(t, kv.Close())
	assert.Error(t, kv.Ping(context.Background()))
}

func TestOpenKV(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "memory"
	kv, err := OpenKV(cfg)
	require.NoError(t, err)
	require.NoError(t, kv.Close())

	cfg.Storage.Backend = "etcd"
	_, err = OpenKV(cfg)
	assert.Error(t, err)
}

// TestRedisKV needs a reachable server, e.g. TLSCHECK_TEST_REDIS=localhost:6379.
func TestRedisKV(t *testing.T) {
	addr := os.Getenv("TLSCHECK_TEST_REDIS")
	if addr == "" {
		t.Skip("TLSCHECK_TEST_REDIS not set")
	}
	cfg := DefaultConfig()
	cfg.Storage.Backend = "redis"
	cfg.Storage.Redis.Addr = addr

	kv, err := OpenKV(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	exerciseKV(t, kv)
}

func TestRedisKVUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "redis"
	cfg.Storage.Redis.Addr = "127.0.0.1:1"

	_, err := OpenKV(cfg)
	assert.Error(t, err)
}
