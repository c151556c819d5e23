package stores

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/railconnect/authcore/internal/config"
	"github.com/railconnect/authcore/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	cfg := config.Default()

	b, err := Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer b.Close(context.Background())

	assert.IsType(t, &memory.Store{}, b.Store)
	assert.Nil(t, b.Redis)
}

func TestOpenWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.RedisAddr = mr.Addr()

	b, err := Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	require.NotNil(t, b.Redis)

	require.NoError(t, b.Redis.Set(context.Background(), "ping-key", "1", 0).Err())
	assert.True(t, mr.Exists("ping-key"))

	require.NoError(t, b.Close(context.Background()))
	assert.Error(t, b.Redis.Ping(context.Background()).Err())
}

func TestOpenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.RedisAddr = addr

	_, err := Open(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}

func TestOpenUnknownStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store = "sqlite"

	_, err := Open(context.Background(), cfg, Options{})
	assert.Error(t, err)
}
