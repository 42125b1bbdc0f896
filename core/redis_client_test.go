package core

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient("redis://"+mr.Addr(), 0, &NoOpLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	assert.NoError(t, client.Ping(client.Context()).Err())
}

func TestNewRedisClientRequiresURL(t *testing.T) {
	_, err := NewRedisClient("", 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingConfiguration)
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	_, err := NewRedisClient("not-a-redis-url", 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient("redis://"+addr, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.True(t, IsRetryable(err))
}
