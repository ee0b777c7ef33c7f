package lock

import (
	"bytes"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_ReleaseFailureIsLogged(t *testing.T) {
	// GIVEN: a locker whose server is unreachable
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	var buf bytes.Buffer
	r := NewRedis(client, "test", time.Minute)
	r.Log = zerolog.New(&buf)

	// WHEN: releasing a key
	err := r.release(Key("test", "approval:leave_request:1"), "token")

	// THEN: the failure is returned and logged
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Failed to release redis lock")
	assert.Contains(t, buf.String(), "approval:leave_request:1")
}
