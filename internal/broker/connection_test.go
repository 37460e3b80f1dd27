package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoforge/api/internal/config"
)

func testConnConfig() config.ConnectionConfig {
	return config.ConnectionConfig{
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectJitter:      0,
		MaxReconnectAttempts: 10,
		HealthCheckInterval:  30 * time.Second,
		FallbackMaxEntries:   64,
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	m := &ConnectionManager{cfg: testConnConfig()}

	assert.Equal(t, time.Second, m.backoffDelay(1))
	assert.Equal(t, 2*time.Second, m.backoffDelay(2))
	assert.Equal(t, 4*time.Second, m.backoffDelay(3))
	assert.Equal(t, 16*time.Second, m.backoffDelay(5))
	// 2^6 = 64s exceeds the cap.
	assert.Equal(t, 30*time.Second, m.backoffDelay(7))
	assert.Equal(t, 30*time.Second, m.backoffDelay(100))
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	cfg := testConnConfig()
	cfg.ReconnectJitter = time.Second
	m := &ConnectionManager{cfg: cfg}

	for i := 0; i < 50; i++ {
		d := m.backoffDelay(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}

func TestExecuteFailsFastWhenDisconnected(t *testing.T) {
	m := NewConnectionManager(config.RedisConfig{Addr: "localhost:0"}, testConnConfig())

	err := m.Execute(context.Background(), func(ctx context.Context, c *redis.Client) error {
		t.Fatal("must not reach the broker while disconnected")
		return nil
	})
	assert.ErrorIs(t, err, ErrBrokerUnavailable)

	h := m.Health()
	assert.False(t, h.IsConnected)
	assert.False(t, h.IsHealthy)
}

func TestHealthSnapshotBeforeStart(t *testing.T) {
	m := NewConnectionManager(config.RedisConfig{Addr: "localhost:0"}, testConnConfig())

	h := m.Health()
	assert.False(t, h.IsConnected)
	assert.Zero(t, h.ConnectionAttempts)
	assert.Zero(t, h.CommandsExecuted)
	assert.Zero(t, h.UptimeSeconds)
}

func TestResetConnectionAttempts(t *testing.T) {
	m := NewConnectionManager(config.RedisConfig{Addr: "localhost:0"}, testConnConfig())
	m.mu.Lock()
	m.attempts = 10
	m.terminal = true
	m.mu.Unlock()

	m.ResetConnectionAttempts()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Zero(t, m.attempts)
	assert.False(t, m.terminal)
}

func TestProbeFailureDegradesWithoutDisconnect(t *testing.T) {
	m := NewConnectionManager(config.RedisConfig{Addr: "localhost:0"}, testConnConfig())
	m.mu.Lock()
	m.connected = true
	m.healthy = true
	m.mu.Unlock()

	probeErr := errors.New("ping timed out")

	m.handleProbeResult(probeErr)
	h := m.Health()
	assert.True(t, h.IsConnected, "one failed probe must not disconnect")
	assert.False(t, h.IsHealthy)
	assert.Empty(t, m.reconnectCh)

	m.handleProbeResult(probeErr)
	assert.Empty(t, m.reconnectCh)

	// The third consecutive failure declares the connection lost.
	m.handleProbeResult(probeErr)
	assert.Len(t, m.reconnectCh, 1)
}

func TestProbeSuccessResetsFailureStreak(t *testing.T) {
	m := NewConnectionManager(config.RedisConfig{Addr: "localhost:0"}, testConnConfig())
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()

	probeErr := errors.New("ping timed out")

	m.handleProbeResult(probeErr)
	m.handleProbeResult(probeErr)
	m.handleProbeResult(nil)

	h := m.Health()
	assert.True(t, h.IsHealthy)

	m.handleProbeResult(probeErr)
	m.handleProbeResult(probeErr)
	assert.Empty(t, m.reconnectCh, "the streak restarts after a good probe")
}

func TestForceReconnectSerializedWithOtherAttempts(t *testing.T) {
	m := NewConnectionManager(config.RedisConfig{Addr: "localhost:0"}, testConnConfig())

	m.connGate.Lock()
	done := make(chan error, 1)
	go func() { done <- m.ForceReconnect(context.Background()) }()

	select {
	case <-done:
		t.Fatal("forced attempt ran while another attempt held the gate")
	case <-time.After(50 * time.Millisecond):
	}

	m.connGate.Unlock()
	assert.Error(t, <-done)
}

func TestKVOpsDegradeToFallback(t *testing.T) {
	m := NewConnectionManager(config.RedisConfig{Addr: "localhost:0"}, testConnConfig())
	ctx := context.Background()

	// Disconnected: the write must land in the fallback, not error.
	m.Set(ctx, "job:1", []byte("state"), time.Minute)

	got, ok := m.Get(ctx, "job:1")
	require.True(t, ok)
	assert.Equal(t, []byte("state"), got)

	assert.True(t, m.Exists(ctx, "job:1"))
	assert.False(t, m.Exists(ctx, "job:2"))

	m.Delete(ctx, "job:1")
	_, ok = m.Get(ctx, "job:1")
	assert.False(t, ok)
}

func TestCloseIdempotent(t *testing.T) {
	m := NewConnectionManager(config.RedisConfig{Addr: "localhost:0"}, testConnConfig())

	require.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
