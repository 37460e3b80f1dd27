package broker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/videoforge/api/internal/config"
	"github.com/videoforge/api/internal/model"
)

// ErrBrokerUnavailable is returned by Execute while the broker is down and
// reconnection has not succeeded yet. Callers fall back to cached state
// instead of surfacing broker errors to clients.
var ErrBrokerUnavailable = errors.New("broker unavailable")

const pingTimeout = 5 * time.Second

// probeFailureLimit is how many consecutive probe failures it takes before
// the connection is declared lost and reconnection starts.
const probeFailureLimit = 3

// ConnectionManager owns the broker connection lifecycle: it probes health
// on an interval, reconnects with capped exponential backoff when commands
// fail, and gives up after a bounded number of attempts until an operator
// forces a retry. A failed probe marks the connection degraded without
// tearing it down; reconnection starts only on command failures or after
// several consecutive probe failures.
type ConnectionManager struct {
	cfg      config.ConnectionConfig
	client   *redis.Client
	fallback *FallbackStore

	mu          sync.Mutex
	connected   bool
	healthy     bool
	attempts    int
	terminal    bool
	probeFails  int
	lastErr     string
	connectedAt time.Time
	lastCheck   time.Time

	// connGate serializes connection attempts so a forced reconnect never
	// races the background loop's own attempt.
	connGate sync.Mutex

	cmdOK   atomic.Int64
	cmdFail atomic.Int64

	onReconnect func()

	reconnectCh chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func NewConnectionManager(rcfg config.RedisConfig, cfg config.ConnectionConfig) *ConnectionManager {
	client := redis.NewClient(&redis.Options{
		Addr:     rcfg.Addr,
		Password: rcfg.Password,
		DB:       rcfg.DB,
	})
	return &ConnectionManager{
		cfg:         cfg,
		client:      client,
		fallback:    NewFallbackStore(cfg.FallbackMaxEntries),
		reconnectCh: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Client exposes the underlying connection for components like asynq that
// manage their own command retries.
func (m *ConnectionManager) Client() *redis.Client { return m.client }

func (m *ConnectionManager) Fallback() *FallbackStore { return m.fallback }

// SetOnReconnect registers a callback invoked after every successful
// (re)connection, before new commands are admitted. Must be called before
// Start.
func (m *ConnectionManager) SetOnReconnect(fn func()) { m.onReconnect = fn }

// Start performs the initial connect and launches the probe and reconnect
// loops. An unreachable broker at startup is not fatal; the reconnect loop
// keeps trying in the background.
func (m *ConnectionManager) Start(ctx context.Context) {
	if err := m.tryConnect(ctx); err != nil {
		log.Warn().Err(err).Msg("broker unreachable at startup, reconnecting in background")
		m.requestReconnect()
	}

	m.wg.Add(2)
	go m.probeLoop()
	go m.reconnectLoop()
}

// Execute runs one broker operation, tracking command outcomes for health
// reporting. While disconnected it fails fast with ErrBrokerUnavailable.
func (m *ConnectionManager) Execute(ctx context.Context, fn func(ctx context.Context, c *redis.Client) error) error {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		return ErrBrokerUnavailable
	}

	if err := fn(ctx, m.client); err != nil {
		m.cmdFail.Add(1)
		if ctx.Err() == nil && !isDataError(err) {
			m.markUnhealthy(err)
			m.requestReconnect()
		}
		return err
	}
	m.cmdOK.Add(1)
	return nil
}

// isDataError distinguishes replies like redis.Nil from connection
// failures; a miss must not trigger reconnection.
func isDataError(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Health reports the connection state snapshot used by the admin surface.
func (m *ConnectionManager) Health() model.ConnectionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := model.ConnectionHealth{
		IsConnected:        m.connected,
		IsHealthy:          m.connected && m.healthy,
		ConnectionAttempts: m.attempts,
		LastError:          m.lastErr,
		CommandsExecuted:   m.cmdOK.Load(),
		CommandsFailed:     m.cmdFail.Load(),
		LastHealthCheck:    m.lastCheck,
	}
	if m.connected && !m.connectedAt.IsZero() {
		h.UptimeSeconds = time.Since(m.connectedAt).Seconds()
	}
	return h
}

// ForceReconnect clears the give-up state and synchronously attempts one
// connection, returning its outcome. Used by the admin surface.
func (m *ConnectionManager) ForceReconnect(ctx context.Context) error {
	m.mu.Lock()
	m.terminal = false
	m.attempts = 0
	m.mu.Unlock()

	if err := m.tryConnect(ctx); err != nil {
		m.requestReconnect()
		return err
	}
	return nil
}

// ResetConnectionAttempts zeroes the attempt counter and re-arms the
// background reconnect loop if it had given up.
func (m *ConnectionManager) ResetConnectionAttempts() {
	m.mu.Lock()
	m.attempts = 0
	wasTerminal := m.terminal
	m.terminal = false
	connected := m.connected
	m.mu.Unlock()

	if wasTerminal && !connected {
		m.requestReconnect()
	}
}

// Close stops the loops, flushes the fallback store if the broker is still
// reachable, and closes the client. Safe to call more than once.
func (m *ConnectionManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()

		m.mu.Lock()
		connected := m.connected
		m.mu.Unlock()
		if connected && m.onReconnect != nil && m.fallback.Len() > 0 {
			m.onReconnect()
		}
		err = m.client.Close()
	})
	return err
}

// Set writes a key through the broker, degrading to the fallback store on
// failure. Never returns a broker error.
func (m *ConnectionManager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	err := m.Execute(ctx, func(ctx context.Context, c *redis.Client) error {
		return c.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("broker write degraded to fallback")
		m.fallback.Set(key, value, ttl)
	}
}

// Get reads a key, consulting the fallback store when the broker fails or
// has no value the fallback might still hold. The second return is false
// when the key exists nowhere.
func (m *ConnectionManager) Get(ctx context.Context, key string) ([]byte, bool) {
	var data []byte
	err := m.Execute(ctx, func(ctx context.Context, c *redis.Client) error {
		b, err := c.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err == nil {
		return data, true
	}
	if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("key", key).Msg("broker read degraded to fallback")
	}
	return m.fallback.Get(key)
}

// Delete removes a key from both the broker and the fallback store.
func (m *ConnectionManager) Delete(ctx context.Context, key string) {
	m.fallback.Delete(key)
	err := m.Execute(ctx, func(ctx context.Context, c *redis.Client) error {
		return c.Del(ctx, key).Err()
	})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("broker delete failed")
	}
}

// Exists reports whether a key is present in the broker or the fallback.
func (m *ConnectionManager) Exists(ctx context.Context, key string) bool {
	var n int64
	err := m.Execute(ctx, func(ctx context.Context, c *redis.Client) error {
		v, err := c.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	if err == nil {
		return n > 0
	}
	_, ok := m.fallback.Get(key)
	return ok
}

func (m *ConnectionManager) probeLoop() {
	defer m.wg.Done()

	interval := m.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		connected := m.connected
		m.mu.Unlock()
		if !connected {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err := m.client.Ping(ctx).Err()
		cancel()

		m.handleProbeResult(err)
	}
}

// handleProbeResult folds one probe outcome into the health state. A failed
// probe only degrades health, keeping the connection up for commands; only
// a streak of probeFailureLimit failures declares the connection lost.
func (m *ConnectionManager) handleProbeResult(err error) {
	m.mu.Lock()
	m.lastCheck = time.Now()
	if err == nil {
		m.healthy = true
		m.probeFails = 0
		m.mu.Unlock()
		return
	}
	m.healthy = false
	m.lastErr = err.Error()
	m.probeFails++
	fails := m.probeFails
	m.mu.Unlock()

	log.Warn().Err(err).Int("consecutive", fails).Msg("broker health probe failed")
	if fails >= probeFailureLimit {
		m.requestReconnect()
	}
}

func (m *ConnectionManager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case <-m.reconnectCh:
		}

		for {
			m.mu.Lock()
			if m.terminal {
				m.mu.Unlock()
				break
			}
			m.attempts++
			attempt := m.attempts
			m.connected = false
			m.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			err := m.tryConnect(ctx)
			cancel()
			if err == nil {
				break
			}

			m.mu.Lock()
			m.lastErr = err.Error()
			gaveUp := m.cfg.MaxReconnectAttempts > 0 && attempt >= m.cfg.MaxReconnectAttempts
			if gaveUp {
				m.terminal = true
			}
			m.mu.Unlock()

			if gaveUp {
				log.Error().Int("attempts", attempt).Err(err).
					Msg("broker reconnection abandoned until forced")
				break
			}

			delay := m.backoffDelay(attempt)
			log.Warn().Int("attempt", attempt).Dur("retryIn", delay).Err(err).
				Msg("broker reconnect failed")

			select {
			case <-m.done:
				return
			case <-time.After(delay):
			}
		}
	}
}

// backoffDelay doubles from the base per attempt, adds jitter so restarting
// replicas do not stampede the broker, and caps at the configured maximum.
func (m *ConnectionManager) backoffDelay(attempt int) time.Duration {
	base := m.cfg.ReconnectBaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if m.cfg.ReconnectMaxDelay > 0 && d >= m.cfg.ReconnectMaxDelay {
			d = m.cfg.ReconnectMaxDelay
			break
		}
	}
	if m.cfg.ReconnectJitter > 0 {
		d += time.Duration(rand.Int63n(int64(m.cfg.ReconnectJitter)))
	}
	if m.cfg.ReconnectMaxDelay > 0 && d > m.cfg.ReconnectMaxDelay {
		d = m.cfg.ReconnectMaxDelay
	}
	return d
}

func (m *ConnectionManager) tryConnect(ctx context.Context) error {
	m.connGate.Lock()
	defer m.connGate.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := m.client.Ping(pingCtx).Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.connected = true
	m.healthy = true
	m.terminal = false
	m.attempts = 0
	m.probeFails = 0
	m.lastErr = ""
	m.connectedAt = time.Now()
	m.lastCheck = time.Now()
	m.mu.Unlock()

	log.Info().Msg("broker connected")
	if m.onReconnect != nil {
		m.onReconnect()
	}
	return nil
}

func (m *ConnectionManager) markUnhealthy(err error) {
	m.mu.Lock()
	m.healthy = false
	m.lastErr = err.Error()
	m.mu.Unlock()
}

func (m *ConnectionManager) requestReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}
