package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/videoforge/api/internal/config"
	"github.com/videoforge/api/internal/model"
	"github.com/videoforge/api/internal/queue"
)

// Supervisor runs the asynq consumer and restarts it after unexpected
// exits, up to a bounded restart budget. Shutdown is graceful and safe to
// call more than once.
type Supervisor struct {
	redisOpt asynq.RedisConnOpt
	handler  asynq.Handler
	cfg      config.WorkerConfig
	qcfg     config.QueueConfig

	mu           sync.Mutex
	srv          *asynq.Server
	running      bool
	restarts     int
	lastRestart  *time.Time
	lastSnapshot *time.Time

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
}

func NewSupervisor(redisOpt asynq.RedisConnOpt, handler asynq.Handler, cfg config.WorkerConfig, qcfg config.QueueConfig) *Supervisor {
	return &Supervisor{
		redisOpt: redisOpt,
		handler:  handler,
		cfg:      cfg,
		qcfg:     qcfg,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (s *Supervisor) newServer() *asynq.Server {
	concurrency := s.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(s.redisOpt, asynq.Config{
		Concurrency:     concurrency,
		Queues:          queue.QueueWeights,
		ShutdownTimeout: s.cfg.ShutdownGrace,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return backoffDelay(s.qcfg.BackoffDelay, n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("type", task.Type()).Msg("task processing error")
		}),
		Logger:   asynqLogger{},
		LogLevel: asynq.WarnLevel,
	})
}

// backoffDelay grows the retry delay exponentially from the configured
// base: base, 2x base, 4x base and so on.
func backoffDelay(base time.Duration, retried int) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	d := base
	for i := 0; i < retried; i++ {
		d *= 2
		if d >= time.Hour {
			return time.Hour
		}
	}
	return d
}

// Start launches the consumer loop in the background.
func (s *Supervisor) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Supervisor) run() {
	defer close(s.stopped)

	mux := asynq.NewServeMux()
	mux.Handle(queue.TaskTypeRender, s.handler)

	for {
		srv := s.newServer()
		s.mu.Lock()
		s.srv = srv
		s.running = true
		s.mu.Unlock()

		log.Info().Int("concurrency", s.cfg.Concurrency).Msg("worker started")
		err := srv.Run(mux)

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		select {
		case <-s.done:
			return
		default:
		}

		if err == nil {
			// Run only returns nil after Shutdown; treat as intentional.
			return
		}

		s.mu.Lock()
		s.restarts++
		now := time.Now().UTC()
		s.lastRestart = &now
		restarts := s.restarts
		s.mu.Unlock()

		if !s.cfg.AutoRestart || (s.cfg.MaxRestarts > 0 && restarts > s.cfg.MaxRestarts) {
			log.Error().Err(err).Int("restarts", restarts-1).
				Msg("worker exited, restart budget exhausted")
			return
		}

		log.Warn().Err(err).Int("restart", restarts).Msg("worker exited, restarting")
		select {
		case <-s.done:
			return
		case <-time.After(s.cfg.RestartDelay):
		}
	}
}

// Health reports the supervisor's current state.
func (s *Supervisor) Health() model.WorkerHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	consumers := 0
	if s.running {
		consumers = s.cfg.Concurrency
		if consumers <= 0 {
			consumers = 1
		}
	}
	return model.WorkerHealth{
		ActiveConsumers: consumers,
		RestartCount:    s.restarts,
		LastRestart:     s.lastRestart,
		LastSnapshot:    s.lastSnapshot,
		Running:         s.running,
		Timestamp:       time.Now().UTC(),
	}
}

// RunHealthLoop records and logs a health snapshot on the configured
// interval until the context ends.
func (s *Supervisor) RunHealthLoop(ctx context.Context) {
	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := s.Health()
			s.mu.Lock()
			s.lastSnapshot = &h.Timestamp
			s.mu.Unlock()
			log.Info().Bool("running", h.Running).
				Int("activeConsumers", h.ActiveConsumers).
				Int("restartCount", h.RestartCount).
				Msg("worker health snapshot")
		}
	}
}

// Shutdown drains in-flight tasks within the shutdown grace period.
// Idempotent.
func (s *Supervisor) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		srv := s.srv
		s.mu.Unlock()
		if srv != nil {
			srv.Shutdown()
		}
		<-s.stopped
		log.Info().Msg("worker stopped")
	})
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { log.Debug().Msgf("%v", args) }
func (asynqLogger) Info(args ...interface{})  { log.Info().Msgf("%v", args) }
func (asynqLogger) Warn(args ...interface{})  { log.Warn().Msgf("%v", args) }
func (asynqLogger) Error(args ...interface{}) { log.Error().Msgf("%v", args) }
func (asynqLogger) Fatal(args ...interface{}) { log.Fatal().Msgf("%v", args) }
