package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/videoforge/api/internal/broker"
	"github.com/videoforge/api/internal/model"
)

// ErrJobNotFound is returned when no record exists for a job ID.
var ErrJobNotFound = errors.New("job not found")

func jobKey(id string) string { return fmt.Sprintf("job:%s", id) }

// Store persists job records as one JSON document per job, keyed by ID.
// All broker traffic goes through the resilience layer, so records written
// during an outage land in its fallback and surface again on read; losing a
// status write never fails a render.
type Store struct {
	conn      *broker.ConnectionManager
	retention time.Duration
}

func NewStore(conn *broker.ConnectionManager, retention time.Duration) *Store {
	return &Store{conn: conn, retention: retention}
}

// SaveJob writes the record, best effort.
func (s *Store) SaveJob(ctx context.Context, job *model.RenderJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	s.conn.Set(ctx, jobKey(job.ID), data, s.retention)
	return nil
}

// GetJob reads the record from the broker or, during an outage, from the
// resilience layer's fallback.
func (s *Store) GetJob(ctx context.Context, id string) (*model.RenderJob, error) {
	data, ok := s.conn.Get(ctx, jobKey(id))
	if !ok {
		return nil, ErrJobNotFound
	}

	var job model.RenderJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	s.conn.Delete(ctx, jobKey(id))
	return nil
}

// DrainFallback pushes records written during an outage back to the
// broker. Wired as the connection manager's reconnect callback.
func (s *Store) DrainFallback() {
	fb := s.conn.Fallback()
	if fb.Len() == 0 {
		return
	}
	drained := 0
	fb.Drain(func(key string, value []byte, ttl time.Duration) bool {
		if ttl <= 0 {
			ttl = s.retention
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.conn.Execute(ctx, func(ctx context.Context, c *redis.Client) error {
			return c.Set(ctx, key, value, ttl).Err()
		})
		if err != nil {
			return false
		}
		drained++
		return true
	})
	if drained > 0 {
		log.Info().Int("records", drained).Msg("fallback job records drained to broker")
	}
}
