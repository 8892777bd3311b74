package scheduler

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ecomanager/backend/internal/config"
)

// NewPeriodic enqueues the three maintenance passes on their configured
// intervals. Tasks are unique per type so an overrunning pass is not
// enqueued twice.
func NewPeriodic(cfg config.Config) (*asynq.Scheduler, error) {
	s := asynq.NewScheduler(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, nil)

	entries := []struct {
		every time.Duration
		task  string
	}{
		{cfg.AutoAssignEvery, TaskAutoAssign},
		{cfg.DuplicateEvery, TaskDuplicateSweep},
		{cfg.ClassifyEvery, TaskClassifySweep},
	}
	for _, e := range entries {
		if e.every <= 0 {
			continue
		}
		spec := fmt.Sprintf("@every %s", e.every)
		if _, err := s.Register(spec, asynq.NewTask(e.task, nil), asynq.Unique(e.every)); err != nil {
			return nil, fmt.Errorf("register %s: %w", e.task, err)
		}
	}
	return s, nil
}
