package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/ecomanager/backend/internal/config"
	"github.com/ecomanager/backend/internal/db"
	"github.com/ecomanager/backend/internal/service"
)

// Worker consumes periodic pass tasks from Redis and executes them against
// the confirmation engine. Each execution is persisted as a run so the
// dashboard can show the latest sweep outcome.
type Worker struct {
	server       *asynq.Server
	mux          *asynq.ServeMux
	store        *db.Store
	engine       *service.Engine
	log          zerolog.Logger
	passDeadline time.Duration
	lookback     time.Duration
}

func NewWorker(cfg config.Config, store *db.Store, engine *service.Engine, log zerolog.Logger) (*Worker, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address not configured")
	}

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency: 1,
		Queues: map[string]int{
			"default": 1,
		},
	})

	w := &Worker{
		server:       server,
		mux:          asynq.NewServeMux(),
		store:        store,
		engine:       engine,
		log:          log,
		passDeadline: cfg.PassDeadline,
		lookback:     cfg.DuplicateLookback,
	}

	w.mux.HandleFunc(TaskAutoAssign, w.handleAutoAssign)
	w.mux.HandleFunc(TaskDuplicateSweep, w.handleDuplicateSweep)
	w.mux.HandleFunc(TaskClassifySweep, w.handleClassifySweep)

	return w, nil
}

func (w *Worker) handleAutoAssign(ctx context.Context, _ *asynq.Task) error {
	return w.runTracked(ctx, "auto_assign", w.engine.AutoAssignPass)
}

func (w *Worker) handleDuplicateSweep(ctx context.Context, _ *asynq.Task) error {
	return w.runTracked(ctx, "duplicate_detection", func(ctx context.Context) (service.PassSummary, error) {
		return w.engine.DuplicateDetectionPass(ctx, w.lookback)
	})
}

func (w *Worker) handleClassifySweep(ctx context.Context, _ *asynq.Task) error {
	return w.runTracked(ctx, "classification_sweep", w.engine.ClassificationSweep)
}

func (w *Worker) runTracked(ctx context.Context, name string, pass func(ctx context.Context) (service.PassSummary, error)) error {
	passCtx := ctx
	if w.passDeadline > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, w.passDeadline)
		defer cancel()
	}

	runID, err := w.store.CreateRun(ctx, name, "RUNNING")
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	summary, passErr := pass(passCtx)
	status := "SUCCESS"
	if passErr != nil {
		status = "FAILED"
	}
	b, _ := json.Marshal(summary)
	if err := w.store.FinishRun(ctx, runID, status, b); err != nil {
		w.log.Error().Err(err).Str("pass", name).Msg("failed to finish run")
	}

	if passErr != nil {
		w.log.Error().Err(passErr).Str("pass", name).Msg("pass failed")
		return passErr
	}
	w.log.Info().Str("pass", name).Interface("counts", summary.Counts).Msg("pass finished")
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error().Err(err).Msg("scheduler worker stopped")
	}
}
