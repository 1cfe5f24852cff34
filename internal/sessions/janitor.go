package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/observability"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Janitor sweeps a Store on a cron schedule.
type Janitor struct {
	store     Store
	retention time.Duration
	logger    *observability.Logger
	cron      *cron.Cron

	mu   sync.Mutex
	last SweepResult
	runs int
}

// NewJanitor validates schedule (e.g. "@every 5m" or "0 */10 * * * *").
func NewJanitor(store Store, schedule string, retention time.Duration, logger *observability.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = "@every 5m"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	j := &Janitor{
		store:     store,
		retention: retention,
		logger:    logger,
		cron:      cron.New(cron.WithParser(cronParser)),
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce sweeps immediately.
func (j *Janitor) RunOnce(ctx context.Context) (SweepResult, error) {
	res, err := j.store.Sweep(ctx, j.retention)
	if err != nil {
		j.logger.Error(ctx, "session sweep failed", "error", err)
		return res, err
	}
	j.mu.Lock()
	j.last = res
	j.runs++
	j.mu.Unlock()
	if res.Expired+res.PurgedIntents+res.PurgedContexts > 0 {
		j.logger.Info(ctx, "session sweep",
			"expired", res.Expired,
			"purged_intents", res.PurgedIntents,
			"purged_contexts", res.PurgedContexts)
	}
	return res, nil
}

// Last returns the result of the latest successful sweep and the run count.
func (j *Janitor) Last() (SweepResult, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last, j.runs
}
