package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExpireStale expires every PENDING appointment created more than
// auto_cancel_timeout_hours ago. It backs up the timer queue.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-settings.AutoCancelTimeout())
	candidates, err := s.store.FindStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	expired := 0
	for _, appt := range candidates {
		applied, err := s.expire(ctx, appt.ID, "sweep")
		if err != nil {
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to expire appointment")
			continue
		}
		if applied {
			expired++
		}
	}
	return expired, nil
}

// DueQueue is the timer store drained by ExpiryRunner.
type DueQueue interface {
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Claim(ctx context.Context, ref string) (bool, error)
}

// ExpiryRunner fires due expiry timers and periodically sweeps for stale
// pending appointments the timers missed.
type ExpiryRunner struct {
	svc        *Service
	queue      DueQueue
	batch      int64
	sweepEvery int
}

func NewExpiryRunner(svc *Service, queue DueQueue, batch int64, sweepEvery int) *ExpiryRunner {
	if batch <= 0 {
		batch = 100
	}
	if sweepEvery <= 0 {
		sweepEvery = 10
	}
	return &ExpiryRunner{svc: svc, queue: queue, batch: batch, sweepEvery: sweepEvery}
}

// FireDue expires the appointments whose timers are due. A timer claimed by
// another worker is skipped.
func (r *ExpiryRunner) FireDue(ctx context.Context) (int, error) {
	if r.queue == nil {
		return 0, nil
	}
	refs, err := r.queue.Due(ctx, r.svc.now(), r.batch)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, ref := range refs {
		claimed, err := r.queue.Claim(ctx, ref)
		if err != nil {
			return fired, err
		}
		if !claimed {
			continue
		}
		id, err := uuid.Parse(ref)
		if err != nil {
			r.svc.logger.Warn().Str("ref", ref).Msg("dropping malformed expiry reference")
			continue
		}
		applied, err := r.svc.Expire(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			r.svc.logger.Error().Err(err).Str("appointment_id", ref).Msg("failed to expire appointment")
			continue
		}
		if applied {
			fired++
		}
	}
	return fired, nil
}

// Run drains and sweeps once, then ticks until ctx is done.
func (r *ExpiryRunner) Run(ctx context.Context, interval time.Duration) {
	r.RunOnce(ctx, true)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 1
	for {
		select {
		case <-ctx.Done():
			r.svc.logger.Info().Msg("expiry runner stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx, tick%r.sweepEvery == 0)
			tick++
		}
	}
}

func (r *ExpiryRunner) RunOnce(ctx context.Context, sweep bool) {
	fired, err := r.FireDue(ctx)
	if err != nil {
		r.svc.logger.Error().Err(err).Msg("draining expiry queue failed")
	}
	swept := 0
	if sweep {
		swept, err = r.svc.ExpireStale(ctx)
		if err != nil {
			r.svc.logger.Error().Err(err).Msg("stale pending sweep failed")
		}
	}
	if fired > 0 || swept > 0 {
		r.svc.logger.Info().Int("fired", fired).Int("swept", swept).Msg("expired pending appointments")
	}
}
