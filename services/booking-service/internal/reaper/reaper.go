// Package reaper reclaims slots held by appointments that were never paid.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/locker"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

type Appointments interface {
	ExpiredHolds(ctx context.Context, before time.Time, limit int) ([]model.Appointment, error)
	Expire(ctx context.Context, appt model.Appointment) (bool, error)
}

// Locker elects one sweeping replica per interval.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (*locker.Lease, bool, error)
}

type Reaper struct {
	appts       Appointments
	locker      Locker
	logger      *slog.Logger
	interval    time.Duration
	holdTimeout time.Duration
	batchSize   int
	now         func() time.Time
}

type Config struct {
	Interval    time.Duration
	HoldTimeout time.Duration
	BatchSize   int
}

func New(appts Appointments, lock Locker, logger *slog.Logger, cfg Config) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.HoldTimeout <= 0 {
		cfg.HoldTimeout = 20 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reaper{
		appts:       appts,
		locker:      lock,
		logger:      logger,
		interval:    cfg.Interval,
		holdTimeout: cfg.HoldTimeout,
		batchSize:   cfg.BatchSize,
		now:         time.Now,
	}
}

type Result struct {
	Processed int `json:"processed"`
}

// Sweep cancels every Held/Pending appointment created before now-holdTimeout
// and frees its slot. Rows already reaped by a concurrent sweep are not counted.
func (r *Reaper) Sweep(ctx context.Context, holdTimeout time.Duration) (Result, error) {
	if holdTimeout <= 0 {
		holdTimeout = r.holdTimeout
	}
	cutoff := r.now().UTC().Add(-holdTimeout)

	var res Result
	for {
		batch, err := r.appts.ExpiredHolds(ctx, cutoff, r.batchSize)
		if err != nil {
			return res, err
		}
		progressed := 0
		for _, appt := range batch {
			ok, err := r.appts.Expire(ctx, appt)
			if err != nil {
				r.logger.Error("hold expiry failed", "appointment_id", appt.ID, "slot_id", appt.SlotID, "err", err)
			}
			if ok {
				res.Processed++
				progressed++
			}
		}
		if len(batch) < r.batchSize || progressed == 0 {
			return res, nil
		}
	}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	if r.locker != nil {
		lease, ok, err := r.locker.TryAcquire(ctx, "reaper", r.interval)
		if err != nil {
			r.logger.Warn("reaper lock unavailable, skipping sweep", "err", err)
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("reaper lock release failed", "err", err)
			}
		}()
	}

	res, err := r.Sweep(ctx, r.holdTimeout)
	if err != nil {
		r.logger.Error("reaper sweep failed", "err", err)
		return
	}
	if res.Processed > 0 {
		r.logger.Info("reaper sweep finished", "processed", res.Processed)
	}
}
