package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/credinvoice/credinvoice/internal/engine"
	jobmetrics "github.com/credinvoice/credinvoice/internal/jobs"
)

// OfferExpirySweepJob expires PENDING discount offers past their deadline.
type OfferExpirySweepJob struct {
	Engine  *engine.Engine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOfferExpirySweepJob initialises the offer expiry handler.
func NewOfferExpirySweepJob(eng *engine.Engine, logger *slog.Logger, metrics *jobmetrics.Metrics) *OfferExpirySweepJob {
	return &OfferExpirySweepJob{Engine: eng, Logger: logger, Metrics: metrics, clock: nowUTC}
}

// Handle executes the offer expiry sweep.
func (j *OfferExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("offer expiry sweep: handler not configured")
	}
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskOfferExpiry)
	expired, err := j.Engine.ExpireOffers(ctx, j.clock())
	if err != nil {
		j.logger().Error("offer expiry sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddSwept(TaskOfferExpiry, expired)
	j.logger().Info("offer expiry sweep done", slog.Int("expired", expired))
	return tracker.End(nil)
}

func (j *OfferExpirySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// BidExpirySweepJob expires lapsed bids and closes stale marketplace
// listings.
type BidExpirySweepJob struct {
	Engine  *engine.Engine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Window  time.Duration
	clock   func() time.Time
}

// NewBidExpirySweepJob initialises the bid expiry handler. Window is the
// fallback when the task payload carries none.
func NewBidExpirySweepJob(eng *engine.Engine, logger *slog.Logger, metrics *jobmetrics.Metrics, window time.Duration) *BidExpirySweepJob {
	return &BidExpirySweepJob{Engine: eng, Logger: logger, Metrics: metrics, Window: window, clock: nowUTC}
}

// Handle executes the bid expiry sweep.
func (j *BidExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("bid expiry sweep: handler not configured")
	}
	var payload BidExpiryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	window := j.Window
	if payload.WindowHours > 0 {
		window = time.Duration(payload.WindowHours) * time.Hour
	}

	tracker := j.Metrics.Track(TaskBidExpiry)
	expired, err := j.Engine.ExpireBids(ctx, j.clock(), window)
	if err != nil {
		j.logger().Error("bid expiry sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddSwept(TaskBidExpiry, expired)
	j.logger().Info("bid expiry sweep done", slog.Int("expired", expired))
	return tracker.End(nil)
}

func (j *BidExpirySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// RepaymentOverdueSweepJob flags PENDING repayments past their due date.
type RepaymentOverdueSweepJob struct {
	Engine  *engine.Engine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRepaymentOverdueSweepJob initialises the overdue repayment handler.
func NewRepaymentOverdueSweepJob(eng *engine.Engine, logger *slog.Logger, metrics *jobmetrics.Metrics) *RepaymentOverdueSweepJob {
	return &RepaymentOverdueSweepJob{Engine: eng, Logger: logger, Metrics: metrics, clock: nowUTC}
}

// Handle executes the overdue repayment sweep.
func (j *RepaymentOverdueSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("repayment overdue sweep: handler not configured")
	}
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskRepaymentOverdue)
	flagged, err := j.Engine.FlagOverdueRepayments(ctx, j.clock())
	if err != nil {
		j.logger().Error("repayment overdue sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddSwept(TaskRepaymentOverdue, flagged)
	j.logger().Info("repayment overdue sweep done", slog.Int("flagged", flagged))
	return tracker.End(nil)
}

func (j *RepaymentOverdueSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
