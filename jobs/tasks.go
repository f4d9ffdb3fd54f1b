package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/credinvoice/credinvoice/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskOfferExpiry expires lapsed discount offers.
	TaskOfferExpiry = "offers:expire"
	// TaskBidExpiry expires lapsed bids and stale marketplace listings.
	TaskBidExpiry = "bids:expire"
	// TaskRepaymentOverdue flags repayments past their due date.
	TaskRepaymentOverdue = "repayments:overdue"
)

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload notify.EmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload notify.EmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with the SMTP relay once credentials land.
	slog.Info("send email", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}

// SweepPayload carries scheduling metadata for expiry sweeps.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewOfferExpiryTask constructs the offer expiry sweep task.
func NewOfferExpiryTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOfferExpiry, body, asynq.Queue(QueueDefault)), nil
}

// BidExpiryPayload adds the overall bidding window to the sweep schedule.
type BidExpiryPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	WindowHours  int       `json:"window_hours"`
}

// NewBidExpiryTask constructs the bid expiry sweep task.
func NewBidExpiryTask(at time.Time, window time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(BidExpiryPayload{ScheduledFor: at, WindowHours: int(window / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBidExpiry, body, asynq.Queue(QueueDefault)), nil
}

// NewRepaymentOverdueTask constructs the repayment overdue sweep task.
func NewRepaymentOverdueTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRepaymentOverdue, body, asynq.Queue(QueueDefault)), nil
}
