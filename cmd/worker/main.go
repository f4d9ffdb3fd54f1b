package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/credinvoice/credinvoice/internal/app"
	"github.com/credinvoice/credinvoice/internal/bidding"
	"github.com/credinvoice/credinvoice/internal/engine"
	"github.com/credinvoice/credinvoice/internal/funding"
	"github.com/credinvoice/credinvoice/internal/invoice"
	jobmetrics "github.com/credinvoice/credinvoice/internal/jobs"
	"github.com/credinvoice/credinvoice/internal/offer"
	"github.com/credinvoice/credinvoice/internal/platform/db"
	"github.com/credinvoice/credinvoice/internal/shared"
	"github.com/credinvoice/credinvoice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	audit := shared.NewAuditLogger(pool)
	idem := shared.NewIdempotencyStore(pool)

	invoiceSvc := invoice.NewService(invoice.NewRepository(pool), audit)
	offerSvc := offer.NewService(offer.NewRepository(pool), audit, logger)
	biddingSvc := bidding.NewService(bidding.NewRepository(pool), nil, audit, logger)
	fundingSvc := funding.NewService(funding.NewRepository(pool), audit, idem, logger)
	eng := engine.New(invoiceSvc, offerSvc, biddingSvc, fundingSvc, nil, logger)

	metrics := jobmetrics.NewMetrics(nil)
	offerSweep := jobs.NewOfferExpirySweepJob(eng, logger, metrics)
	bidSweep := jobs.NewBidExpirySweepJob(eng, logger, metrics, cfg.BiddingWindow)
	overdueSweep := jobs.NewRepaymentOverdueSweepJob(eng, logger, metrics)

	now := time.Now().UTC()
	offerTask, err := jobs.NewOfferExpiryTask(now)
	if err != nil {
		logger.Error("build offer expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	bidTask, err := jobs.NewBidExpiryTask(now, cfg.BiddingWindow)
	if err != nil {
		logger.Error("build bid expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	overdueTask, err := jobs.NewRepaymentOverdueTask(now)
	if err != nil {
		logger.Error("build repayment overdue task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: jobs.HandleSendEmailTask},
			{Type: jobs.TaskOfferExpiry, Handler: offerSweep.Handle},
			{Type: jobs.TaskBidExpiry, Handler: bidSweep.Handle},
			{Type: jobs.TaskRepaymentOverdue, Handler: overdueSweep.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OfferSweepSpec, Task: offerTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.BidSweepSpec, Task: bidTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.RepaymentSweepSpec, Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
