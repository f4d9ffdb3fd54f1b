package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/credinvoice/credinvoice/internal/app"
	"github.com/credinvoice/credinvoice/internal/bidding"
	"github.com/credinvoice/credinvoice/internal/engine"
	enginehttp "github.com/credinvoice/credinvoice/internal/engine/http"
	"github.com/credinvoice/credinvoice/internal/funding"
	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/notify"
	"github.com/credinvoice/credinvoice/internal/offer"
	"github.com/credinvoice/credinvoice/internal/platform/cache"
	"github.com/credinvoice/credinvoice/internal/platform/db"
	"github.com/credinvoice/credinvoice/internal/shared"
	"github.com/credinvoice/credinvoice/jobs"
)

func main() {
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

	var bidCache *bidding.Cache
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, bid listings uncached", slog.Any("error", err))
	} else {
		bidCache = bidding.NewCache(redisClient, cfg.BidCacheTTL)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	audit := shared.NewAuditLogger(pool)
	idem := shared.NewIdempotencyStore(pool)

	invoiceSvc := invoice.NewService(invoice.NewRepository(pool), audit)
	offerSvc := offer.NewService(offer.NewRepository(pool), audit, logger)
	biddingSvc := bidding.NewService(bidding.NewRepository(pool), bidCache, audit, logger)
	fundingSvc := funding.NewService(funding.NewRepository(pool), audit, idem, logger)

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	mailer := notify.NewMailer(queueClient, notify.DomainDirectory{Domain: cfg.MailDomain}, logger)
	eng := engine.New(invoiceSvc, offerSvc, biddingSvc, fundingSvc, mailer, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		EngineHandler: enginehttp.NewHandler(logger, eng),
		JobHandler:    jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
