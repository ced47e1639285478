package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"payguard/internal/payroll"
	"payguard/internal/payroll/gateway/gatewaytest"
	"payguard/internal/payroll/gateway/paystack"
	"payguard/internal/payroll/ports"
	"payguard/internal/payroll/service/approval"
	"payguard/internal/payroll/service/executor"
	"payguard/internal/payroll/service/schedule"
	"payguard/internal/payroll/store/memory"
	"payguard/internal/payroll/store/postgres"
	"payguard/internal/platform/config"
	"payguard/internal/platform/httpserver"
	"payguard/internal/platform/logger"
	"payguard/internal/platform/metrics"
	"payguard/internal/platform/middleware"
	id "payguard/pkg/domain"
	"payguard/pkg/platform/audit/relay"
)

// main wires storage, gateway, services, HTTP surface, and the background
// loops. Business logic lives in internal/payroll.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage backend: postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		txRunner ports.TxRunner
		ledger   ports.Ledger
		audit    ports.AuditLog
		workers  ports.WorkerDirectory
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open database", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("database unreachable", "error", err.Error())
			os.Exit(1)
		}
		stores := postgres.New(db)
		txRunner = postgres.NewTxRunner(db)
		ledger = stores.Ledger
		audit = stores.Audit
		workers = stores.Workers
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		store := memory.New()
		txRunner = store
		ledger = store
		audit = store
		workers = store.Directory()
	}

	var gateway ports.Gateway
	if cfg.PaystackSecretKey != "" {
		gateway = paystack.New(cfg.PaystackBaseURL, cfg.PaystackSecretKey)
	} else {
		log.Warn("PAYSTACK_SECRET_KEY not set, using in-memory gateway")
		gateway = gatewaytest.New()
	}

	m := metrics.New()

	// Channel between approval and executor: a fully approved payment is
	// executed promptly instead of waiting for the next sweep tick.
	approvedQueue := make(chan id.PaymentID, 64)

	scheduleSvc, err := payroll.NewScheduleService(txRunner, workers,
		schedule.WithLogger(log), schedule.WithMetrics(m))
	if err != nil {
		log.Error("failed to build schedule service", "error", err.Error())
		os.Exit(1)
	}

	approvalSvc, err := payroll.NewApprovalService(txRunner, ledger, workers,
		approval.Config{
			MinApprovers:     cfg.MinApprovers,
			AuthorizedAdmins: cfg.AuthorizedAdmins,
			ApprovalWindow:   cfg.ApprovalWindow,
		},
		approval.WithLogger(log),
		approval.WithMetrics(m),
		approval.WithDispatcher(func(paymentID id.PaymentID) {
			select {
			case approvedQueue <- paymentID:
			default:
				// Queue full: the executor sweep picks it up instead.
			}
		}),
	)
	if err != nil {
		log.Error("failed to build approval service", "error", err.Error())
		os.Exit(1)
	}

	executorSvc, err := payroll.NewExecutorService(txRunner, ledger, gateway,
		executor.Config{
			MaxAttempts:       cfg.GatewayMaxAttempts,
			InitialBackoff:    cfg.GatewayBackoff,
			ProcessingTimeout: cfg.ProcessingTimeout,
		},
		executor.WithLogger(log),
		executor.WithMetrics(m),
	)
	if err != nil {
		log.Error("failed to build executor service", "error", err.Error())
		os.Exit(1)
	}

	validator := middleware.NewJWTValidator(cfg.JWTSigningKey)
	h := payroll.NewHandler(scheduleSvc, approvalSvc, ledger, audit, gateway, validator, log)

	router := chi.NewRouter()
	h.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting payguard", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Schedule evaluation loop.
	g.Go(func() error {
		return tick(gctx, cfg.EvaluateInterval, func() {
			if _, err := scheduleSvc.EvaluateDue(gctx, time.Now()); err != nil {
				log.Error("schedule evaluation failed", "error", err.Error())
			}
		})
	})

	// Approval-window expiry and deactivated-worker sweep.
	g.Go(func() error {
		return tick(gctx, cfg.ExpiryInterval, func() {
			expired, rejected, err := approvalSvc.SweepPending(gctx)
			if err != nil {
				log.Error("pending sweep failed", "error", err.Error())
				return
			}
			if expired > 0 || rejected > 0 {
				log.Info("pending sweep finished", "expired", expired, "rejected", rejected)
			}
		})
	})

	// Executor: dispatched payments plus a periodic sweep for anything missed.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.ExecutorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case paymentID := <-approvedQueue:
				if err := executorSvc.Process(gctx, paymentID); err != nil {
					log.Error("payment execution failed", "payment_id", paymentID, "error", err.Error())
				}
			case <-ticker.C:
				if err := executorSvc.ProcessApproved(gctx); err != nil {
					log.Error("executor sweep failed", "error", err.Error())
				}
			}
		}
	})

	// Stuck-claim reconciliation.
	g.Go(func() error {
		return tick(gctx, cfg.ReconcileInterval, func() {
			if err := executorSvc.ReconcileStuck(gctx); err != nil {
				log.Error("reconciliation failed", "error", err.Error())
			}
		})
	})

	// Optional Kafka mirror of the audit trail.
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := relay.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		if err != nil {
			log.Error("failed to build kafka publisher", "error", err.Error())
			os.Exit(1)
		}
		defer publisher.Close()
		auditRelay := relay.New(audit, publisher, 10*time.Second, relay.WithLogger(log))
		g.Go(func() error {
			if err := auditRelay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown with error", "error", err.Error())
		os.Exit(1)
	}
	log.Info("payguard stopped")
}

// tick runs fn every interval until ctx is cancelled.
func tick(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}
