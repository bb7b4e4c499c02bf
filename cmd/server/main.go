// Command server runs the budget request service: lifecycle, allocation
// hierarchy, and transaction ledger behind one HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"fiscus/internal/anchor"
	"fiscus/internal/flow"
	flowmetrics "fiscus/internal/flow/metrics"
	hierarchyhandler "fiscus/internal/hierarchy/handler"
	hierarchysvc "fiscus/internal/hierarchy/service"
	hierarchystore "fiscus/internal/hierarchy/store"
	"fiscus/internal/integrity"
	ledgerhandler "fiscus/internal/ledger/handler"
	ledgermetrics "fiscus/internal/ledger/metrics"
	ledgersvc "fiscus/internal/ledger/service"
	ledgerstore "fiscus/internal/ledger/store"
	"fiscus/internal/notify"
	"fiscus/internal/platform/config"
	"fiscus/internal/platform/httpserver"
	"fiscus/internal/platform/logger"
	platformredis "fiscus/internal/platform/redis"
	requesthandler "fiscus/internal/request/handler"
	requestmetrics "fiscus/internal/request/metrics"
	requestsvc "fiscus/internal/request/service"
	requeststore "fiscus/internal/request/store"
	httptransport "fiscus/internal/transport/http"
	"fiscus/internal/vendordir"
	"fiscus/pkg/platform/middleware/auth"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		requestStore   requestsvc.Store
		hierarchyStore hierarchysvc.Store
		ledgerStore    ledgersvc.Store
	)
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		for _, ddl := range []string{requeststore.Schema(), hierarchystore.Schema(), ledgerstore.Schema()} {
			if _, err := pool.Exec(ctx, ddl); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		requestStore = requeststore.NewPostgres(pool)
		hierarchyStore = hierarchystore.NewPostgres(pool)
		ledgerStore = ledgerstore.NewPostgres(pool)
		log.Info("using postgres stores")
	} else {
		requestStore = requeststore.NewInMemory()
		hierarchyStore = hierarchystore.NewInMemory()
		ledgerStore = ledgerstore.NewInMemory()
		log.Info("using in-memory stores")
	}

	requests, err := requestsvc.New(requestStore,
		requestsvc.WithLogger(log),
		requestsvc.WithMetrics(requestmetrics.New(prometheus.DefaultRegisterer)),
	)
	if err != nil {
		return fmt.Errorf("build request service: %w", err)
	}

	hierarchy, err := hierarchysvc.New(hierarchyStore, log)
	if err != nil {
		return fmt.Errorf("build hierarchy service: %w", err)
	}

	ledger, err := ledgersvc.New(ledgerStore, ledgersvc.Config{
		HighValueThreshold: cfg.Ledger.HighValueThreshold,
		FlagScore:          cfg.Ledger.FlagScore,
		Algorithm:          integrity.Algorithm(cfg.Ledger.Algorithm),
	}, ledgersvc.WithLogger(log), ledgersvc.WithMetrics(ledgermetrics.New()))
	if err != nil {
		return fmt.Errorf("build ledger service: %w", err)
	}

	var publisher notify.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		publisher = kafka
		log.Info("publishing lifecycle events to kafka", "topic", cfg.KafkaTopic)
	} else {
		publisher = notify.NewMemory()
	}
	defer publisher.Close()

	var anchors anchor.Anchor = anchor.NewLocal()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		anchors = anchor.NewRedis(redisClient.Client)
		log.Info("anchoring ledger entries in redis")
	}

	vendors := vendordir.NewStatic(nil)
	for identity, wallet := range cfg.VendorDirectory {
		vendors.Add(vendordir.Record{Identity: identity, WalletRef: wallet})
	}

	coordinator, err := flow.New(requests, hierarchy, ledger,
		flow.WithPublisher(publisher),
		flow.WithVendorDirectory(vendors),
		flow.WithAnchor(anchors),
		flow.WithLogger(log),
		flow.WithMetrics(flowmetrics.New()),
		flow.WithRetryBudget(cfg.RetryBudget),
	)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}

	router := httptransport.NewRouter(log, auth.NewValidator(cfg.JWTSigningKey),
		requesthandler.New(coordinator, requests, log),
		hierarchyhandler.New(hierarchy, log),
		ledgerhandler.New(ledger, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
