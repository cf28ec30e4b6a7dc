package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/Library-Reservation-System/internal/config"
	orchestrator "github.com/dmehra2102/Library-Reservation-System/internal/orchestrator/application"
	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/application"
	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Library-Reservation-System/internal/reservation/infrastructure/bookclient"
	reshttp "github.com/dmehra2102/Library-Reservation-System/internal/reservation/infrastructure/http"
	resmemory "github.com/dmehra2102/Library-Reservation-System/internal/reservation/infrastructure/memory"
	respg "github.com/dmehra2102/Library-Reservation-System/internal/reservation/infrastructure/postgres"
	"github.com/dmehra2102/Library-Reservation-System/pkg/httpx"
	"github.com/dmehra2102/Library-Reservation-System/pkg/idempotency"
	"github.com/dmehra2102/Library-Reservation-System/pkg/logging"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
	"github.com/dmehra2102/Library-Reservation-System/pkg/shutdown"
	"github.com/dmehra2102/Library-Reservation-System/pkg/tracing"
)

const service = "reservation-service"

// outboxStore is what both storage drivers offer: the relay side and the
// compensation queue.
type outboxStore interface {
	outbox.Store
	application.CompensationQueue
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, service+":", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadReservation()
	if err != nil {
		return err
	}
	log := logging.New(service, cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, service, cfg.OTLPEndpoint, log)
	if err != nil {
		return fmt.Errorf("otel init: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	repo, store, closeStore, err := openStore(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	books := bookclient.NewBookClient(log, cfg.BookServiceURL, cfg.BookServiceTimeout)
	workflow := application.NewWorkflow(log, repo, books, store)

	var publish outbox.Dispatcher = outbox.NewLogDispatcher(log)
	if cfg.KafkaAddr != "" {
		writer := outbox.NewKafkaWriter(cfg.KafkaAddr)
		defer writer.Close()
		publish = outbox.NewKafkaDispatcher(log, writer, cfg.OutboxTopic)
	}
	// Compensation tasks share the outbox with published events but are
	// applied to the book service instead of being published.
	router := outbox.NewRouter(publish).
		Handle(domain.EventBookStatusRequested, orchestrator.NewCoordinator(log, books, repo, store))
	relay := outbox.NewRelay(log, store, router, service+"-relay",
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithLease(4*cfg.BookServiceTimeout),
	)
	go func() {
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	var opts []reshttp.Option
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, idempotency keys fail open", "addr", cfg.RedisAddr, "err", err)
		}
		opts = append(opts, reshttp.WithIdempotency(idempotency.NewStore(rdb, cfg.IdempotencyTTL)))
	}
	handler := reshttp.NewHandler(log, workflow, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(tracing.Middleware(service), httpx.RequestLogger(log))
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.BookServiceTimeout*2 + 5*time.Second,
	}
	log.Info("book service gateway", "url", cfg.BookServiceURL, "timeout", cfg.BookServiceTimeout)
	return shutdown.Serve(ctx, log, srv, cfg.ShutdownPeriod)
}

func openStore(ctx context.Context, log *slog.Logger, cfg config.Reservation) (application.ReservationRepository, outboxStore, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		ob := outbox.NewMemoryStore(cfg.OutboxRetries)
		log.Info("using in-memory store")
		return resmemory.NewRepository(ob), ob, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pg connect: %w", err)
	}
	repo := respg.NewRepository(log, pool)
	ob := outbox.NewPgStore(log, pool, cfg.OutboxRetries)
	for _, m := range []interface{ Migrate(context.Context) error }{repo, ob} {
		if err := m.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return repo, ob, pool.Close, nil
}
