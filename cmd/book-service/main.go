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

	"github.com/dmehra2102/Library-Reservation-System/internal/book/application"
	bookhttp "github.com/dmehra2102/Library-Reservation-System/internal/book/infrastructure/http"
	bookmemory "github.com/dmehra2102/Library-Reservation-System/internal/book/infrastructure/memory"
	bookpg "github.com/dmehra2102/Library-Reservation-System/internal/book/infrastructure/postgres"
	"github.com/dmehra2102/Library-Reservation-System/internal/config"
	"github.com/dmehra2102/Library-Reservation-System/pkg/httpx"
	"github.com/dmehra2102/Library-Reservation-System/pkg/logging"
	"github.com/dmehra2102/Library-Reservation-System/pkg/outbox"
	"github.com/dmehra2102/Library-Reservation-System/pkg/shutdown"
	"github.com/dmehra2102/Library-Reservation-System/pkg/tracing"
)

const service = "book-service"

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
	cfg, err := config.LoadBook()
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

	var dispatch outbox.Dispatcher = outbox.NewLogDispatcher(log)
	if cfg.KafkaAddr != "" {
		writer := outbox.NewKafkaWriter(cfg.KafkaAddr)
		defer writer.Close()
		dispatch = outbox.NewKafkaDispatcher(log, writer, cfg.OutboxTopic)
	}
	relay := outbox.NewRelay(log, store, dispatch, service+"-relay", outbox.WithInterval(cfg.RelayInterval))
	go func() {
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	handler := bookhttp.NewHandler(log, application.NewService(log, repo))

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(tracing.Middleware(service), httpx.RequestLogger(log))
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return shutdown.Serve(ctx, log, srv, cfg.ShutdownPeriod)
}

func openStore(ctx context.Context, log *slog.Logger, cfg config.Book) (application.BookRepository, outbox.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		ob := outbox.NewMemoryStore(cfg.OutboxRetries)
		log.Info("using in-memory store")
		return bookmemory.NewRepository(ob), ob, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pg connect: %w", err)
	}
	repo := bookpg.NewRepository(log, pool)
	ob := outbox.NewPgStore(log, pool, cfg.OutboxRetries)
	for _, m := range []interface{ Migrate(context.Context) error }{repo, ob} {
		if err := m.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return repo, ob, pool.Close, nil
}
