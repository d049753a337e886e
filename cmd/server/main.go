// Command server runs the parking controller: it bridges the lot's
// message bus to the vehicle lifecycle orchestrator, reconciles QR
// payments against the bank feed, and exposes the operator control
// API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"xparking/internal/audit"
	"xparking/internal/bus"
	"xparking/internal/orchestrator"
	"xparking/internal/payment"
	"xparking/internal/platform/config"
	"xparking/internal/platform/httpserver"
	"xparking/internal/platform/logger"
	platformredis "xparking/internal/platform/redis"
	"xparking/internal/token"
	httptransport "xparking/internal/transport/http"
	"xparking/internal/vehicle"
	"xparking/internal/vision"
	"xparking/pkg/platform/circuit"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("controller stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Vehicle persistence: postgres when configured, memory otherwise.
	var store vehicle.Store
	var storeCheck func(ctx context.Context) error
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		pg := vehicle.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
		storeCheck = db.PingContext
		log.Info("vehicle store ready", "backend", "postgres")
	} else {
		store = vehicle.NewInMemoryStore()
		log.Info("vehicle store ready", "backend", "memory")
	}

	// Payment session store: redis survives restarts, memory does not.
	var sessions payment.SessionStore
	if cfg.RedisURL != "" {
		rdb, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		// TTL backstops crashed processes only; live sessions resolve by
		// MaxWait, so the key must outlive the poller's own timeout.
		sessions = payment.NewRedisSessionStore(rdb, cfg.MaxWait+time.Minute)
		log.Info("payment session store ready", "backend", "redis")
	} else {
		sessions = payment.NewInMemorySessionStore()
		log.Info("payment session store ready", "backend", "memory")
	}

	feedBreaker := circuit.New("transaction-feed")
	feed := payment.NewCircuitFeed(payment.NewHTTPFeed(cfg.FeedURL), feedBreaker, log)
	engine := payment.NewEngine(sessions, feed, payment.QRConfig{
		BankID:      cfg.BankID,
		AccountNo:   cfg.AccountNo,
		AccountName: cfg.AccountName,
	}, cfg.PollInterval, cfg.MaxWait, log)
	defer engine.Close()

	// Audit trail: kafka when brokers are configured.
	var sink audit.Sink = audit.NopSink{}
	if len(cfg.KafkaBrokers) > 0 {
		ks, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return err
		}
		sink = ks
		log.Info("audit sink ready", "topic", cfg.AuditTopic)
	}
	auditor := audit.NewPublisher(sink, log)
	defer auditor.Close()

	images, err := vision.NewDirImageStore(cfg.ImageDir)
	if err != nil {
		return err
	}

	var client *bus.Client
	queue := bus.NewCommandQueue(publisherFunc(func(topic string, qos byte, retain bool, payload string) error {
		return client.Publish(topic, qos, retain, payload)
	}), cfg.PublishSpacing, log)

	orch := orchestrator.New(
		orchestrator.Config{Capacity: cfg.Capacity, HourlyRate: cfg.HourlyRate},
		store,
		engine,
		vision.NewHTTPRecognizer(cfg.RecognizerURL),
		vision.NewSnapshotFrames(cfg.SnapshotInURL, cfg.SnapshotOutURL, log),
		images,
		queue,
		auditor,
		orchestrator.Callbacks{},
		log,
	)

	client = bus.NewClient(bus.ClientConfig{
		BrokerURL:    cfg.BrokerURL,
		ClientID:     cfg.BusClientID,
		MinReconnect: cfg.MinReconnect,
		MaxReconnect: cfg.MaxReconnect,
	}, orch.HandleEvent, log)
	if err := client.Connect(); err != nil {
		log.Warn("broker unreachable at start-up, retrying in background", "error", err)
	}
	defer client.Disconnect()

	tokens := token.NewService(cfg.JWTSigningKey, "xparking")
	handler := httptransport.NewHandler(orch, store, tokens, httptransport.Health{
		BusConnected: client.IsConnected,
		FeedHealthy:  feed.Healthy,
		StoreCheck:   storeCheck,
	}, log)
	srv := httpserver.New(cfg.HTTPAddr, httptransport.NewRouter(handler))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return orch.Run(ctx) })
	g.Go(func() error { return queue.Run(ctx) })

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				engine.SweepExpired(ctx)
			}
		}
	})

	g.Go(func() error {
		log.Info("control API listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("controller shut down")
		return nil
	}
	return err
}

// publisherFunc adapts a closure to bus.Publisher so the queue can be
// built before the client that drains it.
type publisherFunc func(topic string, qos byte, retain bool, payload string) error

func (f publisherFunc) Publish(topic string, qos byte, retain bool, payload string) error {
	return f(topic, qos, retain, payload)
}
