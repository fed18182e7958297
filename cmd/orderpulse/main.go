package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/nsridhar76/orderpulse/internal/cache"
	"github.com/nsridhar76/orderpulse/internal/config"
	"github.com/nsridhar76/orderpulse/internal/domain"
	"github.com/nsridhar76/orderpulse/internal/handler"
	"github.com/nsridhar76/orderpulse/internal/health"
	"github.com/nsridhar76/orderpulse/internal/inventory"
	"github.com/nsridhar76/orderpulse/internal/logging"
	"github.com/nsridhar76/orderpulse/internal/messaging"
	"github.com/nsridhar76/orderpulse/internal/messaging/kafka"
	msgmemory "github.com/nsridhar76/orderpulse/internal/messaging/memory"
	"github.com/nsridhar76/orderpulse/internal/messaging/noop"
	"github.com/nsridhar76/orderpulse/internal/messaging/rabbitmq"
	"github.com/nsridhar76/orderpulse/internal/notification"
	"github.com/nsridhar76/orderpulse/internal/ratelimit"
	"github.com/nsridhar76/orderpulse/internal/repository/memory"
	"github.com/nsridhar76/orderpulse/internal/repository/postgres"
	"github.com/nsridhar76/orderpulse/internal/search"
	"github.com/nsridhar76/orderpulse/internal/service"
)

const (
	serviceName     = "orderpulse"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("orderpulse stopped", "error", err)
		os.Exit(1)
	}
	log.Info("orderpulse stopped")
}

// closers run in reverse registration order once everything else has
// stopped.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var cleanup closers
	defer cleanup.run()

	checker := health.NewChecker(10*time.Second, log)

	seed, err := inventory.ParseSeed(cfg.InventorySeed)
	if err != nil {
		return err
	}

	var (
		repo  domain.OrderRepository
		stock domain.InventoryCoordinator
	)
	if cfg.DatabaseURL != "" {
		pool, err := openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		cleanup.add(pool.Close)
		checker.Add("postgres", pool.Ping)

		pc := inventory.NewPostgresCoordinator(pool)
		if err := pc.Seed(ctx, seed); err != nil {
			return err
		}
		repo, stock = postgres.NewOrderStore(pool), pc
		log.Info("using postgres store")
	} else {
		repo, stock = memory.NewOrderStore(), inventory.NewMemory(seed)
		log.Info("using in-memory store")
	}

	var (
		orderCache domain.OrderCache
		index      search.Index
		hub        notification.Hub
		dedupe     notification.Deduper
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// every redis-backed component degrades on its own, so start anyway
			log.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		cleanup.add(func() { _ = rdb.Close() })
		checker.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		orderCache = cache.NewRedisCache(rdb, serviceName, cfg.CacheTTL)
		index = search.NewRedisIndex(rdb, serviceName)
		hub = notification.NewRedisHub(rdb, serviceName)
		dedupe = notification.NewRedisDeduper(rdb, serviceName, cfg.DedupeTTL)
	} else {
		orderCache = cache.NewMemoryCache(cfg.CacheTTL)
		index = search.NewMemoryIndex()
		hub = notification.NewMemoryHub()
		dedupe = notification.NewMemoryDeduper(cfg.DedupeTTL)
	}

	broker, err := openBroker(ctx, cfg, log)
	if err != nil {
		return err
	}
	var events domain.EventPublisher = noop.Publisher{}
	var consumer *messaging.Consumer
	if broker != nil {
		cleanup.add(func() {
			if err := broker.Close(); err != nil {
				log.Error("broker close failed", "error", err)
			}
		})
		events = messaging.NewProducer(broker, cfg.OrderTopic, log)
		notifier := notification.NewNotifier(mailer(cfg, log), hub, dedupe, log)
		consumer = messaging.NewConsumer(broker, notifier, messaging.ConsumerConfig{
			Topic:       cfg.OrderTopic,
			Group:       cfg.ConsumerGroupID,
			Concurrency: cfg.ConsumerConcurrency,
		}, log)
	}

	projector := search.NewProjector(index, cfg.SearchEnabled, log)
	svc := service.NewOrderService(service.Deps{
		Repo:              repo,
		Inventory:         stock,
		Cache:             orderCache,
		Search:            projector,
		Events:            events,
		Log:               log,
		SideEffectTimeout: cfg.SideEffectTimeout,
	})
	// registered last so queued side effects drain before the broker closes
	cleanup.add(func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Close(sctx); err != nil {
			log.Error("side effects not drained", "error", err)
		}
	})

	if cfg.SearchEnabled {
		if n, err := svc.RebuildSearchIndex(ctx); err != nil {
			log.Warn("initial search rebuild failed", "error", err)
		} else {
			log.Info("search index rebuilt", "documents", n)
		}
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitIdleTTL, log)
	h := handler.NewHandler(svc, hub, notification.OrdersTopic, log)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewRouter(h, limiter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	checker.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc health listening", "addr", cfg.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		checker.Run(gctx)
		return nil
	})
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		checker.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		grpcSrv.GracefulStop()
		return err
	})
	return g.Wait()
}

func openPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if err := inventory.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// openBroker returns nil when event publication is switched off.
func openBroker(ctx context.Context, cfg config.Config, log *slog.Logger) (messaging.Broker, error) {
	switch cfg.Broker {
	case config.BrokerKafka:
		b := kafka.NewBroker(kafka.Config{Brokers: cfg.KafkaBrokers, Partitions: cfg.TopicPartitions}, log)
		if err := b.EnsureTopic(ctx, cfg.OrderTopic); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	case config.BrokerRabbitMQ:
		b, err := rabbitmq.Dial(ctx, rabbitmq.Config{URL: cfg.RabbitMQURL, Partitions: cfg.TopicPartitions}, log)
		if err != nil {
			return nil, err
		}
		if err := b.EnsureTopic(ctx, cfg.OrderTopic, cfg.ConsumerGroupID); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	case config.BrokerNone:
		log.Warn("event publication disabled")
		return nil, nil
	default:
		return msgmemory.NewBroker(cfg.TopicPartitions), nil
	}
}

func mailer(cfg config.Config, log *slog.Logger) notification.Mailer {
	if cfg.SMTPAddr == "" {
		return notification.LogMailer{Log: log}
	}
	return notification.NewSMTPMailer(notification.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	})
}
