package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	eventadapter "github.com/martinez099/ordershop/internal/adapters/events"
	grpcadapter "github.com/martinez099/ordershop/internal/adapters/grpc"
	httpadapter "github.com/martinez099/ordershop/internal/adapters/http"
	"github.com/martinez099/ordershop/internal/adapters/memory"
	"github.com/martinez099/ordershop/internal/adapters/postgres"
	"github.com/martinez099/ordershop/internal/adapters/redisstream"
	"github.com/martinez099/ordershop/internal/application"
	"github.com/martinez099/ordershop/internal/broker"
	"github.com/martinez099/ordershop/internal/eventstore"
	"github.com/martinez099/ordershop/internal/ports"
	"github.com/martinez099/ordershop/internal/readmodel"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	store      *eventstore.Store
	broker     *broker.Broker
	readModel  *readmodel.ReadModel
	service    *application.Service
	relay      *eventadapter.RelayWorker
	httpServer *http.Server
	grpcServer *grpc.Server
	cleanupFn  func(context.Context)
}

type pinger func(ctx context.Context) error

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	var closers []io.Closer
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}

	eventLog, queue, pingers, err := openBackend(ctx, cfg, &closers)
	if err != nil {
		closeAll()
		return nil, err
	}

	store := eventstore.New(eventLog, logger, eventstore.Config{
		TailBlock: cfg.TailBlock,
		TailBatch: int64(cfg.TailBatch),
	})
	closers = append(closers, store)
	for _, topic := range cfg.EntityCacheTopics {
		if err := store.ActivateEntityCache(ctx, topic); err != nil {
			closeAll()
			return nil, fmt.Errorf("activate entity cache %s: %w", topic, err)
		}
	}

	readModel := readmodel.New(eventLog, store, logger, cfg.ReadModelTopics)
	closers = append(closers, readModel)

	rpcBroker := broker.New(queue, logger, broker.Config{
		ConsumerID:     cfg.ServiceID + "-" + hostname(),
		Block:          cfg.BrokerBlock,
		Workers:        cfg.BrokerWorkers,
		RPCTimeout:     cfg.RPCTimeout,
		BackoffMin:     cfg.BackoffMin,
		BackoffMax:     cfg.BackoffMax,
		RedeliveryIdle: cfg.RedeliveryIdle,
	})
	closers = append(closers, rpcBroker)

	service := application.NewService(application.Dependencies{
		Config:  application.Config{ConflictRetries: cfg.ConflictRetries},
		Store:   store,
		Queries: readModel,
		RPC:     rpcBroker,
		Logger:  logger,
	})

	// Queries go through the read-model service; RunAPI starts it
	// in-process only for the memory backend.
	handler := httpadapter.NewHandler(readmodel.NewClient(rpcBroker), readiness(pingers))
	router := httpadapter.NewRouter(handler, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewEventStoreServer(store, logger))

	publisher := ports.EventPublisher(eventadapter.NewLoggingPublisher(logger))
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, pubErr := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		if pubErr != nil {
			logger.WarnContext(ctx, "kafka publisher disabled, using logging publisher", "error", pubErr)
		} else {
			publisher = kafkaPublisher
			closers = append(closers, kafkaPublisher)
		}
	}
	relay := eventadapter.NewRelayWorker(logger, store, publisher, cfg.RelayTopics)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		broker:     rpcBroker,
		readModel:  readModel,
		service:    service,
		relay:      relay,
		httpServer: httpServer,
		grpcServer: grpcServer,
		cleanupFn: func(context.Context) {
			service.Stop()
			closeAll()
		},
	}, nil
}

func openBackend(ctx context.Context, cfg Config, closers *[]io.Closer) (ports.EventLog, ports.Queue, []pinger, error) {
	if cfg.LogBackend == BackendMemory {
		return memory.NewEventLog(), memory.NewQueue(), nil, nil
	}

	redisClient, err := redisstream.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	*closers = append(*closers, redisClient)
	pingers := []pinger{func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }}
	queue := redisstream.NewQueue(redisClient)

	if cfg.LogBackend == BackendRedis {
		return redisstream.NewStreamLog(redisClient, cfg.RedisStreamPrefix), queue, pingers, nil
	}

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, nil, err
	}
	*closers = append(*closers, sqlDB)
	if err := postgres.RunMigrations(ctx, db); err != nil {
		return nil, nil, nil, err
	}
	pingers = append(pingers, sqlDB.PingContext)
	return postgres.NewEventLog(db, cfg.PostgresPoll), queue, pingers, nil
}

func readiness(pingers []pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		for _, ping := range pingers {
			if err := ping(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "local"
	}
	return name
}

func Build(ctx context.Context, configPath string) (*Runtime, error) {
	return NewRuntime(ctx, configPath)
}

// StartWorkers registers the broker functions of every enabled service and
// subscribes their event reactions.
func (r *Runtime) StartWorkers(ctx context.Context) error {
	for _, name := range r.cfg.Services {
		handlers := r.service.Handlers(name)
		if name == readmodel.ServiceName {
			handlers = r.readModel.Handlers()
		}
		if handlers == nil {
			continue
		}
		if err := r.broker.RegisterAll(name, handlers); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	if err := r.service.Start(ctx, r.cfg.Services); err != nil {
		return fmt.Errorf("start reactions: %w", err)
	}
	r.logger.InfoContext(ctx, "workers started",
		"module", "bootstrap", "layer", "runtime", "operation", "start_workers", "outcome", "success", "services", r.cfg.Services)
	return nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 3)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(context.Background())
		return err
	}
	if r.cfg.LogBackend == BackendMemory {
		if err := r.StartWorkers(ctx); err != nil {
			r.cleanupFn(context.Background())
			return err
		}
		go r.runRelay(ctx, errCh)
	}
	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		r.logger.ErrorContext(ctx, "runtime failure", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)

	if err := r.StartWorkers(ctx); err != nil {
		r.cleanupFn(context.Background())
		return err
	}
	go r.runRelay(ctx, errCh)

	select {
	case <-ctx.Done():
		r.cleanupFn(context.Background())
		return nil
	case err := <-errCh:
		r.cleanupFn(context.Background())
		return err
	}
}

func (r *Runtime) runRelay(ctx context.Context, errCh chan<- error) {
	if len(r.cfg.RelayTopics) == 0 {
		return
	}
	if err := r.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errCh <- err
	}
}
