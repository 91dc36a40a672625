// Package app 提供应用生命周期管理
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"github.com/hts-platform/hts-account/internal/cache"
	"github.com/hts-platform/hts-account/internal/config"
	"github.com/hts-platform/hts-account/internal/infra"
	"github.com/hts-platform/hts-account/internal/kafka"
	"github.com/hts-platform/hts-account/internal/logger"
	"github.com/hts-platform/hts-account/internal/middleware"
	"github.com/hts-platform/hts-account/internal/repository"
	"github.com/hts-platform/hts-account/internal/service"
	"github.com/hts-platform/hts-account/internal/shard"
	"github.com/hts-platform/hts-account/internal/worker"
)

const serviceName = "hts-account"

// App 应用实例
type App struct {
	cfg *config.Config

	// 基础设施
	db  *gorm.DB
	rdb *redis.Client

	// gRPC
	grpcServer   *grpc.Server
	healthServer *health.Server

	// HTTP (metrics + health)
	httpServer *http.Server

	// Kafka
	producer *kafka.Producer
	consumer *kafka.ConsumerGroup

	// 分片执行器
	router *shard.Router

	// Workers
	outboxRelay *worker.OutboxRelay

	// 服务层
	accountSvc  *service.AccountService
	positionSvc *service.PositionService

	// 仓储层
	baseRepo      *repository.Repository
	accountRepo   *repository.AccountRepository
	positionRepo  *repository.PositionRepository
	outboxRepo    *repository.OutboxRepository
	processedRepo *repository.ProcessedEventRepository

	// 缓存层
	accountCache  cache.AccountCache
	positionCache cache.PositionCache

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建应用实例
func New(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run 启动应用
func (a *App) Run() error {
	logger.Info("starting service", "service", serviceName)

	// 1. 初始化基础设施
	if err := a.initInfra(); err != nil {
		return fmt.Errorf("init infra: %w", err)
	}

	// 2. 初始化仓储层和缓存层
	a.initRepositories()

	// 3. 初始化分片执行器和服务层
	a.initServices()

	// 4. 初始化 Kafka
	if err := a.initKafka(); err != nil {
		return fmt.Errorf("init kafka: %w", err)
	}

	// 5. 初始化后台任务
	a.initWorkers()

	// 6. 启动 gRPC 服务器
	if err := a.startGRPCServer(); err != nil {
		return fmt.Errorf("start grpc: %w", err)
	}

	// 6.1 启动 HTTP 服务器 (metrics + health check)
	a.startHTTPServer()

	// 7. 启动后台任务
	a.startWorkers()

	// 8. 启动 Kafka 消费者
	if err := a.startConsumers(); err != nil {
		return fmt.Errorf("start consumers: %w", err)
	}

	// 9. 等待关闭信号
	a.waitForShutdown()

	return nil
}

// initInfra 初始化基础设施
func (a *App) initInfra() error {
	var err error

	a.db, err = infra.NewDatabase(&a.cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	a.rdb = infra.NewRedisClient(&a.cfg.Redis)

	return nil
}

// initRepositories 初始化仓储层和缓存层
func (a *App) initRepositories() {
	a.baseRepo = repository.NewRepository(a.db)
	a.outboxRepo = repository.NewOutboxRepository(a.baseRepo).
		WithMaxRetries(a.cfg.Outbox.MaxRetries)
	a.accountRepo = repository.NewAccountRepository(a.baseRepo, a.outboxRepo)
	a.positionRepo = repository.NewPositionRepository(a.baseRepo, a.outboxRepo)
	a.processedRepo = repository.NewProcessedEventRepository(a.baseRepo)

	ttl := time.Duration(a.cfg.Cache.TTLSeconds) * time.Second
	a.accountCache = cache.NewAccountCache(a.rdb, ttl)
	a.positionCache = cache.NewPositionCache(a.rdb, ttl)
}

// initServices 初始化分片执行器和服务层
// 资金服务和持仓服务共享同一个路由器，同一账户的所有命令串行执行
func (a *App) initServices() {
	a.router = shard.NewRouter(a.cfg.Shard.Count, a.cfg.Shard.QueueSize)

	a.accountSvc = service.NewAccountService(a.accountRepo, a.accountCache, a.router)
	a.positionSvc = service.NewPositionService(a.positionRepo, a.positionCache, a.router)
}

// initKafka 初始化 Kafka
func (a *App) initKafka() error {
	if !a.cfg.Kafka.Enabled {
		logger.Warn("kafka is disabled")
		return nil
	}

	var err error

	a.producer, err = kafka.NewProducer(kafka.DefaultProducerConfig(a.cfg.Kafka.Brokers))
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	logger.Info("kafka producer created")

	initialOffset := sarama.OffsetNewest
	if a.cfg.Kafka.Consumer.InitialOffset == "oldest" {
		initialOffset = sarama.OffsetOldest
	}

	a.consumer, err = kafka.NewConsumerGroup(&kafka.ConsumerConfig{
		Brokers:       a.cfg.Kafka.Brokers,
		GroupID:       a.cfg.Kafka.GroupID,
		Topics:        []string{kafka.TopicLoginEvents},
		InitialOffset: initialOffset,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	logger.Info("kafka consumer created")

	return nil
}

// initWorkers 初始化后台任务
func (a *App) initWorkers() {
	if !a.cfg.Kafka.Enabled || a.producer == nil {
		return
	}

	a.outboxRelay = worker.NewOutboxRelay(
		&worker.OutboxRelayConfig{
			RelayInterval:    time.Duration(a.cfg.Outbox.RelayIntervalMs) * time.Millisecond,
			BatchSize:        a.cfg.Outbox.BatchSize,
			CleanupInterval:  time.Duration(a.cfg.Outbox.CleanupIntervalMs) * time.Millisecond,
			Retention:        time.Duration(a.cfg.Outbox.RetentionMs) * time.Millisecond,
			RecoveryInterval: 5 * time.Minute,
			StaleThreshold:   5 * time.Minute,
		},
		a.outboxRepo,
		a.producer,
	)
}

// startGRPCServer 启动 gRPC 服务器
func (a *App) startGRPCServer() error {
	a.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.RecoveryUnaryServerInterceptor(),
			middleware.LoggingUnaryServerInterceptor(),
		),
	)

	// 注册健康检查
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
	a.healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		logger.Info("gRPC server listening", "port", a.cfg.Service.GRPCPort)
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve error", "error", err)
		}
	}()

	return nil
}

// startHTTPServer 启动 HTTP 服务器 (metrics + health check)
func (a *App) startHTTPServer() {
	a.httpServer = infra.NewHTTPServer(&infra.HTTPServerConfig{
		Port:          a.cfg.Service.HTTPPort,
		DB:            a.db,
		Redis:         a.rdb,
		EnableMetrics: true,
		EnableHealth:  true,
	})
	infra.StartHTTPServer(a.httpServer)
}

// startWorkers 启动后台任务
func (a *App) startWorkers() {
	if a.outboxRelay != nil {
		a.outboxRelay.Start(a.ctx)
	}
}

// startConsumers 启动 Kafka 消费者
func (a *App) startConsumers() error {
	if a.consumer == nil {
		return nil
	}

	eventProcessor := worker.NewEventProcessor()
	eventProcessor.RegisterHandler(
		kafka.TopicLoginEvents,
		worker.NewLoginEventHandler(a.baseRepo, a.accountRepo, a.processedRepo),
	)

	a.consumer.RegisterHandler(kafka.TopicLoginEvents, eventProcessor)

	if err := a.consumer.Start(a.ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	return nil
}

// AccountService 返回账户服务 (供测试和上层接入使用)
func (a *App) AccountService() *service.AccountService {
	return a.accountSvc
}

// PositionService 返回持仓服务
func (a *App) PositionService() *service.PositionService {
	return a.positionSvc
}

// waitForShutdown 等待关闭信号
func (a *App) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	a.shutdown()
}

// shutdown 优雅关闭
// 顺序: 停止接受新请求 -> 排空分片队列 -> 停止 worker -> 关闭连接
func (a *App) shutdown() {
	a.cancel()

	if a.healthServer != nil {
		a.healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	// 停止 Kafka 消费者
	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			logger.Error("stop consumer failed", "error", err)
		}
	}

	// 停止 gRPC 服务器
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}

	// 排空分片队列，保证已接受的命令落库
	if a.router != nil {
		a.router.Stop()
	}

	// 停止 Outbox Relay
	if a.outboxRelay != nil {
		a.outboxRelay.Stop()
	}

	// 关闭 Kafka 生产者
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Error("close producer failed", "error", err)
		}
	}

	// 关闭 HTTP 服务器
	if err := infra.ShutdownHTTPServer(a.httpServer, 5*time.Second); err != nil {
		logger.Error("shutdown http server failed", "error", err)
	}

	// 关闭 Redis
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			logger.Error("close redis failed", "error", err)
		}
	}

	// 关闭数据库
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}

	logger.Info("service stopped", "service", serviceName)
}
