// Package infra 提供数据库、Redis、HTTP 服务器等基础设施的初始化
package infra

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hts-platform/hts-account/internal/config"
	"github.com/hts-platform/hts-account/internal/logger"
)

// NewDatabase 创建 GORM 数据库连接
func NewDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 10
	}
	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 100
	}
	connMaxLifetime := time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute
	if connMaxLifetime <= 0 {
		connMaxLifetime = 30 * time.Minute
	}

	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	logger.Info("database connected",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
	)

	return db, nil
}

// NewRedisClient 创建 Redis 客户端
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 100
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	logger.Info("redis client created", "addr", client.Options().Addr)
	return client
}

// HealthCheckHandler 健康检查处理器
type HealthCheckHandler struct {
	db  *gorm.DB
	rdb redis.UniversalClient
}

// NewHealthCheckHandler 创建健康检查处理器
func NewHealthCheckHandler(db *gorm.DB, rdb redis.UniversalClient) *HealthCheckHandler {
	return &HealthCheckHandler{db: db, rdb: rdb}
}

// LivenessHandler 存活检查
func (h *HealthCheckHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ReadinessHandler 就绪检查
// 数据库必须可达；Redis 是尽力而为的缓存，不参与就绪判定
func (h *HealthCheckHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("DB ERROR"))
			return
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("DB NOT READY"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Port          int
	DB            *gorm.DB
	Redis         redis.UniversalClient
	EnableMetrics bool
	EnableHealth  bool
}

// NewHTTPServer 创建运维 HTTP 服务器 (metrics + health check)
func NewHTTPServer(cfg *HTTPServerConfig) *http.Server {
	mux := http.NewServeMux()

	if cfg.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	if cfg.EnableHealth {
		healthHandler := NewHealthCheckHandler(cfg.DB, cfg.Redis)
		mux.HandleFunc("/health/live", healthHandler.LivenessHandler)
		mux.HandleFunc("/health/ready", healthHandler.ReadinessHandler)
		// k8s 标准路径
		mux.HandleFunc("/healthz", healthHandler.LivenessHandler)
		mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	}

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
}

// StartHTTPServer 启动 HTTP 服务器 (非阻塞)
func StartHTTPServer(server *http.Server) {
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()
}

// ShutdownHTTPServer 优雅关闭 HTTP 服务器
func ShutdownHTTPServer(server *http.Server, timeout time.Duration) error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
