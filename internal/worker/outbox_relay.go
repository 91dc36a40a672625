// Package worker 提供后台任务处理
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hts-platform/hts-account/internal/logger"
	"github.com/hts-platform/hts-account/internal/metrics"
	"github.com/hts-platform/hts-account/internal/model"
	"github.com/hts-platform/hts-account/internal/repository"
)

// OutboxRelayConfig Outbox Relay 配置
type OutboxRelayConfig struct {
	RelayInterval    time.Duration // 轮询间隔，默认 100ms
	BatchSize        int           // 每批处理数量，默认 100
	CleanupInterval  time.Duration // 清理间隔，默认 1h
	Retention        time.Duration // 已发送事件保留时间，默认 24h
	RecoveryInterval time.Duration // 恢复卡住事件的间隔，默认 5m
	StaleThreshold   time.Duration // 事件被视为卡住的时间阈值，默认 5m
}

// DefaultOutboxRelayConfig 返回默认配置
func DefaultOutboxRelayConfig() *OutboxRelayConfig {
	return &OutboxRelayConfig{
		RelayInterval:    100 * time.Millisecond,
		BatchSize:        100,
		CleanupInterval:  time.Hour,
		Retention:        24 * time.Hour,
		RecoveryInterval: 5 * time.Minute,
		StaleThreshold:   5 * time.Minute,
	}
}

// Sender 向消息队列投递事件并等待确认
type Sender interface {
	SendAndWait(ctx context.Context, topic string, key, value []byte) error
}

// OutboxRelay 负责将 outbox 事件投递到 Kafka
// 只有拿到 broker 确认才标记 sent，发送失败(含生产者重试耗尽)走 MarkFailed 重试。
// 投递语义是 at-least-once: 发送成功但标记失败的事件会被重发，
// 下游消费者必须按 event_id 去重
type OutboxRelay struct {
	cfg      *OutboxRelayConfig
	repo     *repository.OutboxRepository
	producer Sender
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewOutboxRelay 创建 Outbox Relay
func NewOutboxRelay(cfg *OutboxRelayConfig, repo *repository.OutboxRepository, producer Sender) *OutboxRelay {
	if cfg == nil {
		cfg = DefaultOutboxRelayConfig()
	}
	return &OutboxRelay{
		cfg:      cfg,
		repo:     repo,
		producer: producer,
	}
}

// Start 启动 Outbox Relay
func (r *OutboxRelay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	// 事件投递协程
	r.wg.Add(1)
	go r.relayLoop(ctx)

	// 历史事件清理协程
	r.wg.Add(1)
	go r.cleanupLoop(ctx)

	// 恢复协程 (回收认领后崩溃留下的 processing 事件)
	r.wg.Add(1)
	go r.recoveryLoop(ctx)

	logger.Info("outbox relay started",
		"relay_interval", r.cfg.RelayInterval,
		"batch_size", r.cfg.BatchSize,
	)
}

// Stop 停止 Outbox Relay
func (r *OutboxRelay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	logger.Info("outbox relay stopped")
}

// relayLoop 事件投递循环
func (r *OutboxRelay) relayLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.RelayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.processBatch(ctx)
		}
	}
}

// processBatch 认领并投递一批事件
func (r *OutboxRelay) processBatch(ctx context.Context) {
	events, err := r.repo.FetchAndClaim(ctx, r.cfg.BatchSize)
	if err != nil {
		logger.Error("fetch outbox events failed", "error", err)
		return
	}

	if len(events) == 0 {
		r.updatePendingGauge(ctx)
		return
	}

	for _, event := range events {
		if err := r.sendEvent(ctx, event); err != nil {
			logger.Error("send outbox event failed",
				"id", event.ID,
				"event_id", event.EventID,
				"topic", event.Topic,
				"error", err,
			)
			if markErr := r.repo.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
				logger.Error("mark event failed error", "id", event.ID, "error", markErr)
			}
			continue
		}

		if err := r.repo.MarkSent(ctx, event.ID); err != nil {
			logger.Error("mark event sent error", "id", event.ID, "error", err)
		}
	}

	r.updatePendingGauge(ctx)
}

// sendEvent 发送单个事件并等待 broker 确认
// partition_key 是账户 ID，同一账户的事件进入同一分区保持有序
func (r *OutboxRelay) sendEvent(ctx context.Context, event *model.OutboxEvent) error {
	return r.producer.SendAndWait(ctx, event.Topic, []byte(event.PartitionKey), event.Payload)
}

// updatePendingGauge 上报待发送事件数
func (r *OutboxRelay) updatePendingGauge(ctx context.Context) {
	count, err := r.repo.CountPending(ctx)
	if err != nil {
		return
	}
	metrics.OutboxPendingGauge.Set(float64(count))
}

// cleanupLoop 清理已发送的历史事件
func (r *OutboxRelay) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := r.repo.CleanSent(ctx, r.cfg.Retention)
			if err != nil {
				logger.Error("clean sent events failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("cleaned sent outbox events", "count", deleted)
			}
		}
	}
}

// recoveryLoop 回收卡住的 processing 事件
func (r *OutboxRelay) recoveryLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := r.repo.RecoverStaleProcessing(ctx, r.cfg.StaleThreshold)
			if err != nil {
				logger.Error("recover stale outbox events failed", "error", err)
				continue
			}
			if recovered > 0 {
				logger.Warn("recovered stale outbox events", "count", recovered)
			}
		}
	}
}
