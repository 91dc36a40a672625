package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hts-platform/hts-account/internal/kafka"
	"github.com/hts-platform/hts-account/internal/logger"
	"github.com/hts-platform/hts-account/internal/metrics"
	"github.com/hts-platform/hts-account/internal/model"
	"github.com/hts-platform/hts-account/internal/repository"
)

// EventHandler 入站事件处理器接口
type EventHandler interface {
	// HandleEvent 处理事件，返回 error 表示处理失败(消息会被重新投递)
	HandleEvent(ctx context.Context, topic string, payload []byte) error
}

// EventProcessor 入站事件分发器
// 实现 kafka.Handler，按 topic 分发到注册的处理器
type EventProcessor struct {
	handlers map[string]EventHandler
}

// NewEventProcessor 创建事件分发器
func NewEventProcessor() *EventProcessor {
	return &EventProcessor{
		handlers: make(map[string]EventHandler),
	}
}

// RegisterHandler 注册事件处理器
func (p *EventProcessor) RegisterHandler(topic string, handler EventHandler) {
	p.handlers[topic] = handler
}

// Handle 实现 kafka.Handler 接口
func (p *EventProcessor) Handle(ctx context.Context, msg *kafka.Message) error {
	handler, ok := p.handlers[msg.Topic]
	if !ok {
		logger.Warn("no handler for topic", "topic", msg.Topic)
		return nil
	}

	if msg.Timestamp > 0 {
		lag := time.Since(time.UnixMilli(msg.Timestamp)).Seconds()
		metrics.RecordConsumerLag(msg.Topic, lag)
	}

	if err := handler.HandleEvent(ctx, msg.Topic, msg.Value); err != nil {
		logger.Error("handle event failed",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return err
	}

	return nil
}

// LoginEventMessage 登录事件消息
type LoginEventMessage struct {
	AccountID int64  `json:"account_id"`
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"` // 登录时间 (毫秒)
	ClientIP  string `json:"client_ip,omitempty"`
}

// EventID 由不可变字段确定性生成，同一事件重复投递时 ID 相同
func (m *LoginEventMessage) EventID() string {
	return fmt.Sprintf("login:%d:%s:%d", m.AccountID, m.SessionID, m.Timestamp)
}

// LoginEventHandler 登录事件处理器
// Kafka 投递语义是 at-least-once，副作用(更新最近登录时间)
// 与 processed_events 去重记录在同一事务内提交，保证恰好生效一次
type LoginEventHandler struct {
	repo      *repository.Repository
	accounts  *repository.AccountRepository
	processed *repository.ProcessedEventRepository
}

// NewLoginEventHandler 创建登录事件处理器
func NewLoginEventHandler(repo *repository.Repository, accounts *repository.AccountRepository, processed *repository.ProcessedEventRepository) *LoginEventHandler {
	return &LoginEventHandler{
		repo:      repo,
		accounts:  accounts,
		processed: processed,
	}
}

// HandleEvent 处理登录事件
func (h *LoginEventHandler) HandleEvent(ctx context.Context, topic string, payload []byte) error {
	var msg LoginEventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		// 格式错误的消息重试也无法恢复，记日志后丢弃
		logger.Error("malformed login event", "topic", topic, "error", err)
		return nil
	}

	if msg.AccountID <= 0 || msg.SessionID == "" || msg.Timestamp <= 0 {
		logger.Warn("invalid login event",
			"account_id", msg.AccountID,
			"session_id", msg.SessionID,
			"timestamp", msg.Timestamp,
		)
		return nil
	}

	return h.repo.Transaction(ctx, func(txCtx context.Context) error {
		first, err := h.processed.MarkProcessed(txCtx, &model.ProcessedEvent{
			EventID:   msg.EventID(),
			EventType: "login",
			AccountID: msg.AccountID,
		})
		if err != nil {
			return err
		}
		if !first {
			logger.Debug("duplicate login event skipped", "event_id", msg.EventID())
			return nil
		}

		return h.accounts.MarkLastLogin(txCtx, msg.AccountID, msg.Timestamp)
	})
}
