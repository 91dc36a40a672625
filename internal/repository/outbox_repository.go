package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hts-platform/hts-account/internal/model"
)

// defaultOutboxMaxRetries 新事件的默认重试上限
const defaultOutboxMaxRetries = 5

// OutboxRepository 本地消息表仓储
// 事件与业务变更在同一事务内写入，由 OutboxRelay 异步投递到 Kafka
type OutboxRepository struct {
	*Repository
	maxRetries int
}

// NewOutboxRepository 创建 Outbox 仓储
func NewOutboxRepository(base *Repository) *OutboxRepository {
	return &OutboxRepository{Repository: base, maxRetries: defaultOutboxMaxRetries}
}

// WithMaxRetries 设置新事件的重试上限，非正值保持默认
func (r *OutboxRepository) WithMaxRetries(n int) *OutboxRepository {
	if n > 0 {
		r.maxRetries = n
	}
	return r
}

// Create 写入一条待发送事件
// 在事务上下文中调用时与业务变更同事务提交
func (r *OutboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	if event.MaxRetries == 0 {
		event.MaxRetries = r.maxRetries
	}
	event.CreatedAt = time.Now().UnixMilli()

	if err := r.DB(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("create outbox event failed: %w", err)
	}
	return nil
}

// FetchAndClaim 认领一批待发送事件
// FOR UPDATE SKIP LOCKED 保证多实例下同一事件只被一个 relay 认领
func (r *OutboxRepository) FetchAndClaim(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent

	err := r.Transaction(ctx, func(txCtx context.Context) error {
		tx := r.DB(txCtx)

		if err := tx.Raw(`
			SELECT * FROM outbox_events
			WHERE status = ?
			ORDER BY created_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED`,
			model.OutboxStatusPending, limit,
		).Scan(&events).Error; err != nil {
			return fmt.Errorf("fetch pending events failed: %w", err)
		}

		if len(events) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}

		now := time.Now().UnixMilli()
		if err := tx.Model(&model.OutboxEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     model.OutboxStatusProcessing,
				"updated_at": now,
			}).Error; err != nil {
			return fmt.Errorf("claim events failed: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// MarkSent 标记事件已发送
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	now := time.Now().UnixMilli()
	return r.DB(ctx).Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.OutboxStatusSent,
			"sent_at":    now,
			"updated_at": now,
		}).Error
}

// MarkFailed 标记事件发送失败
// 未超过重试上限时回到 pending，等待下一轮 relay 重试
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, cause string) error {
	if len(cause) > 500 {
		cause = cause[:500]
	}

	return r.DB(ctx).Exec(`
		UPDATE outbox_events
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
		    last_error = ?,
		    updated_at = ?
		WHERE id = ?`,
		cause, time.Now().UnixMilli(), id,
	).Error
}

// RecoverStaleProcessing 回收滞留在 processing 的事件
// relay 实例在认领后崩溃会留下 processing 状态，超时后重置为 pending
func (r *OutboxRepository) RecoverStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	result := r.DB(ctx).Model(&model.OutboxEvent{}).
		Where("status = ? AND updated_at < ?", model.OutboxStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     model.OutboxStatusPending,
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recover stale events failed: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// CleanSent 清理已发送的历史事件
func (r *OutboxRepository) CleanSent(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	result := r.DB(ctx).
		Where("status = ? AND sent_at < ?", model.OutboxStatusSent, cutoff).
		Delete(&model.OutboxEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("clean sent events failed: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// CountPending 统计待发送事件数
func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.OutboxEvent{}).
		Where("status = ?", model.OutboxStatusPending).
		Count(&count).Error
	return count, err
}

// CountFailed 统计发送失败(已达重试上限)的事件数
func (r *OutboxRepository) CountFailed(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.OutboxEvent{}).
		Where("status = ?", model.OutboxStatusFailed).
		Count(&count).Error
	return count, err
}

// GetByEventID 按事件 ID 查询
func (r *OutboxRepository) GetByEventID(ctx context.Context, eventID string) (*model.OutboxEvent, error) {
	var event model.OutboxEvent
	err := r.DB(ctx).Where("event_id = ?", eventID).First(&event).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}
