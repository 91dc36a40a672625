package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hts-platform/hts-account/internal/model"
)

// ProcessedEventRepository 入站事件去重仓储
// 消费者在处理副作用的同一事务内记录 event_id，重复事件据此丢弃
type ProcessedEventRepository struct {
	*Repository
}

// NewProcessedEventRepository 创建去重仓储
func NewProcessedEventRepository(base *Repository) *ProcessedEventRepository {
	return &ProcessedEventRepository{Repository: base}
}

// MarkProcessed 记录事件已处理
// 返回 false 表示 event_id 已存在(重复投递或并发竞争失败)，调用方应跳过副作用
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, event *model.ProcessedEvent) (bool, error) {
	result := r.DB(ctx).Exec(`
		INSERT INTO processed_events (event_id, event_type, account_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.EventType, event.AccountID, time.Now().UnixMilli(),
	)
	if result.Error != nil {
		return false, fmt.Errorf("mark event processed failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IsProcessed 查询事件是否已处理
func (r *ProcessedEventRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check processed event failed: %w", err)
	}
	return count > 0, nil
}

// CleanOld 清理历史去重记录
func (r *ProcessedEventRepository) CleanOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	result := r.DB(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.ProcessedEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("clean processed events failed: %w", result.Error)
	}
	return result.RowsAffected, nil
}
