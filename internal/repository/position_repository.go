package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hts-platform/hts-account/internal/kafka"
	"github.com/hts-platform/hts-account/internal/metrics"
	"github.com/hts-platform/hts-account/internal/model"
)

var (
	ErrPositionNotFound            = errors.New("position not found")
	ErrInsufficientPosition        = errors.New("insufficient position quantity")
	ErrPositionReservationNotFound = errors.New("position reservation not found")
)

// PositionWriteResult 持仓写操作结果
type PositionWriteResult struct {
	Snapshot  *model.PositionSnapshot
	Duplicate bool
}

// PositionRepository 持仓仓储
// 与 AccountRepository 同一套 ledger-first 协议，资金换成持仓数量
type PositionRepository struct {
	*Repository
	outbox *OutboxRepository
}

// NewPositionRepository 创建持仓仓储
func NewPositionRepository(base *Repository, outbox *OutboxRepository) *PositionRepository {
	return &PositionRepository{Repository: base, outbox: outbox}
}

// insertPositionLedger 插入持仓流水
// 返回 false 表示幂等键冲突，本次请求是重放
func (r *PositionRepository) insertPositionLedger(ctx context.Context, entry *model.PositionLedger) (bool, error) {
	result := r.DB(ctx).Exec(`
		INSERT INTO position_ledger (account_id, symbol, entry_type, request_id, order_id, quantity_change, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, entry_type, request_id) DO NOTHING`,
		entry.AccountID, entry.Symbol, entry.EntryType, entry.RequestID, entry.OrderID, entry.QuantityChange, time.Now().UnixMilli(),
	)
	if result.Error != nil {
		return false, fmt.Errorf("insert position ledger failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ReservePosition 冻结持仓 (卖出挂单)
// 持仓行不存在时先物化一条零持仓，守卫条件自然判定为持仓不足
func (r *PositionRepository) ReservePosition(ctx context.Context, accountID int64, symbol, requestID, orderID string, quantity decimal.Decimal) (*PositionWriteResult, error) {
	start := time.Now()

	out := &PositionWriteResult{}
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		inserted, err := r.insertPositionLedger(txCtx, &model.PositionLedger{
			AccountID:      accountID,
			Symbol:         symbol,
			EntryType:      model.LedgerEntryReserve,
			RequestID:      requestID,
			OrderID:        orderID,
			QuantityChange: quantity,
		})
		if err != nil {
			return err
		}
		if !inserted {
			out.Duplicate = true
			return nil
		}

		now := time.Now().UnixMilli()
		if err := r.DB(txCtx).Exec(`
			INSERT INTO positions (account_id, symbol, quantity, reserved_quantity, avg_price, created_at, updated_at)
			VALUES (?, ?, 0, 0, 0, ?, ?)
			ON CONFLICT (account_id, symbol) DO NOTHING`,
			accountID, symbol, now, now,
		).Error; err != nil {
			return fmt.Errorf("materialize position failed: %w", err)
		}

		var position model.Position
		result := r.DB(txCtx).Raw(`
			UPDATE positions
			SET quantity = quantity - ?, reserved_quantity = reserved_quantity + ?, updated_at = ?
			WHERE account_id = ? AND symbol = ? AND quantity >= ?
			RETURNING *`,
			quantity, quantity, now, accountID, symbol, quantity,
		).Scan(&position)
		if result.Error != nil {
			return fmt.Errorf("reserve position update failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInsufficientPosition
		}

		if err := r.enqueuePositionEvent(txCtx, kafka.TopicAccountReserved, &position, requestID, orderID, quantity); err != nil {
			return err
		}

		out.Snapshot = position.Snapshot()
		return nil
	})

	r.observeWrite("reserve_position", start, out, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnreservePosition 解冻持仓，数量以对应冻结流水为准
// 解冻流水的数量记负数，同一 request_id 的流水合计为零
func (r *PositionRepository) UnreservePosition(ctx context.Context, accountID int64, symbol, requestID string) (*PositionWriteResult, error) {
	start := time.Now()

	out := &PositionWriteResult{}
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		var reserve model.PositionLedger
		err := r.DB(txCtx).
			Where("account_id = ? AND entry_type = ? AND request_id = ?",
				accountID, model.LedgerEntryReserve, requestID).
			First(&reserve).Error
		if err == gorm.ErrRecordNotFound {
			return ErrPositionReservationNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup reserve ledger failed: %w", err)
		}

		// 解冻必须指向冻结时的标的，标的不符视同冻结不存在
		if reserve.Symbol != symbol {
			return ErrPositionReservationNotFound
		}

		quantity := reserve.QuantityChange
		inserted, err := r.insertPositionLedger(txCtx, &model.PositionLedger{
			AccountID:      accountID,
			Symbol:         reserve.Symbol,
			EntryType:      model.LedgerEntryUnreserve,
			RequestID:      unreserveRequestID(requestID),
			OrderID:        reserve.OrderID,
			QuantityChange: quantity.Neg(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			out.Duplicate = true
			return nil
		}

		var position model.Position
		result := r.DB(txCtx).Raw(`
			UPDATE positions
			SET reserved_quantity = reserved_quantity - ?, quantity = quantity + ?, updated_at = ?
			WHERE account_id = ? AND symbol = ? AND reserved_quantity >= ?
			RETURNING *`,
			quantity, quantity, time.Now().UnixMilli(), accountID, reserve.Symbol, quantity,
		).Scan(&position)
		if result.Error != nil {
			return fmt.Errorf("unreserve position update failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInsufficientPosition
		}

		if err := r.enqueuePositionEvent(txCtx, kafka.TopicAccountReleased, &position, requestID, reserve.OrderID, quantity); err != nil {
			return err
		}

		out.Snapshot = position.Snapshot()
		return nil
	})

	r.observeWrite("unreserve_position", start, out, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// enqueuePositionEvent 同事务写入持仓冻结/解冻事件
func (r *PositionRepository) enqueuePositionEvent(ctx context.Context, topic string, position *model.Position, requestID, orderID string, quantity decimal.Decimal) error {
	event := &model.OutboxEvent{
		EventID:      uuid.NewString(),
		Topic:        topic,
		PartitionKey: strconv.FormatInt(position.AccountID, 10),
	}
	if err := event.SetPayload(&model.ReservationPayload{
		AccountID: position.AccountID,
		Symbol:    position.Symbol,
		RequestID: requestID,
		OrderID:   orderID,
		Amount:    quantity.String(),
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("marshal reservation payload failed: %w", err)
	}
	return r.outbox.Create(ctx, event)
}

// observeWrite 上报写事务指标
func (r *PositionRepository) observeWrite(operation string, start time.Time, out *PositionWriteResult, err error) {
	metrics.RecordDBWrite(operation, time.Since(start))
	switch {
	case err == nil && out.Duplicate:
		metrics.IncrDuplicate(operation)
	case errors.Is(err, ErrInsufficientPosition):
		metrics.IncrInsufficient(operation)
	case err != nil && !errors.Is(err, ErrPositionNotFound) && !errors.Is(err, ErrPositionReservationNotFound):
		metrics.IncrDBError(operation)
	}
}

// GetPosition 查询持仓
func (r *PositionRepository) GetPosition(ctx context.Context, accountID int64, symbol string) (*model.Position, error) {
	var position model.Position
	err := r.DB(ctx).Where("account_id = ? AND symbol = ?", accountID, symbol).First(&position).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position failed: %w", err)
	}
	return &position, nil
}

// ListPositions 查询账户全部持仓
func (r *PositionRepository) ListPositions(ctx context.Context, accountID int64) ([]*model.Position, error) {
	var positions []*model.Position
	err := r.DB(ctx).
		Where("account_id = ?", accountID).
		Order("symbol ASC").
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("list positions failed: %w", err)
	}
	return positions, nil
}
