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

// 仓储层哨兵错误，服务层据此映射结果码
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrDuplicateAccount     = errors.New("account already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientReserved = errors.New("insufficient reserved funds")
	ErrReservationNotFound  = errors.New("reservation not found")
)

// AccountWriteResult 写操作结果
// Duplicate 为 true 表示命中幂等键，本次请求是重放，未产生任何资金效果
type AccountWriteResult struct {
	Snapshot  *model.AccountSnapshot
	Duplicate bool
}

// AccountRepository 资金账户仓储
// 冻结/解冻遵循 ledger-first 协议: 先插流水(幂等键判重)，
// 再条件更新余额(守卫不变量)，同事务写 outbox 事件
type AccountRepository struct {
	*Repository
	outbox *OutboxRepository
}

// NewAccountRepository 创建账户仓储
func NewAccountRepository(base *Repository, outbox *OutboxRepository) *AccountRepository {
	return &AccountRepository{Repository: base, outbox: outbox}
}

// unreserveRequestID 解冻流水的 request_id
// 与冻结流水用前缀区分，同一 request_id 的冻结与解冻各自幂等
func unreserveRequestID(requestID string) string {
	return "un:" + requestID
}

// insertAccountLedger 插入资金流水
// 返回 false 表示幂等键冲突，本次请求是重放
func (r *AccountRepository) insertAccountLedger(ctx context.Context, entry *model.AccountLedger) (bool, error) {
	result := r.DB(ctx).Exec(`
		INSERT INTO account_ledger (account_id, entry_type, request_id, order_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, entry_type, request_id) DO NOTHING`,
		entry.AccountID, entry.EntryType, entry.RequestID, entry.OrderID, entry.Amount, time.Now().UnixMilli(),
	)
	if result.Error != nil {
		return false, fmt.Errorf("insert account ledger failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ReserveCash 冻结资金
// 重放请求直接返回 Duplicate，不产生任何效果；
// 余额不足时整个事务回滚，流水不落库
func (r *AccountRepository) ReserveCash(ctx context.Context, accountID int64, requestID, orderID string, amount decimal.Decimal) (*AccountWriteResult, error) {
	start := time.Now()

	out := &AccountWriteResult{}
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		inserted, err := r.insertAccountLedger(txCtx, &model.AccountLedger{
			AccountID: accountID,
			EntryType: model.LedgerEntryReserve,
			RequestID: requestID,
			OrderID:   orderID,
			Amount:    amount,
		})
		if err != nil {
			return err
		}
		if !inserted {
			out.Duplicate = true
			return nil
		}

		var account model.Account
		result := r.DB(txCtx).Raw(`
			UPDATE accounts
			SET balance = balance - ?, reserved = reserved + ?, updated_at = ?
			WHERE account_id = ? AND status <> 'CLOSED' AND balance >= ?
			RETURNING *`,
			amount, amount, time.Now().UnixMilli(), accountID, amount,
		).Scan(&account)
		if result.Error != nil {
			return fmt.Errorf("reserve cash update failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return r.classifyGuardMiss(txCtx, accountID, ErrInsufficientFunds)
		}

		if err := r.enqueueReservationEvent(txCtx, kafka.TopicAccountReserved, &account, requestID, orderID, amount); err != nil {
			return err
		}

		out.Snapshot = account.Snapshot()
		return nil
	})

	r.observeWrite("reserve_cash", start, out, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnreserveCash 解冻资金，将冻结金额划回可用余额
// 金额以对应冻结流水为准，调用方无需重传
func (r *AccountRepository) UnreserveCash(ctx context.Context, accountID int64, requestID string) (*AccountWriteResult, error) {
	start := time.Now()

	out := &AccountWriteResult{}
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		// 先找到对应的冻结流水，没有冻结就没有可解冻的金额
		var reserve model.AccountLedger
		err := r.DB(txCtx).
			Where("account_id = ? AND entry_type = ? AND request_id = ?",
				accountID, model.LedgerEntryReserve, requestID).
			First(&reserve).Error
		if err == gorm.ErrRecordNotFound {
			return ErrReservationNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup reserve ledger failed: %w", err)
		}

		inserted, err := r.insertAccountLedger(txCtx, &model.AccountLedger{
			AccountID: accountID,
			EntryType: model.LedgerEntryUnreserve,
			RequestID: unreserveRequestID(requestID),
			OrderID:   reserve.OrderID,
			Amount:    reserve.Amount,
		})
		if err != nil {
			return err
		}
		if !inserted {
			out.Duplicate = true
			return nil
		}

		var account model.Account
		result := r.DB(txCtx).Raw(`
			UPDATE accounts
			SET reserved = reserved - ?, balance = balance + ?, updated_at = ?
			WHERE account_id = ? AND reserved >= ?
			RETURNING *`,
			reserve.Amount, reserve.Amount, time.Now().UnixMilli(), accountID, reserve.Amount,
		).Scan(&account)
		if result.Error != nil {
			return fmt.Errorf("unreserve cash update failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return r.classifyGuardMiss(txCtx, accountID, ErrInsufficientReserved)
		}

		if err := r.enqueueReservationEvent(txCtx, kafka.TopicAccountReleased, &account, requestID, reserve.OrderID, reserve.Amount); err != nil {
			return err
		}

		out.Snapshot = account.Snapshot()
		return nil
	})

	r.observeWrite("unreserve_cash", start, out, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// classifyGuardMiss 区分条件更新未命中的原因
// 账户不存在(或已销户)返回 ErrAccountNotFound，否则返回守卫错误
func (r *AccountRepository) classifyGuardMiss(ctx context.Context, accountID int64, guardErr error) error {
	var count int64
	err := r.DB(ctx).Model(&model.Account{}).
		Where("account_id = ? AND status <> ?", accountID, model.AccountStatusClosed).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("check account existence failed: %w", err)
	}
	if count == 0 {
		return ErrAccountNotFound
	}
	return guardErr
}

// enqueueReservationEvent 同事务写入冻结/解冻事件
func (r *AccountRepository) enqueueReservationEvent(ctx context.Context, topic string, account *model.Account, requestID, orderID string, amount decimal.Decimal) error {
	event := &model.OutboxEvent{
		EventID:      uuid.NewString(),
		Topic:        topic,
		PartitionKey: strconv.FormatInt(account.AccountID, 10),
	}
	if err := event.SetPayload(&model.ReservationPayload{
		AccountID: account.AccountID,
		RequestID: requestID,
		OrderID:   orderID,
		Amount:    amount.String(),
		Currency:  account.Currency,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("marshal reservation payload failed: %w", err)
	}
	return r.outbox.Create(ctx, event)
}

// observeWrite 上报写事务指标
func (r *AccountRepository) observeWrite(operation string, start time.Time, out *AccountWriteResult, err error) {
	metrics.RecordDBWrite(operation, time.Since(start))
	switch {
	case err == nil && out.Duplicate:
		metrics.IncrDuplicate(operation)
	case errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrInsufficientReserved):
		metrics.IncrInsufficient(operation)
	case err != nil && !errors.Is(err, ErrAccountNotFound) && !errors.Is(err, ErrReservationNotFound):
		metrics.IncrDBError(operation)
	}
}

// CreateAccount 开户
// account_no 唯一约束冲突返回 ErrDuplicateAccount
func (r *AccountRepository) CreateAccount(ctx context.Context, account *model.Account) error {
	start := time.Now()

	err := r.Transaction(ctx, func(txCtx context.Context) error {
		if err := r.DB(txCtx).Create(account).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateAccount
			}
			return fmt.Errorf("create account failed: %w", err)
		}

		event := &model.OutboxEvent{
			EventID:      uuid.NewString(),
			Topic:        kafka.TopicAccountCreated,
			PartitionKey: strconv.FormatInt(account.AccountID, 10),
		}
		if err := event.SetPayload(&model.AccountCreatedPayload{
			AccountID: account.AccountID,
			AccountNo: account.AccountNo,
			Currency:  account.Currency,
			Status:    string(account.Status),
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			return fmt.Errorf("marshal account created payload failed: %w", err)
		}
		return r.outbox.Create(txCtx, event)
	})

	metrics.RecordDBWrite("create_account", time.Since(start))
	if err != nil && !errors.Is(err, ErrDuplicateAccount) {
		metrics.IncrDBError("create_account")
	}
	return err
}

// UpdateAccountStatus 变更账户状态
func (r *AccountRepository) UpdateAccountStatus(ctx context.Context, accountID int64, status model.AccountStatus, reason string) error {
	start := time.Now()

	err := r.Transaction(ctx, func(txCtx context.Context) error {
		result := r.DB(txCtx).Model(&model.Account{}).
			Where("account_id = ? AND status <> ?", accountID, model.AccountStatusClosed).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": time.Now().UnixMilli(),
			})
		if result.Error != nil {
			return fmt.Errorf("update account status failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		event := &model.OutboxEvent{
			EventID:      uuid.NewString(),
			Topic:        kafka.TopicAccountStatusChanged,
			PartitionKey: strconv.FormatInt(accountID, 10),
		}
		if err := event.SetPayload(&model.AccountStatusChangedPayload{
			AccountID: accountID,
			Status:    string(status),
			Reason:    reason,
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			return fmt.Errorf("marshal status changed payload failed: %w", err)
		}
		return r.outbox.Create(txCtx, event)
	})

	metrics.RecordDBWrite("update_account_status", time.Since(start))
	return err
}

// DeleteAccount 销户
// 软删除: 状态置为 CLOSED，历史流水保留
func (r *AccountRepository) DeleteAccount(ctx context.Context, accountID int64) error {
	start := time.Now()

	err := r.Transaction(ctx, func(txCtx context.Context) error {
		result := r.DB(txCtx).Model(&model.Account{}).
			Where("account_id = ? AND status <> ?", accountID, model.AccountStatusClosed).
			Updates(map[string]interface{}{
				"status":     model.AccountStatusClosed,
				"updated_at": time.Now().UnixMilli(),
			})
		if result.Error != nil {
			return fmt.Errorf("delete account failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		event := &model.OutboxEvent{
			EventID:      uuid.NewString(),
			Topic:        kafka.TopicAccountDeleted,
			PartitionKey: strconv.FormatInt(accountID, 10),
		}
		if err := event.SetPayload(&model.AccountDeletedPayload{
			AccountID: accountID,
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			return fmt.Errorf("marshal account deleted payload failed: %w", err)
		}
		return r.outbox.Create(txCtx, event)
	})

	metrics.RecordDBWrite("delete_account", time.Since(start))
	return err
}

// Deposit 入金
func (r *AccountRepository) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (*AccountWriteResult, error) {
	return r.adjustBalance(ctx, "deposit", accountID, amount)
}

// Withdraw 出金，可用余额不足返回 ErrInsufficientFunds
func (r *AccountRepository) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (*AccountWriteResult, error) {
	return r.adjustBalance(ctx, "withdraw", accountID, amount.Neg())
}

func (r *AccountRepository) adjustBalance(ctx context.Context, operation string, accountID int64, delta decimal.Decimal) (*AccountWriteResult, error) {
	start := time.Now()

	out := &AccountWriteResult{}
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		var account model.Account
		result := r.DB(txCtx).Raw(`
			UPDATE accounts
			SET balance = balance + ?, updated_at = ?
			WHERE account_id = ? AND status <> 'CLOSED' AND balance + ? >= 0
			RETURNING *`,
			delta, time.Now().UnixMilli(), accountID, delta,
		).Scan(&account)
		if result.Error != nil {
			return fmt.Errorf("%s update failed: %w", operation, result.Error)
		}
		if result.RowsAffected == 0 {
			return r.classifyGuardMiss(txCtx, accountID, ErrInsufficientFunds)
		}

		event := &model.OutboxEvent{
			EventID:      uuid.NewString(),
			Topic:        kafka.TopicBalanceUpdated,
			PartitionKey: strconv.FormatInt(accountID, 10),
		}
		if err := event.SetPayload(&model.BalanceUpdatedPayload{
			AccountID: account.AccountID,
			Balance:   account.Balance.String(),
			Reserved:  account.Reserved.String(),
			Currency:  account.Currency,
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			return fmt.Errorf("marshal balance updated payload failed: %w", err)
		}
		if err := r.outbox.Create(txCtx, event); err != nil {
			return err
		}

		out.Snapshot = account.Snapshot()
		return nil
	})

	r.observeWrite(operation, start, out, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkLastLogin 更新最近登录时间
// 条件 last_login < ? 保证乱序到达的旧事件不会回退时间戳
func (r *AccountRepository) MarkLastLogin(ctx context.Context, accountID int64, loginAt int64) error {
	return r.DB(ctx).Model(&model.Account{}).
		Where("account_id = ? AND last_login < ?", accountID, loginAt).
		Update("last_login", loginAt).Error
}

// GetAccount 查询账户
func (r *AccountRepository) GetAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	var account model.Account
	err := r.DB(ctx).Where("account_id = ?", accountID).First(&account).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account failed: %w", err)
	}
	return &account, nil
}
