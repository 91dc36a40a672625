package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hts-platform/hts-account/internal/cache"
	"github.com/hts-platform/hts-account/internal/logger"
	"github.com/hts-platform/hts-account/internal/metrics"
	"github.com/hts-platform/hts-account/internal/model"
	"github.com/hts-platform/hts-account/internal/repository"
	"github.com/hts-platform/hts-account/internal/shard"
)

// AccountStore 账户写仓储接口
type AccountStore interface {
	ReserveCash(ctx context.Context, accountID int64, requestID, orderID string, amount decimal.Decimal) (*repository.AccountWriteResult, error)
	UnreserveCash(ctx context.Context, accountID int64, requestID string) (*repository.AccountWriteResult, error)
	CreateAccount(ctx context.Context, account *model.Account) error
	UpdateAccountStatus(ctx context.Context, accountID int64, status model.AccountStatus, reason string) error
	DeleteAccount(ctx context.Context, accountID int64) error
	Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (*repository.AccountWriteResult, error)
	Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (*repository.AccountWriteResult, error)
	GetAccount(ctx context.Context, accountID int64) (*model.Account, error)
}

// AccountService 资金账户命令服务
type AccountService struct {
	store  AccountStore
	cache  cache.AccountCache
	router *shard.Router
}

// NewAccountService 创建账户服务
func NewAccountService(store AccountStore, accountCache cache.AccountCache, router *shard.Router) *AccountService {
	return &AccountService{
		store:  store,
		cache:  accountCache,
		router: router,
	}
}

// ReserveCash 冻结资金
// 校验失败不触达存储；重放请求返回 SUCCESS 且 Duplicate 为 true
func (s *AccountService) ReserveCash(ctx context.Context, accountID int64, requestID, orderID string, amount decimal.Decimal) *Result {
	start := time.Now()

	if accountID <= 0 || requestID == "" {
		return s.finish("reserve_cash", start, &Result{Code: CodeInvalidRequest})
	}
	if amount.Sign() <= 0 {
		return s.finish("reserve_cash", start, &Result{Code: CodeInvalidAmount})
	}

	out, err := shard.Invoke(ctx, s.router, accountID, func(ctx context.Context) (*repository.AccountWriteResult, error) {
		return s.store.ReserveCash(ctx, accountID, requestID, orderID, amount)
	})
	if err != nil {
		return s.fail("reserve_cash", start, accountID, requestID, err)
	}

	s.refreshCache(ctx, out)
	return s.finish("reserve_cash", start, &Result{
		Code:      CodeSuccess,
		Duplicate: out.Duplicate,
		Account:   out.Snapshot,
	})
}

// UnreserveCash 解冻资金
// 金额以冻结流水为准；找不到对应冻结返回 ACCOUNT_NOT_FOUND
func (s *AccountService) UnreserveCash(ctx context.Context, accountID int64, requestID string) *Result {
	start := time.Now()

	if accountID <= 0 || requestID == "" {
		return s.finish("unreserve_cash", start, &Result{Code: CodeInvalidRequest})
	}

	out, err := shard.Invoke(ctx, s.router, accountID, func(ctx context.Context) (*repository.AccountWriteResult, error) {
		return s.store.UnreserveCash(ctx, accountID, requestID)
	})
	if err != nil {
		return s.fail("unreserve_cash", start, accountID, requestID, err)
	}

	s.refreshCache(ctx, out)
	return s.finish("unreserve_cash", start, &Result{
		Code:      CodeSuccess,
		Duplicate: out.Duplicate,
		Account:   out.Snapshot,
	})
}

// CreateAccount 开户
func (s *AccountService) CreateAccount(ctx context.Context, account *model.Account) *Result {
	start := time.Now()

	if account.AccountID <= 0 || account.AccountNo == "" {
		return s.finish("create_account", start, &Result{Code: CodeInvalidRequest})
	}
	if account.Status == "" {
		account.Status = model.AccountStatusActive
	}
	if !account.Status.Valid() {
		return s.finish("create_account", start, &Result{Code: CodeInvalidRequest})
	}

	_, err := shard.Invoke(ctx, s.router, account.AccountID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.CreateAccount(ctx, account)
	})
	if err != nil {
		return s.fail("create_account", start, account.AccountID, "", err)
	}

	snapshot := account.Snapshot()
	s.refreshCache(ctx, &repository.AccountWriteResult{Snapshot: snapshot})
	return s.finish("create_account", start, &Result{Code: CodeSuccess, Account: snapshot})
}

// UpdateAccountStatus 变更账户状态
func (s *AccountService) UpdateAccountStatus(ctx context.Context, accountID int64, status model.AccountStatus, reason string) *Result {
	start := time.Now()

	if accountID <= 0 || !status.Valid() {
		return s.finish("update_account_status", start, &Result{Code: CodeInvalidRequest})
	}

	_, err := shard.Invoke(ctx, s.router, accountID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.UpdateAccountStatus(ctx, accountID, status, reason)
	})
	if err != nil {
		return s.fail("update_account_status", start, accountID, "", err)
	}

	s.reloadCache(ctx, accountID)
	return s.finish("update_account_status", start, &Result{Code: CodeSuccess})
}

// DeleteAccount 销户 (软删除) 并清除缓存
func (s *AccountService) DeleteAccount(ctx context.Context, accountID int64) *Result {
	start := time.Now()

	if accountID <= 0 {
		return s.finish("delete_account", start, &Result{Code: CodeInvalidRequest})
	}

	_, err := shard.Invoke(ctx, s.router, accountID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.DeleteAccount(ctx, accountID)
	})
	if err != nil {
		return s.fail("delete_account", start, accountID, "", err)
	}

	if cerr := s.cache.Delete(ctx, accountID); cerr != nil {
		logger.Warn("evict account cache failed", "account_id", accountID, "error", cerr)
	}
	return s.finish("delete_account", start, &Result{Code: CodeSuccess})
}

// Deposit 入金
func (s *AccountService) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) *Result {
	return s.adjustBalance(ctx, "deposit", accountID, amount, s.store.Deposit)
}

// Withdraw 出金
func (s *AccountService) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) *Result {
	return s.adjustBalance(ctx, "withdraw", accountID, amount, s.store.Withdraw)
}

func (s *AccountService) adjustBalance(
	ctx context.Context,
	command string,
	accountID int64,
	amount decimal.Decimal,
	op func(ctx context.Context, accountID int64, amount decimal.Decimal) (*repository.AccountWriteResult, error),
) *Result {
	start := time.Now()

	if accountID <= 0 {
		return s.finish(command, start, &Result{Code: CodeInvalidRequest})
	}
	if amount.Sign() <= 0 {
		return s.finish(command, start, &Result{Code: CodeInvalidAmount})
	}

	out, err := shard.Invoke(ctx, s.router, accountID, func(ctx context.Context) (*repository.AccountWriteResult, error) {
		return op(ctx, accountID, amount)
	})
	if err != nil {
		return s.fail(command, start, accountID, "", err)
	}

	s.refreshCache(ctx, out)
	return s.finish(command, start, &Result{Code: CodeSuccess, Account: out.Snapshot})
}

// GetAccount 查询账户快照
// 先读缓存，未命中回源数据库并回填
func (s *AccountService) GetAccount(ctx context.Context, accountID int64) (*model.AccountSnapshot, *Result) {
	if accountID <= 0 {
		return nil, &Result{Code: CodeInvalidRequest}
	}

	snapshot, err := s.cache.GetSnapshot(ctx, accountID)
	if err != nil {
		logger.Warn("read account cache failed", "account_id", accountID, "error", err)
	}
	if snapshot != nil {
		return snapshot, &Result{Code: CodeSuccess}
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, &Result{Code: errToCode(err)}
	}

	snapshot = account.Snapshot()
	s.refreshCache(ctx, &repository.AccountWriteResult{Snapshot: snapshot})
	return snapshot, &Result{Code: CodeSuccess}
}

// refreshCache 尽力刷新缓存
// 失败只记日志和指标，不影响命令结果
func (s *AccountService) refreshCache(ctx context.Context, out *repository.AccountWriteResult) {
	if out == nil || out.Snapshot == nil {
		return
	}
	if err := s.cache.SetSnapshot(ctx, out.Snapshot); err != nil {
		logger.Warn("refresh account cache failed", "account_id", out.Snapshot.AccountID, "error", err)
	}
}

// reloadCache 从数据库回源刷新缓存
func (s *AccountService) reloadCache(ctx context.Context, accountID int64) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		logger.Warn("reload account for cache failed", "account_id", accountID, "error", err)
		return
	}
	s.refreshCache(ctx, &repository.AccountWriteResult{Snapshot: account.Snapshot()})
}

func (s *AccountService) finish(command string, start time.Time, result *Result) *Result {
	metrics.RecordCommand(command, string(result.Code), time.Since(start))
	return result
}

func (s *AccountService) fail(command string, start time.Time, accountID int64, requestID string, err error) *Result {
	code := errToCode(err)
	if code == CodeInternalError {
		logger.Error("command failed",
			"command", command,
			"account_id", accountID,
			"request_id", requestID,
			"error", err,
		)
	}
	return s.finish(command, start, &Result{Code: code})
}
