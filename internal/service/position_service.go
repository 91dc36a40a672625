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

// PositionStore 持仓写仓储接口
type PositionStore interface {
	ReservePosition(ctx context.Context, accountID int64, symbol, requestID, orderID string, quantity decimal.Decimal) (*repository.PositionWriteResult, error)
	UnreservePosition(ctx context.Context, accountID int64, symbol, requestID string) (*repository.PositionWriteResult, error)
	GetPosition(ctx context.Context, accountID int64, symbol string) (*model.Position, error)
	ListPositions(ctx context.Context, accountID int64) ([]*model.Position, error)
}

// PositionService 持仓命令服务
// 与 AccountService 共用同一个分片路由器: 同一账户的资金命令
// 和持仓命令在同一分片上串行执行
type PositionService struct {
	store  PositionStore
	cache  cache.PositionCache
	router *shard.Router
}

// NewPositionService 创建持仓服务
func NewPositionService(store PositionStore, positionCache cache.PositionCache, router *shard.Router) *PositionService {
	return &PositionService{
		store:  store,
		cache:  positionCache,
		router: router,
	}
}

// ReservePosition 冻结持仓 (卖出挂单)
func (s *PositionService) ReservePosition(ctx context.Context, accountID int64, symbol, requestID, orderID string, quantity decimal.Decimal) *Result {
	start := time.Now()

	if accountID <= 0 || symbol == "" || requestID == "" {
		return s.finish("reserve_position", start, &Result{Code: CodeInvalidRequest})
	}
	if quantity.Sign() <= 0 {
		return s.finish("reserve_position", start, &Result{Code: CodeInvalidAmount})
	}

	out, err := shard.Invoke(ctx, s.router, accountID, func(ctx context.Context) (*repository.PositionWriteResult, error) {
		return s.store.ReservePosition(ctx, accountID, symbol, requestID, orderID, quantity)
	})
	if err != nil {
		return s.fail("reserve_position", start, accountID, requestID, err)
	}

	s.refreshCache(ctx, out)
	return s.finish("reserve_position", start, &Result{
		Code:      CodeSuccess,
		Duplicate: out.Duplicate,
		Position:  out.Snapshot,
	})
}

// UnreservePosition 解冻持仓
// 数量以冻结流水为准；找不到对应冻结(含标的不符)返回 POSITION_NOT_FOUND
func (s *PositionService) UnreservePosition(ctx context.Context, accountID int64, symbol, requestID string) *Result {
	start := time.Now()

	if accountID <= 0 || symbol == "" || requestID == "" {
		return s.finish("unreserve_position", start, &Result{Code: CodeInvalidRequest})
	}

	out, err := shard.Invoke(ctx, s.router, accountID, func(ctx context.Context) (*repository.PositionWriteResult, error) {
		return s.store.UnreservePosition(ctx, accountID, symbol, requestID)
	})
	if err != nil {
		return s.fail("unreserve_position", start, accountID, requestID, err)
	}

	s.refreshCache(ctx, out)
	return s.finish("unreserve_position", start, &Result{
		Code:      CodeSuccess,
		Duplicate: out.Duplicate,
		Position:  out.Snapshot,
	})
}

// GetPosition 查询持仓快照
// 先读缓存，未命中回源数据库并回填
func (s *PositionService) GetPosition(ctx context.Context, accountID int64, symbol string) (*model.PositionSnapshot, *Result) {
	if accountID <= 0 || symbol == "" {
		return nil, &Result{Code: CodeInvalidRequest}
	}

	snapshot, err := s.cache.GetSnapshot(ctx, accountID, symbol)
	if err != nil {
		logger.Warn("read position cache failed", "account_id", accountID, "symbol", symbol, "error", err)
	}
	if snapshot != nil {
		return snapshot, &Result{Code: CodeSuccess}
	}

	position, err := s.store.GetPosition(ctx, accountID, symbol)
	if err != nil {
		return nil, &Result{Code: errToCode(err)}
	}

	snapshot = position.Snapshot()
	s.refreshCache(ctx, &repository.PositionWriteResult{Snapshot: snapshot})
	return snapshot, &Result{Code: CodeSuccess}
}

// ListPositions 查询账户全部持仓 (直连数据库)
func (s *PositionService) ListPositions(ctx context.Context, accountID int64) ([]*model.PositionSnapshot, *Result) {
	if accountID <= 0 {
		return nil, &Result{Code: CodeInvalidRequest}
	}

	positions, err := s.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, &Result{Code: errToCode(err)}
	}

	snapshots := make([]*model.PositionSnapshot, 0, len(positions))
	for _, p := range positions {
		snapshots = append(snapshots, p.Snapshot())
	}
	return snapshots, &Result{Code: CodeSuccess}
}

// refreshCache 尽力刷新缓存，失败不影响命令结果
func (s *PositionService) refreshCache(ctx context.Context, out *repository.PositionWriteResult) {
	if out == nil || out.Snapshot == nil {
		return
	}
	if err := s.cache.SetSnapshot(ctx, out.Snapshot); err != nil {
		logger.Warn("refresh position cache failed",
			"account_id", out.Snapshot.AccountID,
			"symbol", out.Snapshot.Symbol,
			"error", err,
		)
	}
}

func (s *PositionService) finish(command string, start time.Time, result *Result) *Result {
	metrics.RecordCommand(command, string(result.Code), time.Since(start))
	return result
}

func (s *PositionService) fail(command string, start time.Time, accountID int64, requestID string, err error) *Result {
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
