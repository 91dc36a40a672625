package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hts-platform/hts-account/internal/model"
	"github.com/hts-platform/hts-account/internal/repository"
	"github.com/hts-platform/hts-account/internal/shard"
)

// fakePositionStore 带状态的内存仓储，语义与数据库实现一致
type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]*model.Position       // key: {accountID}:{symbol}
	ledger    map[string]*model.PositionLedger // key: {accountID}:{entryType}:{requestID}
	calls     int
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{
		positions: make(map[string]*model.Position),
		ledger:    make(map[string]*model.PositionLedger),
	}
}

func positionKey(accountID int64, symbol string) string {
	return fmt.Sprintf("%d:%s", accountID, symbol)
}

func (s *fakePositionStore) put(position *model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[positionKey(position.AccountID, position.Symbol)] = position
}

func (s *fakePositionStore) ReservePosition(ctx context.Context, accountID int64, symbol, requestID, orderID string, quantity decimal.Decimal) (*repository.PositionWriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	key := ledgerKey(accountID, model.LedgerEntryReserve, requestID)
	if _, ok := s.ledger[key]; ok {
		return &repository.PositionWriteResult{Duplicate: true}, nil
	}

	// 持仓行不存在时先物化零持仓
	position, ok := s.positions[positionKey(accountID, symbol)]
	if !ok {
		position = &model.Position{AccountID: accountID, Symbol: symbol}
		s.positions[positionKey(accountID, symbol)] = position
	}
	if position.Quantity.LessThan(quantity) {
		return nil, repository.ErrInsufficientPosition
	}

	s.ledger[key] = &model.PositionLedger{
		AccountID:      accountID,
		Symbol:         symbol,
		EntryType:      model.LedgerEntryReserve,
		RequestID:      requestID,
		OrderID:        orderID,
		QuantityChange: quantity,
	}
	position.Quantity = position.Quantity.Sub(quantity)
	position.ReservedQuantity = position.ReservedQuantity.Add(quantity)
	return &repository.PositionWriteResult{Snapshot: position.Snapshot()}, nil
}

func (s *fakePositionStore) UnreservePosition(ctx context.Context, accountID int64, symbol, requestID string) (*repository.PositionWriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	reserve, ok := s.ledger[ledgerKey(accountID, model.LedgerEntryReserve, requestID)]
	if !ok || reserve.Symbol != symbol {
		return nil, repository.ErrPositionReservationNotFound
	}

	unKey := ledgerKey(accountID, model.LedgerEntryUnreserve, "un:"+requestID)
	if _, ok := s.ledger[unKey]; ok {
		return &repository.PositionWriteResult{Duplicate: true}, nil
	}

	position := s.positions[positionKey(accountID, reserve.Symbol)]
	quantity := reserve.QuantityChange
	if position.ReservedQuantity.LessThan(quantity) {
		return nil, repository.ErrInsufficientPosition
	}

	s.ledger[unKey] = &model.PositionLedger{
		AccountID:      accountID,
		Symbol:         reserve.Symbol,
		EntryType:      model.LedgerEntryUnreserve,
		RequestID:      "un:" + requestID,
		QuantityChange: quantity.Neg(),
	}
	position.ReservedQuantity = position.ReservedQuantity.Sub(quantity)
	position.Quantity = position.Quantity.Add(quantity)
	return &repository.PositionWriteResult{Snapshot: position.Snapshot()}, nil
}

func (s *fakePositionStore) GetPosition(ctx context.Context, accountID int64, symbol string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	position, ok := s.positions[positionKey(accountID, symbol)]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	return position, nil
}

func (s *fakePositionStore) ListPositions(ctx context.Context, accountID int64) ([]*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Position
	for _, p := range s.positions {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakePositionCache 内存缓存
type fakePositionCache struct {
	mu        sync.Mutex
	snapshots map[string]*model.PositionSnapshot
}

func newFakePositionCache() *fakePositionCache {
	return &fakePositionCache{snapshots: make(map[string]*model.PositionSnapshot)}
}

func (c *fakePositionCache) SetSnapshot(ctx context.Context, snapshot *model.PositionSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[positionKey(snapshot.AccountID, snapshot.Symbol)] = snapshot
	return nil
}

func (c *fakePositionCache) GetSnapshot(ctx context.Context, accountID int64, symbol string) (*model.PositionSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshots[positionKey(accountID, symbol)], nil
}

func (c *fakePositionCache) Delete(ctx context.Context, accountID int64, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, positionKey(accountID, symbol))
	return nil
}

func newTestPositionService(t *testing.T, store PositionStore, c *fakePositionCache) *PositionService {
	router := shard.NewRouter(4, 256)
	t.Cleanup(router.Stop)
	return NewPositionService(store, c, router)
}

func heldPosition(accountID int64, symbol string, quantity int64) *model.Position {
	return &model.Position{
		AccountID: accountID,
		Symbol:    symbol,
		Quantity:  decimal.NewFromInt(quantity),
	}
}

func TestPositionService_ReservePosition_Success(t *testing.T) {
	store := newFakePositionStore()
	store.put(heldPosition(1001, "005930", 100))
	c := newFakePositionCache()
	svc := newTestPositionService(t, store, c)

	result := svc.ReservePosition(context.Background(), 1001, "005930", "req-1", "order-1", decimal.NewFromInt(40))

	require.Equal(t, CodeSuccess, result.Code)
	assert.True(t, result.Position.Quantity.Equal(decimal.NewFromInt(60)))
	assert.True(t, result.Position.ReservedQuantity.Equal(decimal.NewFromInt(40)))

	cached, _ := c.GetSnapshot(context.Background(), 1001, "005930")
	require.NotNil(t, cached)
	assert.True(t, cached.Quantity.Equal(decimal.NewFromInt(60)))
}

func TestPositionService_ReservePosition_DuplicateReplay(t *testing.T) {
	store := newFakePositionStore()
	store.put(heldPosition(1001, "005930", 100))
	svc := newTestPositionService(t, store, newFakePositionCache())
	ctx := context.Background()

	first := svc.ReservePosition(ctx, 1001, "005930", "req-1", "", decimal.NewFromInt(40))
	require.Equal(t, CodeSuccess, first.Code)

	second := svc.ReservePosition(ctx, 1001, "005930", "req-1", "", decimal.NewFromInt(40))
	require.Equal(t, CodeSuccess, second.Code)
	assert.True(t, second.Duplicate)

	position, _ := store.GetPosition(ctx, 1001, "005930")
	assert.True(t, position.Quantity.Equal(decimal.NewFromInt(60)))
	assert.True(t, position.ReservedQuantity.Equal(decimal.NewFromInt(40)))
}

func TestPositionService_ReservePosition_UnknownSymbol(t *testing.T) {
	store := newFakePositionStore()
	svc := newTestPositionService(t, store, newFakePositionCache())

	// 未持有的标的: 物化零持仓后守卫判定持仓不足
	result := svc.ReservePosition(context.Background(), 1001, "005930", "req-1", "", decimal.NewFromInt(10))

	assert.Equal(t, CodeInsufficientPosition, result.Code)
}

func TestPositionService_ReservePosition_Validation(t *testing.T) {
	store := newFakePositionStore()
	svc := newTestPositionService(t, store, newFakePositionCache())
	ctx := context.Background()

	assert.Equal(t, CodeInvalidRequest, svc.ReservePosition(ctx, 0, "005930", "req-1", "", decimal.NewFromInt(1)).Code)
	assert.Equal(t, CodeInvalidRequest, svc.ReservePosition(ctx, 1001, "", "req-1", "", decimal.NewFromInt(1)).Code)
	assert.Equal(t, CodeInvalidRequest, svc.ReservePosition(ctx, 1001, "005930", "", "", decimal.NewFromInt(1)).Code)
	assert.Equal(t, CodeInvalidAmount, svc.ReservePosition(ctx, 1001, "005930", "req-1", "", decimal.Zero).Code)

	assert.Equal(t, 0, store.callCount())
}

func TestPositionService_ReserveUnreserveRoundTrip(t *testing.T) {
	store := newFakePositionStore()
	store.put(heldPosition(1001, "005930", 100))
	svc := newTestPositionService(t, store, newFakePositionCache())
	ctx := context.Background()

	reserve := svc.ReservePosition(ctx, 1001, "005930", "req-1", "order-1", decimal.NewFromInt(30))
	require.Equal(t, CodeSuccess, reserve.Code)

	release := svc.UnreservePosition(ctx, 1001, "005930", "req-1")
	require.Equal(t, CodeSuccess, release.Code)
	assert.True(t, release.Position.Quantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, release.Position.ReservedQuantity.IsZero())

	replay := svc.UnreservePosition(ctx, 1001, "005930", "req-1")
	require.Equal(t, CodeSuccess, replay.Code)
	assert.True(t, replay.Duplicate)

	position, _ := store.GetPosition(ctx, 1001, "005930")
	assert.True(t, position.Quantity.Equal(decimal.NewFromInt(100)))
}

func TestPositionService_UnreservePosition_UnknownReservation(t *testing.T) {
	store := newFakePositionStore()
	store.put(heldPosition(1001, "005930", 100))
	svc := newTestPositionService(t, store, newFakePositionCache())

	result := svc.UnreservePosition(context.Background(), 1001, "005930", "never-reserved")

	assert.Equal(t, CodePositionNotFound, result.Code)
}

func TestPositionService_UnreservePosition_SymbolMismatch(t *testing.T) {
	store := newFakePositionStore()
	store.put(heldPosition(1001, "005930", 100))
	svc := newTestPositionService(t, store, newFakePositionCache())
	ctx := context.Background()

	require.Equal(t, CodeSuccess, svc.ReservePosition(ctx, 1001, "005930", "req-1", "", decimal.NewFromInt(10)).Code)

	// 标的不符的解冻被拒绝，冻结保持不变
	result := svc.UnreservePosition(ctx, 1001, "000660", "req-1")
	assert.Equal(t, CodePositionNotFound, result.Code)

	position, _ := store.GetPosition(ctx, 1001, "005930")
	assert.True(t, position.ReservedQuantity.Equal(decimal.NewFromInt(10)))
}

func TestPositionService_UnreservePosition_RequiresSymbol(t *testing.T) {
	store := newFakePositionStore()
	svc := newTestPositionService(t, store, newFakePositionCache())

	result := svc.UnreservePosition(context.Background(), 1001, "", "req-1")

	assert.Equal(t, CodeInvalidRequest, result.Code)
	assert.Equal(t, 0, store.callCount())
}

func TestPositionService_ConcurrentReserves_ExactlyHeldSubsetSucceeds(t *testing.T) {
	store := newFakePositionStore()
	store.put(heldPosition(1001, "005930", 50))
	svc := newTestPositionService(t, store, newFakePositionCache())
	ctx := context.Background()

	// 持仓 50，100 个各 10 的并发冻结: 恰好 5 个成功
	const workers = 100
	results := make([]*Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = svc.ReservePosition(ctx, 1001, "005930", fmt.Sprintf("req-%d", i), "", decimal.NewFromInt(10))
		}()
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, r := range results {
		switch r.Code {
		case CodeSuccess:
			succeeded++
		case CodeInsufficientPosition:
			insufficient++
		default:
			t.Fatalf("unexpected result code: %s", r.Code)
		}
	}
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, workers-5, insufficient)

	position, _ := store.GetPosition(ctx, 1001, "005930")
	assert.True(t, position.Quantity.IsZero())
	assert.True(t, position.ReservedQuantity.Equal(decimal.NewFromInt(50)))
}

func TestPositionService_GetPosition_CacheMissFallsBackToStore(t *testing.T) {
	store := newFakePositionStore()
	store.put(heldPosition(1001, "005930", 100))
	c := newFakePositionCache()
	svc := newTestPositionService(t, store, c)
	ctx := context.Background()

	snapshot, result := svc.GetPosition(ctx, 1001, "005930")
	require.Equal(t, CodeSuccess, result.Code)
	assert.True(t, snapshot.Quantity.Equal(decimal.NewFromInt(100)))

	cached, _ := c.GetSnapshot(ctx, 1001, "005930")
	assert.NotNil(t, cached)
}

func TestPositionService_GetPosition_NotFound(t *testing.T) {
	svc := newTestPositionService(t, newFakePositionStore(), newFakePositionCache())

	snapshot, result := svc.GetPosition(context.Background(), 1001, "005930")

	assert.Nil(t, snapshot)
	assert.Equal(t, CodePositionNotFound, result.Code)
}

func TestPositionService_ListPositions(t *testing.T) {
	store := newFakePositionStore()
	store.put(heldPosition(1001, "005930", 100))
	store.put(heldPosition(1001, "000660", 20))
	store.put(heldPosition(2002, "005930", 5))
	svc := newTestPositionService(t, store, newFakePositionCache())

	snapshots, result := svc.ListPositions(context.Background(), 1001)

	require.Equal(t, CodeSuccess, result.Code)
	assert.Len(t, snapshots, 2)
}
