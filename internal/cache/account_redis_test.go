package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hts-platform/hts-account/internal/model"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return rdb, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestAccountCache_SetAndGetSnapshot(t *testing.T) {
	rdb, _, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewAccountCache(rdb, 0)
	ctx := context.Background()

	err := c.SetSnapshot(ctx, &model.AccountSnapshot{
		AccountID: 1001,
		AccountNo: "ACC-1001",
		Balance:   decimal.RequireFromString("1000.5000"),
		Reserved:  decimal.RequireFromString("200.0000"),
		Currency:  "KRW",
		Status:    "ACTIVE",
	})
	require.NoError(t, err)

	snapshot, err := c.GetSnapshot(ctx, 1001)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, int64(1001), snapshot.AccountID)
	assert.Equal(t, "ACC-1001", snapshot.AccountNo)
	assert.True(t, snapshot.Balance.Equal(decimal.RequireFromString("1000.5")))
	assert.True(t, snapshot.Reserved.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, "KRW", snapshot.Currency)
	assert.Equal(t, "ACTIVE", snapshot.Status)
}

func TestAccountCache_GetSnapshot_Miss(t *testing.T) {
	rdb, _, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewAccountCache(rdb, 0)

	snapshot, err := c.GetSnapshot(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestAccountCache_MissingFieldsDefaultToZero(t *testing.T) {
	rdb, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	// 手工写入不完整的 hash，数值字段缺失按零处理
	mr.HSet("acc:1001", fieldAccountNo, "ACC-1001")
	mr.HSet("acc:1001", fieldBalance, "not-a-number")

	c := NewAccountCache(rdb, 0)

	snapshot, err := c.GetSnapshot(context.Background(), 1001)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.True(t, snapshot.Balance.IsZero())
	assert.True(t, snapshot.Reserved.IsZero())
}

func TestAccountCache_Delete(t *testing.T) {
	rdb, _, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewAccountCache(rdb, 0)
	ctx := context.Background()

	err := c.SetSnapshot(ctx, &model.AccountSnapshot{
		AccountID: 1001,
		Balance:   decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, 1001))

	snapshot, err := c.GetSnapshot(ctx, 1001)
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestAccountCache_TTL(t *testing.T) {
	rdb, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewAccountCache(rdb, time.Minute)
	ctx := context.Background()

	err := c.SetSnapshot(ctx, &model.AccountSnapshot{
		AccountID: 1001,
		Balance:   decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	assert.Greater(t, mr.TTL("acc:1001"), time.Duration(0))
}

func TestPositionCache_SetAndGetSnapshot(t *testing.T) {
	rdb, _, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewPositionCache(rdb, 0)
	ctx := context.Background()

	err := c.SetSnapshot(ctx, &model.PositionSnapshot{
		AccountID:        1001,
		Symbol:           "005930",
		Quantity:         decimal.RequireFromString("90.00000000"),
		ReservedQuantity: decimal.RequireFromString("10.00000000"),
		AvgPrice:         decimal.RequireFromString("70000.0000"),
	})
	require.NoError(t, err)

	snapshot, err := c.GetSnapshot(ctx, 1001, "005930")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, "005930", snapshot.Symbol)
	assert.True(t, snapshot.Quantity.Equal(decimal.NewFromInt(90)))
	assert.True(t, snapshot.ReservedQuantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, snapshot.AvgPrice.Equal(decimal.NewFromInt(70000)))
}

func TestPositionCache_GetSnapshot_Miss(t *testing.T) {
	rdb, _, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewPositionCache(rdb, 0)

	snapshot, err := c.GetSnapshot(context.Background(), 1001, "005930")
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestPositionCache_Delete(t *testing.T) {
	rdb, _, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewPositionCache(rdb, 0)
	ctx := context.Background()

	err := c.SetSnapshot(ctx, &model.PositionSnapshot{
		AccountID: 1001,
		Symbol:    "005930",
		Quantity:  decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, 1001, "005930"))

	snapshot, err := c.GetSnapshot(ctx, 1001, "005930")
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}
