package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hts-platform/hts-account/internal/metrics"
	"github.com/hts-platform/hts-account/internal/model"
)

// 持仓快照 hash 字段
const (
	fieldQuantity         = "quantity"
	fieldReservedQuantity = "reserved_quantity"
	fieldAvgPrice         = "avg_price"
)

// PositionCache 持仓快照缓存接口
type PositionCache interface {
	// SetSnapshot 写入持仓快照
	SetSnapshot(ctx context.Context, snapshot *model.PositionSnapshot) error

	// GetSnapshot 读取持仓快照，缓存未命中返回 nil
	GetSnapshot(ctx context.Context, accountID int64, symbol string) (*model.PositionSnapshot, error)

	// Delete 删除持仓快照
	Delete(ctx context.Context, accountID int64, symbol string) error
}

type positionRedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewPositionCache 创建持仓缓存
func NewPositionCache(client redis.UniversalClient, ttl time.Duration) PositionCache {
	return &positionRedisCache{client: client, ttl: ttl}
}

func positionKey(accountID int64, symbol string) string {
	return fmt.Sprintf(positionKeyPattern, accountID, symbol)
}

// SetSnapshot 写入持仓快照
func (c *positionRedisCache) SetSnapshot(ctx context.Context, snapshot *model.PositionSnapshot) error {
	start := time.Now()
	key := positionKey(snapshot.AccountID, snapshot.Symbol)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key,
		fieldQuantity, snapshot.Quantity.String(),
		fieldReservedQuantity, snapshot.ReservedQuantity.String(),
		fieldAvgPrice, snapshot.AvgPrice.String(),
		fieldUpdatedAt, time.Now().UnixMilli(),
	)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)

	metrics.RecordRedisOperation("position_set", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("set position snapshot failed: %w", err)
	}
	return nil
}

// GetSnapshot 读取持仓快照
func (c *positionRedisCache) GetSnapshot(ctx context.Context, accountID int64, symbol string) (*model.PositionSnapshot, error) {
	start := time.Now()

	fields, err := c.client.HGetAll(ctx, positionKey(accountID, symbol)).Result()
	metrics.RecordRedisOperation("position_get", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("get position snapshot failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	return &model.PositionSnapshot{
		AccountID:        accountID,
		Symbol:           symbol,
		Quantity:         parseDecimal(fields[fieldQuantity]),
		ReservedQuantity: parseDecimal(fields[fieldReservedQuantity]),
		AvgPrice:         parseDecimal(fields[fieldAvgPrice]),
	}, nil
}

// Delete 删除持仓快照
func (c *positionRedisCache) Delete(ctx context.Context, accountID int64, symbol string) error {
	start := time.Now()

	err := c.client.Del(ctx, positionKey(accountID, symbol)).Err()
	metrics.RecordRedisOperation("position_del", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete position snapshot failed: %w", err)
	}
	return nil
}
