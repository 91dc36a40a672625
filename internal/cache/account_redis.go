// Package cache 提供账户/持仓快照的 Redis 缓存
// 缓存是尽力而为的读加速层，数据库永远是唯一事实来源:
// 写入失败只记日志和指标，不影响命令结果
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/hts-platform/hts-account/internal/metrics"
	"github.com/hts-platform/hts-account/internal/model"
)

// Redis key patterns
const (
	// 账户快照 key: acc:{account_id}
	accountKeyPattern = "acc:%d"
	// 持仓快照 key: pos:{account_id}:{symbol}
	positionKeyPattern = "pos:%d:%s"
)

// 账户快照 hash 字段
const (
	fieldAccountNo = "account_no"
	fieldBalance   = "balance"
	fieldReserved  = "reserved"
	fieldCurrency  = "currency"
	fieldStatus    = "status"
	fieldUpdatedAt = "updated_at"
)

// AccountCache 账户快照缓存接口
type AccountCache interface {
	// SetSnapshot 写入账户快照
	SetSnapshot(ctx context.Context, snapshot *model.AccountSnapshot) error

	// GetSnapshot 读取账户快照，缓存未命中返回 nil
	GetSnapshot(ctx context.Context, accountID int64) (*model.AccountSnapshot, error)

	// Delete 删除账户快照 (销户时调用)
	Delete(ctx context.Context, accountID int64) error
}

type accountRedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewAccountCache 创建账户缓存
// ttl 为 0 表示快照不过期
func NewAccountCache(client redis.UniversalClient, ttl time.Duration) AccountCache {
	return &accountRedisCache{client: client, ttl: ttl}
}

func accountKey(accountID int64) string {
	return fmt.Sprintf(accountKeyPattern, accountID)
}

// SetSnapshot 写入账户快照
func (c *accountRedisCache) SetSnapshot(ctx context.Context, snapshot *model.AccountSnapshot) error {
	start := time.Now()
	key := accountKey(snapshot.AccountID)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key,
		fieldAccountNo, snapshot.AccountNo,
		fieldBalance, snapshot.Balance.String(),
		fieldReserved, snapshot.Reserved.String(),
		fieldCurrency, snapshot.Currency,
		fieldStatus, snapshot.Status,
		fieldUpdatedAt, time.Now().UnixMilli(),
	)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)

	metrics.RecordRedisOperation("account_set", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("set account snapshot failed: %w", err)
	}
	return nil
}

// GetSnapshot 读取账户快照
func (c *accountRedisCache) GetSnapshot(ctx context.Context, accountID int64) (*model.AccountSnapshot, error) {
	start := time.Now()

	fields, err := c.client.HGetAll(ctx, accountKey(accountID)).Result()
	metrics.RecordRedisOperation("account_get", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("get account snapshot failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	return &model.AccountSnapshot{
		AccountID: accountID,
		AccountNo: fields[fieldAccountNo],
		Balance:   parseDecimal(fields[fieldBalance]),
		Reserved:  parseDecimal(fields[fieldReserved]),
		Currency:  fields[fieldCurrency],
		Status:    fields[fieldStatus],
	}, nil
}

// Delete 删除账户快照
func (c *accountRedisCache) Delete(ctx context.Context, accountID int64) error {
	start := time.Now()

	err := c.client.Del(ctx, accountKey(accountID)).Err()
	metrics.RecordRedisOperation("account_del", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete account snapshot failed: %w", err)
	}
	return nil
}

// parseDecimal 解析 hash 字段为 decimal
// 字段缺失或脏数据按零处理，缓存读不出数字不应让调用方失败
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
