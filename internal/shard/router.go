package shard

import (
	"context"

	"github.com/hts-platform/hts-account/internal/logger"
)

// Router 分片路由器
// 固定数量的分片，按账户 ID 取模路由；
// 同一账户的命令永远落在同一分片，保证串行执行
type Router struct {
	executors []*Executor
}

// NewRouter 创建路由器并启动全部分片
func NewRouter(shards, queueSize int) *Router {
	executors := make([]*Executor, shards)
	for i := range executors {
		executors[i] = NewExecutor(i, queueSize)
	}

	logger.Info("shard router started", "shards", shards, "queue_size", queueSize)

	return &Router{executors: executors}
}

// Shards 返回分片数
func (r *Router) Shards() int {
	return len(r.executors)
}

// Route 返回账户所属的分片
// floorMod 保证负数账户 ID 也能映射到合法分片
func (r *Router) Route(accountID int64) *Executor {
	n := int64(len(r.executors))
	idx := ((accountID % n) + n) % n
	return r.executors[idx]
}

// Do 将任务路由到账户所属分片并等待结果
func (r *Router) Do(ctx context.Context, accountID int64, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	return r.Route(accountID).Do(ctx, fn)
}

// Stop 停止全部分片，排空各自队列后返回
func (r *Router) Stop() {
	for _, e := range r.executors {
		e.Stop()
	}
	logger.Info("shard router stopped")
}

// Invoke 类型化的任务提交
func Invoke[T any](ctx context.Context, r *Router, accountID int64, fn func(ctx context.Context) (T, error)) (T, error) {
	value, err := r.Do(ctx, accountID, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, ok := value.(T)
	if !ok {
		var zero T
		return zero, err
	}
	return out, nil
}
