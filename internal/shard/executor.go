// Package shard 提供按账户分片的单写入者执行器
// 同一账户的所有命令被路由到同一分片，由单个 goroutine 顺序执行，
// 天然消除同账户并发写的锁竞争与死锁
package shard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hts-platform/hts-account/internal/logger"
	"github.com/hts-platform/hts-account/internal/metrics"
)

var (
	ErrExecutorStopped = errors.New("shard executor stopped")
	ErrQueueFull       = errors.New("shard queue full")
)

// Result 任务执行结果
type Result struct {
	Value interface{}
	Err   error
}

// task 队列中的一个待执行任务
type task struct {
	ctx        context.Context
	fn         func(ctx context.Context) (interface{}, error)
	done       chan Result
	enqueuedAt time.Time
}

// Executor 单分片执行器
// 内部只有一个 worker goroutine，队列内任务严格 FIFO
type Executor struct {
	id      int
	tasks   chan *task
	stopc   chan struct{}
	donec   chan struct{} // worker 退出(排空完成)后关闭
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewExecutor 创建分片执行器并启动 worker
func NewExecutor(id, queueSize int) *Executor {
	e := &Executor{
		id:    id,
		tasks: make(chan *task, queueSize),
		stopc: make(chan struct{}),
		donec: make(chan struct{}),
	}

	e.wg.Add(1)
	go e.loop()

	return e
}

// ID 返回分片 ID
func (e *Executor) ID() int {
	return e.id
}

// Do 提交任务并等待执行结果
// 队列满时立即返回 ErrQueueFull，作用于单分片的背压信号
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if e.stopped.Load() {
		return nil, ErrExecutorStopped
	}

	t := &task{
		ctx:        ctx,
		fn:         fn,
		done:       make(chan Result, 1),
		enqueuedAt: time.Now(),
	}

	select {
	case e.tasks <- t:
		metrics.UpdateShardQueueDepth(e.id, len(e.tasks))
	default:
		return nil, ErrQueueFull
	}

	select {
	case r := <-t.done:
		return r.Value, r.Err
	case <-ctx.Done():
		// 任务仍在队列中，worker 执行前会检查 ctx 并跳过
		return nil, ctx.Err()
	case <-e.donec:
		// worker 已退出。入队发生在排空之后时任务不会再被执行，
		// 否则结果已经在 done 里
		select {
		case r := <-t.done:
			return r.Value, r.Err
		default:
			return nil, ErrExecutorStopped
		}
	}
}

// Stop 停止执行器
// 排空已入队的任务后退出，保证已接受的命令不丢失
func (e *Executor) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	close(e.stopc)
	e.wg.Wait()
}

func (e *Executor) loop() {
	defer e.wg.Done()
	defer close(e.donec)

	for {
		select {
		case t := <-e.tasks:
			e.run(t)
		case <-e.stopc:
			e.drain()
			return
		}
	}
}

// drain 排空队列
func (e *Executor) drain() {
	for {
		select {
		case t := <-e.tasks:
			e.run(t)
		default:
			metrics.UpdateShardQueueDepth(e.id, 0)
			return
		}
	}
}

func (e *Executor) run(t *task) {
	metrics.RecordShardWait(e.id, time.Since(t.enqueuedAt))
	metrics.UpdateShardQueueDepth(e.id, len(e.tasks))

	// 排队期间调用方已放弃的任务不再执行
	if err := t.ctx.Err(); err != nil {
		t.done <- Result{Err: err}
		return
	}

	start := time.Now()
	value, err := e.execute(t)
	metrics.RecordShardProcessing(e.id, time.Since(start))

	t.done <- Result{Value: value, Err: err}
}

// execute 执行任务，panic 转为 error，避免单个任务击穿整个分片
func (e *Executor) execute(t *task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("shard task panicked", "shard", e.id, "panic", r)
			err = errors.New("shard task panicked")
		}
	}()
	return t.fn(t.ctx)
}
