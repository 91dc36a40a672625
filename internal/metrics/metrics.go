// Package metrics 提供 Prometheus 监控指标
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Account Service Metrics - 账户服务监控指标
var (
	// CommandsTotal 命令总数 (按命令和结果码分组)
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "commands_total",
			Help:      "命令总数，按命令(reserve_cash/unreserve_cash/...)和结果码分组",
		},
		[]string{"command", "result"},
	)

	// CommandLatency 命令处理延迟
	CommandLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "command_latency_seconds",
			Help:      "命令端到端处理延迟(秒)，含分片排队时间",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to 16s
		},
		[]string{"command"},
	)

	// DBWriteLatency 数据库写事务延迟
	DBWriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "db_write_latency_seconds",
			Help:      "数据库写事务延迟(秒)，按操作分组",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation"},
	)

	// DBDuplicatesTotal 幂等重放计数
	DBDuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "db_duplicates_total",
			Help:      "流水幂等键冲突(请求重放)总数，按操作分组",
		},
		[]string{"operation"},
	)

	// DBInsufficientTotal 余额/持仓不足计数
	DBInsufficientTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "db_insufficient_total",
			Help:      "条件更新未命中(余额或持仓不足)总数，按操作分组",
		},
		[]string{"operation"},
	)

	// DBErrorsTotal 数据库错误计数
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "db_errors_total",
			Help:      "数据库错误总数，按操作分组",
		},
		[]string{"operation"},
	)

	// ShardQueueDepth 分片队列深度
	ShardQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "shard_queue_depth",
			Help:      "分片待执行任务数，按分片 ID 分组",
		},
		[]string{"shard"},
	)

	// ShardWaitTime 分片排队等待时间
	ShardWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "shard_wait_seconds",
			Help:      "任务在分片队列中的等待时间(秒)",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"shard"},
	)

	// ShardProcessingTime 分片任务执行时间
	ShardProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "shard_processing_seconds",
			Help:      "任务在分片内的执行时间(秒)",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"shard"},
	)

	// RedisOperationLatency Redis 操作延迟
	RedisOperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "redis_operation_latency_seconds",
			Help:      "Redis 操作延迟(秒)，按操作类型分组",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to 200ms
		},
		[]string{"operation"},
	)

	// RedisFailuresTotal Redis 操作失败计数
	RedisFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "redis_failures_total",
			Help:      "Redis 操作失败总数。缓存为尽力而为，失败不影响命令结果，但需要关注失败率",
		},
		[]string{"operation"},
	)

	// OutboxPendingGauge Outbox 待处理消息数
	OutboxPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "outbox_pending",
			Help:      "Outbox 待发送事件数",
		},
	)

	// ConsumerLag 消费延迟
	ConsumerLag = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hts",
			Subsystem: "account",
			Name:      "consumer_lag_seconds",
			Help:      "Kafka 消息从产生到被消费的延迟(秒)，按 topic 分组",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"topic"},
	)
)

// RecordCommand 记录一次命令执行
func RecordCommand(command, result string, elapsed time.Duration) {
	CommandsTotal.WithLabelValues(command, result).Inc()
	CommandLatency.WithLabelValues(command).Observe(elapsed.Seconds())
}

// RecordDBWrite 记录一次写事务
func RecordDBWrite(operation string, elapsed time.Duration) {
	DBWriteLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// IncrDuplicate 记录一次幂等重放
func IncrDuplicate(operation string) {
	DBDuplicatesTotal.WithLabelValues(operation).Inc()
}

// IncrInsufficient 记录一次条件更新未命中
func IncrInsufficient(operation string) {
	DBInsufficientTotal.WithLabelValues(operation).Inc()
}

// IncrDBError 记录一次数据库错误
func IncrDBError(operation string) {
	DBErrorsTotal.WithLabelValues(operation).Inc()
}

// UpdateShardQueueDepth 更新分片队列深度
func UpdateShardQueueDepth(shardID, depth int) {
	ShardQueueDepth.WithLabelValues(strconv.Itoa(shardID)).Set(float64(depth))
}

// RecordShardWait 记录任务排队等待时间
func RecordShardWait(shardID int, elapsed time.Duration) {
	ShardWaitTime.WithLabelValues(strconv.Itoa(shardID)).Observe(elapsed.Seconds())
}

// RecordShardProcessing 记录任务执行时间
func RecordShardProcessing(shardID int, elapsed time.Duration) {
	ShardProcessingTime.WithLabelValues(strconv.Itoa(shardID)).Observe(elapsed.Seconds())
}

// RecordRedisOperation 记录一次 Redis 操作
func RecordRedisOperation(operation string, elapsed time.Duration, err error) {
	RedisOperationLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
	if err != nil {
		RedisFailuresTotal.WithLabelValues(operation).Inc()
	}
}

// RecordConsumerLag 记录消费延迟
func RecordConsumerLag(topic string, lagSeconds float64) {
	ConsumerLag.WithLabelValues(topic).Observe(lagSeconds)
}
