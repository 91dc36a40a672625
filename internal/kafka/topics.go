// Package kafka 提供 Kafka 生产者和消费者
package kafka

// Kafka topic 名称
const (
	// 账户生命周期 (account → downstream)
	TopicAccountCreated       = "account-created"
	TopicAccountStatusChanged = "account-status-changed"
	TopicAccountDeleted       = "account-deleted"

	// 资金/持仓变动 (account → downstream)
	TopicAccountReserved = "account-reserved"
	TopicAccountReleased = "account-released"
	TopicBalanceUpdated  = "balance-updated"

	// 入站事件 (auth → account)
	TopicLoginEvents = "login-events"
)

// Message Kafka 消息结构
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp int64
}
