package model

import (
	"encoding/json"
)

// OutboxStatus 消息状态
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"    // 待发送
	OutboxStatusProcessing OutboxStatus = "processing" // 处理中 (已被某实例认领)
	OutboxStatusSent       OutboxStatus = "sent"       // 已发送
	OutboxStatusFailed     OutboxStatus = "failed"     // 发送失败
)

// OutboxEvent 本地消息表记录
// 与触发它的资金变更在同一事务内写入，保证事件恰好在变更提交时被记录
type OutboxEvent struct {
	ID           int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID      string       `gorm:"type:varchar(64);uniqueIndex;not null" json:"event_id"` // 全局唯一 ID
	Topic        string       `gorm:"type:varchar(64);not null" json:"topic"`                // Kafka topic
	PartitionKey string       `gorm:"type:varchar(64);not null" json:"partition_key"`        // 分区键 (账户 ID)
	Payload      []byte       `gorm:"type:jsonb;not null" json:"payload"`                    // 消息内容
	Status       OutboxStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_status_created" json:"status"`
	RetryCount   int          `gorm:"type:int;not null;default:0" json:"retry_count"`
	MaxRetries   int          `gorm:"type:int;not null;default:5" json:"max_retries"`
	LastError    string       `gorm:"type:varchar(500)" json:"last_error"`
	CreatedAt    int64        `gorm:"type:bigint;not null;index:idx_status_created" json:"created_at"`
	UpdatedAt    int64        `gorm:"type:bigint" json:"updated_at"`
	SentAt       int64        `gorm:"type:bigint" json:"sent_at"`
}

// TableName 返回表名
func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// SetPayload 设置消息内容
func (e *OutboxEvent) SetPayload(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.Payload = data
	return nil
}

// GetPayload 获取消息内容
func (e *OutboxEvent) GetPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// AccountCreatedPayload 开户事件载荷
type AccountCreatedPayload struct {
	AccountID int64  `json:"account_id"`
	AccountNo string `json:"account_no"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// AccountStatusChangedPayload 账户状态变更事件载荷
type AccountStatusChangedPayload struct {
	AccountID int64  `json:"account_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// AccountDeletedPayload 销户事件载荷
type AccountDeletedPayload struct {
	AccountID int64 `json:"account_id"`
	Timestamp int64 `json:"timestamp"`
}

// ReservationPayload 冻结/解冻事件载荷
// account-reserved 与 account-released 共用
type ReservationPayload struct {
	AccountID int64  `json:"account_id"`
	Symbol    string `json:"symbol,omitempty"` // 持仓冻结时携带
	RequestID string `json:"request_id"`
	OrderID   string `json:"order_id,omitempty"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// BalanceUpdatedPayload 余额变更事件载荷 (入金/出金)
type BalanceUpdatedPayload struct {
	AccountID int64  `json:"account_id"`
	Balance   string `json:"balance"`
	Reserved  string `json:"reserved"`
	Currency  string `json:"currency"`
	Timestamp int64  `json:"timestamp"`
}
