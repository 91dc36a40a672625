package model

import (
	"github.com/shopspring/decimal"
)

// LedgerEntryType 流水类型
type LedgerEntryType string

const (
	LedgerEntryReserve   LedgerEntryType = "RESERVE"   // 冻结
	LedgerEntryUnreserve LedgerEntryType = "UNRESERVE" // 解冻
)

// AccountLedger 资金流水 (追加写，不可变)
// (account_id, request_id, entry_type) 唯一约束即幂等键:
// 重复插入视为重放，不再产生任何资金效果
type AccountLedger struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64           `gorm:"uniqueIndex:uk_account_request_type;index;not null" json:"account_id"`
	EntryType LedgerEntryType `gorm:"type:varchar(16);uniqueIndex:uk_account_request_type;not null" json:"entry_type"`
	RequestID string          `gorm:"type:varchar(64);uniqueIndex:uk_account_request_type;not null" json:"request_id"`
	OrderID   string          `gorm:"type:varchar(64);index" json:"order_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(24,4);not null" json:"amount"`
	CreatedAt int64           `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
}

// TableName 返回表名
func (AccountLedger) TableName() string {
	return "account_ledger"
}

// PositionLedger 持仓流水 (追加写，不可变)
// 与 AccountLedger 同构，额外携带 symbol；quantity_change 在解冻时记负数
type PositionLedger struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID      int64           `gorm:"uniqueIndex:uk_account_request_type;index;not null" json:"account_id"`
	Symbol         string          `gorm:"type:varchar(32);not null" json:"symbol"`
	EntryType      LedgerEntryType `gorm:"type:varchar(16);uniqueIndex:uk_account_request_type;not null" json:"entry_type"`
	RequestID      string          `gorm:"type:varchar(64);uniqueIndex:uk_account_request_type;not null" json:"request_id"`
	OrderID        string          `gorm:"type:varchar(64);index" json:"order_id"`
	QuantityChange decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"quantity_change"`
	CreatedAt      int64           `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
}

// TableName 返回表名
func (PositionLedger) TableName() string {
	return "position_ledger"
}

// ProcessedEvent 入站事件去重记录
// event_id 由事件的不可变字段确定性生成，主键冲突即判定为重复事件
type ProcessedEvent struct {
	EventID   string `gorm:"primaryKey;type:varchar(128)" json:"event_id"`
	EventType string `gorm:"type:varchar(32);not null" json:"event_type"`
	AccountID int64  `gorm:"index;not null" json:"account_id"`
	CreatedAt int64  `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
}

// TableName 返回表名
func (ProcessedEvent) TableName() string {
	return "processed_events"
}
