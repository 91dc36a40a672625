package model

import (
	"github.com/shopspring/decimal"
)

// Position 持仓
// 以 (account_id, symbol) 唯一，首次 reserve 时落库
// 不变量: quantity >= 0 且 reserved_quantity >= 0 恒成立
type Position struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID        int64           `gorm:"uniqueIndex:uk_account_symbol;not null" json:"account_id"`
	Symbol           string          `gorm:"type:varchar(32);uniqueIndex:uk_account_symbol;not null" json:"symbol"`
	Quantity         decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"quantity"`          // 持仓数量
	ReservedQuantity decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"reserved_quantity"` // 冻结数量
	AvgPrice         decimal.Decimal `gorm:"type:decimal(24,4);not null;default:0" json:"avg_price"`         // 持仓均价
	CreatedAt        int64           `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt        int64           `gorm:"type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (Position) TableName() string {
	return "positions"
}

// PositionSnapshot 持仓快照 (写入缓存的只读视图)
type PositionSnapshot struct {
	AccountID        int64           `json:"account_id"`
	Symbol           string          `json:"symbol"`
	Quantity         decimal.Decimal `json:"quantity"`
	ReservedQuantity decimal.Decimal `json:"reserved_quantity"`
	AvgPrice         decimal.Decimal `json:"avg_price"`
}

// Snapshot 生成持仓快照
func (p *Position) Snapshot() *PositionSnapshot {
	return &PositionSnapshot{
		AccountID:        p.AccountID,
		Symbol:           p.Symbol,
		Quantity:         p.Quantity,
		ReservedQuantity: p.ReservedQuantity,
		AvgPrice:         p.AvgPrice,
	}
}
