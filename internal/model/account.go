package model

import (
	"github.com/shopspring/decimal"
)

// AccountStatus 账户状态
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"    // 正常
	AccountStatusSuspended AccountStatus = "SUSPENDED" // 冻结 (禁止交易)
	AccountStatusClosed    AccountStatus = "CLOSED"    // 已销户 (软删除)
)

// Valid 检查状态是否合法
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusSuspended, AccountStatusClosed:
		return true
	}
	return false
}

// Account 资金账户
// 不变量: balance >= 0 且 reserved >= 0 恒成立
// reserve 将 balance 划转到 reserved，release 反向划转，金额相同
type Account struct {
	AccountID int64           `gorm:"primaryKey;autoIncrement:false;column:account_id" json:"account_id"`
	AccountNo string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"account_no"`
	Balance   decimal.Decimal `gorm:"type:decimal(24,4);not null;default:0" json:"balance"`   // 可用余额
	Reserved  decimal.Decimal `gorm:"type:decimal(24,4);not null;default:0" json:"reserved"`  // 冻结金额
	Currency  string          `gorm:"type:varchar(8);not null;default:'KRW'" json:"currency"` // 计价币种
	Status    AccountStatus   `gorm:"type:varchar(16);not null;default:'ACTIVE'" json:"status"`
	LastLogin int64           `gorm:"type:bigint;not null;default:0" json:"last_login"` // 最近登录时间 (毫秒)
	CreatedAt int64           `gorm:"type:bigint;not null;autoCreateTime:milli" json:"created_at"`
	UpdatedAt int64           `gorm:"type:bigint;not null;autoUpdateTime:milli" json:"updated_at"`
}

// TableName 返回表名
func (Account) TableName() string {
	return "accounts"
}

// AccountSnapshot 账户快照 (写入缓存的只读视图)
type AccountSnapshot struct {
	AccountID int64           `json:"account_id"`
	AccountNo string          `json:"account_no"`
	Balance   decimal.Decimal `json:"balance"`
	Reserved  decimal.Decimal `json:"reserved"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
}

// Snapshot 生成账户快照
func (a *Account) Snapshot() *AccountSnapshot {
	return &AccountSnapshot{
		AccountID: a.AccountID,
		AccountNo: a.AccountNo,
		Balance:   a.Balance,
		Reserved:  a.Reserved,
		Currency:  a.Currency,
		Status:    string(a.Status),
	}
}
