// Package service 实现账户命令服务
// 命令流程: 参数校验 -> 按账户分片串行执行写事务 -> 尽力刷新缓存
package service

import (
	"errors"

	"github.com/hts-platform/hts-account/internal/model"
	"github.com/hts-platform/hts-account/internal/repository"
)

// Code 命令结果码
type Code string

const (
	CodeSuccess              Code = "SUCCESS"
	CodeAccountNotFound      Code = "ACCOUNT_NOT_FOUND"
	CodeInvalidAmount        Code = "INVALID_AMOUNT"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodePositionNotFound     Code = "POSITION_NOT_FOUND"
	CodeInsufficientPosition Code = "INSUFFICIENT_POSITION"
	CodeDuplicateRequest     Code = "DUPLICATE_REQUEST"
	CodeInternalError        Code = "INTERNAL_ERROR"
)

// Success 判断结果码是否为成功
func (c Code) Success() bool {
	return c == CodeSuccess
}

// Result 命令执行结果
// Duplicate 为 true 表示命中幂等键的重放，结果码仍为 SUCCESS
type Result struct {
	Code      Code
	Duplicate bool
	Account   *model.AccountSnapshot
	Position  *model.PositionSnapshot
}

// errToCode 将仓储层错误映射为结果码
// 解冻找不到对应的冻结流水按各自侧的不存在语义映射:
// 资金侧视同账户不存在，持仓侧视同持仓不存在
func errToCode(err error) Code {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrReservationNotFound):
		return CodeAccountNotFound
	case errors.Is(err, repository.ErrInsufficientFunds),
		errors.Is(err, repository.ErrInsufficientReserved):
		return CodeInsufficientFunds
	case errors.Is(err, repository.ErrPositionNotFound),
		errors.Is(err, repository.ErrPositionReservationNotFound):
		return CodePositionNotFound
	case errors.Is(err, repository.ErrInsufficientPosition):
		return CodeInsufficientPosition
	case errors.Is(err, repository.ErrDuplicateAccount):
		return CodeDuplicateRequest
	default:
		return CodeInternalError
	}
}
