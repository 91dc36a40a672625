package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func newPositionRepo(db *gorm.DB) *PositionRepository {
	base := NewRepository(db)
	return NewPositionRepository(base, NewOutboxRepository(base))
}

// positionColumns 返回 positions 表的所有列名
func positionColumns() []string {
	return []string{
		"id", "account_id", "symbol", "quantity", "reserved_quantity",
		"avg_price", "created_at", "updated_at",
	}
}

func positionLedgerColumns() []string {
	return []string{
		"id", "account_id", "symbol", "entry_type", "request_id",
		"order_id", "quantity_change", "created_at",
	}
}

func TestPositionRepository_ReservePosition_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newPositionRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO position_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO positions`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`UPDATE positions`).
		WillReturnRows(sqlmock.NewRows(positionColumns()).AddRow(
			1, 1001, "005930", "90.00000000", "10.00000000", "70000.0000", now, now,
		))
	expectOutboxInsert(mock)
	mock.ExpectCommit()

	out, err := repo.ReservePosition(ctx, 1001, "005930", "req-1", "order-1", decimal.NewFromInt(10))

	assert.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.True(t, out.Snapshot.Quantity.Equal(decimal.NewFromInt(90)))
	assert.True(t, out.Snapshot.ReservedQuantity.Equal(decimal.NewFromInt(10)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionRepository_ReservePosition_Duplicate(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newPositionRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO position_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	out, err := repo.ReservePosition(ctx, 1001, "005930", "req-1", "order-1", decimal.NewFromInt(10))

	assert.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Nil(t, out.Snapshot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionRepository_ReservePosition_InsufficientQuantity(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newPositionRepo(db)
	ctx := context.Background()

	// 无持仓账户的冻结: 先物化零持仓行，守卫条件判定不足，整体回滚
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO position_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO positions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE positions`).
		WillReturnRows(sqlmock.NewRows(positionColumns()))
	mock.ExpectRollback()

	out, err := repo.ReservePosition(ctx, 1001, "005930", "req-1", "order-1", decimal.NewFromInt(10))

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrInsufficientPosition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionRepository_UnreservePosition_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newPositionRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "position_ledger"`).
		WillReturnRows(sqlmock.NewRows(positionLedgerColumns()).AddRow(
			1, 1001, "005930", "RESERVE", "req-1", "order-1", "10.00000000", now,
		))
	mock.ExpectExec(`INSERT INTO position_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE positions`).
		WillReturnRows(sqlmock.NewRows(positionColumns()).AddRow(
			1, 1001, "005930", "100.00000000", "0.00000000", "70000.0000", now, now,
		))
	expectOutboxInsert(mock)
	mock.ExpectCommit()

	out, err := repo.UnreservePosition(ctx, 1001, "005930", "req-1")

	assert.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.True(t, out.Snapshot.Quantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, out.Snapshot.ReservedQuantity.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionRepository_UnreservePosition_ReservationNotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newPositionRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "position_ledger"`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectRollback()

	out, err := repo.UnreservePosition(ctx, 1001, "005930", "unknown-req")

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrPositionReservationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionRepository_UnreservePosition_SymbolMismatch(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newPositionRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	// 冻结流水属于另一标的: 拒绝解冻，事务回滚
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "position_ledger"`).
		WillReturnRows(sqlmock.NewRows(positionLedgerColumns()).AddRow(
			1, 1001, "005930", "RESERVE", "req-1", "order-1", "10.00000000", now,
		))
	mock.ExpectRollback()

	out, err := repo.UnreservePosition(ctx, 1001, "000660", "req-1")

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrPositionReservationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionRepository_GetPosition_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newPositionRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "positions"`).
		WillReturnError(gorm.ErrRecordNotFound)

	position, err := repo.GetPosition(ctx, 1001, "005930")

	assert.Nil(t, position)
	assert.ErrorIs(t, err, ErrPositionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
