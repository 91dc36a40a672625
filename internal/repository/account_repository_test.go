package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hts-platform/hts-account/internal/model"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return gormDB, mock, cleanup
}

func newAccountRepo(db *gorm.DB) *AccountRepository {
	base := NewRepository(db)
	return NewAccountRepository(base, NewOutboxRepository(base))
}

// accountColumns 返回 accounts 表的所有列名
func accountColumns() []string {
	return []string{
		"account_id", "account_no", "balance", "reserved",
		"currency", "status", "last_login", "created_at", "updated_at",
	}
}

func accountLedgerColumns() []string {
	return []string{
		"id", "account_id", "entry_type", "request_id", "order_id", "amount", "created_at",
	}
}

func expectOutboxInsert(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`INSERT INTO "outbox_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
}

func TestAccountRepository_ReserveCash_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO account_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE accounts`).
		WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow(
			1001, "ACC-1001", "900.0000", "100.0000", "KRW", "ACTIVE", 0, now, now,
		))
	expectOutboxInsert(mock)
	mock.ExpectCommit()

	out, err := repo.ReserveCash(ctx, 1001, "req-1", "order-1", decimal.NewFromInt(100))

	assert.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.NotNil(t, out.Snapshot)
	assert.True(t, out.Snapshot.Balance.Equal(decimal.NewFromInt(900)))
	assert.True(t, out.Snapshot.Reserved.Equal(decimal.NewFromInt(100)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_ReserveCash_Duplicate(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()

	// 幂等键冲突: 流水插入影响 0 行，余额不动
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO account_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	out, err := repo.ReserveCash(ctx, 1001, "req-1", "order-1", decimal.NewFromInt(100))

	assert.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Nil(t, out.Snapshot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_ReserveCash_InsufficientFunds(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()

	// 条件更新未命中且账户存在 -> 余额不足，整个事务回滚
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO account_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE accounts`).
		WillReturnRows(sqlmock.NewRows(accountColumns()))
	mock.ExpectQuery(`SELECT count`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	out, err := repo.ReserveCash(ctx, 1001, "req-1", "order-1", decimal.NewFromInt(100))

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_ReserveCash_AccountNotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO account_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE accounts`).
		WillReturnRows(sqlmock.NewRows(accountColumns()))
	mock.ExpectQuery(`SELECT count`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	out, err := repo.ReserveCash(ctx, 9999, "req-1", "order-1", decimal.NewFromInt(100))

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_UnreserveCash_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "account_ledger"`).
		WillReturnRows(sqlmock.NewRows(accountLedgerColumns()).AddRow(
			1, 1001, "RESERVE", "req-1", "order-1", "100.0000", now,
		))
	mock.ExpectExec(`INSERT INTO account_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE accounts`).
		WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow(
			1001, "ACC-1001", "1000.0000", "0.0000", "KRW", "ACTIVE", 0, now, now,
		))
	expectOutboxInsert(mock)
	mock.ExpectCommit()

	out, err := repo.UnreserveCash(ctx, 1001, "req-1")

	assert.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.True(t, out.Snapshot.Balance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, out.Snapshot.Reserved.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_UnreserveCash_ReservationNotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "account_ledger"`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectRollback()

	out, err := repo.UnreserveCash(ctx, 1001, "unknown-req")

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrReservationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_UnreserveCash_Duplicate(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "account_ledger"`).
		WillReturnRows(sqlmock.NewRows(accountLedgerColumns()).AddRow(
			1, 1001, "RESERVE", "req-1", "order-1", "100.0000", now,
		))
	mock.ExpectExec(`INSERT INTO account_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	out, err := repo.UnreserveCash(ctx, 1001, "req-1")

	assert.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_CreateAccount_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "accounts"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectOutboxInsert(mock)
	mock.ExpectCommit()

	err := repo.CreateAccount(ctx, &model.Account{
		AccountID: 1001,
		AccountNo: "ACC-1001",
		Currency:  "KRW",
		Status:    model.AccountStatusActive,
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_CreateAccount_Duplicate(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "accounts"`).
		WillReturnError(gorm.ErrDuplicatedKey)
	mock.ExpectRollback()

	err := repo.CreateAccount(ctx, &model.Account{
		AccountID: 1001,
		AccountNo: "ACC-1001",
		Status:    model.AccountStatusActive,
	})

	assert.ErrorIs(t, err, ErrDuplicateAccount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_DeleteAccount_SoftDelete(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "accounts"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectOutboxInsert(mock)
	mock.ExpectCommit()

	err := repo.DeleteAccount(ctx, 1001)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_DeleteAccount_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "accounts"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.DeleteAccount(ctx, 9999)

	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Withdraw_InsufficientFunds(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE accounts`).
		WillReturnRows(sqlmock.NewRows(accountColumns()))
	mock.ExpectQuery(`SELECT count`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	out, err := repo.Withdraw(ctx, 1001, decimal.NewFromInt(100000))

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_GetAccount_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := newAccountRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "accounts"`).
		WillReturnError(gorm.ErrRecordNotFound)

	account, err := repo.GetAccount(ctx, 9999)

	assert.Nil(t, account)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
