package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func newMockDB(t *testing.T) (*AssetRepository, *OrderRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAssetRepository(db), NewOrderRepository(db), mock
}

func TestAssetRepository_FindBalance(t *testing.T) {
	repo, _, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"asset_id", "customer_id", "asset_name", "size", "usable_size"}).
		AddRow("8a3c0c39-4b7e-4a55-9a8e-9d0f4c2c1a01", "c-1", "TRY", "500000", "499000.50")
	mock.ExpectQuery(regexp.QuoteMeta(queryFindBalance)).
		WithArgs("c-1", "TRY").
		WillReturnRows(rows)

	a, err := repo.FindBalance(context.Background(), "c-1", "try")
	if err != nil {
		t.Fatalf("find balance: %v", err)
	}
	if !a.UsableSize.Equal(decimal.RequireFromString("499000.5")) {
		t.Fatalf("unexpected usable size %s", a.UsableSize)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssetRepository_FindBalanceNotFound(t *testing.T) {
	repo, _, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryFindBalance)).
		WithArgs("c-1", "GOLD").
		WillReturnRows(sqlmock.NewRows([]string{"asset_id", "customer_id", "asset_name", "size", "usable_size"}))

	if _, err := repo.FindBalance(context.Background(), "c-1", "GOLD"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestAssetRepository_AdjustUsable(t *testing.T) {
	repo, _, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(execAdjustUsable)).
		WithArgs(decimal.NewFromInt(-1000), "c-1", "TRY").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(execAdjustUsable)).
		WithArgs(decimal.NewFromInt(5), "c-2", "TRY").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.AdjustUsable(context.Background(), "c-1", "try", decimal.NewFromInt(-1000)); err != nil {
		t.Fatalf("adjust usable: %v", err)
	}
	if err := repo.AdjustUsable(context.Background(), "c-2", "TRY", decimal.NewFromInt(5)); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssetRepository_AdjustSize(t *testing.T) {
	repo, _, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(execIncreaseSize)).
		WithArgs(sqlmock.AnyArg(), "buyer", "GOLD", decimal.NewFromInt(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(execDecreaseSize)).
		WithArgs(decimal.NewFromInt(-1000), "buyer", "TRY").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(execDecreaseSize)).
		WithArgs(decimal.NewFromInt(-10), "ghost", "GOLD").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if err := repo.AdjustSize(ctx, "buyer", "gold", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if err := repo.AdjustSize(ctx, "buyer", "TRY", decimal.NewFromInt(-1000)); err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if err := repo.AdjustSize(ctx, "ghost", "GOLD", decimal.NewFromInt(-10)); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssetRepository_ListByCustomer(t *testing.T) {
	repo, _, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"asset_id", "customer_id", "asset_name", "size", "usable_size"}).
		AddRow("8a3c0c39-4b7e-4a55-9a8e-9d0f4c2c1a01", "c-1", "GOLD", "10", "10").
		AddRow("8a3c0c39-4b7e-4a55-9a8e-9d0f4c2c1a02", "c-1", "TRY", "100", "50")
	mock.ExpectQuery(regexp.QuoteMeta(queryListAssets)).
		WithArgs("c-1", 10, 20).
		WillReturnRows(rows)

	assets, err := repo.ListByCustomer(context.Background(), "c-1", Page{Number: 2, Size: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(assets) != 2 || assets[1].AssetName != "TRY" {
		t.Fatalf("unexpected assets: %+v", assets)
	}
}

func TestAssetRepository_Upsert(t *testing.T) {
	repo, _, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(execUpsertAsset)).
		WithArgs(sqlmock.AnyArg(), "c-1", "TRY", decimal.NewFromInt(500000), decimal.NewFromInt(500000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	a := &Asset{CustomerID: "c-1", AssetName: "try", Size: decimal.NewFromInt(500000), UsableSize: decimal.NewFromInt(500000)}
	if err := repo.Upsert(context.Background(), a); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if a.AssetName != "TRY" {
		t.Fatalf("expected normalized name, got %q", a.AssetName)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
