package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

// Schema 建表语句
//
//go:embed schema.sql
var Schema string

// EnsureSchema 建表（幂等）
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PostgresStore 基于 database/sql 的存储
type PostgresStore struct {
	db     *sql.DB
	assets *AssetRepository
	orders *OrderRepository
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		assets: NewAssetRepository(db),
		orders: NewOrderRepository(db),
	}
}

func (s *PostgresStore) Assets() AssetStore { return s.assets }

func (s *PostgresStore) Orders() OrderStore { return s.orders }

type pgTx struct {
	assets *AssetRepository
	orders *OrderRepository
}

func (t *pgTx) Assets() AssetStore { return t.assets }

func (t *pgTx) Orders() OrderStore { return t.orders }

// WithinTx 在单个数据库事务中执行 fn，事务内读取加行锁
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	unit := &pgTx{
		assets: &AssetRepository{q: tx, forUpdate: true},
		orders: &OrderRepository{q: tx, forUpdate: true, now: s.orders.now},
	}
	if err := fn(ctx, unit); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
