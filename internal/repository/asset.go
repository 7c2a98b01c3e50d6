package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// querier 由 *sql.DB 与 *sql.Tx 共同实现
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const (
	selectAssetColumns = `SELECT asset_id, customer_id, asset_name, size, usable_size FROM brokerage.assets`

	queryFindBalance = selectAssetColumns + `
		WHERE customer_id = $1 AND asset_name = $2`

	queryListAssets = selectAssetColumns + `
		WHERE customer_id = $1
		ORDER BY asset_name
		LIMIT $2 OFFSET $3`

	execAdjustUsable = `
		UPDATE brokerage.assets
		SET usable_size = usable_size + $1
		WHERE customer_id = $2 AND asset_name = $3`

	execDecreaseSize = `
		UPDATE brokerage.assets
		SET size = size + $1
		WHERE customer_id = $2 AND asset_name = $3`

	execIncreaseSize = `
		INSERT INTO brokerage.assets (asset_id, customer_id, asset_name, size, usable_size)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (customer_id, asset_name)
		DO UPDATE SET size = brokerage.assets.size + EXCLUDED.size`

	execUpsertAsset = `
		INSERT INTO brokerage.assets (asset_id, customer_id, asset_name, size, usable_size)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (customer_id, asset_name)
		DO UPDATE SET size = EXCLUDED.size, usable_size = EXCLUDED.usable_size`

	lockSuffix = `
		FOR UPDATE`
)

// AssetRepository Postgres 资产仓储
type AssetRepository struct {
	q         querier
	forUpdate bool
}

// NewAssetRepository 创建仓储
func NewAssetRepository(db *sql.DB) *AssetRepository {
	return &AssetRepository{q: db}
}

// FindBalance 查询余额，事务内加行锁
func (r *AssetRepository) FindBalance(ctx context.Context, customerID, assetName string) (*Asset, error) {
	query := queryFindBalance
	if r.forUpdate {
		query += lockSuffix
	}
	var a Asset
	err := r.q.QueryRowContext(ctx, query, customerID, NormalizeAssetName(assetName)).Scan(
		&a.AssetID, &a.CustomerID, &a.AssetName, &a.Size, &a.UsableSize,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}
	return &a, nil
}

// AdjustUsable 调整可用数量
func (r *AssetRepository) AdjustUsable(ctx context.Context, customerID, assetName string, delta decimal.Decimal) error {
	result, err := r.q.ExecContext(ctx, execAdjustUsable, delta, customerID, NormalizeAssetName(assetName))
	if err != nil {
		return fmt.Errorf("adjust usable size: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// AdjustSize 调整持有数量
func (r *AssetRepository) AdjustSize(ctx context.Context, customerID, assetName string, delta decimal.Decimal) error {
	name := NormalizeAssetName(assetName)
	if delta.IsPositive() {
		if _, err := r.q.ExecContext(ctx, execIncreaseSize, uuid.New(), customerID, name, delta); err != nil {
			return fmt.Errorf("increase size: %w", err)
		}
		return nil
	}

	result, err := r.q.ExecContext(ctx, execDecreaseSize, delta, customerID, name)
	if err != nil {
		return fmt.Errorf("decrease size: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// ListByCustomer 分页查询客户资产
func (r *AssetRepository) ListByCustomer(ctx context.Context, customerID string, page Page) ([]*Asset, error) {
	rows, err := r.q.QueryContext(ctx, queryListAssets, customerID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.AssetID, &a.CustomerID, &a.AssetName, &a.Size, &a.UsableSize); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

// Upsert 写入或覆盖余额（初始化入金）
func (r *AssetRepository) Upsert(ctx context.Context, asset *Asset) error {
	if asset.AssetID == uuid.Nil {
		asset.AssetID = uuid.New()
	}
	asset.AssetName = NormalizeAssetName(asset.AssetName)
	if _, err := r.q.ExecContext(ctx, execUpsertAsset,
		asset.AssetID, asset.CustomerID, asset.AssetName, asset.Size, asset.UsableSize,
	); err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}
	return nil
}
