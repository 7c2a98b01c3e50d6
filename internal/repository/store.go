package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AssetStore 资产余额存储，资产名在实现内统一规范化
type AssetStore interface {
	// FindBalance 不存在时返回 ErrAssetNotFound
	FindBalance(ctx context.Context, customerID, assetName string) (*Asset, error)
	AdjustUsable(ctx context.Context, customerID, assetName string, delta decimal.Decimal) error
	// AdjustSize 正向调整在余额不存在时创建 usable 为 0 的记录
	AdjustSize(ctx context.Context, customerID, assetName string, delta decimal.Decimal) error
	ListByCustomer(ctx context.Context, customerID string, page Page) ([]*Asset, error)
	Upsert(ctx context.Context, asset *Asset) error
}

// OrderStore 订单存储
type OrderStore interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, orderID uuid.UUID) (*Order, error)
	// FindPending 订单不存在或非 PENDING 时返回 ErrOrderNotFound
	FindPending(ctx context.Context, orderID uuid.UUID) (*Order, error)
	FindPendingByAssetAndSide(ctx context.Context, assetName string, side Side) ([]*Order, error)
	// UpdateSize 仅在 PENDING 时生效，否则返回 ErrOrderNotPending
	UpdateSize(ctx context.Context, orderID uuid.UUID, size decimal.Decimal) error
	// TransitionStatus 条件更新，当前状态不是 from 时返回 false
	TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to Status) (bool, error)
	ExistsByID(ctx context.Context, orderID uuid.UUID) (bool, error)
	ExistsByIDAndCustomer(ctx context.Context, orderID uuid.UUID, customerID string) (bool, error)
	ListByCustomer(ctx context.Context, customerID string, filter OrderFilter) ([]*Order, error)
}

// Tx 事务内可见的存储
type Tx interface {
	Assets() AssetStore
	Orders() OrderStore
}

// Store 带事务边界的存储。fn 返回错误时事务内所有写入回滚
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
