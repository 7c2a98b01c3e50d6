// Package service 订单生命周期、撮合与资产账本
package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/exchange/brokerage/internal/repository"
	commonerrors "github.com/exchange/brokerage/pkg/errors"
)

// Ledger 资产账本原语。余额充足性由调用方在同一事务内保证
type Ledger struct {
	assets repository.AssetStore
}

// NewLedger 绑定到一个资产存储（通常为事务内的）
func NewLedger(assets repository.AssetStore) *Ledger {
	return &Ledger{assets: assets}
}

// Balance 查询余额
func (l *Ledger) Balance(ctx context.Context, customerID, assetName string) (*repository.Asset, error) {
	a, err := l.assets.FindBalance(ctx, customerID, assetName)
	if err != nil {
		return nil, mapStoreErr(err, assetName)
	}
	return a, nil
}

// Reserve usable -= amount
func (l *Ledger) Reserve(ctx context.Context, customerID, assetName string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return mapStoreErr(l.assets.AdjustUsable(ctx, customerID, assetName, amount.Neg()), assetName)
}

// Release usable += amount
func (l *Ledger) Release(ctx context.Context, customerID, assetName string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return mapStoreErr(l.assets.AdjustUsable(ctx, customerID, assetName, amount), assetName)
}

// SettleIncrease size += amount
func (l *Ledger) SettleIncrease(ctx context.Context, customerID, assetName string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return mapStoreErr(l.assets.AdjustSize(ctx, customerID, assetName, amount), assetName)
}

// SettleDecrease size -= amount
func (l *Ledger) SettleDecrease(ctx context.Context, customerID, assetName string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return mapStoreErr(l.assets.AdjustSize(ctx, customerID, assetName, amount.Neg()), assetName)
}

func checkAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return commonerrors.Newf(commonerrors.CodeInvalidParam, "ledger amount must not be negative: %s", amount)
	}
	if !amount.Equal(amount.Truncate(repository.AmountScale)) {
		return commonerrors.Newf(commonerrors.CodeInvalidParam, "ledger amount exceeds %d decimals: %s", repository.AmountScale, amount)
	}
	return nil
}

// reservation 订单占用的资产与数量：买单占用现金 size*price，卖单占用标的 size
func reservation(order *repository.Order, cashAsset string) (string, decimal.Decimal) {
	if order.Side == repository.SideBuy {
		return cashAsset, order.Size.Mul(order.Price)
	}
	return order.AssetName, order.Size
}
