package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	selectOrderColumns = `SELECT order_id, customer_id, asset_name, side, size, price, status, create_date, update_date
		FROM brokerage.orders`

	queryGetOrder = selectOrderColumns + `
		WHERE order_id = $1`

	queryFindPending = selectOrderColumns + `
		WHERE order_id = $1 AND status = $2`

	queryFindPendingByAssetAndSide = selectOrderColumns + `
		WHERE asset_name = $1 AND side = $2 AND status = $3
		ORDER BY create_date, order_id`

	queryListOrders = selectOrderColumns + `
		WHERE customer_id = $1
		  AND ($2::timestamptz IS NULL OR create_date >= $2)
		  AND ($3::timestamptz IS NULL OR create_date <= $3)
		ORDER BY create_date DESC
		LIMIT $4 OFFSET $5`

	queryExistsByID = `SELECT EXISTS(SELECT 1 FROM brokerage.orders WHERE order_id = $1)`

	queryExistsByIDAndCustomer = `SELECT EXISTS(SELECT 1 FROM brokerage.orders WHERE order_id = $1 AND customer_id = $2)`

	execInsertOrder = `
		INSERT INTO brokerage.orders
		(order_id, customer_id, asset_name, side, size, price, status, create_date, update_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	execUpdateSize = `
		UPDATE brokerage.orders
		SET size = $1, update_date = $2
		WHERE order_id = $3 AND status = $4`

	execTransitionStatus = `
		UPDATE brokerage.orders
		SET status = $1, update_date = $2
		WHERE order_id = $3 AND status = $4`
)

// OrderRepository Postgres 订单仓储
type OrderRepository struct {
	q         querier
	forUpdate bool
	now       func() time.Time
}

// NewOrderRepository 创建仓储
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{q: db, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// Create 创建订单，未指定时生成 ID 与创建时间
func (r *OrderRepository) Create(ctx context.Context, order *Order) error {
	if order.OrderID == uuid.Nil {
		order.OrderID = uuid.New()
	}
	if order.CreateDate.IsZero() {
		order.CreateDate = r.now()
	}
	order.UpdateDate = order.CreateDate
	order.AssetName = NormalizeAssetName(order.AssetName)

	_, err := r.q.ExecContext(ctx, execInsertOrder,
		order.OrderID, order.CustomerID, order.AssetName, order.Side, order.Size, order.Price,
		order.Status, order.CreateDate, order.UpdateDate,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Get 获取订单
func (r *OrderRepository) Get(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	return scanOrder(r.q.QueryRowContext(ctx, queryGetOrder, orderID))
}

// FindPending 获取 PENDING 订单，事务内加行锁
func (r *OrderRepository) FindPending(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	query := queryFindPending
	if r.forUpdate {
		query += lockSuffix
	}
	return scanOrder(r.q.QueryRowContext(ctx, query, orderID, StatusPending))
}

// FindPendingByAssetAndSide 某资产某方向的全部 PENDING 订单
func (r *OrderRepository) FindPendingByAssetAndSide(ctx context.Context, assetName string, side Side) ([]*Order, error) {
	query := queryFindPendingByAssetAndSide
	if r.forUpdate {
		query += lockSuffix
	}
	return r.queryOrders(ctx, query, NormalizeAssetName(assetName), side, StatusPending)
}

// UpdateSize 更新剩余数量
func (r *OrderRepository) UpdateSize(ctx context.Context, orderID uuid.UUID, size decimal.Decimal) error {
	result, err := r.q.ExecContext(ctx, execUpdateSize, size, r.now(), orderID, StatusPending)
	if err != nil {
		return fmt.Errorf("update order size: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotPending
	}
	return nil
}

// TransitionStatus 条件状态迁移
func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to Status) (bool, error) {
	result, err := r.q.ExecContext(ctx, execTransitionStatus, to, r.now(), orderID, from)
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}
	return rows > 0, nil
}

func (r *OrderRepository) ExistsByID(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var exists bool
	if err := r.q.QueryRowContext(ctx, queryExistsByID, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("query order exists: %w", err)
	}
	return exists, nil
}

func (r *OrderRepository) ExistsByIDAndCustomer(ctx context.Context, orderID uuid.UUID, customerID string) (bool, error) {
	var exists bool
	if err := r.q.QueryRowContext(ctx, queryExistsByIDAndCustomer, orderID, customerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("query order exists: %w", err)
	}
	return exists, nil
}

// ListByCustomer 按创建时间倒序分页查询
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, filter OrderFilter) ([]*Order, error) {
	return r.queryOrders(ctx, queryListOrders,
		customerID, nullTime(filter.Start), nullTime(filter.End), filter.Page.Size, filter.Page.Offset(),
	)
}

func scanOrder(row *sql.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.OrderID, &o.CustomerID, &o.AssetName, &o.Side, &o.Size, &o.Price,
		&o.Status, &o.CreateDate, &o.UpdateDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.OrderID, &o.CustomerID, &o.AssetName, &o.Side, &o.Size, &o.Price,
			&o.Status, &o.CreateDate, &o.UpdateDate,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
