// Package reconcile 对账：检查持久化的余额与订单是否满足账本不变量
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	countQuery = `
SELECT COUNT(DISTINCT customer_id), COUNT(*)
FROM brokerage.assets;
`
	balanceQuery = `
SELECT customer_id, asset_name, size, usable_size
FROM brokerage.assets
WHERE size < 0 OR usable_size < 0 OR usable_size > size
ORDER BY customer_id, asset_name;
`
	orderQuery = `
SELECT order_id, customer_id, asset_name, status, size
FROM brokerage.orders
WHERE (status = 'PENDING' AND size <= 0)
   OR (status = 'MATCHED' AND size <> 0)
ORDER BY create_date;
`
	// 冻结量（size - usable_size）必须覆盖所有 PENDING 订单的占用
	reservationQuery = `
WITH reserved AS (
    SELECT customer_id,
           CASE WHEN side = 'BUY' THEN $1 ELSE asset_name END AS asset_name,
           SUM(CASE WHEN side = 'BUY' THEN size * price ELSE size END) AS amount
    FROM brokerage.orders
    WHERE status = 'PENDING'
    GROUP BY 1, 2
)
SELECT r.customer_id, r.asset_name, COALESCE(a.size - a.usable_size, 0) AS locked, r.amount
FROM reserved r
LEFT JOIN brokerage.assets a
    ON a.customer_id = r.customer_id AND a.asset_name = r.asset_name
WHERE COALESCE(a.size - a.usable_size, 0) < r.amount
ORDER BY r.customer_id, r.asset_name;
`
)

// 不一致类型
const (
	KindNegativeSize      = "negative_size"
	KindNegativeUsable    = "negative_usable"
	KindUsableExceedsSize = "usable_exceeds_size"
	KindPendingEmpty      = "pending_without_size"
	KindMatchedWithSize   = "matched_with_size"
	KindUnderReserved     = "under_reserved"
)

// Discrepancy 一条不一致记录
type Discrepancy struct {
	Kind       string `json:"kind"`
	CustomerID string `json:"customer_id"`
	AssetName  string `json:"asset_name"`
	OrderID    string `json:"order_id,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual"`
}

func (d Discrepancy) String() string {
	s := fmt.Sprintf("customer_id=%s asset=%s type=%s actual=%s", d.CustomerID, d.AssetName, d.Kind, d.Actual)
	if d.Expected != "" {
		s += " expected=" + d.Expected
	}
	if d.OrderID != "" {
		s += " order_id=" + d.OrderID
	}
	return s
}

// Report 对账结果
type Report struct {
	RunAt         string        `json:"run_at"`
	CustomerCount int64         `json:"customer_count"`
	BalanceCount  int64         `json:"balance_count"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// OK 无不一致
func (r *Report) OK() bool {
	return len(r.Discrepancies) == 0
}

// Checker 对账检查器
type Checker struct {
	db        *sql.DB
	cashAsset string
	now       func() time.Time
}

func NewChecker(db *sql.DB, cashAsset string) *Checker {
	return &Checker{db: db, cashAsset: cashAsset, now: time.Now}
}

// Run 执行全部检查
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunAt:         c.now().UTC().Format(time.RFC3339),
		Discrepancies: []Discrepancy{},
	}
	if err := c.db.QueryRowContext(ctx, countQuery).Scan(&report.CustomerCount, &report.BalanceCount); err != nil {
		return nil, fmt.Errorf("count balances: %w", err)
	}

	checks := []struct {
		name string
		fn   func(context.Context) ([]Discrepancy, error)
	}{
		{"balances", c.checkBalances},
		{"orders", c.checkOrders},
		{"reservations", c.checkReservations},
	}
	for _, check := range checks {
		found, err := check.fn(ctx)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", check.name, err)
		}
		report.Discrepancies = append(report.Discrepancies, found...)
	}
	return report, nil
}

func (c *Checker) checkBalances(ctx context.Context) ([]Discrepancy, error) {
	rows, err := c.db.QueryContext(ctx, balanceQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		var (
			customerID, assetName string
			size, usable          decimal.Decimal
		)
		if err := rows.Scan(&customerID, &assetName, &size, &usable); err != nil {
			return nil, err
		}
		d := Discrepancy{CustomerID: customerID, AssetName: assetName}
		switch {
		case size.IsNegative():
			d.Kind, d.Actual = KindNegativeSize, size.String()
		case usable.IsNegative():
			d.Kind, d.Actual = KindNegativeUsable, usable.String()
		default:
			d.Kind, d.Actual, d.Expected = KindUsableExceedsSize, usable.String(), "<= "+size.String()
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *Checker) checkOrders(ctx context.Context) ([]Discrepancy, error) {
	rows, err := c.db.QueryContext(ctx, orderQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		var (
			orderID, customerID, assetName, status string
			size                                   decimal.Decimal
		)
		if err := rows.Scan(&orderID, &customerID, &assetName, &status, &size); err != nil {
			return nil, err
		}
		d := Discrepancy{CustomerID: customerID, AssetName: assetName, OrderID: orderID, Actual: size.String()}
		if status == "MATCHED" {
			d.Kind, d.Expected = KindMatchedWithSize, "0"
		} else {
			d.Kind, d.Expected = KindPendingEmpty, "> 0"
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *Checker) checkReservations(ctx context.Context) ([]Discrepancy, error) {
	rows, err := c.db.QueryContext(ctx, reservationQuery, c.cashAsset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		var (
			customerID, assetName string
			locked, reserved      decimal.Decimal
		)
		if err := rows.Scan(&customerID, &assetName, &locked, &reserved); err != nil {
			return nil, err
		}
		out = append(out, Discrepancy{
			Kind:       KindUnderReserved,
			CustomerID: customerID,
			AssetName:  assetName,
			Expected:   ">= " + reserved.String(),
			Actual:     locked.String(),
		})
	}
	return out, rows.Err()
}
