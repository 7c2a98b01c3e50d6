// Package repository 订单与资产数据访问层
package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order not pending")
	ErrAssetNotFound   = errors.New("asset not found")
	ErrInvalidSide     = errors.New("invalid side")
	ErrInvalidStatus   = errors.New("invalid status")
)

// Side 订单方向
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

// ParseSide 不区分大小写
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// Opposite 对手方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Value() (driver.Value, error) {
	if s != SideBuy && s != SideSell {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSide, uint8(s))
	}
	return s.String(), nil
}

func (s *Side) Scan(src interface{}) error {
	text, err := scanText(src)
	if err != nil {
		return fmt.Errorf("scan side: %w", err)
	}
	parsed, err := ParseSide(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err != nil {
		return err
	}
	parsed, err := ParseSide(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Status 订单状态，PENDING 之外均为终态
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusMatched
	StatusCanceled
)

func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return StatusPending, nil
	case "MATCHED":
		return StatusMatched, nil
	case "CANCELED":
		return StatusCanceled, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusMatched:
		return "MATCHED"
	case StatusCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusMatched || s == StatusCanceled
}

func (s Status) Value() (driver.Value, error) {
	if s < StatusPending || s > StatusCanceled {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, uint8(s))
	}
	return s.String(), nil
}

func (s *Status) Scan(src interface{}) error {
	text, err := scanText(src)
	if err != nil {
		return fmt.Errorf("scan status: %w", err)
	}
	parsed, err := ParseStatus(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err != nil {
		return err
	}
	parsed, err := ParseStatus(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func scanText(src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("unsupported type %T", src)
	}
}

// Order 订单；Size 为剩余未成交数量
type Order struct {
	OrderID    uuid.UUID       `json:"orderId"`
	CustomerID string          `json:"customerId"`
	AssetName  string          `json:"assetName"`
	Side       Side            `json:"side"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	Status     Status          `json:"status"`
	CreateDate time.Time       `json:"createDate"`
	UpdateDate time.Time       `json:"updateDate"`
}

// Clone 深拷贝
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// AmountScale 余额列 NUMERIC(38, 16) 的小数位。订单数量与价格各不超过 8 位小数，
// 二者乘积不超过 16 位，余额变动可无损落库
const AmountScale = 16

// Asset 客户资产余额
type Asset struct {
	AssetID    uuid.UUID       `json:"assetId"`
	CustomerID string          `json:"customerId"`
	AssetName  string          `json:"assetName"`
	Size       decimal.Decimal `json:"size"`
	UsableSize decimal.Decimal `json:"usableSize"`
}

func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// NormalizeAssetName 资产名不区分大小写，统一存储为大写
func NormalizeAssetName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Page 分页参数，Number 从 0 开始
type Page struct {
	Number int
	Size   int
}

func (p Page) Offset() int {
	return p.Number * p.Size
}

// OrderFilter 订单查询条件，零值时间表示不限
type OrderFilter struct {
	Start time.Time
	End   time.Time
	Page  Page
}
