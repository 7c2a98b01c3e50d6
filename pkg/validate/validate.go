// Package validate 请求参数校验
package validate

import (
	stderrors "errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	commonerrors "github.com/exchange/brokerage/pkg/errors"
)

const (
	// Precision 数量与价格允许的最大小数位，与订单表 NUMERIC(38, 8) 一致
	Precision = 8

	MaxAssetNameLength = 128
	MaxPageNumber      = 500
	MaxPageSize        = 500
)

var (
	MinSize  = decimal.NewFromInt(1)
	MaxSize  = decimal.NewFromInt(1000000)
	MinPrice = decimal.RequireFromString("0.01")
	MaxPrice = decimal.NewFromInt(1000000)
)

// Side 校验订单方向
func Side(s string) error {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "SELL":
		return nil
	default:
		return commonerrors.Newf(commonerrors.CodeInvalidSide, "invalid side: %q (expected BUY or SELL)", s)
	}
}

// AssetName 校验资产名称；现金资产不能作为交易标的
func AssetName(name, cashAsset string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return commonerrors.New(commonerrors.CodeInvalidParam, "asset name is required")
	}
	if utf8.RuneCountInString(name) > MaxAssetNameLength {
		return commonerrors.Newf(commonerrors.CodeInvalidParam, "asset name length must be between 1 and %d", MaxAssetNameLength)
	}
	if cashAsset != "" && strings.EqualFold(name, cashAsset) {
		return commonerrors.Newf(commonerrors.CodeInvalidParam, "asset name %q cannot be traded against itself", name)
	}
	return nil
}

// Size 校验数量 [1, 1000000]，最多 8 位小数
func Size(size decimal.Decimal) error {
	if size.LessThan(MinSize) || size.GreaterThan(MaxSize) {
		return commonerrors.Newf(commonerrors.CodeInvalidQuantity, "invalid size: %s (expected %s..%s)", size, MinSize, MaxSize)
	}
	if !withinPrecision(size) {
		return commonerrors.Newf(commonerrors.CodeInvalidQuantity, "invalid size precision: %s (at most %d decimals)", size, Precision)
	}
	return nil
}

// Price 校验价格 [0.01, 1000000]，最多 8 位小数
func Price(price decimal.Decimal) error {
	if price.LessThan(MinPrice) || price.GreaterThan(MaxPrice) {
		return commonerrors.Newf(commonerrors.CodeInvalidPrice, "invalid price: %s (expected %s..%s)", price, MinPrice, MaxPrice)
	}
	if !withinPrecision(price) {
		return commonerrors.Newf(commonerrors.CodeInvalidPrice, "invalid price precision: %s (at most %d decimals)", price, Precision)
	}
	return nil
}

// Notional 校验成交额 size*price 不超过上限，limit 非正表示不限
func Notional(size, price, limit decimal.Decimal) error {
	if !limit.IsPositive() {
		return nil
	}
	if notional := size.Mul(price); notional.GreaterThan(limit) {
		return commonerrors.Newf(commonerrors.CodeInvalidParam, "order notional %s exceeds limit %s", notional, limit)
	}
	return nil
}

// 按数值判断：1.000000000 视为 8 位以内
func withinPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Precision))
}

// Page 校验分页参数
func Page(number, size int) error {
	if number < 0 || number > MaxPageNumber {
		return commonerrors.Newf(commonerrors.CodeInvalidParam, "page_number must be between 0 and %d", MaxPageNumber)
	}
	if size < 1 || size > MaxPageSize {
		return commonerrors.Newf(commonerrors.CodeInvalidParam, "page_size must be between 1 and %d", MaxPageSize)
	}
	return nil
}

// DateRange 校验时间区间，零值表示不限
func DateRange(start, end time.Time) error {
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return commonerrors.New(commonerrors.CodeInvalidParam, "endDate must not be before startDate")
	}
	return nil
}

type ValidationError struct {
	Field   string
	Code    commonerrors.Code
	Message string
}

// Validator 累积多个字段的校验结果
type Validator struct {
	errors []ValidationError
}

func New() *Validator {
	return &Validator{}
}

func (v *Validator) add(field string, err error) *Validator {
	if err == nil {
		return v
	}
	var ce *commonerrors.Error
	if ok := stderrors.As(err, &ce); ok && ce != nil {
		v.errors = append(v.errors, ValidationError{Field: field, Code: ce.Code, Message: ce.Message})
		return v
	}
	v.errors = append(v.errors, ValidationError{Field: field, Code: commonerrors.CodeInvalidParam, Message: err.Error()})
	return v
}

func (v *Validator) Side(field, value string) *Validator {
	return v.add(field, Side(value))
}

func (v *Validator) AssetName(field, value, cashAsset string) *Validator {
	return v.add(field, AssetName(value, cashAsset))
}

func (v *Validator) Size(field string, value decimal.Decimal) *Validator {
	return v.add(field, Size(value))
}

func (v *Validator) Price(field string, value decimal.Decimal) *Validator {
	return v.add(field, Price(value))
}

func (v *Validator) Notional(field string, size, price, limit decimal.Decimal) *Validator {
	return v.add(field, Notional(size, price, limit))
}

func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.add(field, commonerrors.Newf(commonerrors.CodeInvalidParam, "%s is required", field))
	}
	return v
}

func (v *Validator) Errors() []ValidationError {
	out := make([]ValidationError, len(v.errors))
	copy(out, v.errors)
	return out
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

func (v *Validator) FirstError() *ValidationError {
	if len(v.errors) == 0 {
		return nil
	}
	return &v.errors[0]
}

// Err 返回第一个错误，无错误时为 nil
func (v *Validator) Err() error {
	first := v.FirstError()
	if first == nil {
		return nil
	}
	return commonerrors.Newf(first.Code, "%s: %s", first.Field, first.Message)
}
