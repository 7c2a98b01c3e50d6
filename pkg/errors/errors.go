// Package errors 定义统一错误码
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

// 错误码定义
const (
	// 通用错误
	CodeOK               Code = "OK"
	CodeInvalidParam     Code = "INVALID_PARAM"
	CodeNotFound         Code = "NOT_FOUND"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeInternal         Code = "INTERNAL"

	// 订单
	CodeInvalidSide     Code = "INVALID_SIDE"
	CodeInvalidPrice    Code = "INVALID_PRICE"
	CodeInvalidQuantity Code = "INVALID_QUANTITY"
	CodeOrderNotFound   Code = "ORDER_NOT_FOUND"
	CodeOrderNotPending Code = "ORDER_NOT_PENDING"

	// 资产
	CodeAssetNotFound       Code = "ASSET_NOT_FOUND"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// 存储层失败，事务已整体回滚
	CodeConsistency Code = "CONSISTENCY"
)

// Kind 错误分类
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConsistency:
		return "consistency"
	default:
		return "internal"
	}
}

// Error 业务错误
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.cause
}

// Is 按错误码比较，使 errors.Is(err, ErrOrderNotFound) 可用
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Kind 返回错误分类
func (e *Error) Kind() Kind {
	return kindOf(e.Code)
}

// New 创建错误
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf 创建格式化错误
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装底层错误
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithRequestID 添加请求 ID
func (e *Error) WithRequestID(requestID string) *Error {
	cp := *e
	cp.RequestID = requestID
	return &cp
}

// HTTPStatus 返回对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

// From 提取业务错误；非业务错误统一视为 INTERNAL
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, "internal error", err)
}

// KindOf 返回任意错误的分类
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	return From(err).Kind()
}

func kindOf(code Code) Kind {
	switch code {
	case CodeInvalidParam, CodeInvalidSide, CodeInvalidPrice, CodeInvalidQuantity,
		CodeInsufficientBalance:
		return KindValidation
	case CodeNotFound, CodeOrderNotFound, CodeOrderNotPending, CodeAssetNotFound:
		return KindNotFound
	case CodeConsistency:
		return KindConsistency
	default:
		return KindInternal
	}
}

func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidSide, CodeInvalidPrice, CodeInvalidQuantity,
		CodeInsufficientBalance:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound, CodeOrderNotFound, CodeOrderNotPending, CodeAssetNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam        = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound            = New(CodeNotFound, "not found")
	ErrPermissionDenied    = New(CodePermissionDenied, "permission denied")
	ErrUnauthenticated     = New(CodeUnauthenticated, "unauthenticated")
	ErrOrderNotFound       = New(CodeOrderNotFound, "order not found")
	ErrOrderNotPending     = New(CodeOrderNotPending, "order not pending")
	ErrAssetNotFound       = New(CodeAssetNotFound, "asset not found")
	ErrInsufficientBalance = New(CodeInsufficientBalance, "insufficient balance")
	ErrConsistency         = New(CodeConsistency, "transaction rolled back")
)
