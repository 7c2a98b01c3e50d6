package service

import (
	"errors"

	"github.com/exchange/brokerage/internal/repository"
	commonerrors "github.com/exchange/brokerage/pkg/errors"
)

// mapStoreErr 将仓储错误转换为业务错误；已是业务错误的原样返回
func mapStoreErr(err error, subject string) error {
	if err == nil {
		return nil
	}
	var ce *commonerrors.Error
	if errors.As(err, &ce) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrAssetNotFound):
		return commonerrors.Newf(commonerrors.CodeAssetNotFound, "asset not found: %s", subject)
	case errors.Is(err, repository.ErrOrderNotFound):
		return commonerrors.Newf(commonerrors.CodeOrderNotFound, "order not found with identifier: %s", subject)
	case errors.Is(err, repository.ErrOrderNotPending):
		return commonerrors.Newf(commonerrors.CodeOrderNotPending, "order is not pending: %s", subject)
	default:
		return commonerrors.Wrap(commonerrors.CodeConsistency, "store operation failed", err)
	}
}
