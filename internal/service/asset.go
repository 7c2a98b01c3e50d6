package service

import (
	"context"

	"github.com/exchange/brokerage/internal/repository"
	commonerrors "github.com/exchange/brokerage/pkg/errors"
	"github.com/exchange/brokerage/pkg/validate"
)

// AssetService 资产查询
type AssetService struct {
	store repository.Store
}

func NewAssetService(store repository.Store) *AssetService {
	return &AssetService{store: store}
}

// ListAssets 按资产名排序分页
func (s *AssetService) ListAssets(ctx context.Context, customerID string, page repository.Page) ([]*repository.Asset, error) {
	if customerID == "" {
		return nil, commonerrors.New(commonerrors.CodeInvalidParam, "customerId is required")
	}
	if err := validate.Page(page.Number, page.Size); err != nil {
		return nil, err
	}
	assets, err := s.store.Assets().ListByCustomer(ctx, customerID, page)
	if err != nil {
		return nil, mapStoreErr(err, customerID)
	}
	return assets, nil
}
