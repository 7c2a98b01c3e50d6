package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/exchange/brokerage/internal/metrics"
	"github.com/exchange/brokerage/internal/repository"
	"github.com/exchange/brokerage/internal/ws"
	commonerrors "github.com/exchange/brokerage/pkg/errors"
	"github.com/exchange/brokerage/pkg/logger"
	"github.com/exchange/brokerage/pkg/tracing"
	"github.com/exchange/brokerage/pkg/validate"
)

// DefaultCashAsset 买单占用、成交结算使用的现金资产
const DefaultCashAsset = "TRY"

// EventPublisher 提交后推送订单事件
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event string, order *repository.Order) error
	PublishFill(ctx context.Context, customerID string, fill interface{}) error
}

// OrderService 订单生命周期：下单占用、撤单释放
type OrderService struct {
	store     repository.Store
	cashAsset string
	log       *logger.Logger
	metrics   *metrics.Metrics
	publisher EventPublisher
	now       func() time.Time

	maxNotional decimal.Decimal
}

// NewOrderService 创建订单服务
func NewOrderService(store repository.Store, cashAsset string, log *logger.Logger, m *metrics.Metrics) *OrderService {
	if cashAsset == "" {
		cashAsset = DefaultCashAsset
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OrderService{
		store:     store,
		cashAsset: repository.NormalizeAssetName(cashAsset),
		log:       log,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher 设置事务提交后的事件推送
func (s *OrderService) SetPublisher(publisher EventPublisher) {
	s.publisher = publisher
}

// SetMaxNotional 单笔订单 size*price 上限，非正值表示不限
func (s *OrderService) SetMaxNotional(limit decimal.Decimal) {
	s.maxNotional = limit
}

// SetClock 替换创建时间来源
func (s *OrderService) SetClock(now func() time.Time) {
	s.now = now
}

// CashAsset 现金资产名
func (s *OrderService) CashAsset() string {
	return s.cashAsset
}

// CreateOrderRequest 下单请求
type CreateOrderRequest struct {
	CustomerID string
	AssetName  string
	Side       string // BUY / SELL
	Size       decimal.Decimal
	Price      decimal.Decimal
}

// CreateOrder 校验余额，同一事务内写订单并占用资产
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*repository.Order, error) {
	ctx, span := tracing.StartSpan(ctx, "order.create")
	defer span.End()
	log := s.log.WithContext(ctx)

	if req == nil {
		s.metrics.IncOrderRejected(string(commonerrors.CodeInvalidParam))
		return nil, commonerrors.New(commonerrors.CodeInvalidParam, "request is required")
	}

	v := validate.New().
		Required("customerId", req.CustomerID).
		Side("side", req.Side).
		AssetName("assetName", req.AssetName, s.cashAsset).
		Size("size", req.Size).
		Price("price", req.Price).
		Notional("notional", req.Size, req.Price, s.maxNotional)
	if err := v.Err(); err != nil {
		s.metrics.IncOrderRejected(string(commonerrors.From(err).Code))
		return nil, err
	}

	side, _ := repository.ParseSide(req.Side)
	order := &repository.Order{
		CustomerID: req.CustomerID,
		AssetName:  repository.NormalizeAssetName(req.AssetName),
		Side:       side,
		Size:       req.Size,
		Price:      req.Price,
		Status:     repository.StatusPending,
		CreateDate: s.now(),
	}
	reserveAsset, amount := reservation(order, s.cashAsset)

	log.Debugf("create order", logger.Fields{
		"customerId": order.CustomerID,
		"asset":      order.AssetName,
		"side":       order.Side.String(),
		"size":       order.Size.String(),
		"price":      order.Price.String(),
	})

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		ledger := NewLedger(tx.Assets())

		if _, err := ledger.Balance(ctx, order.CustomerID, order.AssetName); err != nil {
			return err
		}
		balance, err := ledger.Balance(ctx, order.CustomerID, reserveAsset)
		if err != nil {
			return err
		}
		if balance.UsableSize.LessThan(amount) {
			return commonerrors.Newf(commonerrors.CodeInsufficientBalance,
				"usable %s is not enough: required %s, usable %s", reserveAsset, amount, balance.UsableSize)
		}

		if err := tx.Orders().Create(ctx, order); err != nil {
			return mapStoreErr(err, order.OrderID.String())
		}
		return ledger.Reserve(ctx, order.CustomerID, reserveAsset, amount)
	})
	if err != nil {
		s.txFailed(ctx, "create", err)
		s.metrics.IncOrderRejected(string(commonerrors.From(err).Code))
		return nil, mapStoreErr(err, order.AssetName)
	}

	s.metrics.IncOrderCreated(order.AssetName, order.Side.String())
	tracing.SetAttributes(ctx, attribute.String("order.id", order.OrderID.String()))
	log.Infof("order created", logger.Fields{
		"orderId":      order.OrderID.String(),
		"reserveAsset": reserveAsset,
		"reserved":     amount.String(),
	})
	publishOrder(ctx, s.publisher, s.log, s.metrics, ws.EventCreated, order)
	return order, nil
}

// CancelOrder 撤单。requesterID 为 nil 表示管理员，跳过归属校验。
// 订单已非 PENDING 时静默成功，返回 false
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID, requesterID *string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "order.cancel")
	defer span.End()
	log := s.log.WithContext(ctx).WithField("orderId", orderID.String())

	if err := s.checkOwnership(ctx, orderID, requesterID); err != nil {
		return false, err
	}

	var canceled *repository.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		order, err := tx.Orders().FindPending(ctx, orderID)
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return mapStoreErr(err, orderID.String())
		}

		ok, err := tx.Orders().TransitionStatus(ctx, orderID, repository.StatusPending, repository.StatusCanceled)
		if err != nil {
			return mapStoreErr(err, orderID.String())
		}
		if !ok {
			return nil
		}

		releaseAsset, amount := reservation(order, s.cashAsset)
		if err := NewLedger(tx.Assets()).Release(ctx, order.CustomerID, releaseAsset, amount); err != nil {
			return err
		}
		order.Status = repository.StatusCanceled
		canceled = order
		return nil
	})
	if err != nil {
		s.txFailed(ctx, "cancel", err)
		return false, mapStoreErr(err, orderID.String())
	}

	if canceled == nil {
		log.Debug("order not pending, cancel is a no-op")
		return false, nil
	}

	s.metrics.IncOrderCanceled()
	log.Info("order canceled")
	publishOrder(ctx, s.publisher, s.log, s.metrics, ws.EventCanceled, canceled)
	return true, nil
}

// GetOrder 查询订单，requesterID 非 nil 时校验归属
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID, requesterID *string) (*repository.Order, error) {
	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, mapStoreErr(err, orderID.String())
	}
	if requesterID != nil && order.CustomerID != *requesterID {
		return nil, commonerrors.Newf(commonerrors.CodeOrderNotFound, "order not found with identifier: %s", orderID)
	}
	return order, nil
}

// ListOrdersRequest 订单列表查询
type ListOrdersRequest struct {
	CustomerID string
	StartDate  time.Time
	EndDate    time.Time
	PageNumber int
	PageSize   int
}

// ListOrders 按创建时间倒序
func (s *OrderService) ListOrders(ctx context.Context, req *ListOrdersRequest) ([]*repository.Order, error) {
	if req == nil || req.CustomerID == "" {
		return nil, commonerrors.New(commonerrors.CodeInvalidParam, "customerId is required")
	}
	if err := validate.Page(req.PageNumber, req.PageSize); err != nil {
		return nil, err
	}
	if err := validate.DateRange(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}

	orders, err := s.store.Orders().ListByCustomer(ctx, req.CustomerID, repository.OrderFilter{
		Start: req.StartDate,
		End:   req.EndDate,
		Page:  repository.Page{Number: req.PageNumber, Size: req.PageSize},
	})
	if err != nil {
		return nil, mapStoreErr(err, req.CustomerID)
	}
	return orders, nil
}

func (s *OrderService) checkOwnership(ctx context.Context, orderID uuid.UUID, requesterID *string) error {
	var (
		exists bool
		err    error
	)
	if requesterID == nil {
		exists, err = s.store.Orders().ExistsByID(ctx, orderID)
	} else {
		exists, err = s.store.Orders().ExistsByIDAndCustomer(ctx, orderID, *requesterID)
	}
	if err != nil {
		return mapStoreErr(err, orderID.String())
	}
	if !exists {
		return commonerrors.Newf(commonerrors.CodeOrderNotFound, "order not found with identifier: %s", orderID)
	}
	return nil
}

func (s *OrderService) txFailed(ctx context.Context, op string, err error) {
	tracing.SetError(ctx, err)
	if commonerrors.KindOf(err) == commonerrors.KindValidation || commonerrors.KindOf(err) == commonerrors.KindNotFound {
		s.log.WithContext(ctx).WithError(err).Debugf("order request rejected", logger.Fields{"operation": op})
		return
	}
	s.metrics.IncTxRollback(op)
	s.log.WithContext(ctx).WithError(err).Errorf("transaction rolled back", logger.Fields{"operation": op})
}

func publishOrder(ctx context.Context, p EventPublisher, log *logger.Logger, m *metrics.Metrics, event string, order *repository.Order) {
	if p == nil {
		return
	}
	if err := p.PublishOrderEvent(ctx, event, order); err != nil {
		m.IncPublishError(event)
		log.WithContext(ctx).WithError(err).Warnf("publish order event failed", logger.Fields{
			"event":   event,
			"orderId": order.OrderID.String(),
		})
	}
}
