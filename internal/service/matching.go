package service

import (
	"context"
	"errors"
	"sort"
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
)

// 撮合结果标签
const (
	outcomeFilled     = "filled"
	outcomeNoMatch    = "no_match"
	outcomeNotPending = "not_pending"
	outcomeFailed     = "failed"
)

// Fill 一笔成交，价格为挂单（candidate）价格
type Fill struct {
	TargetOrderID       uuid.UUID       `json:"targetOrderId"`
	CandidateOrderID    uuid.UUID       `json:"candidateOrderId"`
	TargetCustomerID    string          `json:"targetCustomerId"`
	CandidateCustomerID string          `json:"candidateCustomerId"`
	AssetName           string          `json:"assetName"`
	Quantity            decimal.Decimal `json:"quantity"`
	Price               decimal.Decimal `json:"price"`
}

// Amount 成交金额
func (f Fill) Amount() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// MatchResult Orders 为本次变为 MATCHED 的订单
type MatchResult struct {
	Orders []*repository.Order `json:"orders"`
	Fills  []Fill              `json:"fills"`
}

// MatchingEngine 按价格-时间优先撮合单个目标订单
type MatchingEngine struct {
	store     repository.Store
	cashAsset string
	locker    Locker
	log       *logger.Logger
	metrics   *metrics.Metrics
	publisher EventPublisher
}

// NewMatchingEngine 创建撮合引擎，locker 为 nil 时使用进程内锁
func NewMatchingEngine(store repository.Store, cashAsset string, locker Locker, log *logger.Logger, m *metrics.Metrics) *MatchingEngine {
	if cashAsset == "" {
		cashAsset = DefaultCashAsset
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MatchingEngine{
		store:     store,
		cashAsset: repository.NormalizeAssetName(cashAsset),
		locker:    locker,
		log:       log,
		metrics:   m,
	}
}

// SetPublisher 设置成交事件推送，nil 表示不推送
func (e *MatchingEngine) SetPublisher(publisher EventPublisher) {
	e.publisher = publisher
}

// Match 撮合目标订单。目标不存在或非 PENDING 时返回 NotFound 类错误；
// 无对手单或价格不交叉时返回空结果
func (e *MatchingEngine) Match(ctx context.Context, orderID uuid.UUID) (*MatchResult, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "order.match")
	defer span.End()
	log := e.log.WithContext(ctx).WithField("orderId", orderID.String())

	target, err := e.store.Orders().FindPending(ctx, orderID)
	if err != nil {
		err = e.notMatchable(ctx, e.store.Orders(), orderID, err)
		e.metrics.ObserveMatch(outcomeNotPending, time.Since(start))
		log.WithError(err).Warn("order is not matchable")
		return nil, err
	}

	// 同一标的的撮合串行执行，避免并发撮合重复消耗同一挂单
	lockStart := time.Now()
	unlock, err := e.locker.Lock(ctx, target.AssetName)
	e.metrics.ObserveLockWait(time.Since(lockStart))
	if err != nil {
		e.metrics.ObserveMatch(outcomeFailed, time.Since(start))
		return nil, commonerrors.Wrap(commonerrors.CodeInternal, "acquire match lock", err)
	}
	defer unlock()

	var result *MatchResult
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := e.matchInTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		err = mapStoreErr(err, orderID.String())
		tracing.SetError(ctx, err)
		if commonerrors.KindOf(err) == commonerrors.KindNotFound {
			e.metrics.ObserveMatch(outcomeNotPending, time.Since(start))
			log.WithError(err).Warn("order is not matchable")
			return nil, err
		}
		e.metrics.ObserveMatch(outcomeFailed, time.Since(start))
		e.metrics.IncTxRollback("match")
		log.WithError(err).Error("match rolled back")
		return nil, err
	}

	if len(result.Fills) == 0 {
		e.metrics.ObserveMatch(outcomeNoMatch, time.Since(start))
		log.Debug("no crossing orders")
		return result, nil
	}

	e.metrics.ObserveMatch(outcomeFilled, time.Since(start))
	e.metrics.AddFills(target.AssetName, len(result.Fills))
	e.metrics.AddOrdersMatched(target.AssetName, len(result.Orders))
	tracing.SetAttributes(ctx,
		attribute.Int("match.fills", len(result.Fills)),
		attribute.Int("match.matched_orders", len(result.Orders)),
	)
	log.Infof("order matched", logger.Fields{
		"asset":   target.AssetName,
		"fills":   len(result.Fills),
		"matched": len(result.Orders),
	})
	e.publish(ctx, result)
	return result, nil
}

func (e *MatchingEngine) matchInTx(ctx context.Context, tx repository.Tx, orderID uuid.UUID) (*MatchResult, error) {
	// 加锁后重新读取，目标可能已被撤单或撮合
	target, err := tx.Orders().FindPending(ctx, orderID)
	if err != nil {
		return nil, e.notMatchable(ctx, tx.Orders(), orderID, err)
	}

	candidates, err := tx.Orders().FindPendingByAssetAndSide(ctx, target.AssetName, target.Side.Opposite())
	if err != nil {
		return nil, mapStoreErr(err, target.AssetName)
	}

	result := &MatchResult{Orders: []*repository.Order{}, Fills: []Fill{}}
	if len(candidates) == 0 {
		return result, nil
	}
	sortCandidates(target.Side, candidates)

	ledger := NewLedger(tx.Assets())
	remaining := target.Size
	for _, c := range candidates {
		if !remaining.IsPositive() {
			break
		}
		if !crosses(target, c) {
			break
		}

		qty := decimal.Min(remaining, c.Size)
		remaining = remaining.Sub(qty)
		c.Size = c.Size.Sub(qty)

		fill := Fill{
			TargetOrderID:       target.OrderID,
			CandidateOrderID:    c.OrderID,
			TargetCustomerID:    target.CustomerID,
			CandidateCustomerID: c.CustomerID,
			AssetName:           target.AssetName,
			Quantity:            qty,
			Price:               c.Price,
		}
		if err := e.settle(ctx, ledger, target, c, fill); err != nil {
			return nil, err
		}
		result.Fills = append(result.Fills, fill)

		if c.Size.IsZero() {
			if err := finalize(ctx, tx.Orders(), c); err != nil {
				return nil, err
			}
			result.Orders = append(result.Orders, c)
			continue
		}
		if err := tx.Orders().UpdateSize(ctx, c.OrderID, c.Size); err != nil {
			return nil, mapStoreErr(err, c.OrderID.String())
		}
	}

	if len(result.Fills) == 0 {
		return result, nil
	}

	target.Size = remaining
	if remaining.IsZero() {
		if err := finalize(ctx, tx.Orders(), target); err != nil {
			return nil, err
		}
		result.Orders = append(result.Orders, target)
		return result, nil
	}
	if err := tx.Orders().UpdateSize(ctx, target.OrderID, remaining); err != nil {
		return nil, mapStoreErr(err, target.OrderID.String())
	}
	return result, nil
}

// settle 四条结算腿，全部以挂单价格计价；买单目标的价格改善部分退回可用余额
func (e *MatchingEngine) settle(ctx context.Context, ledger *Ledger, target, candidate *repository.Order, fill Fill) error {
	amount := fill.Amount()
	buyer, seller := target.CustomerID, candidate.CustomerID
	if target.Side == repository.SideSell {
		buyer, seller = candidate.CustomerID, target.CustomerID
	}

	legs := []struct {
		customerID string
		asset      string
		amount     decimal.Decimal
		increase   bool
	}{
		{buyer, fill.AssetName, fill.Quantity, true},
		{buyer, e.cashAsset, amount, false},
		{seller, e.cashAsset, amount, true},
		{seller, fill.AssetName, fill.Quantity, false},
	}
	if target.Side == repository.SideSell {
		legs[0], legs[1], legs[2], legs[3] = legs[2], legs[3], legs[0], legs[1]
	}

	for _, leg := range legs {
		var err error
		if leg.increase {
			err = ledger.SettleIncrease(ctx, leg.customerID, leg.asset, leg.amount)
		} else {
			err = ledger.SettleDecrease(ctx, leg.customerID, leg.asset, leg.amount)
		}
		if err != nil {
			return err
		}
	}

	// 买单目标按自身价格占用，按挂单价格成交，差额即时释放
	if target.Side == repository.SideBuy && target.Price.GreaterThan(candidate.Price) {
		surplus := target.Price.Sub(candidate.Price).Mul(fill.Quantity)
		if err := ledger.Release(ctx, target.CustomerID, e.cashAsset, surplus); err != nil {
			return err
		}
	}
	return nil
}

func (e *MatchingEngine) notMatchable(ctx context.Context, orders repository.OrderStore, orderID uuid.UUID, err error) error {
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return mapStoreErr(err, orderID.String())
	}
	exists, existsErr := orders.ExistsByID(ctx, orderID)
	if existsErr != nil {
		return mapStoreErr(existsErr, orderID.String())
	}
	if !exists {
		return commonerrors.Newf(commonerrors.CodeOrderNotFound, "order not found with identifier: %s", orderID)
	}
	return commonerrors.Newf(commonerrors.CodeOrderNotPending, "order is not pending: %s", orderID)
}

func (e *MatchingEngine) publish(ctx context.Context, result *MatchResult) {
	for _, order := range result.Orders {
		publishOrder(ctx, e.publisher, e.log, e.metrics, ws.EventMatched, order)
	}
	if e.publisher == nil {
		return
	}
	for _, fill := range result.Fills {
		for _, customerID := range []string{fill.TargetCustomerID, fill.CandidateCustomerID} {
			if err := e.publisher.PublishFill(ctx, customerID, fill); err != nil {
				e.metrics.IncPublishError(ws.EventFill)
				e.log.WithContext(ctx).WithError(err).Warnf("publish fill failed", logger.Fields{
					"customerId":       customerID,
					"candidateOrderId": fill.CandidateOrderID.String(),
				})
			}
		}
	}
}

// finalize 数量清零后 PENDING -> MATCHED
func finalize(ctx context.Context, orders repository.OrderStore, order *repository.Order) error {
	if err := orders.UpdateSize(ctx, order.OrderID, decimal.Zero); err != nil {
		return mapStoreErr(err, order.OrderID.String())
	}
	ok, err := orders.TransitionStatus(ctx, order.OrderID, repository.StatusPending, repository.StatusMatched)
	if err != nil {
		return mapStoreErr(err, order.OrderID.String())
	}
	if !ok {
		return commonerrors.Newf(commonerrors.CodeOrderNotPending, "order is not pending: %s", order.OrderID)
	}
	order.Size = decimal.Zero
	order.Status = repository.StatusMatched
	return nil
}

// sortCandidates 买单目标按价格升序，卖单目标按价格降序；同价按创建时间升序
func sortCandidates(targetSide repository.Side, candidates []*repository.Order) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.Price.Equal(b.Price) {
			if targetSide == repository.SideBuy {
				return a.Price.LessThan(b.Price)
			}
			return a.Price.GreaterThan(b.Price)
		}
		return a.CreateDate.Before(b.CreateDate)
	})
}

func crosses(target, candidate *repository.Order) bool {
	if target.Side == repository.SideBuy {
		return target.Price.GreaterThanOrEqual(candidate.Price)
	}
	return target.Price.LessThanOrEqual(candidate.Price)
}
