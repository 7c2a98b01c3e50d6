package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/exchange/brokerage/internal/repository"
	commonerrors "github.com/exchange/brokerage/pkg/errors"
)

func TestCreateOrder_BuyReservesCash(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice, "TRY", "500000")
	f.seed(t, alice, "GOLD", "0")

	order := f.place(t, alice, "BUY", "gold", "10", "100")

	if order.OrderID == uuid.Nil {
		t.Fatal("expected order id")
	}
	if order.Status != repository.StatusPending {
		t.Fatalf("status = %s, want PENDING", order.Status)
	}
	if order.AssetName != "GOLD" {
		t.Fatalf("asset = %s, want GOLD", order.AssetName)
	}
	expectDec(t, "order size", order.Size, "10")

	try := f.balance(t, alice, "TRY")
	expectDec(t, "TRY usable", try.UsableSize, "499000")
	expectDec(t, "TRY size", try.Size, "500000")
	if f.pub.count("created") != 1 {
		t.Fatalf("expected one created event, got %d", f.pub.count("created"))
	}
}

func TestCreateOrder_SellReservesAsset(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, "GOLD", "20")

	f.place(t, bob, "SELL", "GOLD", "5", "90")

	gold := f.balance(t, bob, "GOLD")
	expectDec(t, "GOLD usable", gold.UsableSize, "15")
	expectDec(t, "GOLD size", gold.Size, "20")
}

func TestCreateOrder_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice, "TRY", "999")
	f.seed(t, alice, "GOLD", "0")

	_, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: alice, AssetName: "GOLD", Side: "BUY", Size: dec("10"), Price: dec("100"),
	})
	expectCode(t, err, commonerrors.CodeInsufficientBalance)
	if commonerrors.KindOf(err) != commonerrors.KindValidation {
		t.Fatalf("expected validation kind, got %s", commonerrors.KindOf(err))
	}

	expectDec(t, "TRY usable", f.balance(t, alice, "TRY").UsableSize, "999")
	if n := len(f.allOrders(t)); n != 0 {
		t.Fatalf("expected no orders, got %d", n)
	}
}

func TestCreateOrder_AssetNotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice, "TRY", "1000")

	// 未持有标的
	_, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: alice, AssetName: "GOLD", Side: "BUY", Size: dec("1"), Price: dec("10"),
	})
	expectCode(t, err, commonerrors.CodeAssetNotFound)

	// 卖出未持有的资产
	_, err = f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: bob, AssetName: "SILVER", Side: "SELL", Size: dec("1"), Price: dec("10"),
	})
	expectCode(t, err, commonerrors.CodeAssetNotFound)

	// 买入时没有现金资产
	f.seed(t, carol, "GOLD", "1")
	_, err = f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: carol, AssetName: "GOLD", Side: "BUY", Size: dec("1"), Price: dec("10"),
	})
	expectCode(t, err, commonerrors.CodeAssetNotFound)

	if n := len(f.allOrders(t)); n != 0 {
		t.Fatalf("expected no orders, got %d", n)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice, "TRY", "1000000")
	f.seed(t, alice, "GOLD", "100")

	tests := []struct {
		name string
		req  CreateOrderRequest
		code commonerrors.Code
	}{
		{"bad side", CreateOrderRequest{CustomerID: alice, AssetName: "GOLD", Side: "HOLD", Size: dec("1"), Price: dec("1")}, commonerrors.CodeInvalidSide},
		{"zero size", CreateOrderRequest{CustomerID: alice, AssetName: "GOLD", Side: "BUY", Size: dec("0"), Price: dec("1")}, commonerrors.CodeInvalidQuantity},
		{"size too large", CreateOrderRequest{CustomerID: alice, AssetName: "GOLD", Side: "BUY", Size: dec("1000001"), Price: dec("1")}, commonerrors.CodeInvalidQuantity},
		{"price too small", CreateOrderRequest{CustomerID: alice, AssetName: "GOLD", Side: "BUY", Size: dec("1"), Price: dec("0.001")}, commonerrors.CodeInvalidPrice},
		{"size beyond 8 decimals", CreateOrderRequest{CustomerID: alice, AssetName: "GOLD", Side: "BUY", Size: dec("1.000000005"), Price: dec("1")}, commonerrors.CodeInvalidQuantity},
		{"price beyond 8 decimals", CreateOrderRequest{CustomerID: alice, AssetName: "GOLD", Side: "BUY", Size: dec("1"), Price: dec("1.000000005")}, commonerrors.CodeInvalidPrice},
		{"cash asset", CreateOrderRequest{CustomerID: alice, AssetName: "try", Side: "BUY", Size: dec("1"), Price: dec("1")}, commonerrors.CodeInvalidParam},
		{"empty asset", CreateOrderRequest{CustomerID: alice, AssetName: " ", Side: "BUY", Size: dec("1"), Price: dec("1")}, commonerrors.CodeInvalidParam},
		{"no customer", CreateOrderRequest{AssetName: "GOLD", Side: "BUY", Size: dec("1"), Price: dec("1")}, commonerrors.CodeInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := f.orders.CreateOrder(context.Background(), &req)
			expectCode(t, err, tt.code)
		})
	}

	expectDec(t, "TRY usable", f.balance(t, alice, "TRY").UsableSize, "1000000")
	if n := len(f.allOrders(t)); n != 0 {
		t.Fatalf("expected no orders, got %d", n)
	}
}

func TestCreateOrder_EightDecimalsReserveExactly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice, "TRY", "1000")
	f.seed(t, alice, "GOLD", "0")

	buy := f.place(t, alice, "BUY", "GOLD", "1.23456789", "9.87654321")
	// 两个 8 位小数的乘积为 16 位，余额列可无损保存
	expectDec(t, "TRY usable", f.balance(t, alice, "TRY").UsableSize, "987.8067368887364731")

	if _, err := f.orders.CancelOrder(context.Background(), buy.OrderID, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	expectDec(t, "TRY usable after cancel", f.balance(t, alice, "TRY").UsableSize, "1000")
}

func TestCreateOrder_MaxNotional(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice, "TRY", "100000")
	f.seed(t, alice, "GOLD", "0")
	f.orders.SetMaxNotional(dec("5000"))

	_, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: alice, AssetName: "GOLD", Side: "BUY", Size: dec("51"), Price: dec("100"),
	})
	expectCode(t, err, commonerrors.CodeInvalidParam)
	expectDec(t, "TRY usable", f.balance(t, alice, "TRY").UsableSize, "100000")

	f.place(t, alice, "BUY", "GOLD", "50", "100")
	expectDec(t, "TRY usable at the limit", f.balance(t, alice, "TRY").UsableSize, "95000")
}

func TestCancelOrder_ReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice, "TRY", "5000")
	f.seed(t, alice, "GOLD", "0")
	order := f.place(t, alice, "BUY", "GOLD", "10", "100")

	owner := alice
	canceled, err := f.orders.CancelOrder(context.Background(), order.OrderID, &owner)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !canceled {
		t.Fatal("expected order to be canceled")
	}

	expectDec(t, "TRY usable", f.balance(t, alice, "TRY").UsableSize, "5000")
	if got := f.order(t, order.OrderID); got.Status != repository.StatusCanceled {
		t.Fatalf("status = %s, want CANCELED", got.Status)
	}
	if f.pub.count("canceled") != 1 {
		t.Fatalf("expected one canceled event, got %d", f.pub.count("canceled"))
	}
}

func TestCancelOrder_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, "GOLD", "10")
	order := f.place(t, bob, "SELL", "GOLD", "4", "50")

	owner := bob
	if _, err := f.orders.CancelOrder(context.Background(), order.OrderID, &owner); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	canceled, err := f.orders.CancelOrder(context.Background(), order.OrderID, &owner)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if canceled {
		t.Fatal("expected second cancel to be a no-op")
	}
	expectDec(t, "GOLD usable", f.balance(t, bob, "GOLD").UsableSize, "10")
	f.checkBalances(t)
}

func TestCancelOrder_MatchedIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice, "TRY", "1000")
	f.seed(t, alice, "GOLD", "0")
	f.seed(t, bob, "GOLD", "10")
	f.seed(t, bob, "TRY", "0")
	sell := f.place(t, bob, "SELL", "GOLD", "10", "100")
	buy := f.place(t, alice, "BUY", "GOLD", "10", "100")
	if _, err := f.engine.Match(context.Background(), buy.OrderID); err != nil {
		t.Fatalf("match: %v", err)
	}
	before := f.balance(t, bob, "GOLD")

	canceled, err := f.orders.CancelOrder(context.Background(), sell.OrderID, nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled {
		t.Fatal("expected no-op for matched order")
	}
	after := f.balance(t, bob, "GOLD")
	expectDec(t, "GOLD usable", after.UsableSize, before.UsableSize.String())
	if got := f.order(t, sell.OrderID); got.Status != repository.StatusMatched {
		t.Fatalf("status = %s, want MATCHED", got.Status)
	}
}

func TestCancelOrder_Ownership(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, "GOLD", "10")
	order := f.place(t, bob, "SELL", "GOLD", "4", "50")

	other := carol
	_, err := f.orders.CancelOrder(context.Background(), order.OrderID, &other)
	expectCode(t, err, commonerrors.CodeOrderNotFound)
	if got := f.order(t, order.OrderID); got.Status != repository.StatusPending {
		t.Fatalf("status = %s, want PENDING", got.Status)
	}

	_, err = f.orders.CancelOrder(context.Background(), uuid.New(), nil)
	expectCode(t, err, commonerrors.CodeOrderNotFound)

	// 管理员不校验归属
	canceled, err := f.orders.CancelOrder(context.Background(), order.OrderID, nil)
	if err != nil || !canceled {
		t.Fatalf("admin cancel: canceled=%v err=%v", canceled, err)
	}
}

func TestCancelOrder_PartiallyFilledReleasesRemainder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, alice, "TRY", "2000")
	f.seed(t, alice, "GOLD", "0")
	f.seed(t, bob, "GOLD", "10")
	f.seed(t, bob, "TRY", "0")
	f.place(t, bob, "SELL", "GOLD", "10", "100")
	buy := f.place(t, alice, "BUY", "GOLD", "15", "100")

	if _, err := f.engine.Match(context.Background(), buy.OrderID); err != nil {
		t.Fatalf("match: %v", err)
	}
	try := f.balance(t, alice, "TRY")
	expectDec(t, "TRY size after fill", try.Size, "1000")
	expectDec(t, "TRY usable after fill", try.UsableSize, "500")

	if _, err := f.orders.CancelOrder(context.Background(), buy.OrderID, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	try = f.balance(t, alice, "TRY")
	expectDec(t, "TRY usable after cancel", try.UsableSize, "1000")
	expectDec(t, "TRY size after cancel", try.Size, "1000")
	f.checkBalances(t)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, "GOLD", "10")
	order := f.place(t, bob, "SELL", "GOLD", "4", "50")

	owner := bob
	got, err := f.orders.GetOrder(context.Background(), order.OrderID, &owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OrderID != order.OrderID {
		t.Fatalf("unexpected order %s", got.OrderID)
	}

	other := alice
	_, err = f.orders.GetOrder(context.Background(), order.OrderID, &other)
	expectCode(t, err, commonerrors.CodeOrderNotFound)

	_, err = f.orders.GetOrder(context.Background(), uuid.New(), nil)
	expectCode(t, err, commonerrors.CodeOrderNotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, "GOLD", "100")
	first := f.place(t, bob, "SELL", "GOLD", "1", "50")
	second := f.place(t, bob, "SELL", "GOLD", "2", "50")
	third := f.place(t, bob, "SELL", "GOLD", "3", "50")

	orders, err := f.orders.ListOrders(context.Background(), &ListOrdersRequest{
		CustomerID: bob, PageNumber: 0, PageSize: 2,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 || orders[0].OrderID != third.OrderID || orders[1].OrderID != second.OrderID {
		t.Fatalf("unexpected first page: %+v", orders)
	}

	orders, err = f.orders.ListOrders(context.Background(), &ListOrdersRequest{
		CustomerID: bob, PageNumber: 0, PageSize: 10,
		StartDate: first.CreateDate, EndDate: first.CreateDate,
	})
	if err != nil {
		t.Fatalf("list by date: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderID != first.OrderID {
		t.Fatalf("unexpected date filtered list: %+v", orders)
	}

	_, err = f.orders.ListOrders(context.Background(), &ListOrdersRequest{CustomerID: bob, PageSize: 0})
	expectCode(t, err, commonerrors.CodeInvalidParam)

	_, err = f.orders.ListOrders(context.Background(), &ListOrdersRequest{
		CustomerID: bob, PageSize: 10,
		StartDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	expectCode(t, err, commonerrors.CodeInvalidParam)
}

func TestCreateOrder_PublishFailureDoesNotRollback(t *testing.T) {
	f := newFixture(t)
	f.pub.err = context.DeadlineExceeded
	f.seed(t, bob, "GOLD", "10")

	order := f.place(t, bob, "SELL", "GOLD", "4", "50")
	if got := f.order(t, order.OrderID); got.Status != repository.StatusPending {
		t.Fatalf("status = %s, want PENDING", got.Status)
	}
	expectDec(t, "GOLD usable", f.balance(t, bob, "GOLD").UsableSize, "6")
}
