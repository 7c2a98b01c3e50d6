package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/exchange/brokerage/internal/repository"
	commonerrors "github.com/exchange/brokerage/pkg/errors"
)

const (
	alice = "alice"
	bob   = "bob"
	carol = "carol"
	dave  = "dave"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type published struct {
	event      string
	customerID string
	data       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, event string, order *repository.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{event: event, customerID: order.CustomerID, data: order})
	return p.err
}

func (p *recordingPublisher) PublishFill(ctx context.Context, customerID string, fill interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{event: "fill", customerID: customerID, data: fill})
	return p.err
}

func (p *recordingPublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	store  *repository.MemoryStore
	orders *OrderService
	engine *MatchingEngine
	pub    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	return newFixtureWithStore(t, store, store)
}

func newFixtureWithStore(t *testing.T, mem *repository.MemoryStore, store repository.Store) *fixture {
	t.Helper()
	clock := &stepClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	mem.SetClock(clock.Now)

	pub := &recordingPublisher{}
	orders := NewOrderService(store, "TRY", nil, nil)
	orders.SetClock(clock.Now)
	orders.SetPublisher(pub)
	engine := NewMatchingEngine(store, "TRY", NewLocalLocker(), nil, nil)
	engine.SetPublisher(pub)

	return &fixture{store: mem, orders: orders, engine: engine, pub: pub}
}

func (f *fixture) seed(t *testing.T, customerID, assetName, size string) {
	t.Helper()
	err := f.store.Assets().Upsert(context.Background(), &repository.Asset{
		CustomerID: customerID,
		AssetName:  assetName,
		Size:       dec(size),
		UsableSize: dec(size),
	})
	if err != nil {
		t.Fatalf("seed %s/%s: %v", customerID, assetName, err)
	}
}

func (f *fixture) place(t *testing.T, customerID, side, assetName, size, price string) *repository.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: customerID,
		AssetName:  assetName,
		Side:       side,
		Size:       dec(size),
		Price:      dec(price),
	})
	if err != nil {
		t.Fatalf("create %s %s %s@%s for %s: %v", side, size, assetName, price, customerID, err)
	}
	return order
}

func (f *fixture) balance(t *testing.T, customerID, assetName string) *repository.Asset {
	t.Helper()
	a, err := f.store.Assets().FindBalance(context.Background(), customerID, assetName)
	if err != nil {
		t.Fatalf("balance %s/%s: %v", customerID, assetName, err)
	}
	return a
}

func (f *fixture) order(t *testing.T, id uuid.UUID) *repository.Order {
	t.Helper()
	for _, o := range f.allOrders(t) {
		if o.OrderID == id {
			return o
		}
	}
	t.Fatalf("order %s not found", id)
	return nil
}

func (f *fixture) allOrders(t *testing.T) []*repository.Order {
	t.Helper()
	var all []*repository.Order
	for _, c := range []string{alice, bob, carol, dave} {
		orders, err := f.store.Orders().ListByCustomer(context.Background(), c, repository.OrderFilter{})
		if err != nil {
			t.Fatalf("list orders: %v", err)
		}
		all = append(all, orders...)
	}
	return all
}

func (f *fixture) allAssets(t *testing.T) []*repository.Asset {
	t.Helper()
	var all []*repository.Asset
	for _, c := range []string{alice, bob, carol, dave} {
		assets, err := f.store.Assets().ListByCustomer(context.Background(), c, repository.Page{})
		if err != nil {
			t.Fatalf("list assets: %v", err)
		}
		all = append(all, assets...)
	}
	return all
}

// totals 每种资产的 size 总和
func (f *fixture) totals(t *testing.T) map[string]decimal.Decimal {
	t.Helper()
	out := make(map[string]decimal.Decimal)
	for _, a := range f.allAssets(t) {
		out[a.AssetName] = out[a.AssetName].Add(a.Size)
	}
	return out
}

func (f *fixture) checkBalances(t *testing.T) {
	t.Helper()
	for _, a := range f.allAssets(t) {
		if a.UsableSize.IsNegative() || a.UsableSize.GreaterThan(a.Size) {
			t.Fatalf("balance invariant broken for %s/%s: size=%s usable=%s", a.CustomerID, a.AssetName, a.Size, a.UsableSize)
		}
	}
}

func expectDec(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", what, got, want)
	}
}

func expectCode(t *testing.T, err error, code commonerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	var ce *commonerrors.Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected coded error %s, got %v", code, err)
	}
	if ce.Code != code {
		t.Fatalf("expected %s, got %s (%v)", code, ce.Code, err)
	}
}
