package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type assetKey struct {
	customerID string
	assetName  string
}

type memOrder struct {
	order *Order
	seq   uint64
}

// MemoryStore 内存存储。事务串行执行，失败时恢复快照
type MemoryStore struct {
	mu     sync.Mutex
	assets map[assetKey]*Asset
	orders map[uuid.UUID]*memOrder
	seq    uint64
	now    func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets: make(map[assetKey]*Asset),
		orders: make(map[uuid.UUID]*memOrder),
		now:    utcNow,
	}
}

// SetClock 替换时钟
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Assets() AssetStore { return &memAssets{s: s} }

func (s *MemoryStore) Orders() OrderStore { return &memOrders{s: s} }

type memTx struct {
	s *MemoryStore
}

func (t *memTx) Assets() AssetStore { return &memAssets{s: t.s, locked: true} }

func (t *memTx) Orders() OrderStore { return &memOrders{s: t.s, locked: true} }

// WithinTx fn 内只能通过 tx 访问存储
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	assets map[assetKey]*Asset
	orders map[uuid.UUID]*memOrder
	seq    uint64
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		assets: make(map[assetKey]*Asset, len(s.assets)),
		orders: make(map[uuid.UUID]*memOrder, len(s.orders)),
		seq:    s.seq,
	}
	for k, a := range s.assets {
		snap.assets[k] = a.Clone()
	}
	for k, o := range s.orders {
		snap.orders[k] = &memOrder{order: o.order.Clone(), seq: o.seq}
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.assets = snap.assets
	s.orders = snap.orders
	s.seq = snap.seq
}

func (s *MemoryStore) lock(locked bool) func() {
	if locked {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type memAssets struct {
	s      *MemoryStore
	locked bool
}

func (m *memAssets) FindBalance(ctx context.Context, customerID, assetName string) (*Asset, error) {
	defer m.s.lock(m.locked)()
	a, ok := m.s.assets[assetKey{customerID, NormalizeAssetName(assetName)}]
	if !ok {
		return nil, ErrAssetNotFound
	}
	return a.Clone(), nil
}

func (m *memAssets) AdjustUsable(ctx context.Context, customerID, assetName string, delta decimal.Decimal) error {
	defer m.s.lock(m.locked)()
	a, ok := m.s.assets[assetKey{customerID, NormalizeAssetName(assetName)}]
	if !ok {
		return ErrAssetNotFound
	}
	a.UsableSize = a.UsableSize.Add(delta)
	return nil
}

func (m *memAssets) AdjustSize(ctx context.Context, customerID, assetName string, delta decimal.Decimal) error {
	defer m.s.lock(m.locked)()
	key := assetKey{customerID, NormalizeAssetName(assetName)}
	a, ok := m.s.assets[key]
	if !ok {
		if !delta.IsPositive() {
			return ErrAssetNotFound
		}
		m.s.assets[key] = &Asset{
			AssetID:    uuid.New(),
			CustomerID: customerID,
			AssetName:  key.assetName,
			Size:       delta,
			UsableSize: decimal.Zero,
		}
		return nil
	}
	a.Size = a.Size.Add(delta)
	return nil
}

func (m *memAssets) ListByCustomer(ctx context.Context, customerID string, page Page) ([]*Asset, error) {
	defer m.s.lock(m.locked)()
	var all []*Asset
	for k, a := range m.s.assets {
		if k.customerID == customerID {
			all = append(all, a.Clone())
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AssetName < all[j].AssetName })
	return paginate(all, page), nil
}

func (m *memAssets) Upsert(ctx context.Context, asset *Asset) error {
	defer m.s.lock(m.locked)()
	if asset.AssetID == uuid.Nil {
		asset.AssetID = uuid.New()
	}
	asset.AssetName = NormalizeAssetName(asset.AssetName)
	key := assetKey{asset.CustomerID, asset.AssetName}
	if existing, ok := m.s.assets[key]; ok {
		existing.Size = asset.Size
		existing.UsableSize = asset.UsableSize
		return nil
	}
	m.s.assets[key] = asset.Clone()
	return nil
}

type memOrders struct {
	s      *MemoryStore
	locked bool
}

func (m *memOrders) Create(ctx context.Context, order *Order) error {
	defer m.s.lock(m.locked)()
	if order.OrderID == uuid.Nil {
		order.OrderID = uuid.New()
	}
	if order.CreateDate.IsZero() {
		order.CreateDate = m.s.now()
	}
	order.UpdateDate = order.CreateDate
	order.AssetName = NormalizeAssetName(order.AssetName)
	m.s.seq++
	m.s.orders[order.OrderID] = &memOrder{order: order.Clone(), seq: m.s.seq}
	return nil
}

func (m *memOrders) Get(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	defer m.s.lock(m.locked)()
	o, ok := m.s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.order.Clone(), nil
}

func (m *memOrders) FindPending(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	defer m.s.lock(m.locked)()
	o, ok := m.s.orders[orderID]
	if !ok || o.order.Status != StatusPending {
		return nil, ErrOrderNotFound
	}
	return o.order.Clone(), nil
}

func (m *memOrders) FindPendingByAssetAndSide(ctx context.Context, assetName string, side Side) ([]*Order, error) {
	defer m.s.lock(m.locked)()
	name := NormalizeAssetName(assetName)
	var matched []*memOrder
	for _, o := range m.s.orders {
		if o.order.Status == StatusPending && o.order.AssetName == name && o.order.Side == side {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].order.CreateDate.Equal(matched[j].order.CreateDate) {
			return matched[i].order.CreateDate.Before(matched[j].order.CreateDate)
		}
		return matched[i].seq < matched[j].seq
	})
	orders := make([]*Order, len(matched))
	for i, o := range matched {
		orders[i] = o.order.Clone()
	}
	return orders, nil
}

func (m *memOrders) UpdateSize(ctx context.Context, orderID uuid.UUID, size decimal.Decimal) error {
	defer m.s.lock(m.locked)()
	o, ok := m.s.orders[orderID]
	if !ok || o.order.Status != StatusPending {
		return ErrOrderNotPending
	}
	o.order.Size = size
	o.order.UpdateDate = m.s.now()
	return nil
}

func (m *memOrders) TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to Status) (bool, error) {
	defer m.s.lock(m.locked)()
	o, ok := m.s.orders[orderID]
	if !ok || o.order.Status != from {
		return false, nil
	}
	o.order.Status = to
	o.order.UpdateDate = m.s.now()
	return true, nil
}

func (m *memOrders) ExistsByID(ctx context.Context, orderID uuid.UUID) (bool, error) {
	defer m.s.lock(m.locked)()
	_, ok := m.s.orders[orderID]
	return ok, nil
}

func (m *memOrders) ExistsByIDAndCustomer(ctx context.Context, orderID uuid.UUID, customerID string) (bool, error) {
	defer m.s.lock(m.locked)()
	o, ok := m.s.orders[orderID]
	return ok && o.order.CustomerID == customerID, nil
}

func (m *memOrders) ListByCustomer(ctx context.Context, customerID string, filter OrderFilter) ([]*Order, error) {
	defer m.s.lock(m.locked)()
	var all []*memOrder
	for _, o := range m.s.orders {
		if o.order.CustomerID != customerID {
			continue
		}
		if !filter.Start.IsZero() && o.order.CreateDate.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && o.order.CreateDate.After(filter.End) {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].order.CreateDate.Equal(all[j].order.CreateDate) {
			return all[i].order.CreateDate.After(all[j].order.CreateDate)
		}
		return all[i].seq > all[j].seq
	})
	orders := make([]*Order, len(all))
	for i, o := range all {
		orders[i] = o.order.Clone()
	}
	return paginate(orders, filter.Page), nil
}

func paginate[T any](items []T, page Page) []T {
	if page.Size <= 0 {
		return items
	}
	start := page.Offset()
	if start >= len(items) {
		return nil
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
