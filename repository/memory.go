package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"seed-order-service/models"
)

// MemoryStore keeps orders and product stock in process memory. Transactions
// are serialized and each one works on a copy of the state that replaces the
// live state only on commit. It backs local runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	state    memoryState
	now      func() time.Time
	failNext error
}

type memoryState struct {
	orders      map[int64]models.Order
	items       map[int64][]models.OrderItem
	stock       map[int64]int
	nextOrderID int64
	nextItemID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memoryState{
			orders: make(map[int64]models.Order),
			items:  make(map[int64][]models.OrderItem),
			stock:  make(map[int64]int),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

// SetProductStock creates or overwrites a product's stock level.
func (s *MemoryStore) SetProductStock(productID int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.stock[productID] = stock
}

// ProductStock returns the committed stock level of a product.
func (s *MemoryStore) ProductStock(productID int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stock, ok := s.state.stock[productID]
	return stock, ok
}

// OrderCount returns the number of committed orders.
func (s *MemoryStore) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

// FailNextCommit makes the next transaction fail with err at commit time.
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memoryTx{state: &work, now: s.now}); err != nil {
		return err
	}
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.order(id)
}

func (s *MemoryStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.state.orders {
		if o.OrderNumber == orderNumber {
			return s.state.order(id)
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int64, error) {
	filter = NormalizePage(filter)
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.Order
	for id, o := range s.state.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.CustomerEmail != "" && o.CustomerEmail != filter.CustomerEmail {
			continue
		}
		if filter.OrderNumber != "" && !strings.Contains(o.OrderNumber, filter.OrderNumber) {
			continue
		}
		full, _ := s.state.order(id)
		matched = append(matched, *full)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := (filter.Page - 1) * filter.Limit
	if start >= len(matched) {
		return []models.Order{}, total, nil
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = s.now()
	s.state.orders[id] = o
	return nil
}

func (s *MemoryStore) UpdateStatusIf(ctx context.Context, id int64, from, to models.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = s.now()
	s.state.orders[id] = o
	return true, nil
}

func (s *MemoryStore) Statistics(ctx context.Context) (*models.OrderStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStatus := make(map[models.OrderStatus]*StatusTotal)
	var groups []StatusTotal
	for _, o := range s.state.orders {
		g, ok := byStatus[o.Status]
		if !ok {
			g = &StatusTotal{Status: o.Status, Revenue: decimal.Zero}
			byStatus[o.Status] = g
		}
		g.Count++
		g.Revenue = g.Revenue.Add(o.Total)
	}
	for _, g := range byStatus {
		groups = append(groups, *g)
	}
	return Aggregate(groups), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (st memoryState) clone() memoryState {
	c := memoryState{
		orders:      make(map[int64]models.Order, len(st.orders)),
		items:       make(map[int64][]models.OrderItem, len(st.items)),
		stock:       make(map[int64]int, len(st.stock)),
		nextOrderID: st.nextOrderID,
		nextItemID:  st.nextItemID,
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.items {
		c.items[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range st.stock {
		c.stock[k] = v
	}
	return c
}

func (st memoryState) order(id int64) (*models.Order, error) {
	o, ok := st.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Items = append([]models.OrderItem{}, st.items[id]...)
	return &o, nil
}

type memoryTx struct {
	state *memoryState
	now   func() time.Time
}

func (t *memoryTx) InsertOrder(ctx context.Context, o *models.Order) (int64, error) {
	for _, existing := range t.state.orders {
		if existing.OrderNumber == o.OrderNumber {
			return 0, ErrDuplicateOrderNumber
		}
	}
	t.state.nextOrderID++
	row := *o
	row.ID = t.state.nextOrderID
	row.Items = nil
	row.CreatedAt = t.now()
	row.UpdatedAt = row.CreatedAt
	t.state.orders[row.ID] = row
	return row.ID, nil
}

func (t *memoryTx) InsertItem(ctx context.Context, orderID int64, item models.OrderItem) error {
	t.state.nextItemID++
	item.ID = t.state.nextItemID
	item.OrderID = orderID
	t.state.items[orderID] = append(t.state.items[orderID], item)
	return nil
}

func (t *memoryTx) DecrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	stock, ok := t.state.stock[productID]
	if !ok || stock < qty {
		return false, nil
	}
	t.state.stock[productID] = stock - qty
	return true, nil
}

func (t *memoryTx) IncrementStock(ctx context.Context, productID int64, qty int) error {
	if stock, ok := t.state.stock[productID]; ok {
		t.state.stock[productID] = stock + qty
	}
	return nil
}

func (t *memoryTx) ProductStock(ctx context.Context, productID int64) (int, error) {
	stock, ok := t.state.stock[productID]
	if !ok {
		return 0, ErrNotFound
	}
	return stock, nil
}

func (t *memoryTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return t.state.order(id)
}

func (t *memoryTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	current, ok := t.state.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	for id, existing := range t.state.orders {
		if id != o.ID && existing.OrderNumber == o.OrderNumber {
			return ErrDuplicateOrderNumber
		}
	}
	row := *o
	row.Items = nil
	row.CreatedAt = current.CreatedAt
	row.UpdatedAt = t.now()
	t.state.orders[o.ID] = row
	return nil
}

func (t *memoryTx) DeleteItems(ctx context.Context, orderID int64) error {
	delete(t.state.items, orderID)
	return nil
}

func (t *memoryTx) DeleteOrder(ctx context.Context, id int64) (bool, error) {
	if _, ok := t.state.orders[id]; !ok {
		return false, nil
	}
	delete(t.state.orders, id)
	delete(t.state.items, id)
	return true, nil
}
