package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-course-trade/internal/outbox"
)

// memStore mirrors the conditional writes of Repo.
type memStore struct {
	mu       sync.Mutex
	orders   map[string]Order
	lines    map[string][]OrderLine
	receipts map[string]bool
	events   []outbox.Message

	persistErr  error
	beforeClose func(s *memStore, orderID string)
	// afterFind runs once, after the next FindOrder has read its row
	afterFind   func(orderID string)
}

func newMemStore() *memStore {
	return &memStore{orders: map[string]Order{}, lines: map[string][]OrderLine{}, receipts: map[string]bool{}}
}

func (s *memStore) Persist(_ context.Context, o *Order, lines []OrderLine, events ...outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return s.persistErr
	}
	s.orders[o.ID] = *o
	s.lines[o.ID] = append([]OrderLine(nil), lines...)
	s.events = append(s.events, events...)
	return nil
}

func (s *memStore) FindOrder(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	o, ok := s.orders[id]
	hook := s.afterFind
	s.afterFind = nil
	s.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if !ok {
		return nil, ErrNoRecord
	}
	return &o, nil
}

func (s *memStore) FindLines(_ context.Context, orderID string) ([]OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OrderLine(nil), s.lines[orderID]...), nil
}

func (s *memStore) FindLinesByOrderIDs(ctx context.Context, ids []string) (map[string][]OrderLine, error) {
	out := map[string][]OrderLine{}
	for _, id := range ids {
		l, _ := s.FindLines(ctx, id)
		out[id] = l
	}
	return out, nil
}

func (s *memStore) ListOrders(_ context.Context, q ListQuery) ([]Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Order
	for _, o := range s.orders {
		if o.UserID == q.UserID && (q.Status == "" || o.Status == q.Status) {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreateTime.After(all[j].CreateTime) })
	from := (q.PageNo - 1) * q.PageSize
	if from >= len(all) {
		return nil, int64(len(all)), nil
	}
	to := from + q.PageSize
	if to > len(all) {
		to = len(all)
	}
	return all[from:to], int64(len(all)), nil
}

func (s *memStore) CloseUnpaid(_ context.Context, orderID string, at time.Time, message string) (bool, error) {
	if s.beforeClose != nil {
		s.beforeClose(s, orderID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != StatusNoPay {
		return false, nil
	}
	o.Status, o.CloseTime, o.Message, o.UpdateTime = StatusClosed, &at, message, at
	s.orders[orderID] = o
	s.setLines(orderID, StatusClosed, "")
	return true, nil
}

func (s *memStore) MarkPaid(_ context.Context, p PaymentResult, message string, evt outbox.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receipts[p.PayOrderNo] {
		return false, nil
	}
	o, ok := s.orders[p.OrderID]
	if !ok || !CanTransition(o.Status, StatusPayed) {
		return false, nil
	}
	s.receipts[p.PayOrderNo] = true
	at := p.SettledAt
	o.Status, o.PayTime, o.PayChannel, o.PayOrderNo, o.Message = StatusPayed, &at, p.Channel, p.PayOrderNo, message
	s.orders[p.OrderID] = o
	s.setLines(p.OrderID, StatusPayed, p.Channel)
	s.events = append(s.events, evt)
	return true, nil
}

func (s *memStore) DeleteClosed(_ context.Context, orderID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID || o.Status != StatusClosed {
		return false, nil
	}
	delete(s.orders, orderID)
	delete(s.lines, orderID)
	return true, nil
}

func (s *memStore) setLines(orderID string, st Status, channel string) {
	ls := s.lines[orderID]
	for i := range ls {
		ls[i].Status = st
		if channel != "" {
			ls[i].PayChannel = channel
		}
	}
}

func (s *memStore) order(id string) Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakeCatalog struct {
	courses     map[string]Course
	err         error
	calls       int
	hadDeadline bool
}

func (c *fakeCatalog) CheckPurchasable(ctx context.Context, ids []string) ([]Course, error) {
	c.calls++
	_, c.hadDeadline = ctx.Deadline()
	if c.err != nil {
		return nil, c.err
	}
	var out []Course
	for _, id := range ids {
		if course, ok := c.courses[id]; ok {
			out = append(out, course)
		}
	}
	return out, nil
}

type fakeCart struct {
	removed map[string][]string
	err     error
}

func (c *fakeCart) RemoveItems(_ context.Context, userID string, ids []string) error {
	if c.err != nil {
		return c.err
	}
	if c.removed == nil {
		c.removed = map[string][]string{}
	}
	c.removed[userID] = append(c.removed[userID], ids...)
	return nil
}

type mapCache struct {
	mu          sync.Mutex
	views       map[string]StatusView
	invalidated []string
}

func (c *mapCache) Get(_ context.Context, id string) (StatusView, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[id]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, v StatusView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.views == nil {
		c.views = map[string]StatusView{}
	}
	c.views[v.OrderID] = v
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%03d", s.n)
}

type fixedDiscounts map[string]int64

func (f fixedDiscounts) Discounts(context.Context, string, []Course) (map[string]int64, error) {
	return f, nil
}

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func testCatalog() *fakeCatalog {
	return &fakeCatalog{courses: map[string]Course{
		"c1":   {ID: "c1", Price: 1000, Name: "Go in Practice", CoverURL: "https://cdn/c1.png", ValidDuration: 12},
		"c2":   {ID: "c2", Price: 500, Name: "SQL Basics"},
		"free": {ID: "free", Free: true, Name: "Intro"},
	}}
}

type fixture struct {
	svc     *Service
	store   *memStore
	catalog *fakeCatalog
	cart    *fakeCart
	cache   *mapCache
	clock   *time.Time
}

func newFixture(t interface{ Fatalf(string, ...any) }, opts ...func(*ServiceDeps)) *fixture {
	clock := testNow
	f := &fixture{store: newMemStore(), catalog: testCatalog(), cart: &fakeCart{}, cache: &mapCache{}, clock: &clock}
	deps := ServiceDeps{
		Store:          f.store,
		Catalog:        f.catalog,
		Cart:           f.cart,
		Cache:          f.cache,
		IDs:            &seqIDs{},
		PayTTL:         30 * time.Minute,
		CatalogTimeout: time.Second,
		Now:            func() time.Time { return *f.clock },
	}
	for _, o := range opts {
		o(&deps)
	}
	svc, err := NewService(deps)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}
