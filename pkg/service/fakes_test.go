package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/events"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/melhorenvio"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/mercadopago"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
)

var (
	customer = auth.Caller{ID: "u1", Role: auth.RoleCustomer}
	other    = auth.Caller{ID: "u2", Role: auth.RoleCustomer}
	admin    = auth.Caller{ID: "admin", Role: auth.RoleAdmin}
	nobody   = auth.Caller{}
)

// memState backs the in-memory stores. Every method takes the lock, so the
// conditional writes are as atomic as their Mongo counterparts.
type memState struct {
	mu       sync.Mutex
	products map[string]*models.Product
	carts    map[string]*models.Cart
	orders   map[string]*models.Order
	users    map[string]*models.User
	seq      int

	decrementErr map[string]error
	clearErr     error
}

func newMemState() *memState {
	return &memState{
		products:     map[string]*models.Product{},
		carts:        map[string]*models.Cart{},
		orders:       map[string]*models.Order{},
		users:        map[string]*models.User{},
		decrementErr: map[string]error{},
	}
}

func (m *memState) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s%d", prefix, m.seq)
}

func (m *memState) addProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = &p
}

func (m *memState) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memState) order(id string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memState) setCart(userID string, items ...models.CartItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = &models.Cart{UserID: userID, Items: items}
}

type memProducts struct{ *memState }

func (s memProducts) List(context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Product{}
	for _, p := range s.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s memProducts) Get(_ context.Context, id string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s memProducts) GetMany(_ context.Context, ids []string) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s memProducts) Create(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = s.nextID("p")
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s memProducts) Update(_ context.Context, id string, u repository.ProductUpdate) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Slug != nil {
		p.Slug = *u.Slug
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.Stock != nil {
		p.Stock = *u.Stock
	}
	cp := *p
	return &cp, nil
}

func (s memProducts) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s memProducts) DecrementStock(_ context.Context, id string, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.decrementErr[id]; err != nil {
		return false, err
	}
	p, ok := s.products[id]
	if !ok {
		return false, nil
	}
	p.Stock -= qty
	if p.Stock < 0 {
		p.Stock = 0
	}
	return true, nil
}

type memCarts struct{ *memState }

func (s memCarts) Get(_ context.Context, userID string) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return &models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
	}
	cp := *c
	cp.Items = append([]models.CartItem{}, c.Items...)
	return &cp, nil
}

func (s memCarts) AddItem(_ context.Context, userID, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		c = &models.Cart{UserID: userID}
		s.carts[userID] = c
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += qty
			return nil
		}
	}
	c.Items = append(c.Items, models.CartItem{ProductID: productID, Quantity: qty})
	return nil
}

func (s memCarts) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return s.clearErr
	}
	if c, ok := s.carts[userID]; ok {
		c.Items = []models.CartItem{}
	}
	return nil
}

type memOrders struct{ *memState }

func (s memOrders) Create(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = s.nextID("o")
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s memOrders) Get(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s memOrders) list(keep func(*models.Order) bool) []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Order{}
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s memOrders) ListByUser(_ context.Context, userID string) ([]models.Order, error) {
	return s.list(func(o *models.Order) bool { return o.UserID == userID }), nil
}

func (s memOrders) ListAll(context.Context) ([]models.Order, error) {
	return s.list(func(*models.Order) bool { return true }), nil
}

func (s memOrders) MarkPaid(_ context.Context, id, paymentID string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != models.OrderPending {
		return false, nil
	}
	o.Status = models.OrderPaid
	o.PaymentID = paymentID
	o.PaidAt = &paidAt
	return true, nil
}

func (s memOrders) SetShipped(_ context.Context, id string, shipped bool, at *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	o.Shipped = shipped
	o.ShippedAt = at
	return true, nil
}

type memUsers struct{ *memState }

func (s memUsers) Get(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s memUsers) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = s.nextID("u")
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s memUsers) Owners(_ context.Context, ids []string) (map[string]*models.OrderOwner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]*models.OrderOwner{}
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u.Owner()
		}
	}
	return out, nil
}

func (s memUsers) Update(_ context.Context, id string, u repository.UserUpdate) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if u.Name != nil {
		user.Name = *u.Name
	}
	if u.Phone != nil {
		user.Phone = *u.Phone
	}
	if u.Address != nil {
		user.Address = *u.Address
	}
	if u.Avatar != nil {
		user.Avatar = *u.Avatar
	}
	cp := *user
	return &cp, nil
}

// plainTx runs fn directly; transactional only changes what it reports.
type plainTx struct{ transactional bool }

func (t plainTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (t plainTx) Transactional() bool { return t.transactional }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) ofType(t string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeVerifier struct {
	mu       sync.Mutex
	payments map[string]*mercadopago.Payment
	err      error
	calls    int
}

func (f *fakeVerifier) GetPayment(_ context.Context, id string) (*mercadopago.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s not found", id)
	}
	cp := *p
	return &cp, nil
}

type fakeAggregator struct {
	failAt   string
	err      error
	calls    []string
	quote    *melhorenvio.QuoteRequest
	cartReq  *melhorenvio.CartRequest
	printPub bool
}

func (f *fakeAggregator) step(name string) error {
	f.calls = append(f.calls, name)
	if f.failAt == name {
		return f.err
	}
	return nil
}

func (f *fakeAggregator) Calculate(_ context.Context, req *melhorenvio.QuoteRequest) (json.RawMessage, error) {
	f.quote = req
	if err := f.step("calculate"); err != nil {
		return nil, err
	}
	return json.RawMessage(`[{"id":1,"name":"PAC"}]`), nil
}

func (f *fakeAggregator) AddToCart(_ context.Context, req *melhorenvio.CartRequest) (string, json.RawMessage, error) {
	f.cartReq = req
	if err := f.step(StepCart); err != nil {
		return "", nil, err
	}
	return "lbl-1", json.RawMessage(`{"id":"lbl-1"}`), nil
}

func (f *fakeAggregator) Checkout(context.Context, []string) (json.RawMessage, error) {
	if err := f.step(StepCheckout); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"purchase":{"status":"paid"}}`), nil
}

func (f *fakeAggregator) Generate(context.Context, []string) (json.RawMessage, error) {
	if err := f.step(StepGenerate); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"lbl-1":{"status":true}}`), nil
}

func (f *fakeAggregator) Print(_ context.Context, _ []string, public bool) (json.RawMessage, error) {
	f.printPub = public
	if err := f.step(StepPrint); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"url":"https://print/lbl-1"}`), nil
}

func (f *fakeAggregator) Tracking(context.Context, []string) (json.RawMessage, error) {
	if err := f.step("tracking"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"lbl-1":{"status":"posted"}}`), nil
}

func ptr[T any](v T) *T { return &v }

func repositoryPriceUpdate(price float64) repository.ProductUpdate {
	return repository.ProductUpdate{Price: &price}
}
