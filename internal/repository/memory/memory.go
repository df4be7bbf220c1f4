// Package memory provides mutex-guarded in-memory implementations of the
// repository interfaces. They mirror the Postgres semantics closely enough
// to back the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/repository"
)

// ProductStore is an in-memory ProductRepository.
type ProductStore struct {
	mu       sync.Mutex
	products map[string]entity.Product
}

func NewProductStore() *ProductStore {
	return &ProductStore{products: make(map[string]entity.Product)}
}

func (s *ProductStore) FindByID(_ context.Context, id string) (*entity.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *ProductStore) FindAll(_ context.Context) ([]entity.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *ProductStore) Seed(_ context.Context, products []entity.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.products) > 0 {
		return nil
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return nil
}

func (s *ProductStore) DeductStock(_ context.Context, id string, qty int) (*entity.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p.Inventory.Stock -= qty
	if p.Inventory.Stock < 0 {
		p.Inventory.Stock = 0
	}
	if p.Inventory.Stock == 0 && !p.Inventory.AllowBackorders {
		p.Inventory.Available = false
	}
	s.products[id] = p
	return &p, nil
}

func (s *ProductStore) RestoreStock(_ context.Context, id string, qty int) (*entity.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p.Inventory.Stock += qty
	p.Inventory.Available = true
	s.products[id] = p
	return &p, nil
}

// OrderStore is an in-memory OrderRepository.
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]entity.Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]entity.Order)}
}

func (s *OrderStore) Create(_ context.Context, order *entity.Order) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return false, nil
	}
	s.orders[order.ID] = cloneOrder(*order)
	return true, nil
}

func (s *OrderStore) UpdateStatus(_ context.Context, id, status string) (*entity.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	prev := cloneOrder(o)
	o.Status = status
	s.orders[id] = o
	return &prev, nil
}

func (s *OrderStore) FindByID(_ context.Context, id string) (*entity.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *OrderStore) FindRecent(_ context.Context, limit int) ([]entity.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneOrder(o entity.Order) entity.Order {
	items := make([]entity.OrderItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}

// CartStore is an in-memory CartRepository.
type CartStore struct {
	mu    sync.Mutex
	carts map[string]entity.AbandonedCart // keyed by session ID
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]entity.AbandonedCart)}
}

func (s *CartStore) FindBySessionID(_ context.Context, sessionID string) (*entity.AbandonedCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneCart(c)
	return &out, nil
}

func (s *CartStore) Upsert(_ context.Context, cart *entity.AbandonedCart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.carts[cart.SessionID]; ok {
		// Keep the identity and reminder bookkeeping of the original record.
		cart.ID = existing.ID
		cart.ReminderStage = existing.ReminderStage
		cart.RecoveryEmailSentAt = existing.RecoveryEmailSentAt
		cart.CreatedAt = existing.CreatedAt
		cart.RecoveredOrder = existing.RecoveredOrder
	}
	s.carts[cart.SessionID] = cloneCart(*cart)
	return nil
}

func (s *CartStore) Touch(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	c.LastActivityAt = at
	c.UpdatedAt = at
	s.carts[sessionID] = c
	return nil
}

func (s *CartStore) FindStale(_ context.Context, cutoff time.Time, limit int) ([]entity.AbandonedCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.AbandonedCart
	for _, c := range s.carts {
		if c.Status == entity.CartRecovered || !c.LastActivityAt.Before(cutoff) {
			continue
		}
		// Non-empty carts already marked abandoned are done; only active
		// carts and empty leftovers still need the sweep.
		if c.Status != entity.CartActive && c.HasItems() {
			continue
		}
		out = append(out, cloneCart(c))
	}
	sortByActivity(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *CartStore) FindReminderCandidates(_ context.Context, stage int, activityBefore, sentBefore time.Time, limit int) ([]entity.AbandonedCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.AbandonedCart
	for _, c := range s.carts {
		if c.ReminderStage != stage-1 || c.Status == entity.CartRecovered || c.CustomerEmail == "" {
			continue
		}
		if !c.LastActivityAt.Before(activityBefore) {
			continue
		}
		if c.RecoveryEmailSentAt != nil && !c.RecoveryEmailSentAt.Before(sentBefore) {
			continue
		}
		out = append(out, cloneCart(c))
	}
	sortByActivity(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *CartStore) MarkAbandoned(_ context.Context, id, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid, c := range s.carts {
		if c.ID != id || c.Status != entity.CartActive {
			continue
		}
		c.Status = entity.CartAbandoned
		c.Notes = appendNote(c.Notes, note)
		c.UpdatedAt = at
		s.carts[sid] = c
		return nil
	}
	return nil
}

func (s *CartStore) MarkRecovered(_ context.Context, sessionID, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[sessionID]
	if !ok || c.Status == entity.CartRecovered {
		return nil
	}
	c.Status = entity.CartRecovered
	c.RecoveredOrder = orderID
	c.Notes = appendNote(c.Notes, "recovered by order "+orderID)
	c.UpdatedAt = at
	s.carts[sessionID] = c
	return nil
}

func (s *CartStore) ClaimReminderStage(_ context.Context, id string, stage int, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid, c := range s.carts {
		if c.ID != id {
			continue
		}
		if c.ReminderStage != stage-1 || c.Status == entity.CartRecovered {
			return false, nil
		}
		c.ReminderStage = stage
		t := sentAt
		c.RecoveryEmailSentAt = &t
		if c.Status == entity.CartActive {
			c.Status = entity.CartAbandoned
		}
		c.UpdatedAt = sentAt
		s.carts[sid] = c
		return true, nil
	}
	return false, nil
}

func (s *CartStore) ReleaseReminderStage(_ context.Context, id string, stage int, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid, c := range s.carts {
		if c.ID == id && c.ReminderStage == stage {
			c.ReminderStage = stage - 1
			if sentAt != nil {
				t := *sentAt
				c.RecoveryEmailSentAt = &t
			} else {
				c.RecoveryEmailSentAt = nil
			}
			s.carts[sid] = c
			return nil
		}
	}
	return nil
}

func (s *CartStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid, c := range s.carts {
		if c.ID == id {
			delete(s.carts, sid)
			return nil
		}
	}
	return repository.ErrNotFound
}

func cloneCart(c entity.AbandonedCart) entity.AbandonedCart {
	items := make([]entity.CartLine, len(c.Items))
	copy(items, c.Items)
	c.Items = items
	if c.RecoveryEmailSentAt != nil {
		t := *c.RecoveryEmailSentAt
		c.RecoveryEmailSentAt = &t
	}
	return c
}

func sortByActivity(carts []entity.AbandonedCart) {
	sort.Slice(carts, func(i, j int) bool {
		return carts[i].LastActivityAt.Before(carts[j].LastActivityAt)
	})
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
