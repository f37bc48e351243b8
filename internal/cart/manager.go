package cart

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Manager applies mutations to stored carts. Every mutation on a cart that
// loaded cleanly is followed by a save; save failures are logged and the
// in-memory result is still returned to the caller.
type Manager struct {
	store Store
	log   *logrus.Entry
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, log: logrus.WithField("component", "cart")}
}

// Get returns the stored cart or an empty one.
func (m *Manager) Get(ctx context.Context, id string) *Cart {
	c, _ := m.load(ctx, id)
	return c
}

// load reports ok=false when the store failed for a reason other than a
// missing cart. The returned cart is then empty and must not be saved over
// the stored one.
func (m *Manager) load(ctx context.Context, id string) (*Cart, bool) {
	c, err := m.store.Load(ctx, id)
	if err == nil {
		return c, true
	}
	if errors.Is(err, ErrNotFound) {
		return New(id), true
	}
	m.log.WithError(err).WithField("cart_id", id).Warn("load cart failed, starting empty")
	return New(id), false
}

// Mutate loads the cart, applies fn, and persists the result.
func (m *Manager) Mutate(ctx context.Context, id string, fn func(c *Cart)) *Cart {
	c, ok := m.load(ctx, id)
	fn(c)
	if !ok {
		m.log.WithField("cart_id", id).Warn("cart not persisted after failed load")
		return c
	}
	if err := m.store.Save(ctx, c); err != nil {
		m.log.WithError(err).WithField("cart_id", id).Error("persist cart failed")
	}
	return c
}

// Discard removes the cart from the store.
func (m *Manager) Discard(ctx context.Context, id string) {
	if err := m.store.Delete(ctx, id); err != nil {
		m.log.WithError(err).WithField("cart_id", id).Error("delete cart failed")
	}
}
