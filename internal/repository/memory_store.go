package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nikolayk812/cartcore/internal/domain"
	"github.com/nikolayk812/cartcore/internal/port"
)

// MemoryStore implements port.Store with in-memory maps. One mutex
// serializes all mutations, which trivially satisfies the per-item and
// per-cart ordering guarantees; InTx restores a deep copy on error so a
// failed unit leaves no partial state.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	cartsByOwner map[string]uuid.UUID
	carts        map[uuid.UUID]domain.Cart
	inventory    map[domain.ItemRef]domain.CatalogItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memState{
			cartsByOwner: make(map[string]uuid.UUID),
			carts:        make(map[uuid.UUID]domain.Cart),
			inventory:    make(map[domain.ItemRef]domain.CatalogItem),
		},
	}
}

// SetCatalogItem seeds or replaces the inventory record for one
// sellable unit.
func (m *MemoryStore) SetCatalogItem(item domain.CatalogItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.inventory[item.Item] = cloneCatalogItem(item)
}

func (m *MemoryStore) InTx(_ context.Context, fn func(st port.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()

	if err := fn(&memTx{st: &m.state}); err != nil {
		m.state = snapshot
		return err
	}

	return nil
}

func (m *MemoryStore) GetCart(ctx context.Context, owner domain.OwnerRef) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.getCart(owner)
}

func (m *MemoryStore) GetOrCreateCart(ctx context.Context, owner domain.OwnerRef) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.getOrCreateCart(owner)
}

func (m *MemoryStore) LockCart(ctx context.Context, cartID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.lockCart(cartID)
}

func (m *MemoryStore) FindLine(ctx context.Context, cartID, lineID uuid.UUID) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.findLine(cartID, lineID)
}

func (m *MemoryStore) InsertLine(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertLine(line)
}

func (m *MemoryStore) UpdateLine(ctx context.Context, lineID uuid.UUID, quantity int, snapshot domain.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateLine(lineID, quantity, snapshot)
}

func (m *MemoryStore) DeleteLine(ctx context.Context, lineID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteLine(lineID)
}

func (m *MemoryStore) DeleteCartLines(ctx context.Context, cartID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteCartLines(cartID)
}

func (m *MemoryStore) DeleteCart(ctx context.Context, cartID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteCart(cartID)
}

func (m *MemoryStore) Lookup(ctx context.Context, item domain.ItemRef) (domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.lookup(item)
}

func (m *MemoryStore) TryAdjust(ctx context.Context, item domain.ItemRef, delta int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.tryAdjust(item, delta)
}

// memTx is the store as seen inside InTx: the outer mutex is already
// held, so operations run unguarded against the live state.
type memTx struct {
	st *memState
}

func (t *memTx) InTx(_ context.Context, fn func(st port.Store) error) error {
	// already in a unit
	return fn(t)
}

func (t *memTx) GetCart(_ context.Context, owner domain.OwnerRef) (domain.Cart, error) {
	return t.st.getCart(owner)
}

func (t *memTx) GetOrCreateCart(_ context.Context, owner domain.OwnerRef) (domain.Cart, error) {
	return t.st.getOrCreateCart(owner)
}

func (t *memTx) LockCart(_ context.Context, cartID uuid.UUID) error {
	return t.st.lockCart(cartID)
}

func (t *memTx) FindLine(_ context.Context, cartID, lineID uuid.UUID) (domain.CartLine, error) {
	return t.st.findLine(cartID, lineID)
}

func (t *memTx) InsertLine(_ context.Context, line domain.CartLine) (domain.CartLine, error) {
	return t.st.insertLine(line)
}

func (t *memTx) UpdateLine(_ context.Context, lineID uuid.UUID, quantity int, snapshot domain.Money) error {
	return t.st.updateLine(lineID, quantity, snapshot)
}

func (t *memTx) DeleteLine(_ context.Context, lineID uuid.UUID) error {
	return t.st.deleteLine(lineID)
}

func (t *memTx) DeleteCartLines(_ context.Context, cartID uuid.UUID) error {
	return t.st.deleteCartLines(cartID)
}

func (t *memTx) DeleteCart(_ context.Context, cartID uuid.UUID) error {
	return t.st.deleteCart(cartID)
}

func (t *memTx) Lookup(_ context.Context, item domain.ItemRef) (domain.CatalogItem, error) {
	return t.st.lookup(item)
}

func (t *memTx) TryAdjust(_ context.Context, item domain.ItemRef, delta int) (int, bool, error) {
	return t.st.tryAdjust(item, delta)
}

func (s *memState) getCart(owner domain.OwnerRef) (domain.Cart, error) {
	if err := owner.Validate(); err != nil {
		return domain.Cart{}, fmt.Errorf("owner.Validate: %w", err)
	}

	id, ok := s.cartsByOwner[owner.String()]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}

	return cloneCart(s.carts[id]), nil
}

func (s *memState) getOrCreateCart(owner domain.OwnerRef) (domain.Cart, error) {
	if err := owner.Validate(); err != nil {
		return domain.Cart{}, fmt.Errorf("owner.Validate: %w", err)
	}

	if id, ok := s.cartsByOwner[owner.String()]; ok {
		return cloneCart(s.carts[id]), nil
	}

	now := time.Now()
	cart := domain.Cart{
		ID:        uuid.New(),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.cartsByOwner[owner.String()] = cart.ID
	s.carts[cart.ID] = cart

	return cloneCart(cart), nil
}

func (s *memState) lockCart(cartID uuid.UUID) error {
	// the store mutex already serializes; just check existence
	if _, ok := s.carts[cartID]; !ok {
		return domain.ErrCartNotFound
	}
	return nil
}

func (s *memState) findLine(cartID, lineID uuid.UUID) (domain.CartLine, error) {
	cart, ok := s.carts[cartID]
	if !ok {
		return domain.CartLine{}, domain.ErrLineNotFound
	}

	for _, line := range cart.Lines {
		if line.ID == lineID {
			return cloneLine(line), nil
		}
	}

	return domain.CartLine{}, domain.ErrLineNotFound
}

func (s *memState) insertLine(line domain.CartLine) (domain.CartLine, error) {
	if err := line.Validate(); err != nil {
		return domain.CartLine{}, fmt.Errorf("line.Validate: %w", err)
	}

	cart, ok := s.carts[line.CartID]
	if !ok {
		return domain.CartLine{}, domain.ErrCartNotFound
	}

	if _, found := cart.FindLine(line.ItemRef()); found {
		return domain.CartLine{}, fmt.Errorf("cart[%s] already has a line for %s[%s]",
			cart.ID, line.ItemRef().Kind, line.ItemRef().ID)
	}

	now := time.Now()
	line.AddedAt = now
	line.UpdatedAt = now

	cart.Lines = append(cart.Lines, cloneLine(line))
	cart.UpdatedAt = now
	s.carts[cart.ID] = cart

	return line, nil
}

func (s *memState) updateLine(lineID uuid.UUID, quantity int, snapshot domain.Money) error {
	for id, cart := range s.carts {
		for i, line := range cart.Lines {
			if line.ID != lineID {
				continue
			}

			now := time.Now()
			cart.Lines[i].Quantity = quantity
			cart.Lines[i].PriceSnapshot = snapshot
			cart.Lines[i].UpdatedAt = now
			cart.UpdatedAt = now
			s.carts[id] = cart
			return nil
		}
	}

	return domain.ErrLineNotFound
}

func (s *memState) deleteLine(lineID uuid.UUID) error {
	for id, cart := range s.carts {
		for i, line := range cart.Lines {
			if line.ID != lineID {
				continue
			}

			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
			cart.UpdatedAt = time.Now()
			s.carts[id] = cart
			return nil
		}
	}

	return domain.ErrLineNotFound
}

func (s *memState) deleteCartLines(cartID uuid.UUID) error {
	cart, ok := s.carts[cartID]
	if !ok {
		return domain.ErrCartNotFound
	}

	cart.Lines = nil
	cart.UpdatedAt = time.Now()
	s.carts[cartID] = cart

	return nil
}

func (s *memState) deleteCart(cartID uuid.UUID) error {
	cart, ok := s.carts[cartID]
	if !ok {
		return nil
	}

	delete(s.cartsByOwner, cart.Owner.String())
	delete(s.carts, cartID)

	return nil
}

func (s *memState) lookup(item domain.ItemRef) (domain.CatalogItem, error) {
	if err := item.Validate(); err != nil {
		return domain.CatalogItem{}, fmt.Errorf("item.Validate: %w", err)
	}

	cat, ok := s.inventory[item]
	if !ok {
		return domain.CatalogItem{}, domain.ErrItemNotFound
	}

	return cloneCatalogItem(cat), nil
}

func (s *memState) tryAdjust(item domain.ItemRef, delta int) (int, bool, error) {
	cat, ok := s.inventory[item]
	if !ok {
		return 0, false, domain.ErrItemNotFound
	}

	if cat.Stock+delta < 0 {
		return cat.Stock, false, nil
	}

	cat.Stock += delta
	s.inventory[item] = cat

	return cat.Stock, true, nil
}

func (s *memState) clone() memState {
	out := memState{
		cartsByOwner: make(map[string]uuid.UUID, len(s.cartsByOwner)),
		carts:        make(map[uuid.UUID]domain.Cart, len(s.carts)),
		inventory:    make(map[domain.ItemRef]domain.CatalogItem, len(s.inventory)),
	}

	for k, v := range s.cartsByOwner {
		out.cartsByOwner[k] = v
	}
	for k, v := range s.carts {
		out.carts[k] = cloneCart(v)
	}
	for k, v := range s.inventory {
		out.inventory[k] = cloneCatalogItem(v)
	}

	return out
}

func cloneCart(cart domain.Cart) domain.Cart {
	out := cart
	out.Lines = make([]domain.CartLine, len(cart.Lines))
	for i, line := range cart.Lines {
		out.Lines[i] = cloneLine(line)
	}

	return out
}

func cloneLine(line domain.CartLine) domain.CartLine {
	out := line
	if line.VariantID != nil {
		id := *line.VariantID
		out.VariantID = &id
	}
	if line.ProductID != nil {
		id := *line.ProductID
		out.ProductID = &id
	}

	return out
}

func cloneCatalogItem(cat domain.CatalogItem) domain.CatalogItem {
	out := cat
	if cat.SalePrice != nil {
		sale := *cat.SalePrice
		out.SalePrice = &sale
	}

	return out
}
