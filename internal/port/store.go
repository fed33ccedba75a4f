package port

import (
	"context"

	"github.com/google/uuid"
	"github.com/nikolayk812/cartcore/internal/domain"
)

// CartStore persists carts and their lines. No business rules live here.
type CartStore interface {
	// GetCart returns the cart for the owner with all its lines,
	// or domain.ErrCartNotFound.
	GetCart(ctx context.Context, owner domain.OwnerRef) (domain.Cart, error)

	// GetOrCreateCart returns the owner's cart, creating it if absent.
	// Safe under concurrent first requests for the same owner: at most
	// one cart per owner ever exists.
	GetOrCreateCart(ctx context.Context, owner domain.OwnerRef) (domain.Cart, error)

	// LockCart serializes mutations of one cart for the duration of the
	// enclosing atomic unit.
	LockCart(ctx context.Context, cartID uuid.UUID) error

	// FindLine returns a line by id scoped to the given cart,
	// or domain.ErrLineNotFound.
	FindLine(ctx context.Context, cartID, lineID uuid.UUID) (domain.CartLine, error)

	InsertLine(ctx context.Context, line domain.CartLine) (domain.CartLine, error)

	// UpdateLine sets a line's quantity and price snapshot.
	UpdateLine(ctx context.Context, lineID uuid.UUID, quantity int, snapshot domain.Money) error

	DeleteLine(ctx context.Context, lineID uuid.UUID) error
	DeleteCartLines(ctx context.Context, cartID uuid.UUID) error
	DeleteCart(ctx context.Context, cartID uuid.UUID) error
}

// InventoryLedger owns per-item stock counters. It is the only
// component allowed to mutate stock.
type InventoryLedger interface {
	// Lookup returns catalog state for one sellable unit,
	// or domain.ErrItemNotFound.
	Lookup(ctx context.Context, item domain.ItemRef) (domain.CatalogItem, error)

	// TryAdjust applies delta (negative to reserve, positive to release)
	// only if the resulting stock stays >= 0. It returns the stock after
	// the adjustment on success, or the current stock and ok=false when
	// the delta cannot be applied. Adjustments of the same item never
	// interleave.
	TryAdjust(ctx context.Context, item domain.ItemRef, delta int) (stock int, ok bool, err error)
}

// Store is the persistence surface of the cart core. InTx scopes a set
// of operations into one atomic unit: all of them apply, or none.
type Store interface {
	CartStore
	InventoryLedger

	InTx(ctx context.Context, fn func(s Store) error) error
}
