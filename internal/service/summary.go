package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nikolayk812/cartcore/internal/domain"
	"github.com/nikolayk812/cartcore/internal/port"
)

// LineSummary pairs a cart line with its current catalog standing.
type LineSummary struct {
	Line domain.CartLine

	// Available: the item still exists, is active and has stock.
	Available bool

	// PriceChanged: the catalog's effective price no longer matches the
	// line's snapshot.
	PriceChanged bool

	// Savings against the regular price at current catalog state.
	Savings domain.Money
}

// CartSummary is the derived view of a cart: totals are computed from
// the current lines on every read, never persisted.
type CartSummary struct {
	Cart       domain.Cart
	Lines      []LineSummary
	Subtotal   domain.Money
	Savings    domain.Money
	TotalItems int
}

// Summary returns the owner's cart with derived totals and per-line
// availability, creating the cart lazily like any other first touch.
func (s *CartService) Summary(ctx context.Context, owner domain.OwnerRef) (CartSummary, error) {
	cart, err := s.GetOrCreateCart(ctx, owner)
	if err != nil {
		return CartSummary{}, err
	}

	summary := CartSummary{
		Cart:       cart,
		Subtotal:   cart.Subtotal(),
		TotalItems: cart.TotalItems(),
	}

	for _, line := range cart.Lines {
		ls := LineSummary{Line: line}

		cat, err := s.store.Lookup(ctx, line.ItemRef())
		switch {
		case errors.Is(err, domain.ErrItemNotFound):
			// the sellable unit is gone from the catalog; the line
			// stays priced by its snapshot
		case err != nil:
			return CartSummary{}, fmt.Errorf("store.Lookup: %w", err)
		default:
			ls.Available = cat.Active && cat.Stock > 0
			ls.PriceChanged = !domain.EffectivePrice(cat).Equal(line.PriceSnapshot)

			saved := cat.Savings().Mul(line.Quantity)
			ls.Savings = saved
			if saved.IsPositive() {
				if summary.Savings.Amount.IsZero() {
					summary.Savings = saved
				} else {
					summary.Savings = summary.Savings.Add(saved)
				}
			}
		}

		summary.Lines = append(summary.Lines, ls)
	}

	return summary, nil
}

// RefreshPriceSnapshot re-freezes a line at the catalog's current
// effective price. This is the only snapshot mutation outside of merge.
func (s *CartService) RefreshPriceSnapshot(ctx context.Context, owner domain.OwnerRef, lineID uuid.UUID) (domain.CartLine, error) {
	if err := owner.Validate(); err != nil {
		return domain.CartLine{}, fmt.Errorf("owner.Validate: %w", err)
	}

	var out domain.CartLine

	err := s.inTx(ctx, func(st port.Store) error {
		cart, err := st.GetCart(ctx, owner)
		if err != nil {
			return fmt.Errorf("st.GetCart: %w", err)
		}

		if err := st.LockCart(ctx, cart.ID); err != nil {
			return fmt.Errorf("st.LockCart: %w", err)
		}

		line, err := st.FindLine(ctx, cart.ID, lineID)
		if err != nil {
			return fmt.Errorf("st.FindLine: %w", err)
		}

		cat, err := st.Lookup(ctx, line.ItemRef())
		if err != nil {
			return fmt.Errorf("st.Lookup: %w", err)
		}

		price := domain.EffectivePrice(cat)
		if err := st.UpdateLine(ctx, line.ID, line.Quantity, price); err != nil {
			return fmt.Errorf("st.UpdateLine: %w", err)
		}

		line.PriceSnapshot = price
		out = line
		return nil
	})
	if err != nil {
		return domain.CartLine{}, err
	}

	return out, nil
}
