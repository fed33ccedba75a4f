package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nikolayk812/cartcore/internal/domain"
	"github.com/nikolayk812/cartcore/internal/port"
	"golang.org/x/sync/singleflight"
)

const (
	// contentionRetries bounds automatic retries of an atomic unit that
	// failed with domain.ErrContended.
	contentionRetries = 2
	contentionBackoff = 25 * time.Millisecond
)

// CartService is the cart & inventory reservation core: it resolves
// carts per owner, guards every quantity change with an inventory
// reservation, and merges guest carts into account carts at sign-in.
type CartService struct {
	store port.Store
	log   *slog.Logger
	sfg   singleflight.Group // collapses concurrent get-or-create per owner
}

func New(store port.Store, log *slog.Logger) (*CartService, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &CartService{
		store: store,
		log:   log,
	}, nil
}

// GetOrCreateCart returns the owner's cart, creating it lazily on first
// use. At most one cart per owner exists even under concurrent calls.
func (s *CartService) GetOrCreateCart(ctx context.Context, owner domain.OwnerRef) (domain.Cart, error) {
	if err := owner.Validate(); err != nil {
		return domain.Cart{}, fmt.Errorf("owner.Validate: %w", err)
	}

	v, err, _ := s.sfg.Do(owner.String(), func() (interface{}, error) {
		return s.store.GetOrCreateCart(ctx, owner)
	})
	if err != nil {
		return domain.Cart{}, fmt.Errorf("store.GetOrCreateCart: %w", err)
	}

	return v.(domain.Cart), nil
}

// AddItem reserves qty units of the item and creates a cart line with
// the current effective price frozen onto it, or increments an existing
// line leaving its snapshot untouched.
func (s *CartService) AddItem(ctx context.Context, owner domain.OwnerRef, item domain.ItemRef, qty int) (domain.CartLine, error) {
	if err := owner.Validate(); err != nil {
		return domain.CartLine{}, fmt.Errorf("owner.Validate: %w", err)
	}
	if err := item.Validate(); err != nil {
		return domain.CartLine{}, fmt.Errorf("item.Validate: %w", err)
	}
	if qty < 1 {
		return domain.CartLine{}, domain.ErrInvalidQuantity
	}

	var out domain.CartLine

	err := s.inTx(ctx, func(st port.Store) error {
		cart, err := st.GetOrCreateCart(ctx, owner)
		if err != nil {
			return fmt.Errorf("st.GetOrCreateCart: %w", err)
		}

		if err := st.LockCart(ctx, cart.ID); err != nil {
			return fmt.Errorf("st.LockCart: %w", err)
		}

		// re-read under the cart lock so a concurrent add to the same
		// cart cannot be lost
		cart, err = st.GetCart(ctx, owner)
		if err != nil {
			return fmt.Errorf("st.GetCart: %w", err)
		}

		cat, err := st.Lookup(ctx, item)
		if err != nil {
			return fmt.Errorf("st.Lookup: %w", err)
		}
		if !cat.Active {
			return domain.ErrItemUnavailable
		}

		stock, ok, err := st.TryAdjust(ctx, item, -qty)
		if err != nil {
			return fmt.Errorf("st.TryAdjust: %w", err)
		}
		if !ok {
			return domain.InsufficientStockError{Item: item, Requested: qty, Available: stock}
		}

		if existing, found := cart.FindLine(item); found {
			newQty := existing.Quantity + qty
			if err := st.UpdateLine(ctx, existing.ID, newQty, existing.PriceSnapshot); err != nil {
				return fmt.Errorf("st.UpdateLine: %w", err)
			}

			existing.Quantity = newQty
			out = existing
			return nil
		}

		line, err := domain.NewCartLine(cart.ID, item, qty, domain.EffectivePrice(cat))
		if err != nil {
			return fmt.Errorf("domain.NewCartLine: %w", err)
		}

		out, err = st.InsertLine(ctx, line)
		if err != nil {
			return fmt.Errorf("st.InsertLine: %w", err)
		}

		return nil
	})
	if err != nil {
		return domain.CartLine{}, err
	}

	return out, nil
}

// UpdateItemQuantity sets a line to an absolute quantity, reserving or
// releasing the difference. On insufficient stock nothing changes.
func (s *CartService) UpdateItemQuantity(ctx context.Context, owner domain.OwnerRef, lineID uuid.UUID, qty int) (domain.CartLine, error) {
	if err := owner.Validate(); err != nil {
		return domain.CartLine{}, fmt.Errorf("owner.Validate: %w", err)
	}
	if qty < 1 {
		return domain.CartLine{}, domain.ErrInvalidQuantity
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

		delta := qty - line.Quantity
		if delta != 0 {
			// a decrease is a release, i.e. positive delta to inventory
			stock, ok, err := st.TryAdjust(ctx, line.ItemRef(), -delta)
			if err != nil {
				return fmt.Errorf("st.TryAdjust: %w", err)
			}
			if !ok {
				return domain.InsufficientStockError{Item: line.ItemRef(), Requested: qty, Available: stock}
			}
		}

		if err := st.UpdateLine(ctx, line.ID, qty, line.PriceSnapshot); err != nil {
			return fmt.Errorf("st.UpdateLine: %w", err)
		}

		line.Quantity = qty
		out = line
		return nil
	})
	if err != nil {
		return domain.CartLine{}, err
	}

	return out, nil
}

// RemoveItem releases the line's reservation and deletes it.
func (s *CartService) RemoveItem(ctx context.Context, owner domain.OwnerRef, lineID uuid.UUID) error {
	if err := owner.Validate(); err != nil {
		return fmt.Errorf("owner.Validate: %w", err)
	}

	return s.inTx(ctx, func(st port.Store) error {
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

		if err := s.releaseLine(ctx, st, line); err != nil {
			return err
		}

		if err := st.DeleteLine(ctx, line.ID); err != nil {
			return fmt.Errorf("st.DeleteLine: %w", err)
		}

		return nil
	})
}

// ClearCart releases every line's reservation and removes all lines.
// A missing cart is already clear.
func (s *CartService) ClearCart(ctx context.Context, owner domain.OwnerRef) error {
	if err := owner.Validate(); err != nil {
		return fmt.Errorf("owner.Validate: %w", err)
	}

	err := s.inTx(ctx, func(st port.Store) error {
		cart, err := st.GetCart(ctx, owner)
		if err != nil {
			return fmt.Errorf("st.GetCart: %w", err)
		}

		if err := st.LockCart(ctx, cart.ID); err != nil {
			return fmt.Errorf("st.LockCart: %w", err)
		}

		cart, err = st.GetCart(ctx, owner)
		if err != nil {
			return fmt.Errorf("st.GetCart: %w", err)
		}

		for _, line := range cart.Lines {
			if err := s.releaseLine(ctx, st, line); err != nil {
				return err
			}
		}

		if err := st.DeleteCartLines(ctx, cart.ID); err != nil {
			return fmt.Errorf("st.DeleteCartLines: %w", err)
		}

		return nil
	})
	if errors.Is(err, domain.ErrCartNotFound) {
		return nil
	}

	return err
}

// releaseLine returns a line's reserved quantity to the ledger.
// Releasing cannot violate the stock invariant, so a refusal means the
// ledger and the cart disagree.
func (s *CartService) releaseLine(ctx context.Context, st port.Store, line domain.CartLine) error {
	_, ok, err := st.TryAdjust(ctx, line.ItemRef(), line.Quantity)
	if err != nil {
		return fmt.Errorf("st.TryAdjust: %w", err)
	}
	if !ok {
		return fmt.Errorf("release of %d units of %s[%s] refused", line.Quantity, line.ItemRef().Kind, line.ItemRef().ID)
	}

	return nil
}

// inTx runs fn in one atomic unit, retrying with a short backoff when
// the unit fails on inventory contention.
func (s *CartService) inTx(ctx context.Context, fn func(st port.Store) error) error {
	var err error

	for attempt := 0; ; attempt++ {
		err = s.store.InTx(ctx, fn)
		if !errors.Is(err, domain.ErrContended) || attempt >= contentionRetries {
			return err
		}

		s.log.WarnContext(ctx, "cart operation contended, retrying",
			"attempt", attempt+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(contentionBackoff << attempt):
		}
	}
}
