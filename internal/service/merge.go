package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nikolayk812/cartcore/internal/domain"
	"github.com/nikolayk812/cartcore/internal/port"
)

// MergeNotice reports a line whose merged quantity had to be reduced to
// what current stock could satisfy.
type MergeNotice struct {
	Item      domain.ItemRef
	Requested int // account quantity + guest quantity
	Merged    int // quantity actually on the merged line
}

// MergeOnSignIn reconciles the guest cart into the account cart. It is
// one atomic unit: either every guest line is absorbed and the guest
// cart deleted, or nothing changes.
//
// Guest reservations are released when the guest session ends, so each
// guest quantity is reserved afresh for the account cart here; only the
// account cart's existing reservations are trusted. When stock cannot
// cover a guest quantity the merged line is clamped to the account
// quantity plus whatever is still available, and a MergeNotice records
// the reduction. The account cart's own lines are never shrunk.
//
// A second call with the same guest owner finds no guest cart and
// returns the account cart unchanged.
func (s *CartService) MergeOnSignIn(ctx context.Context, guestToken, accountID string) (domain.Cart, []MergeNotice, error) {
	guest := domain.GuestOwner(guestToken)
	account := domain.AccountOwner(accountID)

	if err := guest.Validate(); err != nil {
		return domain.Cart{}, nil, fmt.Errorf("guest.Validate: %w", err)
	}
	if err := account.Validate(); err != nil {
		return domain.Cart{}, nil, fmt.Errorf("account.Validate: %w", err)
	}

	var (
		merged  domain.Cart
		notices []MergeNotice
	)

	err := s.inTx(ctx, func(st port.Store) error {
		notices = nil

		accountCart, err := st.GetOrCreateCart(ctx, account)
		if err != nil {
			return fmt.Errorf("st.GetOrCreateCart: %w", err)
		}

		guestCart, err := st.GetCart(ctx, guest)
		if errors.Is(err, domain.ErrCartNotFound) {
			merged = accountCart
			return nil
		}
		if err != nil {
			return fmt.Errorf("st.GetCart guest: %w", err)
		}

		// lock both carts in a stable order so two merges touching the
		// same carts cannot deadlock
		for _, id := range lockOrder(accountCart.ID, guestCart.ID) {
			if err := st.LockCart(ctx, id); err != nil {
				return fmt.Errorf("st.LockCart: %w", err)
			}
		}

		// re-read under the locks
		accountCart, err = st.GetCart(ctx, account)
		if err != nil {
			return fmt.Errorf("st.GetCart account: %w", err)
		}
		guestCart, err = st.GetCart(ctx, guest)
		if errors.Is(err, domain.ErrCartNotFound) {
			merged = accountCart
			return nil
		}
		if err != nil {
			return fmt.Errorf("st.GetCart guest: %w", err)
		}

		for _, guestLine := range guestCart.Lines {
			if err := s.absorbLine(ctx, st, accountCart, guestLine, &notices); err != nil {
				return err
			}
		}

		if err := st.DeleteCart(ctx, guestCart.ID); err != nil {
			return fmt.Errorf("st.DeleteCart: %w", err)
		}

		merged, err = st.GetCart(ctx, account)
		if err != nil {
			return fmt.Errorf("st.GetCart merged: %w", err)
		}

		return nil
	})
	if err != nil {
		return domain.Cart{}, nil, err
	}

	if len(notices) > 0 {
		s.log.InfoContext(ctx, "merge clamped quantities",
			"account", account.String(), "reduced_lines", len(notices))
	}

	return merged, notices, nil
}

// absorbLine folds one guest line into the account cart, reserving the
// guest quantity and clamping it to available stock if needed.
func (s *CartService) absorbLine(ctx context.Context, st port.Store, accountCart domain.Cart, guestLine domain.CartLine, notices *[]MergeNotice) error {
	item := guestLine.ItemRef()

	accountLine, matched := accountCart.FindLine(item)

	var accountQty int
	if matched {
		accountQty = accountLine.Quantity
	}

	granted, err := reserveUpTo(ctx, st, item, guestLine.Quantity)
	if err != nil {
		return err
	}
	if granted < guestLine.Quantity {
		*notices = append(*notices, MergeNotice{
			Item:      item,
			Requested: accountQty + guestLine.Quantity,
			Merged:    accountQty + granted,
		})
	}

	switch {
	case matched:
		snapshot := domain.LowerPrice(accountLine.PriceSnapshot, guestLine.PriceSnapshot)
		if err := st.UpdateLine(ctx, accountLine.ID, accountQty+granted, snapshot); err != nil {
			return fmt.Errorf("st.UpdateLine: %w", err)
		}
	case granted > 0:
		line, err := domain.NewCartLine(accountCart.ID, item, granted, guestLine.PriceSnapshot)
		if err != nil {
			return fmt.Errorf("domain.NewCartLine: %w", err)
		}
		if _, err := st.InsertLine(ctx, line); err != nil {
			return fmt.Errorf("st.InsertLine: %w", err)
		}
	}

	return nil
}

// reserveUpTo reserves qty units, or as many as stock allows.
func reserveUpTo(ctx context.Context, st port.Store, item domain.ItemRef, qty int) (int, error) {
	stock, ok, err := st.TryAdjust(ctx, item, -qty)
	if err != nil {
		return 0, fmt.Errorf("st.TryAdjust: %w", err)
	}
	if ok {
		return qty, nil
	}
	if stock <= 0 {
		return 0, nil
	}

	_, ok, err = st.TryAdjust(ctx, item, -stock)
	if err != nil {
		return 0, fmt.Errorf("st.TryAdjust: %w", err)
	}
	if !ok {
		// same-item adjustments are serialized, so the remainder
		// cannot shrink between the two calls
		return 0, fmt.Errorf("reserving remaining %d units of %s[%s] refused", stock, item.Kind, item.ID)
	}

	return stock, nil
}

func lockOrder(a, b uuid.UUID) []uuid.UUID {
	if a.String() < b.String() {
		return []uuid.UUID{a, b}
	}
	return []uuid.UUID{b, a}
}
