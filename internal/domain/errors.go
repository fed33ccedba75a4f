package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrLineNotFound = errors.New("cart line not found")
	ErrItemNotFound = errors.New("item not found")

	// ErrItemUnavailable: the catalog marks the item inactive.
	ErrItemUnavailable = errors.New("item is unavailable")

	ErrInvalidQuantity = errors.New("quantity must be a positive integer")

	// ErrOwnershipConflict: a cart line with both or neither of its
	// variant/product references set. Construction paths make this
	// unreachable; hitting it means corrupted state.
	ErrOwnershipConflict = errors.New("cart line must reference exactly one of variant or product")

	// ErrContended: an inventory adjustment timed out waiting for
	// contention on the same item to clear. Retryable.
	ErrContended = errors.New("inventory adjustment contended")
)

// InsufficientStockError reports a failed reservation together with the
// stock actually available, so callers can show "only N left".
type InsufficientStockError struct {
	Item      ItemRef
	Requested int
	Available int
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s[%s]: requested %d, %d available",
		e.Item.Kind, e.Item.ID, e.Requested, e.Available)
}
