package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OwnerKind string

const (
	OwnerGuest   OwnerKind = "guest"
	OwnerAccount OwnerKind = "account"
)

// OwnerRef identifies whose cart this is: an anonymous session token
// or an account id, never both.
type OwnerRef struct {
	Kind OwnerKind
	Ref  string
}

func GuestOwner(token string) OwnerRef {
	return OwnerRef{Kind: OwnerGuest, Ref: token}
}

func AccountOwner(accountID string) OwnerRef {
	return OwnerRef{Kind: OwnerAccount, Ref: accountID}
}

func (o OwnerRef) Validate() error {
	if o.Kind != OwnerGuest && o.Kind != OwnerAccount {
		return fmt.Errorf("owner kind[%s] is not valid", o.Kind)
	}
	if o.Ref == "" {
		return fmt.Errorf("owner ref is empty")
	}
	return nil
}

// String is stable and unique per owner, usable as a dedup key.
func (o OwnerRef) String() string {
	return string(o.Kind) + ":" + o.Ref
}

type ItemKind string

const (
	ItemVariant ItemKind = "variant"
	ItemProduct ItemKind = "product"
)

// ItemRef identifies a sellable unit: a product variant, or a plain
// product when the product has no variants.
type ItemRef struct {
	Kind ItemKind
	ID   uuid.UUID
}

func VariantRef(id uuid.UUID) ItemRef {
	return ItemRef{Kind: ItemVariant, ID: id}
}

func ProductRef(id uuid.UUID) ItemRef {
	return ItemRef{Kind: ItemProduct, ID: id}
}

func (i ItemRef) Validate() error {
	if i.Kind != ItemVariant && i.Kind != ItemProduct {
		return fmt.Errorf("item kind[%s] is not valid", i.Kind)
	}
	if i.ID == uuid.Nil {
		return fmt.Errorf("item id is empty")
	}
	return nil
}

type Cart struct {
	ID    uuid.UUID
	Owner OwnerRef
	Lines []CartLine

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FindLine returns the line referencing the given sellable unit, if any.
func (c Cart) FindLine(item ItemRef) (CartLine, bool) {
	for _, line := range c.Lines {
		if line.ItemRef() == item {
			return line, true
		}
	}
	return CartLine{}, false
}

// Subtotal is derived from the line snapshots, never persisted.
func (c Cart) Subtotal() Money {
	var total Money
	for i, line := range c.Lines {
		if i == 0 {
			total = line.PriceSnapshot.Mul(line.Quantity)
			continue
		}
		total = total.Add(line.PriceSnapshot.Mul(line.Quantity))
	}
	return total
}

func (c Cart) TotalItems() int {
	var n int
	for _, line := range c.Lines {
		n += line.Quantity
	}
	return n
}

// CartLine references exactly one sellable unit and carries the price
// frozen at the moment the line was created or last reset by a merge.
type CartLine struct {
	ID     uuid.UUID
	CartID uuid.UUID

	VariantID *uuid.UUID
	ProductID *uuid.UUID

	Quantity      int
	PriceSnapshot Money

	AddedAt   time.Time
	UpdatedAt time.Time
}

func NewCartLine(cartID uuid.UUID, item ItemRef, quantity int, snapshot Money) (CartLine, error) {
	line := CartLine{
		ID:            uuid.New(),
		CartID:        cartID,
		Quantity:      quantity,
		PriceSnapshot: snapshot,
	}

	switch item.Kind {
	case ItemVariant:
		id := item.ID
		line.VariantID = &id
	case ItemProduct:
		id := item.ID
		line.ProductID = &id
	}

	if err := line.Validate(); err != nil {
		return CartLine{}, err
	}

	return line, nil
}

func (l CartLine) Validate() error {
	if (l.VariantID == nil) == (l.ProductID == nil) {
		return ErrOwnershipConflict
	}
	if l.VariantID != nil && *l.VariantID == uuid.Nil {
		return ErrOwnershipConflict
	}
	if l.ProductID != nil && *l.ProductID == uuid.Nil {
		return ErrOwnershipConflict
	}
	if l.Quantity < 1 {
		return ErrInvalidQuantity
	}
	return nil
}

func (l CartLine) ItemRef() ItemRef {
	if l.VariantID != nil {
		return ItemRef{Kind: ItemVariant, ID: *l.VariantID}
	}
	if l.ProductID != nil {
		return ItemRef{Kind: ItemProduct, ID: *l.ProductID}
	}
	return ItemRef{}
}

func (l CartLine) Total() Money {
	return l.PriceSnapshot.Mul(l.Quantity)
}
