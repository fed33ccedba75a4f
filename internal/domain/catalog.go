package domain

// CatalogItem is the read-only catalog state for one sellable unit.
type CatalogItem struct {
	Item      ItemRef
	Price     Money
	SalePrice *Money
	Active    bool
	Stock     int
}

// EffectivePrice is the price frozen onto a cart line: the sale price
// when one is set and actually lower than the regular price.
func EffectivePrice(item CatalogItem) Money {
	if item.SalePrice != nil && item.SalePrice.LessThan(item.Price) {
		return *item.SalePrice
	}
	return item.Price
}

// LowerPrice picks between two snapshots of the same item, keeping the
// one that protects the shopper.
func LowerPrice(a, b Money) Money {
	if b.LessThan(a) {
		return b
	}
	return a
}

// Savings is the per-unit discount currently advertised by the catalog,
// zero when the item is not on sale.
func (c CatalogItem) Savings() Money {
	if c.SalePrice == nil || !c.SalePrice.LessThan(c.Price) {
		return Money{Currency: c.Price.Currency}
	}
	return c.Price.Sub(*c.SalePrice)
}
