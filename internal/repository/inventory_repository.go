package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nikolayk812/cartcore/internal/domain"
)

func (s *store) Lookup(ctx context.Context, item domain.ItemRef) (domain.CatalogItem, error) {
	if err := item.Validate(); err != nil {
		return domain.CatalogItem{}, fmt.Errorf("item.Validate: %w", err)
	}

	var (
		priceAmount string
		saleAmount  *string
		code        string
		cat         = domain.CatalogItem{Item: item}
	)

	err := s.db.QueryRow(ctx,
		`SELECT price::text, sale_price::text, price_currency, active, stock
		 FROM inventory WHERE item_kind = $1 AND item_id = $2`,
		item.Kind, item.ID,
	).Scan(&priceAmount, &saleAmount, &code, &cat.Active, &cat.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CatalogItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("select inventory: %w", err)
	}

	cat.Price, err = parseMoney(priceAmount, code)
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("parseMoney: %w", err)
	}

	if saleAmount != nil {
		sale, err := parseMoney(*saleAmount, code)
		if err != nil {
			return domain.CatalogItem{}, fmt.Errorf("parseMoney sale: %w", err)
		}
		cat.SalePrice = &sale
	}

	return cat, nil
}

// TryAdjust applies delta in a single conditional update, so two
// adjustments of the same item never interleave and stock stays >= 0.
func (s *store) TryAdjust(ctx context.Context, item domain.ItemRef, delta int) (int, bool, error) {
	if err := item.Validate(); err != nil {
		return 0, false, fmt.Errorf("item.Validate: %w", err)
	}

	var stock int

	err := s.db.QueryRow(ctx,
		`UPDATE inventory
		 SET stock = stock + $3, updated_at = now()
		 WHERE item_kind = $1 AND item_id = $2 AND stock + $3 >= 0
		 RETURNING stock`,
		item.Kind, item.ID, delta,
	).Scan(&stock)
	if err == nil {
		return stock, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("adjust stock: %w", mapLockError(err))
	}

	// either the item does not exist or the delta would go negative;
	// report the current stock so callers can say "N available"
	err = s.db.QueryRow(ctx,
		`SELECT stock FROM inventory WHERE item_kind = $1 AND item_id = $2`,
		item.Kind, item.ID,
	).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, domain.ErrItemNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("select stock: %w", err)
	}

	return stock, false, nil
}
