package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nikolayk812/cartcore/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const lineColumns = `id, cart_id, variant_id, product_id, quantity, price_snapshot::text, price_currency, added_at, updated_at`

func (s *store) GetCart(ctx context.Context, owner domain.OwnerRef) (domain.Cart, error) {
	if err := owner.Validate(); err != nil {
		return domain.Cart{}, fmt.Errorf("owner.Validate: %w", err)
	}

	cart := domain.Cart{Owner: owner}

	err := s.db.QueryRow(ctx,
		`SELECT id, created_at, updated_at FROM carts WHERE owner_kind = $1 AND owner_ref = $2`,
		owner.Kind, owner.Ref,
	).Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	cart.Lines, err = s.cartLines(ctx, cart.ID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cartLines: %w", err)
	}

	return cart, nil
}

func (s *store) GetOrCreateCart(ctx context.Context, owner domain.OwnerRef) (domain.Cart, error) {
	if err := owner.Validate(); err != nil {
		return domain.Cart{}, fmt.Errorf("owner.Validate: %w", err)
	}

	// one retry: a concurrent creator may win the unique constraint race
	for attempt := 0; ; attempt++ {
		_, err := s.db.Exec(ctx,
			`INSERT INTO carts (owner_kind, owner_ref) VALUES ($1, $2)
			 ON CONFLICT (owner_kind, owner_ref) DO NOTHING`,
			owner.Kind, owner.Ref,
		)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("insert cart: %w", err)
		}

		cart, err := s.GetCart(ctx, owner)
		if errors.Is(err, domain.ErrCartNotFound) && attempt == 0 {
			continue
		}
		if err != nil {
			return domain.Cart{}, fmt.Errorf("GetCart: %w", err)
		}

		return cart, nil
	}
}

func (s *store) LockCart(ctx context.Context, cartID uuid.UUID) error {
	var id uuid.UUID

	err := s.db.QueryRow(ctx, `SELECT id FROM carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrCartNotFound
	}
	if err != nil {
		return fmt.Errorf("lock cart: %w", mapLockError(err))
	}

	return nil
}

func (s *store) FindLine(ctx context.Context, cartID, lineID uuid.UUID) (domain.CartLine, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+lineColumns+` FROM cart_lines WHERE id = $1 AND cart_id = $2`,
		lineID, cartID,
	)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("select line: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return domain.CartLine{}, domain.ErrLineNotFound
	}

	line, err := scanLine(rows)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("scanLine: %w", err)
	}

	return line, nil
}

func (s *store) InsertLine(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	if err := line.Validate(); err != nil {
		return domain.CartLine{}, fmt.Errorf("line.Validate: %w", err)
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO cart_lines (id, cart_id, variant_id, product_id, quantity, price_snapshot, price_currency)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING added_at, updated_at`,
		line.ID, line.CartID, line.VariantID, line.ProductID,
		line.Quantity, line.PriceSnapshot.Amount.StringFixed(2), line.PriceSnapshot.Currency.String(),
	).Scan(&line.AddedAt, &line.UpdatedAt)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("insert line: %w", err)
	}

	if err := s.touchCart(ctx, line.CartID); err != nil {
		return domain.CartLine{}, err
	}

	return line, nil
}

func (s *store) UpdateLine(ctx context.Context, lineID uuid.UUID, quantity int, snapshot domain.Money) error {
	var cartID uuid.UUID

	err := s.db.QueryRow(ctx,
		`UPDATE cart_lines
		 SET quantity = $2, price_snapshot = $3, price_currency = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING cart_id`,
		lineID, quantity, snapshot.Amount.StringFixed(2), snapshot.Currency.String(),
	).Scan(&cartID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrLineNotFound
	}
	if err != nil {
		return fmt.Errorf("update line: %w", err)
	}

	return s.touchCart(ctx, cartID)
}

func (s *store) DeleteLine(ctx context.Context, lineID uuid.UUID) error {
	var cartID uuid.UUID

	err := s.db.QueryRow(ctx,
		`DELETE FROM cart_lines WHERE id = $1 RETURNING cart_id`, lineID,
	).Scan(&cartID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrLineNotFound
	}
	if err != nil {
		return fmt.Errorf("delete line: %w", err)
	}

	return s.touchCart(ctx, cartID)
}

func (s *store) DeleteCartLines(ctx context.Context, cartID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("delete lines: %w", err)
	}

	return s.touchCart(ctx, cartID)
}

func (s *store) DeleteCart(ctx context.Context, cartID uuid.UUID) error {
	// lines go with the cart via ON DELETE CASCADE
	if _, err := s.db.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}

	return nil
}

func (s *store) touchCart(ctx context.Context, cartID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}

	return nil
}

func (s *store) cartLines(ctx context.Context, cartID uuid.UUID) ([]domain.CartLine, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+lineColumns+` FROM cart_lines WHERE cart_id = $1 ORDER BY added_at, id`,
		cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("select lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.CartLine

	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scanLine: %w", err)
		}

		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	return lines, nil
}

func scanLine(rows pgx.Rows) (domain.CartLine, error) {
	var (
		line           domain.CartLine
		snapshotAmount string
		snapshotCode   string
	)

	err := rows.Scan(&line.ID, &line.CartID, &line.VariantID, &line.ProductID,
		&line.Quantity, &snapshotAmount, &snapshotCode, &line.AddedAt, &line.UpdatedAt)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("rows.Scan: %w", err)
	}

	line.PriceSnapshot, err = parseMoney(snapshotAmount, snapshotCode)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("parseMoney: %w", err)
	}

	return line, nil
}

func parseMoney(amount, code string) (domain.Money, error) {
	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Money{}, fmt.Errorf("amount[%s] is not valid: %w", amount, err)
	}

	parsedCurrency, err := currency.ParseISO(code)
	if err != nil {
		return domain.Money{}, fmt.Errorf("currency[%s] is not valid: %w", code, err)
	}

	return domain.Money{Amount: parsedAmount, Currency: parsedCurrency}, nil
}
