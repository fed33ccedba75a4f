package repository_test

import (
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikolayk812/cartcore/internal/domain"
	"github.com/nikolayk812/cartcore/internal/port"
	"github.com/nikolayk812/cartcore/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/text/currency"
)

type storeSuite struct {
	suite.Suite

	store port.Store
	pool  *pgxpool.Pool
}

// entry point to run the tests in the suite
func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(storeSuite))
}

// before all tests in the suite
func (suite *storeSuite) SetupSuite() {
	ctx := suite.T().Context()

	_, connStr, err := startPostgres(ctx)
	suite.NoError(err)

	suite.pool, err = pgxpool.New(ctx, connStr)
	suite.NoError(err)

	suite.store, err = repository.NewStore(suite.pool)
	suite.NoError(err)
}

// after all tests in the suite
func (suite *storeSuite) TearDownSuite() {
	if suite.pool != nil {
		suite.pool.Close()
	}
}

func (suite *storeSuite) deleteAll() {
	ctx := suite.T().Context()

	_, err := suite.pool.Exec(ctx, "TRUNCATE TABLE carts CASCADE")
	suite.NoError(err)
	_, err = suite.pool.Exec(ctx, "TRUNCATE TABLE inventory CASCADE")
	suite.NoError(err)
}

func (suite *storeSuite) seedInventory(stock int, price, sale string, active bool) domain.ItemRef {
	item := domain.VariantRef(uuid.MustParse(gofakeit.UUID()))

	var salePrice *string
	if sale != "" {
		salePrice = &sale
	}

	_, err := suite.pool.Exec(suite.T().Context(),
		`INSERT INTO inventory (item_kind, item_id, stock, active, price, sale_price, price_currency)
		 VALUES ($1, $2, $3, $4, $5, $6, 'USD')`,
		item.Kind, item.ID, stock, active, price, salePrice,
	)
	suite.NoError(err)

	return item
}

func (suite *storeSuite) TestGetOrCreateCart() {
	defer suite.deleteAll()

	tests := []struct {
		name      string
		owner     domain.OwnerRef
		wantError string
	}{
		{
			name:  "guest cart: ok",
			owner: domain.GuestOwner(gofakeit.UUID()),
		},
		{
			name:  "account cart: ok",
			owner: domain.AccountOwner(gofakeit.UUID()),
		},
		{
			name:      "empty owner ref: error",
			owner:     domain.GuestOwner(""),
			wantError: "owner.Validate: owner ref is empty",
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			t := suite.T()
			ctx := t.Context()

			cart, err := suite.store.GetOrCreateCart(ctx, tt.owner)
			if tt.wantError != "" {
				require.EqualError(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tt.owner, cart.Owner)
			assert.NotEqual(t, uuid.Nil, cart.ID)
			assert.False(t, cart.CreatedAt.IsZero())
			assert.Empty(t, cart.Lines)

			// a second call returns the same cart
			again, err := suite.store.GetOrCreateCart(ctx, tt.owner)
			require.NoError(t, err)
			assert.Equal(t, cart.ID, again.ID)
		})
	}
}

func (suite *storeSuite) TestGetOrCreateCart_Concurrent() {
	defer suite.deleteAll()

	t := suite.T()
	owner := domain.GuestOwner(gofakeit.UUID())

	const callers = 50

	ids := make(chan uuid.UUID, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			cart, err := suite.store.GetOrCreateCart(t.Context(), owner)
			assert.NoError(t, err)
			ids <- cart.ID
		}()
	}
	wg.Wait()
	close(ids)

	unique := make(map[uuid.UUID]struct{})
	for id := range ids {
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, 1)

	var count int
	err := suite.pool.QueryRow(t.Context(),
		`SELECT count(*) FROM carts WHERE owner_kind = $1 AND owner_ref = $2`,
		owner.Kind, owner.Ref,
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "exactly one persisted cart row")
}

func (suite *storeSuite) TestLineLifecycle() {
	defer suite.deleteAll()

	t := suite.T()
	ctx := t.Context()

	item := suite.seedInventory(10, "19.99", "", true)

	cart, err := suite.store.GetOrCreateCart(ctx, domain.GuestOwner(gofakeit.UUID()))
	require.NoError(t, err)

	line, err := domain.NewCartLine(cart.ID, item, 2, randomMoney())
	require.NoError(t, err)

	inserted, err := suite.store.InsertLine(ctx, line)
	require.NoError(t, err)
	assertCartLine(t, line, inserted)

	found, err := suite.store.FindLine(ctx, cart.ID, line.ID)
	require.NoError(t, err)
	assertCartLine(t, line, found)

	loaded, err := suite.store.GetCart(ctx, cart.Owner)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 1)
	assertCartLine(t, line, loaded.Lines[0])

	newSnapshot := randomMoney()
	require.NoError(t, suite.store.UpdateLine(ctx, line.ID, 7, newSnapshot))

	found, err = suite.store.FindLine(ctx, cart.ID, line.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, found.Quantity)
	assert.True(t, found.PriceSnapshot.Equal(newSnapshot))

	require.NoError(t, suite.store.DeleteLine(ctx, line.ID))
	_, err = suite.store.FindLine(ctx, cart.ID, line.ID)
	require.ErrorIs(t, err, domain.ErrLineNotFound)

	require.NoError(t, suite.store.DeleteCart(ctx, cart.ID))
	_, err = suite.store.GetCart(ctx, cart.Owner)
	require.ErrorIs(t, err, domain.ErrCartNotFound)
}

func (suite *storeSuite) TestLookup() {
	defer suite.deleteAll()

	t := suite.T()
	ctx := t.Context()

	onSale := suite.seedInventory(5, "100.00", "80.00", true)
	regular := suite.seedInventory(3, "10.00", "", false)

	cat, err := suite.store.Lookup(ctx, onSale)
	require.NoError(t, err)
	assert.True(t, cat.Active)
	assert.Equal(t, 5, cat.Stock)
	assert.Equal(t, "100.00", cat.Price.Amount.StringFixed(2))
	require.NotNil(t, cat.SalePrice)
	assert.Equal(t, "80.00", cat.SalePrice.Amount.StringFixed(2))

	cat, err = suite.store.Lookup(ctx, regular)
	require.NoError(t, err)
	assert.False(t, cat.Active)
	assert.Nil(t, cat.SalePrice)

	_, err = suite.store.Lookup(ctx, domain.ProductRef(uuid.MustParse(gofakeit.UUID())))
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}

func (suite *storeSuite) TestTryAdjust() {
	defer suite.deleteAll()

	t := suite.T()
	ctx := t.Context()

	item := suite.seedInventory(3, "10.00", "", true)

	stock, ok, err := suite.store.TryAdjust(ctx, item, -2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, stock)

	// refused: would go negative, current stock reported
	stock, ok, err = suite.store.TryAdjust(ctx, item, -2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, stock)

	// release
	stock, ok, err = suite.store.TryAdjust(ctx, item, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, stock)

	_, _, err = suite.store.TryAdjust(ctx, domain.ProductRef(uuid.MustParse(gofakeit.UUID())), -1)
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}

func (suite *storeSuite) TestTryAdjust_Concurrent() {
	defer suite.deleteAll()

	t := suite.T()

	const (
		initialStock = 5
		callers      = 20
	)

	item := suite.seedInventory(initialStock, "10.00", "", true)

	results := make(chan bool, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, ok, err := suite.store.TryAdjust(t.Context(), item, -1)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, initialStock, wins)

	cat, err := suite.store.Lookup(t.Context(), item)
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Stock)
}

func (suite *storeSuite) TestInTx_RollsBackOnError() {
	defer suite.deleteAll()

	t := suite.T()
	ctx := t.Context()

	item := suite.seedInventory(5, "10.00", "", true)

	cart, err := suite.store.GetOrCreateCart(ctx, domain.GuestOwner(gofakeit.UUID()))
	require.NoError(t, err)

	boom := assert.AnError

	err = suite.store.InTx(ctx, func(st port.Store) error {
		if _, ok, err := st.TryAdjust(ctx, item, -3); err != nil || !ok {
			t.Fatalf("adjust failed: ok=%v err=%v", ok, err)
		}

		line, err := domain.NewCartLine(cart.ID, item, 3, randomMoney())
		require.NoError(t, err)

		if _, err := st.InsertLine(ctx, line); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	cat, err := suite.store.Lookup(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, 5, cat.Stock)

	loaded, err := suite.store.GetCart(ctx, cart.Owner)
	require.NoError(t, err)
	assert.Empty(t, loaded.Lines)
}

func (suite *storeSuite) TestLockCart_Contended() {
	defer suite.deleteAll()

	t := suite.T()
	ctx := t.Context()

	cart, err := suite.store.GetOrCreateCart(ctx, domain.GuestOwner(gofakeit.UUID()))
	require.NoError(t, err)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- suite.store.InTx(ctx, func(st port.Store) error {
			if err := st.LockCart(ctx, cart.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	<-locked

	// second unit times out on the held cart lock
	err = suite.store.InTx(ctx, func(st port.Store) error {
		return st.LockCart(ctx, cart.ID)
	})
	require.ErrorIs(t, err, domain.ErrContended)

	close(release)
	require.NoError(t, <-done)

	// and succeeds once the lock is gone
	require.Eventually(t, func() bool {
		return suite.store.InTx(ctx, func(st port.Store) error {
			return st.LockCart(ctx, cart.ID)
		}) == nil
	}, 2*time.Second, 50*time.Millisecond)
}

func randomMoney() domain.Money {
	// two fractional digits, matching the persisted NUMERIC(10,2)
	return domain.Money{
		Amount:   decimal.NewFromFloat(gofakeit.Price(1, 100)).Round(2),
		Currency: currency.USD,
	}
}

func assertCartLine(t *testing.T, expected, actual domain.CartLine) {
	t.Helper()

	currencyComparer := cmp.Comparer(func(x, y currency.Unit) bool {
		return x.String() == y.String()
	})

	decimalComparer := cmp.Comparer(func(x, y domain.Money) bool {
		return x.Equal(y)
	})

	// AddedAt/UpdatedAt are set by the store
	opts := cmp.Options{
		cmpopts.IgnoreFields(domain.CartLine{}, "AddedAt", "UpdatedAt"),
		currencyComparer,
		decimalComparer,
	}

	diff := cmp.Diff(expected, actual, opts)
	assert.Empty(t, diff)

	assert.False(t, actual.AddedAt.IsZero())
}
