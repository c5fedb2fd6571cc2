package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gofalre.io/store/models"
	"gofalre.io/store/models/enum"
)

// fakeTxManager runs the unit of work without a database; the fakes below
// stand in for the transactional state.
type fakeTxManager struct{}

func (fakeTxManager) ExecuteTransaction(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakeCartRepo struct {
	carts map[string]*models.Cart

	failOn map[string]error

	markCalls       int
	deleteCalls     int
	invalidateCalls int
}

func newFakeCartRepo() *fakeCartRepo {
	return &fakeCartRepo{
		carts:  make(map[string]*models.Cart),
		failOn: make(map[string]error),
	}
}

func copyCart(c *models.Cart) *models.Cart {
	cp := *c
	cp.Items = append([]models.CartItem(nil), c.Items...)
	return &cp
}

func (f *fakeCartRepo) CreateCart(_ context.Context, _ pgx.Tx, cart *models.Cart) error {
	f.carts[cart.ID] = copyCart(cart)
	return nil
}

func (f *fakeCartRepo) GetCart(_ context.Context, _ pgx.Tx, id string) (*models.Cart, error) {
	c, ok := f.carts[id]
	if !ok {
		return nil, models.ErrCartNotFound
	}
	return copyCart(c), nil
}

func (f *fakeCartRepo) GetCartForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.Cart, error) {
	if err := f.failOn[id]; err != nil {
		return nil, err
	}
	return f.GetCart(ctx, tx, id)
}

func (f *fakeCartRepo) AddCartItem(_ context.Context, _ pgx.Tx, item *models.CartItem) error {
	c, ok := f.carts[item.CartID]
	if !ok {
		return models.ErrCartNotFound
	}
	c.Items = append(c.Items, *item)
	return nil
}

func (f *fakeCartRepo) UpdateCartItemQuantity(_ context.Context, _ pgx.Tx, cartID, productID string, quantity int64) error {
	c, ok := f.carts[cartID]
	if !ok {
		return models.ErrCartNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			c.Items[i].TotalPrice = float64(quantity) * c.Items[i].UnitPrice
			return nil
		}
	}
	return models.ErrCartItemNotFound
}

func (f *fakeCartRepo) RemoveCartItem(_ context.Context, _ pgx.Tx, cartID, productID string) error {
	c, ok := f.carts[cartID]
	if !ok {
		return models.ErrCartNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return models.ErrCartItemNotFound
}

func (f *fakeCartRepo) UpdateCartTotals(_ context.Context, _ pgx.Tx, cart *models.Cart) error {
	c, ok := f.carts[cart.ID]
	if !ok {
		return models.ErrCartNotFound
	}
	c.TotalPrice = cart.TotalPrice
	c.LastInteractionAt = cart.LastInteractionAt
	return nil
}

func (f *fakeCartRepo) MarkCartAbandoned(_ context.Context, _ pgx.Tx, id string, at time.Time) error {
	c, ok := f.carts[id]
	if !ok {
		return models.ErrCartNotFound
	}
	f.markCalls++
	c.Abandoned = true
	c.UpdatedAt = at
	return nil
}

func (f *fakeCartRepo) DeleteCart(_ context.Context, _ pgx.Tx, id string) error {
	f.deleteCalls++
	delete(f.carts, id)
	return nil
}

func (f *fakeCartRepo) ListInactiveCartIDs(_ context.Context, _ pgx.Tx, cutoff time.Time) ([]string, error) {
	var ids []string
	for id, c := range f.carts {
		if !c.Abandoned && c.LastInteractionAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeCartRepo) ListExpiredAbandonedCartIDs(_ context.Context, _ pgx.Tx, cutoff time.Time) ([]string, error) {
	var ids []string
	for id, c := range f.carts {
		if c.Abandoned && c.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeCartRepo) InvalidateCartCache(_ context.Context, _ string) {
	f.invalidateCalls++
}

type fakeProductRepo struct {
	products map[string]*models.Product
}

func (f *fakeProductRepo) GetProduct(_ context.Context, _ pgx.Tx, id string) (*models.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeProductRepo) ListProducts(_ context.Context, _ pgx.Tx, _, _ uint64) ([]*models.Product, error) {
	var out []*models.Product
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

type fakeEventRepo struct {
	events map[string]*models.Event
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string]*models.Event)}
}

func (f *fakeEventRepo) Create(_ context.Context, event *models.Event) error {
	f.events[event.ID] = event
	return nil
}

func (f *fakeEventRepo) GetByID(_ context.Context, id string) (*models.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return e, nil
}

func (f *fakeEventRepo) MarkAsProcessed(_ context.Context, id string) error {
	if e, ok := f.events[id]; ok {
		e.Processed = true
	}
	return nil
}

func newTestService(t *testing.T, cartRepo *fakeCartRepo, productRepo *fakeProductRepo) *service {
	t.Helper()
	svc := NewService(cartRepo, productRepo, newFakeEventRepo(), fakeTxManager{}, nil, "usd", zap.NewNop())
	return svc.(*service)
}

func seedProducts(prices map[string]float64) *fakeProductRepo {
	repo := &fakeProductRepo{products: make(map[string]*models.Product)}
	for id, price := range prices {
		repo.products[id] = &models.Product{ID: id, Name: "Product " + id, Price: price, Currency: "usd"}
	}
	return repo
}

func TestServiceAddProductMergesLines(t *testing.T) {
	ctx := context.Background()
	cartRepo := newFakeCartRepo()
	svc := newTestService(t, cartRepo, seedProducts(map[string]float64{"p1": 10.0}))

	cartModel, err := svc.GetOrCreateCart(ctx, "")
	require.NoError(t, err)

	_, err = svc.AddProductToCart(ctx, cartModel.ID, "p1", 2)
	require.NoError(t, err)

	got, err := svc.AddProductToCart(ctx, cartModel.ID, "p1", 3)
	require.NoError(t, err)

	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(5), got.Items[0].Quantity)
	assert.Equal(t, 50.0, got.TotalPrice)

	// The persisted state matches what was returned.
	stored := cartRepo.carts[cartModel.ID]
	require.Len(t, stored.Items, 1)
	assert.Equal(t, int64(5), stored.Items[0].Quantity)
	assert.Equal(t, 50.0, stored.TotalPrice)
}

func TestServiceAddProductUnknownProduct(t *testing.T) {
	ctx := context.Background()
	cartRepo := newFakeCartRepo()
	svc := newTestService(t, cartRepo, seedProducts(nil))

	cartModel, err := svc.GetOrCreateCart(ctx, "")
	require.NoError(t, err)

	_, err = svc.AddProductToCart(ctx, cartModel.ID, "missing", 1)
	assert.ErrorIs(t, err, models.ErrProductNotFound)

	assert.Empty(t, cartRepo.carts[cartModel.ID].Items)
}

func TestServiceAddProductInvalidQuantity(t *testing.T) {
	svc := newTestService(t, newFakeCartRepo(), seedProducts(map[string]float64{"p1": 10.0}))

	_, err := svc.AddProductToCart(context.Background(), "whatever", "p1", 0)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
}

func TestServiceRemoveProductNotInCart(t *testing.T) {
	ctx := context.Background()
	cartRepo := newFakeCartRepo()
	svc := newTestService(t, cartRepo, seedProducts(map[string]float64{"p1": 10.0}))

	cartModel, err := svc.GetOrCreateCart(ctx, "")
	require.NoError(t, err)
	_, err = svc.AddProductToCart(ctx, cartModel.ID, "p1", 2)
	require.NoError(t, err)

	_, err = svc.RemoveProductFromCart(ctx, cartModel.ID, "p2")
	assert.ErrorIs(t, err, models.ErrCartItemNotFound)

	stored := cartRepo.carts[cartModel.ID]
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 20.0, stored.TotalPrice)
}

func TestServiceRemoveProductClearsLine(t *testing.T) {
	ctx := context.Background()
	cartRepo := newFakeCartRepo()
	svc := newTestService(t, cartRepo, seedProducts(map[string]float64{"p1": 10.0}))

	cartModel, err := svc.GetOrCreateCart(ctx, "")
	require.NoError(t, err)
	_, err = svc.AddProductToCart(ctx, cartModel.ID, "p1", 2)
	require.NoError(t, err)

	got, err := svc.RemoveProductFromCart(ctx, cartModel.ID, "p1")
	require.NoError(t, err)

	assert.Empty(t, got.Items)
	assert.Equal(t, 0.0, got.TotalPrice)
	assert.Empty(t, cartRepo.carts[cartModel.ID].Items)
}

func TestServiceGetOrCreateCart(t *testing.T) {
	ctx := context.Background()
	cartRepo := newFakeCartRepo()
	svc := newTestService(t, cartRepo, seedProducts(nil))

	// No session id: fresh cart.
	first, err := svc.GetOrCreateCart(ctx, "")
	require.NoError(t, err)

	// Known active id: same cart back.
	again, err := svc.GetOrCreateCart(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// Unknown id: fresh cart, no error.
	fresh, err := svc.GetOrCreateCart(ctx, "stale-id")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)

	// Abandoned id: never handed back, a fresh cart replaces it.
	cartRepo.carts[first.ID].Abandoned = true
	replacement, err := svc.GetOrCreateCart(ctx, first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, replacement.ID)
}

func TestServiceGetCartNotFound(t *testing.T) {
	svc := newTestService(t, newFakeCartRepo(), seedProducts(nil))

	_, err := svc.GetCart(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrCartNotFound)
}

func TestProcessEventRunsHandlerExactlyOnce(t *testing.T) {
	ctx := context.Background()
	cartRepo := newFakeCartRepo()
	svc := newTestService(t, cartRepo, seedProducts(nil))

	cartEvent := &models.CartEvent{
		ID:         "evt-1",
		Type:       enum.EventTypeCartItemAdded,
		CartID:     "c1",
		OccurredAt: time.Now(),
	}

	require.NoError(t, svc.ProcessEvent(ctx, cartEvent))
	assert.Equal(t, 1, cartRepo.invalidateCalls)
	assert.True(t, svc.event.(*fakeEventRepo).events["evt-1"].Processed)

	// A redelivery is absorbed by the ledger.
	require.NoError(t, svc.ProcessEvent(ctx, cartEvent))
	assert.Equal(t, 1, cartRepo.invalidateCalls)
}

func TestProcessEventUnknownType(t *testing.T) {
	svc := newTestService(t, newFakeCartRepo(), seedProducts(nil))

	err := svc.ProcessEvent(context.Background(), &models.CartEvent{ID: "evt-2", Type: "bogus"})
	assert.Error(t, err)
}
