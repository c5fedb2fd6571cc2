package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"gofalre.io/store/driver"
	"gofalre.io/store/models"
)

var _ Repository = (*repository)(nil)

const cacheTTL = 30 * time.Minute

type Repository interface {
	CreateCart(ctx context.Context, tx pgx.Tx, cart *models.Cart) error
	GetCart(ctx context.Context, tx pgx.Tx, id string) (*models.Cart, error)
	GetCartForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.Cart, error)
	AddCartItem(ctx context.Context, tx pgx.Tx, item *models.CartItem) error
	UpdateCartItemQuantity(ctx context.Context, tx pgx.Tx, cartID, productID string, quantity int64) error
	RemoveCartItem(ctx context.Context, tx pgx.Tx, cartID, productID string) error
	UpdateCartTotals(ctx context.Context, tx pgx.Tx, cart *models.Cart) error
	MarkCartAbandoned(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	DeleteCart(ctx context.Context, tx pgx.Tx, id string) error
	ListInactiveCartIDs(ctx context.Context, tx pgx.Tx, cutoff time.Time) ([]string, error)
	ListExpiredAbandonedCartIDs(ctx context.Context, tx pgx.Tx, cutoff time.Time) ([]string, error)
	InvalidateCartCache(ctx context.Context, cartID string)
}

// querier is satisfied by both the pool and a pgx.Tx, so every query can run
// inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	conn   driver.PostgresPool
	cache  *driver.Cache
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, cache *driver.Cache, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		cache:  cache,
		logger: logger,
	}
}

func (r *repository) db(tx pgx.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.conn
}

func (r *repository) CreateCart(ctx context.Context, tx pgx.Tx, cart *models.Cart) error {
	_, err := r.db(tx).Exec(ctx, `
		INSERT INTO carts (id, currency, total_price, abandoned, last_interaction_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cart.ID, string(cart.Currency), cart.TotalPrice, cart.Abandoned,
		cart.LastInteractionAt, cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create cart", zap.Error(err))
		return err
	}

	// 更新快取
	cacheKey := fmt.Sprintf("cart:%s", cart.ID)
	if err := r.cache.Set(ctx, cacheKey, cart, cacheTTL); err != nil {
		r.logger.Warn("Failed to cache cart", zap.Error(err))
	}

	return nil
}

func (r *repository) GetCart(ctx context.Context, tx pgx.Tx, id string) (*models.Cart, error) {
	cacheKey := fmt.Sprintf("cart:%s", id)
	var cart models.Cart

	// 嘗試從快取中獲取
	found, err := r.cache.Get(ctx, cacheKey, &cart)
	if err != nil {
		r.logger.Warn("Failed to get cart from cache", zap.Error(err))
	}
	if found {
		return &cart, nil
	}

	loaded, err := r.loadCart(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}

	// 更新快取
	if err := r.cache.Set(ctx, cacheKey, loaded, cacheTTL); err != nil {
		r.logger.Warn("Failed to cache cart", zap.Error(err))
	}

	return loaded, nil
}

// GetCartForUpdate loads the cart row with a FOR UPDATE lock, serializing all
// concurrent mutations and sweeper transitions on the same cart. It always
// bypasses the cache and must be called inside a transaction.
func (r *repository) GetCartForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.Cart, error) {
	return r.loadCart(ctx, tx, id, true)
}

func (r *repository) loadCart(ctx context.Context, tx pgx.Tx, id string, forUpdate bool) (*models.Cart, error) {
	query := `
		SELECT id, currency, total_price, abandoned, last_interaction_at, created_at, updated_at
		FROM carts
		WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var cart models.Cart
	var currency string
	err := r.db(tx).QueryRow(ctx, query, id).Scan(
		&cart.ID, &currency, &cart.TotalPrice, &cart.Abandoned,
		&cart.LastInteractionAt, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrCartNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get cart", zap.String("cart_id", id), zap.Error(err))
		return nil, err
	}
	cart.Currency = stripe.Currency(currency)

	items, err := r.queryItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	cart.Items = items

	// Unit prices were just resolved from the catalog, so the total is folded
	// from the lines loaded here rather than trusted from the stored column.
	cart.RecomputeTotal()

	return &cart, nil
}

// queryItems resolves each line against the current catalog price, which is
// where the live-price total semantics come from.
func (r *repository) queryItems(ctx context.Context, tx pgx.Tx, cartID string) ([]models.CartItem, error) {
	rows, err := r.db(tx).Query(ctx, `
		SELECT ci.id, ci.cart_id, ci.product_id, p.name, ci.quantity, p.price
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id`, cartID)
	if err != nil {
		r.logger.Error("Failed to list cart items", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPrice); err != nil {
			r.logger.Error("Failed to scan cart item", zap.Error(err))
			return nil, err
		}
		item.TotalPrice = float64(item.Quantity) * item.UnitPrice
		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *repository) AddCartItem(ctx context.Context, tx pgx.Tx, item *models.CartItem) error {
	_, err := r.db(tx).Exec(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)`,
		item.CartID, item.ProductID, item.Quantity)
	if err != nil {
		r.logger.Error("Failed to add cart item", zap.Error(err))
		return err
	}

	r.InvalidateCartCache(ctx, item.CartID)

	return nil
}

func (r *repository) UpdateCartItemQuantity(ctx context.Context, tx pgx.Tx, cartID, productID string, quantity int64) error {
	tag, err := r.db(tx).Exec(ctx, `
		UPDATE cart_items SET quantity = $3
		WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID, quantity)
	if err != nil {
		r.logger.Error("Failed to update cart item", zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrCartItemNotFound
	}

	r.InvalidateCartCache(ctx, cartID)

	return nil
}

func (r *repository) RemoveCartItem(ctx context.Context, tx pgx.Tx, cartID, productID string) error {
	tag, err := r.db(tx).Exec(ctx, `
		DELETE FROM cart_items
		WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID)
	if err != nil {
		r.logger.Error("Failed to remove cart item", zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrCartItemNotFound
	}

	r.InvalidateCartCache(ctx, cartID)

	return nil
}

// UpdateCartTotals writes the recomputed total together with the interaction
// timestamp, so an item mutation and its derived fields commit as one unit.
func (r *repository) UpdateCartTotals(ctx context.Context, tx pgx.Tx, cart *models.Cart) error {
	_, err := r.db(tx).Exec(ctx, `
		UPDATE carts SET total_price = $2, last_interaction_at = $3, updated_at = $4
		WHERE id = $1`,
		cart.ID, cart.TotalPrice, cart.LastInteractionAt, time.Now())
	if err != nil {
		r.logger.Error("Failed to update cart totals", zap.Error(err))
		return err
	}

	r.InvalidateCartCache(ctx, cart.ID)

	return nil
}

func (r *repository) MarkCartAbandoned(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	_, err := r.db(tx).Exec(ctx, `
		UPDATE carts SET abandoned = TRUE, updated_at = $2
		WHERE id = $1`,
		id, at)
	if err != nil {
		r.logger.Error("Failed to mark cart abandoned", zap.Error(err))
		return err
	}

	r.InvalidateCartCache(ctx, id)

	return nil
}

// DeleteCart destroys the cart; its items go with it through the FK cascade,
// so no orphaned lines survive.
func (r *repository) DeleteCart(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := r.db(tx).Exec(ctx, `DELETE FROM carts WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete cart", zap.Error(err))
		return err
	}

	r.InvalidateCartCache(ctx, id)

	return nil
}

func (r *repository) ListInactiveCartIDs(ctx context.Context, tx pgx.Tx, cutoff time.Time) ([]string, error) {
	return r.queryIDs(ctx, tx, `
		SELECT id FROM carts
		WHERE abandoned = FALSE AND last_interaction_at < $1`, cutoff)
}

func (r *repository) ListExpiredAbandonedCartIDs(ctx context.Context, tx pgx.Tx, cutoff time.Time) ([]string, error) {
	return r.queryIDs(ctx, tx, `
		SELECT id FROM carts
		WHERE abandoned = TRUE AND updated_at < $1`, cutoff)
}

func (r *repository) queryIDs(ctx context.Context, tx pgx.Tx, query string, cutoff time.Time) ([]string, error) {
	rows, err := r.db(tx).Query(ctx, query, cutoff)
	if err != nil {
		r.logger.Error("Failed to list cart ids", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *repository) InvalidateCartCache(ctx context.Context, cartID string) {
	if err := r.cache.Delete(ctx, fmt.Sprintf("cart:%s", cartID)); err != nil {
		r.logger.Warn("Failed to invalidate cart cache", zap.Error(err))
	}
}
