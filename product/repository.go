package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"gofalre.io/store/driver"
	"gofalre.io/store/models"
)

var _ Repository = (*repository)(nil)

const cacheTTL = 30 * time.Minute

// Repository is the read-only catalog lookup the cart core consumes. The
// catalog itself is maintained elsewhere.
type Repository interface {
	GetProduct(ctx context.Context, tx pgx.Tx, id string) (*models.Product, error)
	ListProducts(ctx context.Context, tx pgx.Tx, limit, offset uint64) ([]*models.Product, error)
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

func (r *repository) GetProduct(ctx context.Context, tx pgx.Tx, id string) (*models.Product, error) {
	cacheKey := fmt.Sprintf("product:%s", id)
	var product models.Product

	// 嘗試從快取中獲取
	found, err := r.cache.Get(ctx, cacheKey, &product)
	if err != nil {
		r.logger.Warn("Failed to get product from cache", zap.Error(err))
	}
	if found {
		return &product, nil
	}

	var currency string
	row := r.queryRow(ctx, tx, `
		SELECT id, name, price, currency, created_at, updated_at
		FROM products
		WHERE id = $1`, id)
	err = row.Scan(&product.ID, &product.Name, &product.Price, &currency,
		&product.CreatedAt, &product.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get product", zap.String("product_id", id), zap.Error(err))
		return nil, err
	}
	product.Currency = stripe.Currency(currency)

	// 更新快取
	if err := r.cache.Set(ctx, cacheKey, product, cacheTTL); err != nil {
		r.logger.Warn("Failed to cache product", zap.Error(err))
	}

	return &product, nil
}

func (r *repository) ListProducts(ctx context.Context, tx pgx.Tx, limit, offset uint64) ([]*models.Product, error) {
	rows, err := r.query(ctx, tx, `
		SELECT id, name, price, currency, created_at, updated_at
		FROM products
		ORDER BY name
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list products", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		var product models.Product
		var currency string
		if err := rows.Scan(&product.ID, &product.Name, &product.Price, &currency,
			&product.CreatedAt, &product.UpdatedAt); err != nil {
			r.logger.Error("Failed to scan product", zap.Error(err))
			return nil, err
		}
		product.Currency = stripe.Currency(currency)
		products = append(products, &product)
	}

	return products, rows.Err()
}

func (r *repository) queryRow(ctx context.Context, tx pgx.Tx, sql string, args ...any) pgx.Row {
	if tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.conn.QueryRow(ctx, sql, args...)
}

func (r *repository) query(ctx context.Context, tx pgx.Tx, sql string, args ...any) (pgx.Rows, error) {
	if tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.conn.Query(ctx, sql, args...)
}
