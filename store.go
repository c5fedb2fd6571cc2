package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"gofalre.io/store/cart"
	"gofalre.io/store/driver"
	"gofalre.io/store/event"
	"gofalre.io/store/models"
	"gofalre.io/store/models/enum"
	"gofalre.io/store/product"
)

// Service is the cart lifecycle surface exposed to the transport layer. The
// caller passes an opaque cart id with each request; nothing here touches
// session storage.
type Service interface {
	GetOrCreateCart(ctx context.Context, sessionCartID string) (*models.Cart, error)
	GetCart(ctx context.Context, id string) (*models.Cart, error)
	AddProductToCart(ctx context.Context, cartID, productID string, quantity int64) (*models.Cart, error)
	RemoveProductFromCart(ctx context.Context, cartID, productID string) (*models.Cart, error)

	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, limit, offset uint64) ([]*models.Product, error)
}

type service struct {
	cart    cart.Repository
	product product.Repository
	event   event.Repository

	transactionManager driver.TxManager
	eventManager       *EventManager
	workerPool         *WorkerPool

	currency stripe.Currency
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(
	cart cart.Repository, product product.Repository, event event.Repository, tm driver.TxManager,
	natsConn *nats.Conn, currency stripe.Currency,
	logger *zap.Logger) Service {
	s := &service{
		cart:               cart,
		product:            product,
		event:              event,
		transactionManager: tm,
		currency:           currency,
		now:                time.Now,
		logger:             logger,
	}
	s.eventManager = NewEventManager(natsConn, logger)
	s.workerPool = NewWorkerPool(10, s, logger)
	s.registerEventHandlers()

	// 訂閱事件
	if err := s.eventManager.SubscribeToEvents(s.workerPool); err != nil {
		logger.Error("Failed to subscribe to events", zap.Error(err))
	}

	return s
}

// GetOrCreateCart reconciles the caller's session state with the stored cart
// state. An unknown, stale or abandoned cart id always yields a fresh empty
// cart; an abandoned cart is never handed back.
func (s *service) GetOrCreateCart(ctx context.Context, sessionCartID string) (*models.Cart, error) {
	if sessionCartID != "" {
		cartModel, err := s.cart.GetCart(ctx, nil, sessionCartID)
		if err == nil && !cartModel.Abandoned {
			return cartModel, nil
		}
		if err != nil && !errors.Is(err, models.ErrCartNotFound) {
			return nil, err
		}
	}

	newCart := models.NewCart(s.currency, s.now())
	if err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return s.cart.CreateCart(ctx, tx, newCart)
	}); err != nil {
		return nil, err
	}

	return newCart, nil
}

// GetCart is the explicit lookup; unlike GetOrCreateCart it surfaces
// models.ErrCartNotFound instead of falling back to a fresh cart.
func (s *service) GetCart(ctx context.Context, id string) (*models.Cart, error) {
	return s.cart.GetCart(ctx, nil, id)
}

func (s *service) AddProductToCart(ctx context.Context, cartID, productID string, quantity int64) (*models.Cart, error) {
	if !models.ValidQuantity(quantity) {
		return nil, models.ErrInvalidQuantity
	}

	var cartModel *models.Cart
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		cartModel = nil

		c, err := s.cart.GetCartForUpdate(ctx, tx, cartID)
		if err != nil {
			return err
		}

		p, err := s.product.GetProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		_, merged := c.Item(productID)

		if err = c.AddProduct(p, quantity, s.now()); err != nil {
			return err
		}
		item, _ := c.Item(productID)

		if merged {
			// 商品已存在，合併數量
			if err = s.cart.UpdateCartItemQuantity(ctx, tx, c.ID, productID, item.Quantity); err != nil {
				return err
			}
		} else {
			if err = s.cart.AddCartItem(ctx, tx, item); err != nil {
				return err
			}
		}

		if err = s.cart.UpdateCartTotals(ctx, tx, c); err != nil {
			return err
		}

		cartModel = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, enum.EventTypeCartItemAdded, cartID, productID, quantity)

	return cartModel, nil
}

func (s *service) RemoveProductFromCart(ctx context.Context, cartID, productID string) (*models.Cart, error) {
	var cartModel *models.Cart
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		cartModel = nil

		c, err := s.cart.GetCartForUpdate(ctx, tx, cartID)
		if err != nil {
			return err
		}

		if err = c.RemoveProduct(productID, s.now()); err != nil {
			return err
		}

		if err = s.cart.RemoveCartItem(ctx, tx, c.ID, productID); err != nil {
			return err
		}

		if err = s.cart.UpdateCartTotals(ctx, tx, c); err != nil {
			return err
		}

		cartModel = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, enum.EventTypeCartItemRemoved, cartID, productID, 0)

	return cartModel, nil
}

func (s *service) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return s.product.GetProduct(ctx, nil, id)
}

func (s *service) ListProducts(ctx context.Context, limit, offset uint64) ([]*models.Product, error) {
	return s.product.ListProducts(ctx, nil, limit, offset)
}

// publish emits a lifecycle event; delivery is best effort and never fails
// the mutation that triggered it.
func (s *service) publish(ctx context.Context, eventType enum.EventType, cartID, productID string, quantity int64) {
	if s.eventManager == nil {
		return
	}
	if err := s.eventManager.Publish(ctx, &models.CartEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		CartID:     cartID,
		ProductID:  productID,
		Quantity:   quantity,
		OccurredAt: s.now(),
	}); err != nil {
		s.logger.Warn("Failed to publish cart event", zap.String("cart_id", cartID), zap.Error(err))
	}
}
