package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gofalre.io/store/cart"
	"gofalre.io/store/driver"
	"gofalre.io/store/models"
	"gofalre.io/store/models/enum"
)

// errNotDue marks a cart whose transition precondition no longer holds by the
// time its row is locked; it is skipped silently, not counted or logged.
var errNotDue = errors.New("cart transition not due")

// Sweeper applies the abandonment lifecycle across all carts. It owns no
// timing mechanism; an external scheduler invokes RunCleanup on a fixed
// cadence.
type Sweeper struct {
	cart               cart.Repository
	transactionManager driver.TxManager
	eventManager       *EventManager

	now    func() time.Time
	logger *zap.Logger

	mu sync.Mutex
}

func NewSweeper(cart cart.Repository, tm driver.TxManager, em *EventManager, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cart:               cart,
		transactionManager: tm,
		eventManager:       em,
		now:                time.Now,
		logger:             logger,
	}
}

// RunCleanup executes the mark pass followed by the remove pass. It is
// idempotent and safe to invoke repeatedly; overlapping invocations
// serialize on the sweeper mutex. A cart marked abandoned here always fails
// the remove pass in the same invocation, because the transition itself
// restarts the retention clock.
func (s *Sweeper) RunCleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Starting abandoned cart cleanup")

	marked := s.markInactiveCarts(ctx)
	removed := s.removeExpiredCarts(ctx)

	s.logger.Info("Completed abandoned cart cleanup",
		zap.Int("marked", marked),
		zap.Int("removed", removed))

	return ctx.Err()
}

// markInactiveCarts flips every cart with no interaction for
// models.AbandonAfter into the abandoned state. Individual failures are
// logged and skipped; one broken cart never aborts the pass.
func (s *Sweeper) markInactiveCarts(ctx context.Context) int {
	ids, err := s.cart.ListInactiveCartIDs(ctx, nil, s.now().Add(-models.AbandonAfter))
	if err != nil {
		s.logger.Error("Failed to list inactive carts", zap.Error(err))
		return 0
	}

	marked := 0
	for _, id := range ids {
		err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
			cartModel, err := s.cart.GetCartForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}

			now := s.now()
			if !cartModel.MarkAbandoned(now) {
				return errNotDue
			}

			return s.cart.MarkCartAbandoned(ctx, tx, cartModel.ID, now)
		})
		if err != nil {
			if errors.Is(err, errNotDue) || errors.Is(err, models.ErrCartNotFound) {
				continue
			}
			s.logger.Error("Failed to mark cart abandoned", zap.String("cart_id", id), zap.Error(err))
			continue
		}

		marked++
		s.publish(ctx, enum.EventTypeCartAbandoned, id)
	}

	s.logger.Info("Marked carts as abandoned", zap.Int("count", marked))
	return marked
}

// removeExpiredCarts destroys carts abandoned for models.RemoveAfter,
// cascading over their items.
func (s *Sweeper) removeExpiredCarts(ctx context.Context) int {
	ids, err := s.cart.ListExpiredAbandonedCartIDs(ctx, nil, s.now().Add(-models.RemoveAfter))
	if err != nil {
		s.logger.Error("Failed to list expired abandoned carts", zap.Error(err))
		return 0
	}

	removed := 0
	for _, id := range ids {
		err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
			cartModel, err := s.cart.GetCartForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}

			if !cartModel.EligibleForRemoval(s.now()) {
				return errNotDue
			}

			return s.cart.DeleteCart(ctx, tx, cartModel.ID)
		})
		if err != nil {
			if errors.Is(err, errNotDue) || errors.Is(err, models.ErrCartNotFound) {
				continue
			}
			s.logger.Error("Failed to remove abandoned cart", zap.String("cart_id", id), zap.Error(err))
			continue
		}

		removed++
		s.publish(ctx, enum.EventTypeCartRemoved, id)
	}

	s.logger.Info("Removed old abandoned carts", zap.Int("count", removed))
	return removed
}

func (s *Sweeper) publish(ctx context.Context, eventType enum.EventType, cartID string) {
	if s.eventManager == nil {
		return
	}
	if err := s.eventManager.Publish(ctx, &models.CartEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		CartID:     cartID,
		OccurredAt: s.now(),
	}); err != nil {
		s.logger.Warn("Failed to publish cart event", zap.String("cart_id", cartID), zap.Error(err))
	}
}
