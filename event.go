package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gofalre.io/store/models"
	"gofalre.io/store/models/enum"
)

// Cart lifecycle events travel over subjects like "store.cart.event.cart.abandoned".
const eventSubjectPrefix = "store.cart.event"

type EventHandler func(context.Context, *models.CartEvent) error

type EventManager struct {
	natsConn *nats.Conn
	handlers map[enum.EventType]EventHandler
	logger   *zap.Logger
}

func NewEventManager(natsConn *nats.Conn, logger *zap.Logger) *EventManager {
	return &EventManager{
		natsConn: natsConn,
		handlers: make(map[enum.EventType]EventHandler),
		logger:   logger,
	}
}

func (em *EventManager) RegisterHandler(eventType enum.EventType, handler EventHandler) {
	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType enum.EventType) (EventHandler, bool) {
	handler, exists := em.handlers[eventType]
	return handler, exists
}

func (em *EventManager) Publish(_ context.Context, cartEvent *models.CartEvent) error {
	if em.natsConn == nil {
		return nil
	}

	data, err := json.Marshal(cartEvent)
	if err != nil {
		return err
	}

	return em.natsConn.Publish(fmt.Sprintf("%s.%s", eventSubjectPrefix, cartEvent.Type), data)
}

func (em *EventManager) SubscribeToEvents(wp *WorkerPool) error {
	if em.natsConn == nil {
		return nil
	}

	_, err := em.natsConn.Subscribe(eventSubjectPrefix+".>", func(msg *nats.Msg) {
		var cartEvent models.CartEvent
		if err := json.Unmarshal(msg.Data, &cartEvent); err != nil {
			em.logger.Error("Failed to unmarshal event", zap.Error(err))
			return
		}

		wp.Submit(context.Background(), &cartEvent)
	})

	return err
}

func (s *service) registerEventHandlers() {
	eventHandlers := map[enum.EventType]EventHandler{
		enum.EventTypeCartItemAdded:   s.handleCartMutated,
		enum.EventTypeCartItemRemoved: s.handleCartMutated,
		enum.EventTypeCartAbandoned:   s.handleCartAbandoned,
		enum.EventTypeCartRemoved:     s.handleCartRemoved,
	}

	for eventType, handler := range eventHandlers {
		s.eventManager.RegisterHandler(eventType, handler)
	}
}

// handleCartMutated drops the cached read model so every instance serves the
// freshly recomputed totals after an item change elsewhere.
func (s *service) handleCartMutated(ctx context.Context, cartEvent *models.CartEvent) error {
	s.cart.InvalidateCartCache(ctx, cartEvent.CartID)
	return nil
}

func (s *service) handleCartAbandoned(ctx context.Context, cartEvent *models.CartEvent) error {
	s.cart.InvalidateCartCache(ctx, cartEvent.CartID)
	s.logger.Info("Cart abandoned", zap.String("cart_id", cartEvent.CartID))
	return nil
}

func (s *service) handleCartRemoved(ctx context.Context, cartEvent *models.CartEvent) error {
	s.cart.InvalidateCartCache(ctx, cartEvent.CartID)
	s.logger.Info("Abandoned cart removed", zap.String("cart_id", cartEvent.CartID))
	return nil
}

// ProcessEvent runs a subscribed event through its handler exactly once,
// using the event ledger for idempotence.
func (s *service) ProcessEvent(ctx context.Context, cartEvent *models.CartEvent) error {

	if _, err := s.event.GetByID(ctx, cartEvent.ID); err == nil {
		s.logger.Info("Event already processed", zap.String("event_id", cartEvent.ID))
		return nil
	}

	handler, exists := s.eventManager.GetHandler(cartEvent.Type)
	if !exists {
		return fmt.Errorf("no handler registered for event type: %s", cartEvent.Type)
	}

	if err := s.event.Create(ctx, &models.Event{
		ID:        cartEvent.ID,
		Type:      cartEvent.Type,
		Processed: false,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}); err != nil {
		s.logger.Error("Failed to create event", zap.Error(err))
		return err
	}

	if err := handler(ctx, cartEvent); err != nil {
		s.logger.Error("Failed to handle event",
			zap.String("event_id", cartEvent.ID),
			zap.String("event_type", string(cartEvent.Type)),
			zap.Error(err),
		)
		return err
	}

	if err := s.event.MarkAsProcessed(ctx, cartEvent.ID); err != nil {
		s.logger.Error("Failed to mark event as processed", zap.Error(err))
		return err
	}

	s.logger.Info("Cart event processed", zap.String("event_id", cartEvent.ID))

	return nil
}
