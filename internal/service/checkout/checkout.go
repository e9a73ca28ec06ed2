// Package checkout оркестрирует оформление заказа: корзина -> заказ ->
// резервирование стока -> события.
package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/cart"
	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

// Result — итог успешного оформления.
type Result struct {
	Order domain.Order
	// Adjustments — сообщения об урезании корзины, если оформлению
	// предшествовала нехватка стока (пусто при чистом успехе).
	Adjustments []string
}

// Service выполняет checkout поверх корзины и репозитория заказов.
type Service struct {
	carts    domain.CartStore
	products domain.ProductRepository
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
}

// NewService создаёт checkout-сервис. outbox, timeline и checkoutMetrics
// опциональны: nil отключает соответствующий побочный эффект.
func NewService(
	carts domain.CartStore,
	products domain.ProductRepository,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	checkoutMetrics *metrics.CheckoutMetrics,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.WithField("component", "checkout-service")
	}
	return &Service{
		carts:    carts,
		products: products,
		orders:   orders,
		outbox:   outbox,
		timeline: timeline,
		metrics:  checkoutMetrics,
		logger:   logger,
	}
}

// Checkout оформляет заказ по содержимому корзины сессии.
//
// Сток резервируется атомарно по всем строкам: при нехватке хотя бы по одной
// позиции заказ не сохраняется вовсе, корзина урезается до доступных остатков,
// а вызывающему возвращается *StockShortageError с полным списком нехваток.
func (s *Service) Checkout(ctx context.Context, sessionID string, buyer domain.Buyer, method domain.PaymentMethod) (Result, error) {
	started := time.Now()
	s.recordStarted()
	defer func() {
		s.recordFinished(time.Since(started))
	}()

	c, err := cart.New(ctx, s.carts, s.products, sessionID)
	if err != nil {
		s.recordFailed()
		return Result{}, fmt.Errorf("open cart: %w", err)
	}

	lines, err := c.Lines(ctx)
	if err != nil {
		s.recordFailed()
		return Result{}, fmt.Errorf("read cart: %w", err)
	}
	if len(lines) == 0 {
		return Result{}, domain.ErrCartEmpty
	}

	order := domain.Order{
		Buyer:         buyer,
		PaymentMethod: method,
		Status:        domain.OrderStatusDraft,
		Lines:         make([]domain.OrderLine, 0, len(lines)),
	}
	for i := range lines {
		order.Lines = append(order.Lines, domain.NewOrderLine(lines[i].Product, lines[i].Quantity))
	}

	placeStarted := time.Now()
	confirmed, err := s.orders.Place(ctx, &order)
	s.recordStage("place_order", time.Since(placeStarted))
	if err != nil {
		if domain.IsStockShortage(err) {
			adjustments := s.handleShortage(ctx, c)
			return Result{Adjustments: adjustments}, err
		}
		s.recordFailed()
		return Result{}, fmt.Errorf("place order: %w", err)
	}

	s.appendTimeline(ctx, confirmed.ID, domain.TimelineOrderCreated, "")
	s.appendTimeline(ctx, confirmed.ID, domain.TimelineOrderConfirmed, "")
	s.enqueueConfirmedEvent(confirmed)

	c.Clear()
	if err := c.Flush(ctx); err != nil {
		// Заказ уже подтверждён; незачищенная корзина не повод его терять.
		s.logger.WithError(err).WithField("order_id", confirmed.ID).Warn("failed to clear cart after checkout")
	}

	s.recordCompleted()
	s.logger.WithFields(log.Fields{
		"order_id": confirmed.ID,
		"total":    confirmed.Total.String(),
		"lines":    len(confirmed.Lines),
	}).Info("checkout completed")

	return Result{Order: confirmed}, nil
}

// handleShortage урезает корзину до доступных остатков и возвращает
// сообщения об изменениях корзины.
func (s *Service) handleShortage(ctx context.Context, c *cart.Cart) []string {
	s.recordRejected()

	adjustments, err := c.CapToStock(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("failed to cap cart after shortage")
		return nil
	}
	if err := c.Flush(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to save capped cart")
	}

	if s.metrics != nil {
		for range adjustments {
			s.metrics.RecordCartAdjusted()
		}
	}
	s.logger.WithFields(log.Fields{
		"adjustments": adjustments,
	}).Info("checkout rejected by stock validation")

	return adjustments
}

func (s *Service) enqueueConfirmedEvent(order domain.Order) {
	if s.outbox == nil {
		return
	}

	event := kafka.NewOrderEvent(
		kafka.EventTypeOrderConfirmed,
		order.ID,
		order.Buyer.FullName(),
		string(order.Status),
		order.Total.StringFixed(2),
		nil,
	)
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to encode order event")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   fmt.Sprintf("%d", order.ID),
		EventType:     string(kafka.EventTypeOrderConfirmed),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue outbox event")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

func (s *Service) appendTimeline(ctx context.Context, orderID int64, eventType, reason string) {
	if s.timeline == nil {
		return
	}
	if err := s.timeline.Append(ctx, domain.TimelineEvent{
		OrderID: orderID,
		Type:    eventType,
		Reason:  reason,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}

func (s *Service) recordStarted() {
	if s.metrics != nil {
		s.metrics.RecordCheckoutStarted()
	}
}

func (s *Service) recordFinished(elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordCheckoutFinished()
		s.metrics.RecordCheckoutDuration(elapsed)
	}
}

func (s *Service) recordStage(stage string, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordStageDuration(stage, elapsed)
	}
}

func (s *Service) recordCompleted() {
	if s.metrics != nil {
		s.metrics.RecordCheckoutCompleted()
	}
}

func (s *Service) recordRejected() {
	if s.metrics != nil {
		s.metrics.RecordCheckoutRejected()
		s.metrics.RecordStockShortage()
	}
}

func (s *Service) recordFailed() {
	if s.metrics != nil {
		s.metrics.RecordCheckoutFailed()
	}
}
