package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/campusclub/api/internal/domain"
	"github.com/campusclub/api/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "oit_"
	activityIDPrefix  = "act_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderValidation carries a user-facing reason the order cannot proceed.
	ErrOrderValidation = errors.New("order: validation failed")
	// ErrOrderNotFound indicates the order or a referenced record could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor lacks permission for the operation.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates the order's status does not allow the operation.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent mutation or duplicate was detected.
	ErrOrderConflict = errors.New("order: conflict")
)

// cancellableOrderStatuses are the states a cancel may start from. Fulfilled
// and cancelled orders are inactive; a partially fulfilled order refunds and
// restocks only its unfulfilled items.
var cancellableOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusPlaced,
	domain.OrderStatusPartiallyFulfilled,
	domain.OrderStatusPickupMissed,
	domain.OrderStatusPickupCancelled,
}

// reschedulableOrderStatuses may be pointed at a new pickup event.
var reschedulableOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusPlaced,
	domain.OrderStatusPartiallyFulfilled,
	domain.OrderStatusPickupMissed,
	domain.OrderStatusPickupCancelled,
}

// pendingOrderStatuses are swept by the bulk cancellation, typically ahead
// of a semester reset. Placed orders are excluded; their pickup is still
// upcoming and members remain entitled to it.
var pendingOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusPartiallyFulfilled,
	domain.OrderStatusPickupMissed,
	domain.OrderStatusPickupCancelled,
}

// StoreOrderServiceDeps bundles collaborators required to construct the store order service.
type StoreOrderServiceDeps struct {
	Users         repositories.UserRepository
	Merch         repositories.MerchItemRepository
	Orders        repositories.OrderRepository
	PickupEvents  repositories.PickupEventRepository
	Activities    repositories.ActivityRepository
	UnitOfWork    repositories.UnitOfWork
	Notifications NotificationDispatcher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        *zap.Logger
}

type storeOrderService struct {
	users         repositories.UserRepository
	merch         repositories.MerchItemRepository
	orders        repositories.OrderRepository
	pickupEvents  repositories.PickupEventRepository
	activities    repositories.ActivityRepository
	unitOfWork    repositories.UnitOfWork
	notifications NotificationDispatcher
	validator     *OrderValidator
	clock         func() time.Time
	newID         func() string
	logger        *zap.Logger
}

// NewStoreOrderService wires dependencies into a concrete StoreOrderService implementation.
func NewStoreOrderService(deps StoreOrderServiceDeps) (StoreOrderService, error) {
	if deps.Users == nil {
		return nil, errors.New("store order service: user repository is required")
	}
	if deps.Merch == nil {
		return nil, errors.New("store order service: merch item repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("store order service: order repository is required")
	}
	if deps.PickupEvents == nil {
		return nil, errors.New("store order service: pickup event repository is required")
	}
	if deps.Activities == nil {
		return nil, errors.New("store order service: activity repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	validator, err := NewOrderValidator(deps.Merch, deps.Orders, clock)
	if err != nil {
		return nil, err
	}

	return &storeOrderService{
		users:         deps.Users,
		merch:         deps.Merch,
		orders:        deps.Orders,
		pickupEvents:  deps.PickupEvents,
		activities:    deps.Activities,
		unitOfWork:    unit,
		notifications: deps.Notifications,
		validator:     validator,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// PlaceOrder validates the request, freezes prices, debits credits and
// stock, and writes the order, all inside one serializable transaction.
func (s *storeOrderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	pickupEventID := strings.TrimSpace(cmd.PickupEventID)
	if pickupEventID == "" {
		return Order{}, fmt.Errorf("%w: pickup event id is required", ErrOrderInvalidInput)
	}

	var (
		order     Order
		user      User
		event     OrderPickupEvent
		validated ValidatedOrder
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		user, err = s.users.FindByID(txCtx, userID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		event, err = s.pickupEvents.FindByID(txCtx, pickupEventID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}

		validated, err = s.validator.Validate(txCtx, user, cmd.Lines, &event)
		if err != nil {
			return err
		}

		now := s.now()
		order = Order{
			ID:            s.nextOrderID(),
			UserID:        userID,
			TotalCost:     validated.TotalCost,
			Status:        domain.OrderStatusPlaced,
			PickupEventID: &event.ID,
			OrderedAt:     now,
		}
		for _, line := range validated.Lines {
			for unit := 0; unit < line.Quantity; unit++ {
				order.Items = append(order.Items, OrderItem{
					ID:                           s.nextOrderItemID(),
					OrderID:                      order.ID,
					OptionID:                     line.Option.ID,
					SalePriceAtPurchase:          line.UnitPrice,
					DiscountPercentageAtPurchase: line.Option.DiscountPercentage,
				})
			}
		}

		for _, line := range validated.Lines {
			if err := s.merch.AdjustOptionQuantity(txCtx, line.Option.ID, -line.Quantity); err != nil {
				return mapOrderRepositoryError(err)
			}
		}
		if err := s.users.AdjustCredits(txCtx, userID, -validated.TotalCost); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		return s.recordActivity(txCtx, userID, domain.ActivityOrderPlaced,
			fmt.Sprintf("Placed a merch order for %d credits", order.TotalCost))
	})
	if err != nil {
		return Order{}, err
	}

	catalog := catalogFromValidated(validated)
	s.send(ctx, "order.confirmation", order.ID, func() error {
		return s.notifications.SendOrderConfirmation(ctx, buildOrderNotification(user, order, catalog, &event))
	})

	return order, nil
}

// VerifyOrder runs the pre-checkout checks without touching any state. No
// pickup event is involved yet, so that check is skipped.
func (s *storeOrderService) VerifyOrder(ctx context.Context, cmd VerifyOrderCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	return s.unitOfWork.RunInReadTx(ctx, func(txCtx context.Context) error {
		user, err := s.users.FindByID(txCtx, userID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		_, err = s.validator.Validate(txCtx, user, cmd.Lines, nil)
		return err
	})
}

func (s *storeOrderService) GetOrder(ctx context.Context, orderID string, actorID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	if order.UserID != strings.TrimSpace(actorID) {
		actor, err := s.users.FindByID(ctx, strings.TrimSpace(actorID))
		if err != nil {
			return Order{}, mapOrderRepositoryError(err)
		}
		if !canManageStore(actor) && !canDistribute(actor) {
			return Order{}, fmt.Errorf("%w: you may only view your own orders", ErrOrderForbidden)
		}
	}

	return order, nil
}

func (s *storeOrderService) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, mapOrderRepositoryError(err)
	}
	return orders, nil
}

// FulfillOrderItems marks the named items as handed out and derives the
// order's status from what remains.
func (s *storeOrderService) FulfillOrderItems(ctx context.Context, cmd FulfillOrderItemsCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Updates) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	actor, err := s.users.FindByID(ctx, strings.TrimSpace(cmd.ActorID))
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !canDistribute(actor) {
		return Order{}, fmt.Errorf("%w: only distributors may fulfill orders", ErrOrderForbidden)
	}

	var (
		order Order
		owner User
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if order.Status != domain.OrderStatusPlaced && order.Status != domain.OrderStatusPartiallyFulfilled {
			return fmt.Errorf("%w: order status %q cannot be fulfilled", ErrOrderInvalidState, order.Status)
		}
		if order.PickupEventID != nil {
			event, err := s.pickupEvents.FindByID(txCtx, *order.PickupEventID)
			if err != nil {
				return mapOrderRepositoryError(err)
			}
			if event.Start.After(s.now()) {
				return fmt.Errorf("%w: pickup event %s has not started yet", ErrOrderValidation, event.ID)
			}
		}

		index := make(map[string]int, len(order.Items))
		for i, item := range order.Items {
			index[item.ID] = i
		}

		now := s.now()
		seen := make(map[string]bool, len(cmd.Updates))
		changed := make([]OrderItem, 0, len(cmd.Updates))
		for _, update := range cmd.Updates {
			itemID := strings.TrimSpace(update.ItemID)
			if itemID == "" {
				return fmt.Errorf("%w: order item id is required", ErrOrderInvalidInput)
			}
			if seen[itemID] {
				return fmt.Errorf("%w: duplicate order item %s", ErrOrderInvalidInput, itemID)
			}
			seen[itemID] = true

			i, ok := index[itemID]
			if !ok {
				return fmt.Errorf("%w: order item %s does not belong to order %s", ErrOrderNotFound, itemID, orderID)
			}
			if order.Items[i].Fulfilled {
				return fmt.Errorf("%w: order item %s was already fulfilled", ErrOrderConflict, itemID)
			}

			order.Items[i].Fulfilled = true
			order.Items[i].FulfilledAt = &now
			order.Items[i].Notes = update.Notes
			changed = append(changed, order.Items[i])
		}

		if err := s.orders.UpdateItems(txCtx, changed); err != nil {
			return mapOrderRepositoryError(err)
		}

		remaining := 0
		for _, item := range order.Items {
			if !item.Fulfilled {
				remaining++
			}
		}
		status := domain.OrderStatusPartiallyFulfilled
		activityType := domain.ActivityOrderPartiallyFulfilled
		description := fmt.Sprintf("Picked up part of a merch order, %d items remaining", remaining)
		if remaining == 0 {
			status = domain.OrderStatusFulfilled
			activityType = domain.ActivityOrderFulfilled
			description = "Picked up a merch order"
		}
		if err := s.orders.UpdateStatus(txCtx, order.ID, status, order.PickupEventID); err != nil {
			return mapOrderRepositoryError(err)
		}
		order.Status = status

		owner, err = s.users.FindByID(txCtx, order.UserID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		return s.recordActivity(txCtx, order.UserID, activityType, description)
	})
	if err != nil {
		return Order{}, err
	}

	if notification, ok := s.orderNotification(ctx, owner, order); ok {
		if order.Status == domain.OrderStatusFulfilled {
			s.send(ctx, "order.fulfillment", order.ID, func() error {
				return s.notifications.SendOrderFulfillment(ctx, notification)
			})
		} else {
			catalog, _ := s.loadCatalog(ctx, order.Items)
			fulfilled, unfulfilled := splitByFulfillment(order.Items)
			s.send(ctx, "order.fulfillment.partial", order.ID, func() error {
				return s.notifications.SendPartialOrderFulfillment(ctx, PartialFulfillmentNotification{
					OrderNotification: notification,
					Fulfilled:         catalog.groupItemLines(fulfilled),
					Remaining:         catalog.groupItemLines(unfulfilled),
				})
			})
		}
	}

	return order, nil
}

// CancelOrder refunds the order's unfulfilled credits, restores stock, and
// releases the pickup slot. A placed order can no longer be cancelled once
// its pickup is less than two days away, regardless of who asks.
func (s *storeOrderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		order Order
		owner User
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		actor, err := s.users.FindByID(txCtx, strings.TrimSpace(cmd.ActorID))
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}

		isOwner := order.UserID == actor.ID
		if !isOwner && !canManageStore(actor) {
			return fmt.Errorf("%w: you may only cancel your own orders", ErrOrderForbidden)
		}
		if !slices.Contains(cancellableOrderStatuses, order.Status) {
			return fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
		}

		if order.Status == domain.OrderStatusPlaced && order.PickupEventID != nil {
			event, err := s.pickupEvents.FindByID(txCtx, *order.PickupEventID)
			if err != nil {
				return mapOrderRepositoryError(err)
			}
			if !event.Start.After(s.now().Add(pickupCutoff)) {
				return fmt.Errorf("%w: orders can no longer be cancelled less than 2 days before pickup", ErrOrderValidation)
			}
		}

		if err := s.releaseOrder(txCtx, order); err != nil {
			return err
		}
		order.Status = domain.OrderStatusCancelled

		owner, err = s.users.FindByID(txCtx, order.UserID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		return s.recordActivity(txCtx, order.UserID, domain.ActivityOrderCancelled,
			fmt.Sprintf("Cancelled a merch order, %d credits refunded", refundableCost(order.Items)))
	})
	if err != nil {
		return Order{}, err
	}

	if notification, ok := s.orderNotification(ctx, owner, order); ok {
		s.send(ctx, "order.cancellation", order.ID, func() error {
			return s.notifications.SendOrderCancellation(ctx, notification)
		})
	}

	return order, nil
}

// RescheduleOrderPickup points an order at a new pickup event, restoring a
// missed or pickup-cancelled order to the placed state.
func (s *storeOrderService) RescheduleOrderPickup(ctx context.Context, cmd RescheduleOrderPickupCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	pickupEventID := strings.TrimSpace(cmd.PickupEventID)
	if orderID == "" || userID == "" {
		return Order{}, fmt.Errorf("%w: order id and user id are required", ErrOrderInvalidInput)
	}
	if pickupEventID == "" {
		return Order{}, fmt.Errorf("%w: pickup event id is required", ErrOrderInvalidInput)
	}

	var (
		order Order
		user  User
		event OrderPickupEvent
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		user, err = s.users.FindByID(txCtx, userID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if order.UserID != userID {
			return fmt.Errorf("%w: you may only reschedule your own orders", ErrOrderForbidden)
		}
		if !slices.Contains(reschedulableOrderStatuses, order.Status) {
			return fmt.Errorf("%w: order status %q cannot be rescheduled", ErrOrderInvalidState, order.Status)
		}

		if order.Status == domain.OrderStatusPlaced && order.PickupEventID != nil {
			current, err := s.pickupEvents.FindByID(txCtx, *order.PickupEventID)
			if err != nil {
				return mapOrderRepositoryError(err)
			}
			if !current.Start.After(s.now().Add(pickupCutoff)) {
				return fmt.Errorf("%w: orders can no longer be rescheduled less than 2 days before pickup", ErrOrderValidation)
			}
		}

		event, err = s.pickupEvents.FindByID(txCtx, pickupEventID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.validator.checkPickupEvent(txCtx, event); err != nil {
			return err
		}

		status := order.Status
		if status == domain.OrderStatusPickupMissed || status == domain.OrderStatusPickupCancelled {
			status = domain.OrderStatusPlaced
		}
		if err := s.orders.UpdateStatus(txCtx, order.ID, status, &event.ID); err != nil {
			return mapOrderRepositoryError(err)
		}
		order.Status = status
		order.PickupEventID = &event.ID
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	catalog, catalogErr := s.loadCatalog(ctx, order.Items)
	if catalogErr == nil {
		s.send(ctx, "order.pickup.updated", order.ID, func() error {
			return s.notifications.SendOrderPickupUpdated(ctx, buildOrderNotification(user, order, catalog, &event))
		})
	} else {
		s.logger.Warn("store: notification lookup failed",
			zap.String("order_id", order.ID), zap.Error(catalogErr))
	}

	return order, nil
}

// MarkOrderAsMissed records that the member did not show up for pickup. The
// order keeps its event reference so staff can see which event was skipped.
func (s *storeOrderService) MarkOrderAsMissed(ctx context.Context, cmd MarkOrderMissedCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	actor, err := s.users.FindByID(ctx, strings.TrimSpace(cmd.ActorID))
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !canDistribute(actor) {
		return Order{}, fmt.Errorf("%w: only distributors may mark orders as missed", ErrOrderForbidden)
	}

	var (
		order Order
		owner User
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if order.Status != domain.OrderStatusPlaced {
			return fmt.Errorf("%w: order status %q cannot be marked as missed", ErrOrderInvalidState, order.Status)
		}
		if order.PickupEventID != nil {
			event, err := s.pickupEvents.FindByID(txCtx, *order.PickupEventID)
			if err != nil {
				return mapOrderRepositoryError(err)
			}
			if event.Start.After(s.now()) {
				return fmt.Errorf("%w: pickup event %s has not started yet", ErrOrderValidation, event.ID)
			}
		}

		if err := s.orders.UpdateStatus(txCtx, order.ID, domain.OrderStatusPickupMissed, order.PickupEventID); err != nil {
			return mapOrderRepositoryError(err)
		}
		order.Status = domain.OrderStatusPickupMissed

		owner, err = s.users.FindByID(txCtx, order.UserID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		return s.recordActivity(txCtx, order.UserID, domain.ActivityOrderMissed, "Missed a merch order pickup")
	})
	if err != nil {
		return Order{}, err
	}

	if notification, ok := s.orderNotification(ctx, owner, order); ok {
		s.send(ctx, "order.pickup.missed", order.ID, func() error {
			return s.notifications.SendOrderPickupMissed(ctx, notification)
		})
	}

	return order, nil
}

// CancelAllPendingOrders cancels every order that has not been picked up,
// refunding and restocking each one. Used ahead of a semester reset.
func (s *storeOrderService) CancelAllPendingOrders(ctx context.Context, cmd CancelAllPendingOrdersCommand) (int, error) {
	actor, err := s.users.FindByID(ctx, strings.TrimSpace(cmd.ActorID))
	if err != nil {
		return 0, mapOrderRepositoryError(err)
	}
	if !canManageStore(actor) {
		return 0, fmt.Errorf("%w: only store managers may cancel pending orders", ErrOrderForbidden)
	}

	type cancelledOrder struct {
		owner User
		order Order
	}
	var cancelled []cancelledOrder

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		cancelled = cancelled[:0]

		pending, err := s.orders.ListByStatuses(txCtx, pendingOrderStatuses)
		if err != nil {
			return mapOrderRepositoryError(err)
		}

		owners := make(map[string]User)
		for _, order := range pending {
			if err := s.releaseOrder(txCtx, order); err != nil {
				return err
			}
			order.Status = domain.OrderStatusCancelled

			owner, ok := owners[order.UserID]
			if !ok {
				owner, err = s.users.FindByID(txCtx, order.UserID)
				if err != nil {
					return mapOrderRepositoryError(err)
				}
				owners[order.UserID] = owner
			}
			cancelled = append(cancelled, cancelledOrder{owner: owner, order: order})
		}

		if len(pending) == 0 {
			return nil
		}
		return s.recordActivity(txCtx, actor.ID, domain.ActivityPendingOrdersCancelled,
			fmt.Sprintf("Cancelled %d pending merch orders", len(pending)))
	})
	if err != nil {
		return 0, err
	}

	for _, entry := range cancelled {
		if notification, ok := s.orderNotification(ctx, entry.owner, entry.order); ok {
			s.send(ctx, "order.cancellation.automated", entry.order.ID, func() error {
				return s.notifications.SendAutomatedOrderCancellation(ctx, notification)
			})
		}
	}

	return len(cancelled), nil
}

// releaseOrder refunds the unfulfilled portion of an order, restores its
// stock, and marks it cancelled. Runs inside the caller's transaction.
func (s *storeOrderService) releaseOrder(ctx context.Context, order Order) error {
	if refund := refundableCost(order.Items); refund > 0 {
		if err := s.users.AdjustCredits(ctx, order.UserID, refund); err != nil {
			return mapOrderRepositoryError(err)
		}
	}

	deltas := restockDeltas(order.Items)
	optionIDs := make([]string, 0, len(deltas))
	for optionID := range deltas {
		optionIDs = append(optionIDs, optionID)
	}
	sort.Strings(optionIDs)
	for _, optionID := range optionIDs {
		if err := s.merch.AdjustOptionQuantity(ctx, optionID, deltas[optionID]); err != nil {
			return mapOrderRepositoryError(err)
		}
	}

	if err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled, order.PickupEventID); err != nil {
		return mapOrderRepositoryError(err)
	}
	return nil
}

func (s *storeOrderService) recordActivity(ctx context.Context, userID string, activityType domain.ActivityType, description string) error {
	activity := Activity{
		ID:          activityIDPrefix + s.newID(),
		UserID:      userID,
		Type:        activityType,
		Description: description,
		CreatedAt:   s.now(),
	}
	if err := s.activities.Insert(ctx, activity); err != nil {
		return mapOrderRepositoryError(err)
	}
	return nil
}

func (s *storeOrderService) loadCatalog(ctx context.Context, items []OrderItem) (itemCatalog, error) {
	catalog, err := loadItemCatalog(ctx, s.merch, items)
	if err != nil {
		return itemCatalog{}, mapOrderRepositoryError(err)
	}
	return catalog, nil
}

// orderNotification assembles the email payload for an order after commit.
// Lookup failures are logged and skip the email rather than failing the
// already-committed operation.
func (s *storeOrderService) orderNotification(ctx context.Context, owner User, order Order) (OrderNotification, bool) {
	if s.notifications == nil {
		return OrderNotification{}, false
	}

	catalog, err := s.loadCatalog(ctx, order.Items)
	if err != nil {
		s.logger.Warn("store: notification lookup failed",
			zap.String("order_id", order.ID), zap.Error(err))
		return OrderNotification{}, false
	}

	var event *OrderPickupEvent
	if order.PickupEventID != nil {
		found, err := s.pickupEvents.FindByID(ctx, *order.PickupEventID)
		if err != nil {
			s.logger.Warn("store: notification lookup failed",
				zap.String("order_id", order.ID), zap.Error(err))
		} else {
			event = &found
		}
	}

	return buildOrderNotification(owner, order, catalog, event), true
}

func (s *storeOrderService) send(ctx context.Context, name string, orderID string, fn func() error) {
	if s.notifications == nil {
		return
	}
	if err := fn(); err != nil {
		s.logger.Warn("store: notification send failed",
			zap.String("notification", name),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

func (s *storeOrderService) now() time.Time {
	return s.clock()
}

func (s *storeOrderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *storeOrderService) nextOrderItemID() string {
	return orderItemIDPrefix + s.newID()
}

func catalogFromValidated(validated ValidatedOrder) itemCatalog {
	catalog := itemCatalog{
		options: make(map[string]domain.MerchItemOption, len(validated.Lines)),
		items:   make(map[string]domain.MerchItem, len(validated.Lines)),
	}
	for _, line := range validated.Lines {
		catalog.options[line.Option.ID] = line.Option
		catalog.items[line.Item.ID] = line.Item
	}
	return catalog
}

// refundableCost sums the sale prices of the order's unfulfilled items.
// Fulfilled items were handed out and are never refunded.
func refundableCost(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		if !item.Fulfilled {
			total += item.SalePriceAtPurchase
		}
	}
	return total
}

func restockDeltas(items []OrderItem) map[string]int {
	deltas := make(map[string]int)
	for _, item := range items {
		if !item.Fulfilled {
			deltas[item.OptionID]++
		}
	}
	return deltas
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (noopUnitOfWork) RunInReadTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
