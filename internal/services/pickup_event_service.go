package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/campusclub/api/internal/domain"
	"github.com/campusclub/api/internal/repositories"
)

const pickupEventIDPrefix = "pev_"

var (
	// ErrPickupEventInvalidInput signals the caller provided invalid data.
	ErrPickupEventInvalidInput = errors.New("pickup event: invalid input")
	// ErrPickupEventValidation carries a user-facing reason the change cannot proceed.
	ErrPickupEventValidation = errors.New("pickup event: validation failed")
	// ErrPickupEventNotFound indicates the event or a referenced record could not be located.
	ErrPickupEventNotFound = errors.New("pickup event: not found")
	// ErrPickupEventForbidden indicates the actor lacks permission for the operation.
	ErrPickupEventForbidden = errors.New("pickup event: forbidden")
	// ErrPickupEventInvalidState indicates the event's status does not allow the operation.
	ErrPickupEventInvalidState = errors.New("pickup event: invalid status transition")
	// ErrPickupEventConflict indicates a concurrent mutation or blocking references.
	ErrPickupEventConflict = errors.New("pickup event: conflict")
)

// PickupEventServiceDeps bundles collaborators required to construct the pickup event service.
type PickupEventServiceDeps struct {
	Users          repositories.UserRepository
	Merch          repositories.MerchItemRepository
	Orders         repositories.OrderRepository
	PickupEvents   repositories.PickupEventRepository
	CalendarEvents repositories.CalendarEventRepository
	UnitOfWork     repositories.UnitOfWork
	Notifications  NotificationDispatcher
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         *zap.Logger
}

type pickupEventService struct {
	users          repositories.UserRepository
	merch          repositories.MerchItemRepository
	orders         repositories.OrderRepository
	pickupEvents   repositories.PickupEventRepository
	calendarEvents repositories.CalendarEventRepository
	unitOfWork     repositories.UnitOfWork
	notifications  NotificationDispatcher
	clock          func() time.Time
	newID          func() string
	logger         *zap.Logger
}

// NewPickupEventService wires dependencies into a concrete PickupEventService implementation.
func NewPickupEventService(deps PickupEventServiceDeps) (PickupEventService, error) {
	if deps.Users == nil {
		return nil, errors.New("pickup event service: user repository is required")
	}
	if deps.Merch == nil {
		return nil, errors.New("pickup event service: merch item repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("pickup event service: order repository is required")
	}
	if deps.PickupEvents == nil {
		return nil, errors.New("pickup event service: pickup event repository is required")
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

	return &pickupEventService{
		users:          deps.Users,
		merch:          deps.Merch,
		orders:         deps.Orders,
		pickupEvents:   deps.PickupEvents,
		calendarEvents: deps.CalendarEvents,
		unitOfWork:     unit,
		notifications:  deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreatePickupEvent opens a new pickup slot. The event must start far enough
// out that members can still place orders against it.
func (p *pickupEventService) CreatePickupEvent(ctx context.Context, cmd CreatePickupEventCommand) (OrderPickupEvent, error) {
	if err := p.requireManager(ctx, cmd.ActorID); err != nil {
		return OrderPickupEvent{}, err
	}

	event := OrderPickupEvent{
		ID:          p.nextEventID(),
		Title:       strings.TrimSpace(cmd.Title),
		Description: strings.TrimSpace(cmd.Description),
		Start:       cmd.Start.UTC(),
		End:         cmd.End.UTC(),
		OrderLimit:  cmd.OrderLimit,
		Status:      domain.PickupEventStatusActive,
	}
	if cmd.LinkedEventID != nil {
		if linked := strings.TrimSpace(*cmd.LinkedEventID); linked != "" {
			event.LinkedEventID = &linked
		}
	}

	if err := p.validateSchedule(event); err != nil {
		return OrderPickupEvent{}, err
	}

	err := p.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := p.checkLinkedEvent(txCtx, event.LinkedEventID); err != nil {
			return err
		}
		if err := p.pickupEvents.Insert(txCtx, event); err != nil {
			return mapPickupRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return OrderPickupEvent{}, err
	}

	return event, nil
}

// EditPickupEvent merges the provided fields into an active event. Members
// with attached orders are emailed when the time window moves.
func (p *pickupEventService) EditPickupEvent(ctx context.Context, cmd EditPickupEventCommand) (OrderPickupEvent, error) {
	eventID := strings.TrimSpace(cmd.EventID)
	if eventID == "" {
		return OrderPickupEvent{}, fmt.Errorf("%w: pickup event id is required", ErrPickupEventInvalidInput)
	}
	if err := p.requireManager(ctx, cmd.ActorID); err != nil {
		return OrderPickupEvent{}, err
	}

	var (
		event        OrderPickupEvent
		rescheduled  bool
		attachedOrds []Order
	)
	err := p.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		event, err = p.pickupEvents.FindByID(txCtx, eventID)
		if err != nil {
			return mapPickupRepositoryError(err)
		}
		if event.Status != domain.PickupEventStatusActive {
			return fmt.Errorf("%w: pickup event %q cannot be edited", ErrPickupEventInvalidState, event.Status)
		}

		if cmd.Title != nil {
			event.Title = strings.TrimSpace(*cmd.Title)
		}
		if cmd.Description != nil {
			event.Description = strings.TrimSpace(*cmd.Description)
		}
		rescheduled = false
		if cmd.Start != nil {
			event.Start = cmd.Start.UTC()
			rescheduled = true
		}
		if cmd.End != nil {
			event.End = cmd.End.UTC()
			rescheduled = true
		}
		if cmd.OrderLimit != nil {
			event.OrderLimit = *cmd.OrderLimit
		}
		if cmd.LinkedEventID != nil {
			if linked := strings.TrimSpace(*cmd.LinkedEventID); linked != "" {
				event.LinkedEventID = &linked
			} else {
				event.LinkedEventID = nil
			}
		}

		if err := p.validateSchedule(event); err != nil {
			return err
		}
		if err := p.checkLinkedEvent(txCtx, event.LinkedEventID); err != nil {
			return err
		}

		// The limit may never drop below the slots already taken.
		if cmd.OrderLimit != nil {
			active, err := p.orders.CountActiveByPickupEvent(txCtx, event.ID)
			if err != nil {
				return mapPickupRepositoryError(err)
			}
			if event.OrderLimit < active {
				return fmt.Errorf("%w: order limit %d is below the %d orders already scheduled",
					ErrPickupEventValidation, event.OrderLimit, active)
			}
		}

		if err := p.pickupEvents.Update(txCtx, event); err != nil {
			return mapPickupRepositoryError(err)
		}

		if rescheduled {
			attachedOrds, err = p.attachedOrders(txCtx, event.ID,
				domain.OrderStatusPlaced, domain.OrderStatusPartiallyFulfilled)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return OrderPickupEvent{}, err
	}

	if rescheduled && p.notifications != nil {
		p.notifyOrders(ctx, event, attachedOrds, "order.pickup.updated", p.notifications.SendOrderPickupUpdated)
	}

	return event, nil
}

// DeletePickupEvent removes an event no order has ever referenced. Events
// with orders are cancelled instead so the orders keep their history.
func (p *pickupEventService) DeletePickupEvent(ctx context.Context, cmd DeletePickupEventCommand) error {
	eventID := strings.TrimSpace(cmd.EventID)
	if eventID == "" {
		return fmt.Errorf("%w: pickup event id is required", ErrPickupEventInvalidInput)
	}
	if err := p.requireManager(ctx, cmd.ActorID); err != nil {
		return err
	}

	return p.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := p.pickupEvents.FindByID(txCtx, eventID); err != nil {
			return mapPickupRepositoryError(err)
		}
		count, err := p.orders.CountByPickupEvent(txCtx, eventID)
		if err != nil {
			return mapPickupRepositoryError(err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %d orders reference this pickup event; cancel it instead", ErrPickupEventConflict, count)
		}
		if err := p.pickupEvents.Delete(txCtx, eventID); err != nil {
			return mapPickupRepositoryError(err)
		}
		return nil
	})
}

// CancelPickupEvent calls the event off. Every order still waiting on it,
// placed or partially fulfilled, is detached into the pickup-cancelled state
// so its owner can reschedule, and each owner is emailed.
func (p *pickupEventService) CancelPickupEvent(ctx context.Context, cmd CancelPickupEventCommand) (OrderPickupEvent, error) {
	event, detached, err := p.closeEvent(ctx, cmd.ActorID, cmd.EventID, closeTransition{
		eventStatus:     domain.PickupEventStatusCancelled,
		orderStatus:     domain.OrderStatusPickupCancelled,
		waitingStatuses: []domain.OrderStatus{domain.OrderStatusPlaced, domain.OrderStatusPartiallyFulfilled},
		detachOrders:    true,
	})
	if err != nil {
		return OrderPickupEvent{}, err
	}

	if p.notifications != nil {
		p.notifyOrders(ctx, event, detached, "order.pickup.cancelled", p.notifications.SendOrderPickupCancelled)
	}
	return event, nil
}

// CompletePickupEvent closes out a held event once it has started. Only
// orders nobody ever touched become pickup-missed; partially fulfilled
// orders stay as they are. Owners of missed orders are emailed.
func (p *pickupEventService) CompletePickupEvent(ctx context.Context, cmd CompletePickupEventCommand) (OrderPickupEvent, error) {
	event, missed, err := p.closeEvent(ctx, cmd.ActorID, cmd.EventID, closeTransition{
		eventStatus:     domain.PickupEventStatusCompleted,
		orderStatus:     domain.OrderStatusPickupMissed,
		waitingStatuses: []domain.OrderStatus{domain.OrderStatusPlaced},
		requireStarted:  true,
	})
	if err != nil {
		return OrderPickupEvent{}, err
	}

	if p.notifications != nil {
		p.notifyOrders(ctx, event, missed, "order.pickup.missed", p.notifications.SendOrderPickupMissed)
	}
	return event, nil
}

func (p *pickupEventService) GetPickupEvent(ctx context.Context, eventID string) (OrderPickupEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return OrderPickupEvent{}, fmt.Errorf("%w: pickup event id is required", ErrPickupEventInvalidInput)
	}

	event, err := p.pickupEvents.FindByID(ctx, eventID)
	if err != nil {
		return OrderPickupEvent{}, mapPickupRepositoryError(err)
	}
	return event, nil
}

func (p *pickupEventService) ListFuturePickupEvents(ctx context.Context) ([]OrderPickupEvent, error) {
	events, err := p.pickupEvents.ListFuture(ctx, p.now())
	if err != nil {
		return nil, mapPickupRepositoryError(err)
	}
	return events, nil
}

// closeTransition describes how an active event leaves the active state and
// what happens to the orders still waiting on it.
type closeTransition struct {
	eventStatus     domain.PickupEventStatus
	orderStatus     domain.OrderStatus
	waitingStatuses []domain.OrderStatus
	// requireStarted rejects the transition while the event's start time is
	// still in the future.
	requireStarted bool
	// detachOrders clears the cascaded orders' event reference so a later
	// reschedule does not read a dead event.
	detachOrders bool
}

// closeEvent transitions an active event to a terminal status and moves its
// waiting orders along with it, returning those orders for notification.
func (p *pickupEventService) closeEvent(ctx context.Context, actorID, eventID string, transition closeTransition) (OrderPickupEvent, []Order, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return OrderPickupEvent{}, nil, fmt.Errorf("%w: pickup event id is required", ErrPickupEventInvalidInput)
	}
	if err := p.requireManager(ctx, actorID); err != nil {
		return OrderPickupEvent{}, nil, err
	}

	var (
		event    OrderPickupEvent
		affected []Order
	)
	err := p.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		event, err = p.pickupEvents.FindByID(txCtx, eventID)
		if err != nil {
			return mapPickupRepositoryError(err)
		}
		if event.Status != domain.PickupEventStatusActive {
			return fmt.Errorf("%w: pickup event is already %q", ErrPickupEventInvalidState, event.Status)
		}
		if transition.requireStarted && event.Start.After(p.now()) {
			return fmt.Errorf("%w: pickup event has not started yet", ErrPickupEventValidation)
		}

		event.Status = transition.eventStatus
		if err := p.pickupEvents.Update(txCtx, event); err != nil {
			return mapPickupRepositoryError(err)
		}

		affected, err = p.attachedOrders(txCtx, event.ID, transition.waitingStatuses...)
		if err != nil {
			return err
		}
		for i := range affected {
			reference := affected[i].PickupEventID
			if transition.detachOrders {
				reference = nil
			}
			if err := p.orders.UpdateStatus(txCtx, affected[i].ID, transition.orderStatus, reference); err != nil {
				return mapPickupRepositoryError(err)
			}
			affected[i].Status = transition.orderStatus
			affected[i].PickupEventID = reference
		}
		return nil
	})
	if err != nil {
		return OrderPickupEvent{}, nil, err
	}

	return event, affected, nil
}

// attachedOrders returns the event's orders in one of the given states.
func (p *pickupEventService) attachedOrders(ctx context.Context, eventID string, statuses ...domain.OrderStatus) ([]Order, error) {
	orders, err := p.orders.ListByPickupEvent(ctx, eventID)
	if err != nil {
		return nil, mapPickupRepositoryError(err)
	}
	waiting := orders[:0]
	for _, order := range orders {
		if slices.Contains(statuses, order.Status) {
			waiting = append(waiting, order)
		}
	}
	return waiting, nil
}

// notifyOrders emails the owner of each affected order. Sends run
// concurrently and failures are logged; a bad mailbox never fails the
// committed cascade.
func (p *pickupEventService) notifyOrders(ctx context.Context, event OrderPickupEvent, orders []Order, name string, send func(context.Context, OrderNotification) error) {
	if p.notifications == nil || len(orders) == 0 {
		return
	}

	owners := make(map[string]User)
	notifications := make([]OrderNotification, 0, len(orders))
	for _, order := range orders {
		owner, ok := owners[order.UserID]
		if !ok {
			var err error
			owner, err = p.users.FindByID(ctx, order.UserID)
			if err != nil {
				p.logger.Warn("pickup event: notification lookup failed",
					zap.String("order_id", order.ID), zap.Error(err))
				continue
			}
			owners[order.UserID] = owner
		}
		catalog, err := loadItemCatalog(ctx, p.merch, order.Items)
		if err != nil {
			p.logger.Warn("pickup event: notification lookup failed",
				zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		notifications = append(notifications, buildOrderNotification(owner, order, catalog, &event))
	}

	var wg sync.WaitGroup
	for _, notification := range notifications {
		wg.Add(1)
		go func(n OrderNotification) {
			defer wg.Done()
			if err := send(ctx, n); err != nil {
				p.logger.Warn("pickup event: notification send failed",
					zap.String("notification", name),
					zap.String("order_id", n.OrderID),
					zap.Error(err))
			}
		}(notification)
	}
	wg.Wait()
}

func (p *pickupEventService) requireManager(ctx context.Context, actorID string) error {
	actor, err := p.users.FindByID(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return mapPickupRepositoryError(err)
	}
	if !canManageStore(actor) {
		return fmt.Errorf("%w: only store managers may manage pickup events", ErrPickupEventForbidden)
	}
	return nil
}

// validateSchedule checks the invariants every stored event must satisfy.
func (p *pickupEventService) validateSchedule(event OrderPickupEvent) error {
	if event.Title == "" {
		return fmt.Errorf("%w: title is required", ErrPickupEventInvalidInput)
	}
	if event.OrderLimit <= 0 {
		return fmt.Errorf("%w: order limit must be positive", ErrPickupEventInvalidInput)
	}
	if !event.End.After(event.Start) {
		return fmt.Errorf("%w: pickup event must end after it starts", ErrPickupEventValidation)
	}
	if !event.Start.After(p.now().Add(pickupCutoff)) {
		return fmt.Errorf("%w: pickup event must start at least 2 days from now", ErrPickupEventValidation)
	}
	return nil
}

func (p *pickupEventService) checkLinkedEvent(ctx context.Context, linkedEventID *string) error {
	if linkedEventID == nil {
		return nil
	}
	if p.calendarEvents == nil {
		return fmt.Errorf("%w: event linking is not configured", ErrPickupEventInvalidInput)
	}
	exists, err := p.calendarEvents.Exists(ctx, *linkedEventID)
	if err != nil {
		return mapPickupRepositoryError(err)
	}
	if !exists {
		return fmt.Errorf("%w: linked event %s does not exist", ErrPickupEventNotFound, *linkedEventID)
	}
	return nil
}

func (p *pickupEventService) now() time.Time {
	return p.clock()
}

func (p *pickupEventService) nextEventID() string {
	return pickupEventIDPrefix + p.newID()
}

func mapPickupRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPickupEventNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPickupEventConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("pickup event: repository unavailable: %w", err)
		}
	}

	return err
}
