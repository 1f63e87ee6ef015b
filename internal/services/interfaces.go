package services

import (
	"context"
	"time"

	domain "github.com/campusclub/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	User              = domain.User
	MerchItem         = domain.MerchItem
	MerchItemOption   = domain.MerchItemOption
	Order             = domain.Order
	OrderItem         = domain.OrderItem
	OrderStatus       = domain.OrderStatus
	OrderPickupEvent  = domain.OrderPickupEvent
	PickupEventStatus = domain.PickupEventStatus
	Activity          = domain.Activity
)

// StoreOrderService owns order placement, fulfillment, cancellation,
// rescheduling, and the bulk pending-order sweep.
type StoreOrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	VerifyOrder(ctx context.Context, cmd VerifyOrderCommand) error
	GetOrder(ctx context.Context, orderID string, actorID string) (Order, error)
	ListOrders(ctx context.Context, userID string) ([]Order, error)
	FulfillOrderItems(ctx context.Context, cmd FulfillOrderItemsCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RescheduleOrderPickup(ctx context.Context, cmd RescheduleOrderPickupCommand) (Order, error)
	MarkOrderAsMissed(ctx context.Context, cmd MarkOrderMissedCommand) (Order, error)
	CancelAllPendingOrders(ctx context.Context, cmd CancelAllPendingOrdersCommand) (int, error)
}

// PickupEventService owns the pickup-event lifecycle and its order cascades.
type PickupEventService interface {
	CreatePickupEvent(ctx context.Context, cmd CreatePickupEventCommand) (OrderPickupEvent, error)
	EditPickupEvent(ctx context.Context, cmd EditPickupEventCommand) (OrderPickupEvent, error)
	DeletePickupEvent(ctx context.Context, cmd DeletePickupEventCommand) error
	CancelPickupEvent(ctx context.Context, cmd CancelPickupEventCommand) (OrderPickupEvent, error)
	CompletePickupEvent(ctx context.Context, cmd CompletePickupEventCommand) (OrderPickupEvent, error)
	GetPickupEvent(ctx context.Context, eventID string) (OrderPickupEvent, error)
	ListFuturePickupEvents(ctx context.Context) ([]OrderPickupEvent, error)
}

// Command and DTO definitions ------------------------------------------------

// OrderLine is one requested option with a quantity.
type OrderLine struct {
	OptionID string
	Quantity int
}

type PlaceOrderCommand struct {
	UserID        string
	PickupEventID string
	Lines         []OrderLine
}

type VerifyOrderCommand struct {
	UserID string
	Lines  []OrderLine
}

// FulfillItemUpdate names one order item to hand out, with optional
// distributor notes.
type FulfillItemUpdate struct {
	ItemID string
	Notes  *string
}

// FulfillOrderItemsCommand applies fulfillment to a subset of an order's
// items; unnamed items are left untouched.
type FulfillOrderItemsCommand struct {
	OrderID string
	ActorID string
	Updates []FulfillItemUpdate
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
}

type RescheduleOrderPickupCommand struct {
	OrderID       string
	UserID        string
	PickupEventID string
}

type MarkOrderMissedCommand struct {
	OrderID string
	ActorID string
}

type CancelAllPendingOrdersCommand struct {
	ActorID string
}

type CreatePickupEventCommand struct {
	ActorID       string
	Title         string
	Description   string
	Start         time.Time
	End           time.Time
	OrderLimit    int
	LinkedEventID *string
}

// EditPickupEventCommand merges non-nil fields into the stored event.
type EditPickupEventCommand struct {
	ActorID       string
	EventID       string
	Title         *string
	Description   *string
	Start         *time.Time
	End           *time.Time
	OrderLimit    *int
	LinkedEventID *string
}

type DeletePickupEventCommand struct {
	ActorID string
	EventID string
}

type CancelPickupEventCommand struct {
	ActorID string
	EventID string
}

type CompletePickupEventCommand struct {
	ActorID string
	EventID string
}

// Permission helpers shared by both services.

func canManageStore(user User) bool {
	return user.AccessType == domain.AccessAdmin || user.AccessType == domain.AccessStoreManager
}

func canDistribute(user User) bool {
	return user.AccessType == domain.AccessAdmin || user.AccessType == domain.AccessStoreDistributor
}

// isPickupEventFull is the shared capacity check: cancelled orders free
// their slot, every other status holds one.
func isPickupEventFull(activeOrderCount, orderLimit int) bool {
	return activeOrderCount >= orderLimit
}
