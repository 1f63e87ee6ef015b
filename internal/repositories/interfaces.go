package repositories

import (
	"context"
	"time"

	domain "github.com/campusclub/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a database transaction. RunInTx
// opens a serializable read-write transaction and is the boundary for every
// mutating store operation; RunInReadTx opens a repeatable-read read-only
// transaction for multi-step read aggregation. The active transaction handle
// travels on the context, so the same repository instances work inside and
// outside a unit of work.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	RunInReadTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository persists member accounts and their credit balances.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	// AdjustCredits applies a signed delta to the user's credit balance.
	// Callers run it inside a serializable transaction; the repository never
	// checks sufficiency itself.
	AdjustCredits(ctx context.Context, userID string, delta int64) error
}

// MerchItemRepository persists items and options. Item reads resolve
// visibility against the owning collection (a hidden collection hides its
// items).
type MerchItemRepository interface {
	FindItemByID(ctx context.Context, itemID string) (domain.MerchItem, error)
	FindItemsByIDs(ctx context.Context, itemIDs []string) (map[string]domain.MerchItem, error)
	FindOptionsByIDs(ctx context.Context, optionIDs []string) (map[string]domain.MerchItemOption, error)
	// AdjustOptionQuantity applies a signed delta to an option's stock.
	AdjustOptionQuantity(ctx context.Context, optionID string, delta int) error
}

// PurchaseRecord is one historical order item joined with the state needed
// to decide whether it counts toward purchase limits.
type PurchaseRecord struct {
	ItemID      string
	OrderStatus domain.OrderStatus
	Fulfilled   bool
	OrderedAt   time.Time
}

// OrderRepository persists orders and their items and answers the queries
// the validation engine and lifecycle service need.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// UpdateStatus rewrites the order header's status and pickup-event
	// reference; items are untouched.
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, pickupEventID *string) error
	// UpdateItems applies fulfillment mutations to the given items.
	UpdateItems(ctx context.Context, items []domain.OrderItem) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListByPickupEvent(ctx context.Context, pickupEventID string) ([]domain.Order, error)
	ListByStatuses(ctx context.Context, statuses []domain.OrderStatus) ([]domain.Order, error)
	// CountByPickupEvent counts orders of any status referencing the event.
	CountByPickupEvent(ctx context.Context, pickupEventID string) (int, error)
	// CountActiveByPickupEvent counts non-cancelled orders referencing the event.
	CountActiveByPickupEvent(ctx context.Context, pickupEventID string) (int, error)
	// ListPurchaseHistory returns every order item this user ever bought for
	// the given merch items, with the order state needed for limit counting.
	ListPurchaseHistory(ctx context.Context, userID string, itemIDs []string) ([]PurchaseRecord, error)
}

// PickupEventRepository persists pickup events.
type PickupEventRepository interface {
	Insert(ctx context.Context, event domain.OrderPickupEvent) error
	Update(ctx context.Context, event domain.OrderPickupEvent) error
	Delete(ctx context.Context, eventID string) error
	FindByID(ctx context.Context, eventID string) (domain.OrderPickupEvent, error)
	ListFuture(ctx context.Context, from time.Time) ([]domain.OrderPickupEvent, error)
}

// CalendarEventRepository resolves general calendar events a pickup event
// may be linked to. The calendar itself is owned by another subsystem.
type CalendarEventRepository interface {
	Exists(ctx context.Context, eventID string) (bool, error)
}

// ActivityRepository appends activity-feed records.
type ActivityRepository interface {
	Insert(ctx context.Context, activity domain.Activity) error
}

// HealthRepository answers liveness probes against the backing store.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
