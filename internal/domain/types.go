package domain

import (
	"time"
)

// AccessType enumerates membership roles that gate store operations.
type AccessType string

const (
	// AccessStandard is a regular member with no store privileges.
	AccessStandard AccessType = "STANDARD"
	// AccessStaff marks organization staff; no extra store privileges.
	AccessStaff AccessType = "STAFF"
	// AccessAdmin grants every store privilege.
	AccessAdmin AccessType = "ADMIN"
	// AccessStoreManager may create and edit items and pickup events.
	AccessStoreManager AccessType = "MERCH_STORE_MANAGER"
	// AccessStoreDistributor may fulfill order items and mark pickups missed.
	AccessStoreDistributor AccessType = "MERCH_STORE_DISTRIBUTOR"
)

// User is a member account. Credits are an internal point currency in
// minor units, never real money.
type User struct {
	ID         string
	Email      string
	FirstName  string
	LastName   string
	AccessType AccessType
	Credits    int64
	CreatedAt  time.Time
}

// MerchCollection groups items; a hidden collection hides all of its items.
type MerchCollection struct {
	ID          string
	Title       string
	Description string
	ThemeColor  string
	Hidden      bool
	CreatedAt   time.Time
}

// MerchItem is a sellable product. Purchase limits are per user and
// nullable; nil means unlimited.
type MerchItem struct {
	ID                 string
	CollectionID       string
	Name               string
	Description        string
	Picture            string
	Hidden             bool
	HasVariantsEnabled bool
	MonthlyLimit       *int
	LifetimeLimit      *int
	Options            []MerchItemOption
}

// OptionMetadata describes one variant axis value, e.g. size "L".
// All options of an item share the same Type.
type OptionMetadata struct {
	Type     string
	Value    string
	Position int
}

// MerchItemOption is one purchasable SKU of an item. Quantity is live
// stock; Price is in credit minor units.
type MerchItemOption struct {
	ID                 string
	ItemID             string
	Quantity           int
	Price              int64
	DiscountPercentage int
	Metadata           *OptionMetadata
}

// EffectivePrice applies the option discount to the list price, rounding
// to the nearest credit unit.
func EffectivePrice(price int64, discountPercentage int) int64 {
	if discountPercentage <= 0 {
		return price
	}
	if discountPercentage >= 100 {
		return 0
	}
	return (price*int64(100-discountPercentage) + 50) / 100
}

// OrderStatus enumerates lifecycle states of a merch order.
type OrderStatus string

const (
	// OrderStatusPlaced is the initial state; the order awaits pickup.
	OrderStatusPlaced OrderStatus = "PLACED"
	// OrderStatusFulfilled indicates every item was handed out. Terminal.
	OrderStatusFulfilled OrderStatus = "FULFILLED"
	// OrderStatusPartiallyFulfilled indicates some but not all items were handed out.
	OrderStatusPartiallyFulfilled OrderStatus = "PARTIALLY_FULFILLED"
	// OrderStatusPickupMissed indicates the user skipped the pickup event.
	OrderStatusPickupMissed OrderStatus = "PICKUP_MISSED"
	// OrderStatusPickupCancelled indicates the pickup event itself was cancelled.
	OrderStatusPickupCancelled OrderStatus = "PICKUP_CANCELLED"
	// OrderStatusCancelled indicates the order was cancelled and refunded. Terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Order is a placed purchase. TotalCost is a frozen snapshot equal to the
// sum of its items' sale prices at purchase time.
type Order struct {
	ID            string
	UserID        string
	TotalCost     int64
	Status        OrderStatus
	PickupEventID *string
	OrderedAt     time.Time
	Items         []OrderItem
}

// OrderItem is one physical unit of a purchased option. Prices are frozen
// at placement; later option edits never touch past orders.
type OrderItem struct {
	ID                           string
	OrderID                      string
	OptionID                     string
	SalePriceAtPurchase          int64
	DiscountPercentageAtPurchase int
	Fulfilled                    bool
	FulfilledAt                  *time.Time
	Notes                        *string
}

// PickupEventStatus enumerates lifecycle states of a pickup event.
type PickupEventStatus string

const (
	// PickupEventStatusActive accepts order scheduling.
	PickupEventStatusActive PickupEventStatus = "ACTIVE"
	// PickupEventStatusCompleted has been held; no new orders ever.
	PickupEventStatusCompleted PickupEventStatus = "COMPLETED"
	// PickupEventStatusCancelled was called off; attached orders were detached.
	PickupEventStatusCancelled PickupEventStatus = "CANCELLED"
)

// OrderPickupEvent is a capacity-bounded time slot where orders are collected.
type OrderPickupEvent struct {
	ID            string
	Title         string
	Description   string
	Start         time.Time
	End           time.Time
	OrderLimit    int
	Status        PickupEventStatus
	LinkedEventID *string
}

// ActivityType enumerates activity-feed entries written by the store.
type ActivityType string

const (
	ActivityOrderPlaced             ActivityType = "ORDER_PLACED"
	ActivityOrderCancelled          ActivityType = "ORDER_CANCELLED"
	ActivityOrderFulfilled          ActivityType = "ORDER_FULFILLED"
	ActivityOrderPartiallyFulfilled ActivityType = "ORDER_PARTIALLY_FULFILLED"
	ActivityOrderMissed             ActivityType = "ORDER_MISSED"
	ActivityPendingOrdersCancelled  ActivityType = "PENDING_ORDERS_CANCELLED"
)

// Activity is an audit-feed record written in the same transaction as the
// mutation it describes.
type Activity struct {
	ID           string
	UserID       string
	Type         ActivityType
	Description  string
	PointsEarned int
	CreatedAt    time.Time
}
