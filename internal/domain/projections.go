package domain

import (
	"time"
)

// Projections map entities onto audience-specific payloads. They live here
// rather than as entity methods so storage types stay plain records.

// PublicMerchItemOption is the storefront view of an option.
type PublicMerchItemOption struct {
	ID                 string          `json:"uuid"`
	Price              int64           `json:"price"`
	DiscountPercentage int             `json:"discountPercentage"`
	Metadata           *OptionMetadata `json:"metadata,omitempty"`
}

// AdminMerchItemOption additionally exposes live stock.
type AdminMerchItemOption struct {
	PublicMerchItemOption
	Quantity int `json:"quantity"`
}

// PublicOrderItem is the order-owner view of a purchased unit.
type PublicOrderItem struct {
	ID                           string     `json:"uuid"`
	OptionID                     string     `json:"option"`
	SalePriceAtPurchase          int64      `json:"salePriceAtPurchase"`
	DiscountPercentageAtPurchase int        `json:"discountPercentageAtPurchase"`
	Fulfilled                    bool       `json:"fulfilled"`
	FulfilledAt                  *time.Time `json:"fulfilledAt,omitempty"`
	Notes                        *string    `json:"notes,omitempty"`
}

// PublicOrder is the order-owner view of an order.
type PublicOrder struct {
	ID            string             `json:"uuid"`
	UserID        string             `json:"user"`
	TotalCost     int64              `json:"totalCost"`
	Status        OrderStatus        `json:"status"`
	OrderedAt     time.Time          `json:"orderedAt"`
	PickupEvent   *PublicPickupEvent `json:"pickupEvent,omitempty"`
	PickupEventID *string            `json:"pickupEventUuid,omitempty"`
	Items         []PublicOrderItem  `json:"items"`
}

// PublicPickupEvent is the member-facing view of a pickup event.
type PublicPickupEvent struct {
	ID          string            `json:"uuid"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	OrderLimit  int               `json:"orderLimit"`
	Status      PickupEventStatus `json:"status"`
}

// ToPublicOption projects an option for the storefront.
func ToPublicOption(option MerchItemOption) PublicMerchItemOption {
	return PublicMerchItemOption{
		ID:                 option.ID,
		Price:              EffectivePrice(option.Price, option.DiscountPercentage),
		DiscountPercentage: option.DiscountPercentage,
		Metadata:           option.Metadata,
	}
}

// ToAdminOption projects an option for store managers.
func ToAdminOption(option MerchItemOption) AdminMerchItemOption {
	return AdminMerchItemOption{
		PublicMerchItemOption: ToPublicOption(option),
		Quantity:              option.Quantity,
	}
}

// ToPublicOrderItem projects a purchased unit for the order owner.
func ToPublicOrderItem(item OrderItem) PublicOrderItem {
	return PublicOrderItem{
		ID:                           item.ID,
		OptionID:                     item.OptionID,
		SalePriceAtPurchase:          item.SalePriceAtPurchase,
		DiscountPercentageAtPurchase: item.DiscountPercentageAtPurchase,
		Fulfilled:                    item.Fulfilled,
		FulfilledAt:                  item.FulfilledAt,
		Notes:                        item.Notes,
	}
}

// ToPublicOrder projects an order plus its optional pickup event.
func ToPublicOrder(order Order, event *OrderPickupEvent) PublicOrder {
	items := make([]PublicOrderItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = ToPublicOrderItem(item)
	}

	projected := PublicOrder{
		ID:            order.ID,
		UserID:        order.UserID,
		TotalCost:     order.TotalCost,
		Status:        order.Status,
		OrderedAt:     order.OrderedAt,
		PickupEventID: order.PickupEventID,
		Items:         items,
	}
	if event != nil {
		view := ToPublicPickupEvent(*event)
		projected.PickupEvent = &view
	}
	return projected
}

// ToPublicPickupEvent projects a pickup event for members.
func ToPublicPickupEvent(event OrderPickupEvent) PublicPickupEvent {
	return PublicPickupEvent{
		ID:          event.ID,
		Title:       event.Title,
		Description: event.Description,
		Start:       event.Start,
		End:         event.End,
		OrderLimit:  event.OrderLimit,
		Status:      event.Status,
	}
}
