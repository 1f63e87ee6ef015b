package services

import (
	"context"

	domain "github.com/campusclub/api/internal/domain"
	"github.com/campusclub/api/internal/repositories"
)

// pickupTimeLayout renders event times the way members read them in email.
const pickupTimeLayout = "Monday, January 2 2006 at 3:04 PM"

// NotificationDispatcher sends templated store emails. Implementations are
// best-effort: the services log failures and never let a send roll back or
// fail a committed mutation.
type NotificationDispatcher interface {
	SendOrderConfirmation(ctx context.Context, n OrderNotification) error
	SendOrderCancellation(ctx context.Context, n OrderNotification) error
	SendOrderFulfillment(ctx context.Context, n OrderNotification) error
	SendPartialOrderFulfillment(ctx context.Context, n PartialFulfillmentNotification) error
	SendOrderPickupMissed(ctx context.Context, n OrderNotification) error
	SendOrderPickupCancelled(ctx context.Context, n OrderNotification) error
	SendOrderPickupUpdated(ctx context.Context, n OrderNotification) error
	SendAutomatedOrderCancellation(ctx context.Context, n OrderNotification) error
}

// NoopDispatcher discards every notification. Used when SMTP is not
// configured.
type NoopDispatcher struct{}

func (NoopDispatcher) SendOrderConfirmation(context.Context, OrderNotification) error { return nil }
func (NoopDispatcher) SendOrderCancellation(context.Context, OrderNotification) error { return nil }
func (NoopDispatcher) SendOrderFulfillment(context.Context, OrderNotification) error  { return nil }
func (NoopDispatcher) SendPartialOrderFulfillment(context.Context, PartialFulfillmentNotification) error {
	return nil
}
func (NoopDispatcher) SendOrderPickupMissed(context.Context, OrderNotification) error    { return nil }
func (NoopDispatcher) SendOrderPickupCancelled(context.Context, OrderNotification) error { return nil }
func (NoopDispatcher) SendOrderPickupUpdated(context.Context, OrderNotification) error   { return nil }
func (NoopDispatcher) SendAutomatedOrderCancellation(context.Context, OrderNotification) error {
	return nil
}

var _ NotificationDispatcher = NoopDispatcher{}

// NotificationItem is one line of an order email, flattened and
// template-ready.
type NotificationItem struct {
	Name         string
	Picture      string
	VariantType  string
	VariantValue string
	Quantity     int
	UnitPrice    int64
	Total        int64
}

// PickupEventSummary carries the human-readable event details for an email.
type PickupEventSummary struct {
	Title    string
	StartsAt string
	EndsAt   string
}

// OrderNotification is the payload shared by most order emails.
type OrderNotification struct {
	RecipientEmail string
	RecipientName  string
	OrderID        string
	Items          []NotificationItem
	TotalCost      int64
	Pickup         *PickupEventSummary
}

// PartialFulfillmentNotification splits an order into what was handed out
// and what remains.
type PartialFulfillmentNotification struct {
	OrderNotification
	Fulfilled []NotificationItem
	Remaining []NotificationItem
}

func buildPickupSummary(event *domain.OrderPickupEvent) *PickupEventSummary {
	if event == nil {
		return nil
	}
	return &PickupEventSummary{
		Title:    event.Title,
		StartsAt: event.Start.Format(pickupTimeLayout),
		EndsAt:   event.End.Format(pickupTimeLayout),
	}
}

// itemCatalog resolves order items back to display data for emails.
type itemCatalog struct {
	options map[string]domain.MerchItemOption
	items   map[string]domain.MerchItem
}

// loadItemCatalog batch-fetches the options and items behind a set of order
// items so emails can render names, pictures, and variants.
func loadItemCatalog(ctx context.Context, merch repositories.MerchItemRepository, orderItems []domain.OrderItem) (itemCatalog, error) {
	optionIDSet := make(map[string]bool)
	var optionIDs []string
	for _, item := range orderItems {
		if !optionIDSet[item.OptionID] {
			optionIDSet[item.OptionID] = true
			optionIDs = append(optionIDs, item.OptionID)
		}
	}

	options, err := merch.FindOptionsByIDs(ctx, optionIDs)
	if err != nil {
		return itemCatalog{}, err
	}

	itemIDSet := make(map[string]bool)
	var itemIDs []string
	for _, option := range options {
		if !itemIDSet[option.ItemID] {
			itemIDSet[option.ItemID] = true
			itemIDs = append(itemIDs, option.ItemID)
		}
	}

	items, err := merch.FindItemsByIDs(ctx, itemIDs)
	if err != nil {
		return itemCatalog{}, err
	}

	return itemCatalog{options: options, items: items}, nil
}

func (c itemCatalog) line(item domain.OrderItem, quantity int) NotificationItem {
	notified := NotificationItem{
		Quantity:  quantity,
		UnitPrice: item.SalePriceAtPurchase,
		Total:     item.SalePriceAtPurchase * int64(quantity),
	}
	option, ok := c.options[item.OptionID]
	if !ok {
		return notified
	}
	if option.Metadata != nil {
		notified.VariantType = option.Metadata.Type
		notified.VariantValue = option.Metadata.Value
	}
	if merch, ok := c.items[option.ItemID]; ok {
		notified.Name = merch.Name
		notified.Picture = merch.Picture
	}
	return notified
}

// groupItemLines collapses per-unit order items into per-option email lines.
func (c itemCatalog) groupItemLines(items []domain.OrderItem) []NotificationItem {
	byOption := make(map[string][]domain.OrderItem)
	var order []string
	for _, item := range items {
		if _, seen := byOption[item.OptionID]; !seen {
			order = append(order, item.OptionID)
		}
		byOption[item.OptionID] = append(byOption[item.OptionID], item)
	}

	lines := make([]NotificationItem, 0, len(order))
	for _, optionID := range order {
		group := byOption[optionID]
		lines = append(lines, c.line(group[0], len(group)))
	}
	return lines
}

func buildOrderNotification(user domain.User, order domain.Order, catalog itemCatalog, event *domain.OrderPickupEvent) OrderNotification {
	return OrderNotification{
		RecipientEmail: user.Email,
		RecipientName:  user.FirstName,
		OrderID:        order.ID,
		Items:          catalog.groupItemLines(order.Items),
		TotalCost:      order.TotalCost,
		Pickup:         buildPickupSummary(event),
	}
}

func splitByFulfillment(items []domain.OrderItem) (fulfilled, remaining []domain.OrderItem) {
	for _, item := range items {
		if item.Fulfilled {
			fulfilled = append(fulfilled, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	return fulfilled, remaining
}
