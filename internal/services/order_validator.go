package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/campusclub/api/internal/domain"
	"github.com/campusclub/api/internal/repositories"
)

const (
	// pickupCutoff is the minimum lead time between now and a pickup
	// event's start for placement, cancellation of a PLACED order,
	// rescheduling, and event creation.
	pickupCutoff = 2 * 24 * time.Hour
	// monthlyLimitWindow is the trailing window monthly purchase limits
	// are counted over.
	monthlyLimitWindow = 30 * 24 * time.Hour
)

// ValidatedLine is one requested option resolved against its item, with the
// sale price frozen at validation time.
type ValidatedLine struct {
	Option   MerchItemOption
	Item     MerchItem
	Quantity int
	// UnitPrice is the option's effective (discounted) price.
	UnitPrice int64
}

// ValidatedOrder is the outcome of a successful validation run, carrying
// everything placement needs without re-reading the catalog.
type ValidatedOrder struct {
	Lines     []ValidatedLine
	TotalCost int64
}

// OrderValidator checks a candidate order against visibility, purchase
// limits, stock, pickup-event validity, and credit balance. It performs
// reads only, so it can back both pre-checkout verification and the
// placement transaction; callers run it on the transaction context when
// the result feeds a mutation.
type OrderValidator struct {
	merch  repositories.MerchItemRepository
	orders repositories.OrderRepository
	clock  func() time.Time
}

// NewOrderValidator wires the validator's repositories. A nil clock
// defaults to time.Now.
func NewOrderValidator(merch repositories.MerchItemRepository, orders repositories.OrderRepository, clock func() time.Time) (*OrderValidator, error) {
	if merch == nil {
		return nil, errors.New("order validator: merch item repository is required")
	}
	if orders == nil {
		return nil, errors.New("order validator: order repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &OrderValidator{
		merch:  merch,
		orders: orders,
		clock:  func() time.Time { return clock().UTC() },
	}, nil
}

// Validate runs the checks in user-facing order; the first failure wins.
// A nil pickupEvent skips the pickup check (pre-checkout verification has
// no event yet).
func (v *OrderValidator) Validate(ctx context.Context, user User, lines []OrderLine, pickupEvent *OrderPickupEvent) (ValidatedOrder, error) {
	if err := validateLineInput(lines); err != nil {
		return ValidatedOrder{}, err
	}

	resolved, err := v.resolveLines(ctx, lines)
	if err != nil {
		return ValidatedOrder{}, err
	}

	if err := v.checkPurchaseLimits(ctx, user, resolved); err != nil {
		return ValidatedOrder{}, err
	}

	for _, line := range resolved {
		if line.Option.Quantity < line.Quantity {
			return ValidatedOrder{}, fmt.Errorf(
				"%w: there aren't %d units of %s in stock", ErrOrderValidation, line.Quantity, line.Item.Name)
		}
	}

	if pickupEvent != nil {
		if err := v.checkPickupEvent(ctx, *pickupEvent); err != nil {
			return ValidatedOrder{}, err
		}
	}

	var totalCost int64
	for _, line := range resolved {
		totalCost += line.UnitPrice * int64(line.Quantity)
	}
	if user.Credits < totalCost {
		return ValidatedOrder{}, fmt.Errorf(
			"%w: order total is %d credits but you have %d", ErrOrderValidation, totalCost, user.Credits)
	}

	return ValidatedOrder{Lines: resolved, TotalCost: totalCost}, nil
}

func validateLineInput(lines []OrderLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		optionID := strings.TrimSpace(line.OptionID)
		if optionID == "" {
			return fmt.Errorf("%w: option id is required", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, optionID)
		}
		if seen[optionID] {
			return fmt.Errorf("%w: duplicate option %s in order", ErrOrderValidation, optionID)
		}
		seen[optionID] = true
	}
	return nil
}

// resolveLines batch-fetches options and items; missing and hidden ids are
// reported by set difference so the message enumerates exactly what failed.
func (v *OrderValidator) resolveLines(ctx context.Context, lines []OrderLine) ([]ValidatedLine, error) {
	optionIDs := make([]string, len(lines))
	for i, line := range lines {
		optionIDs[i] = line.OptionID
	}

	options, err := v.merch.FindOptionsByIDs(ctx, optionIDs)
	if err != nil {
		return nil, mapOrderRepositoryError(err)
	}

	var missing []string
	for _, id := range optionIDs {
		if _, ok := options[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: the following items were not found: %s",
			ErrOrderNotFound, strings.Join(missing, ", "))
	}

	itemIDSet := make(map[string]bool)
	var itemIDs []string
	for _, option := range options {
		if !itemIDSet[option.ItemID] {
			itemIDSet[option.ItemID] = true
			itemIDs = append(itemIDs, option.ItemID)
		}
	}

	items, err := v.merch.FindItemsByIDs(ctx, itemIDs)
	if err != nil {
		return nil, mapOrderRepositoryError(err)
	}

	var forbidden []string
	for _, id := range optionIDs {
		item, ok := items[options[id].ItemID]
		if !ok || item.Hidden {
			forbidden = append(forbidden, id)
		}
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return nil, fmt.Errorf("%w: you are not allowed to order: %s",
			ErrOrderForbidden, strings.Join(forbidden, ", "))
	}

	resolved := make([]ValidatedLine, len(lines))
	for i, line := range lines {
		option := options[line.OptionID]
		resolved[i] = ValidatedLine{
			Option:    option,
			Item:      items[option.ItemID],
			Quantity:  line.Quantity,
			UnitPrice: domain.EffectivePrice(option.Price, option.DiscountPercentage),
		}
	}
	return resolved, nil
}

// checkPurchaseLimits enforces lifetime and trailing-30-day caps per item.
// A past order item counts unless its order was cancelled without the item
// having been fulfilled: partial fulfillment before cancellation still
// consumed the unit.
func (v *OrderValidator) checkPurchaseLimits(ctx context.Context, user User, resolved []ValidatedLine) error {
	requested := make(map[string]int)
	limited := make(map[string]MerchItem)
	var itemOrder []string
	for _, line := range resolved {
		if _, seen := requested[line.Item.ID]; !seen {
			itemOrder = append(itemOrder, line.Item.ID)
		}
		requested[line.Item.ID] += line.Quantity
		if line.Item.LifetimeLimit != nil || line.Item.MonthlyLimit != nil {
			limited[line.Item.ID] = line.Item
		}
	}
	if len(limited) == 0 {
		return nil
	}

	limitedIDs := make([]string, 0, len(limited))
	for _, itemID := range itemOrder {
		if _, ok := limited[itemID]; ok {
			limitedIDs = append(limitedIDs, itemID)
		}
	}

	history, err := v.orders.ListPurchaseHistory(ctx, user.ID, limitedIDs)
	if err != nil {
		return mapOrderRepositoryError(err)
	}

	now := v.clock()
	windowStart := now.Add(-monthlyLimitWindow)
	lifetime := make(map[string]int)
	monthly := make(map[string]int)
	for _, record := range history {
		if !purchaseCounts(record) {
			continue
		}
		lifetime[record.ItemID]++
		if record.OrderedAt.After(windowStart) {
			monthly[record.ItemID]++
		}
	}

	for _, itemID := range limitedIDs {
		item := limited[itemID]
		if item.LifetimeLimit != nil && lifetime[itemID]+requested[itemID] > *item.LifetimeLimit {
			return fmt.Errorf("%w: you can't order any more of %s: it has a lifetime limit of %d per member",
				ErrOrderValidation, item.Name, *item.LifetimeLimit)
		}
		if item.MonthlyLimit != nil && monthly[itemID]+requested[itemID] > *item.MonthlyLimit {
			return fmt.Errorf("%w: you can't order any more of %s this month: it has a monthly limit of %d per member",
				ErrOrderValidation, item.Name, *item.MonthlyLimit)
		}
	}
	return nil
}

func purchaseCounts(record repositories.PurchaseRecord) bool {
	return record.OrderStatus != domain.OrderStatusCancelled || record.Fulfilled
}

func (v *OrderValidator) checkPickupEvent(ctx context.Context, event OrderPickupEvent) error {
	if event.Status != domain.PickupEventStatusActive {
		return fmt.Errorf("%w: pickup event %s is not open for orders", ErrOrderValidation, event.Title)
	}
	if !event.Start.After(v.clock().Add(pickupCutoff)) {
		return fmt.Errorf("%w: pickup event %s starts less than 2 days from now", ErrOrderValidation, event.Title)
	}

	active, err := v.orders.CountActiveByPickupEvent(ctx, event.ID)
	if err != nil {
		return mapOrderRepositoryError(err)
	}
	if isPickupEventFull(active, event.OrderLimit) {
		return fmt.Errorf("%w: pickup event %s is full", ErrOrderValidation, event.Title)
	}
	return nil
}
