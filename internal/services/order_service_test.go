package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/campusclub/api/internal/domain"
	"github.com/campusclub/api/internal/repositories"
)

type stubUserRepo struct {
	findFn   func(context.Context, string) (domain.User, error)
	adjustFn func(context.Context, string, int64) error
}

func (s *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.findFn != nil {
		return s.findFn(ctx, userID)
	}
	return domain.User{}, errors.New("not implemented")
}

func (s *stubUserRepo) AdjustCredits(ctx context.Context, userID string, delta int64) error {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, userID, delta)
	}
	return nil
}

type stubMerchRepo struct {
	findItemFn    func(context.Context, string) (domain.MerchItem, error)
	findItemsFn   func(context.Context, []string) (map[string]domain.MerchItem, error)
	findOptionsFn func(context.Context, []string) (map[string]domain.MerchItemOption, error)
	adjustFn      func(context.Context, string, int) error
}

func (s *stubMerchRepo) FindItemByID(ctx context.Context, itemID string) (domain.MerchItem, error) {
	if s.findItemFn != nil {
		return s.findItemFn(ctx, itemID)
	}
	return domain.MerchItem{}, errors.New("not implemented")
}

func (s *stubMerchRepo) FindItemsByIDs(ctx context.Context, itemIDs []string) (map[string]domain.MerchItem, error) {
	if s.findItemsFn != nil {
		return s.findItemsFn(ctx, itemIDs)
	}
	return map[string]domain.MerchItem{}, nil
}

func (s *stubMerchRepo) FindOptionsByIDs(ctx context.Context, optionIDs []string) (map[string]domain.MerchItemOption, error) {
	if s.findOptionsFn != nil {
		return s.findOptionsFn(ctx, optionIDs)
	}
	return map[string]domain.MerchItemOption{}, nil
}

func (s *stubMerchRepo) AdjustOptionQuantity(ctx context.Context, optionID string, delta int) error {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, optionID, delta)
	}
	return nil
}

type stubOrderRepo struct {
	insertFn       func(context.Context, domain.Order) error
	updateStatusFn func(context.Context, string, domain.OrderStatus, *string) error
	updateItemsFn  func(context.Context, []domain.OrderItem) error
	findFn         func(context.Context, string) (domain.Order, error)
	listByUserFn   func(context.Context, string) ([]domain.Order, error)
	listByEventFn  func(context.Context, string) ([]domain.Order, error)
	listByStatusFn func(context.Context, []domain.OrderStatus) ([]domain.Order, error)
	countByEventFn func(context.Context, string) (int, error)
	countActiveFn  func(context.Context, string) (int, error)
	historyFn      func(context.Context, string, []string) ([]repositories.PurchaseRecord, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, pickupEventID *string) error {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, orderID, status, pickupEventID)
	}
	return nil
}

func (s *stubOrderRepo) UpdateItems(ctx context.Context, items []domain.OrderItem) error {
	if s.updateItemsFn != nil {
		return s.updateItemsFn(ctx, items)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (s *stubOrderRepo) ListByPickupEvent(ctx context.Context, pickupEventID string) ([]domain.Order, error) {
	if s.listByEventFn != nil {
		return s.listByEventFn(ctx, pickupEventID)
	}
	return nil, nil
}

func (s *stubOrderRepo) ListByStatuses(ctx context.Context, statuses []domain.OrderStatus) ([]domain.Order, error) {
	if s.listByStatusFn != nil {
		return s.listByStatusFn(ctx, statuses)
	}
	return nil, nil
}

func (s *stubOrderRepo) CountByPickupEvent(ctx context.Context, pickupEventID string) (int, error) {
	if s.countByEventFn != nil {
		return s.countByEventFn(ctx, pickupEventID)
	}
	return 0, nil
}

func (s *stubOrderRepo) CountActiveByPickupEvent(ctx context.Context, pickupEventID string) (int, error) {
	if s.countActiveFn != nil {
		return s.countActiveFn(ctx, pickupEventID)
	}
	return 0, nil
}

func (s *stubOrderRepo) ListPurchaseHistory(ctx context.Context, userID string, itemIDs []string) ([]repositories.PurchaseRecord, error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, userID, itemIDs)
	}
	return nil, nil
}

type stubPickupEventRepo struct {
	insertFn     func(context.Context, domain.OrderPickupEvent) error
	updateFn     func(context.Context, domain.OrderPickupEvent) error
	deleteFn     func(context.Context, string) error
	findFn       func(context.Context, string) (domain.OrderPickupEvent, error)
	listFutureFn func(context.Context, time.Time) ([]domain.OrderPickupEvent, error)
}

func (s *stubPickupEventRepo) Insert(ctx context.Context, event domain.OrderPickupEvent) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, event)
	}
	return nil
}

func (s *stubPickupEventRepo) Update(ctx context.Context, event domain.OrderPickupEvent) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, event)
	}
	return nil
}

func (s *stubPickupEventRepo) Delete(ctx context.Context, eventID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, eventID)
	}
	return nil
}

func (s *stubPickupEventRepo) FindByID(ctx context.Context, eventID string) (domain.OrderPickupEvent, error) {
	if s.findFn != nil {
		return s.findFn(ctx, eventID)
	}
	return domain.OrderPickupEvent{}, errors.New("not implemented")
}

func (s *stubPickupEventRepo) ListFuture(ctx context.Context, from time.Time) ([]domain.OrderPickupEvent, error) {
	if s.listFutureFn != nil {
		return s.listFutureFn(ctx, from)
	}
	return nil, nil
}

type stubCalendarRepo struct {
	existsFn func(context.Context, string) (bool, error)
}

func (s *stubCalendarRepo) Exists(ctx context.Context, eventID string) (bool, error) {
	if s.existsFn != nil {
		return s.existsFn(ctx, eventID)
	}
	return false, nil
}

type captureActivities struct {
	activities []domain.Activity
}

func (c *captureActivities) Insert(_ context.Context, activity domain.Activity) error {
	c.activities = append(c.activities, activity)
	return nil
}

type sentNotification struct {
	kind    string
	order   OrderNotification
	partial PartialFulfillmentNotification
}

// captureDispatcher records every send; pickup cascades fan out from
// goroutines, hence the mutex.
type captureDispatcher struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (c *captureDispatcher) record(kind string, n OrderNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentNotification{kind: kind, order: n})
	return c.err
}

func (c *captureDispatcher) byKind(kind string) []sentNotification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []sentNotification
	for _, s := range c.sent {
		if s.kind == kind {
			matched = append(matched, s)
		}
	}
	return matched
}

func (c *captureDispatcher) SendOrderConfirmation(ctx context.Context, n OrderNotification) error {
	return c.record("confirmation", n)
}

func (c *captureDispatcher) SendOrderCancellation(ctx context.Context, n OrderNotification) error {
	return c.record("cancellation", n)
}

func (c *captureDispatcher) SendOrderFulfillment(ctx context.Context, n OrderNotification) error {
	return c.record("fulfillment", n)
}

func (c *captureDispatcher) SendPartialOrderFulfillment(ctx context.Context, n PartialFulfillmentNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentNotification{kind: "fulfillment.partial", order: n.OrderNotification, partial: n})
	return c.err
}

func (c *captureDispatcher) SendOrderPickupMissed(ctx context.Context, n OrderNotification) error {
	return c.record("pickup.missed", n)
}

func (c *captureDispatcher) SendOrderPickupCancelled(ctx context.Context, n OrderNotification) error {
	return c.record("pickup.cancelled", n)
}

func (c *captureDispatcher) SendOrderPickupUpdated(ctx context.Context, n OrderNotification) error {
	return c.record("pickup.updated", n)
}

func (c *captureDispatcher) SendAutomatedOrderCancellation(ctx context.Context, n OrderNotification) error {
	return c.record("cancellation.automated", n)
}

type stubUnitOfWork struct {
	runFn  func(context.Context, func(context.Context) error) error
	readFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

func (s *stubUnitOfWork) RunInReadTx(ctx context.Context, fn func(context.Context) error) error {
	if s.readFn != nil {
		return s.readFn(ctx, fn)
	}
	return fn(ctx)
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testUser(id string, access domain.AccessType, credits int64) domain.User {
	return domain.User{
		ID:         id,
		Email:      id + "@club.test",
		FirstName:  "Sam",
		LastName:   "Rivera",
		AccessType: access,
		Credits:    credits,
	}
}

func testOption(id, itemID string, quantity int, price int64, discount int) domain.MerchItemOption {
	return domain.MerchItemOption{
		ID:                 id,
		ItemID:             itemID,
		Quantity:           quantity,
		Price:              price,
		DiscountPercentage: discount,
	}
}

func testItem(id, name string) domain.MerchItem {
	return domain.MerchItem{ID: id, CollectionID: "col-1", Name: name}
}

func singleUserRepo(user domain.User) *stubUserRepo {
	return &stubUserRepo{
		findFn: func(_ context.Context, userID string) (domain.User, error) {
			if userID != user.ID {
				return domain.User{}, errors.New("unknown user " + userID)
			}
			return user, nil
		},
	}
}

func catalogMerchRepo(options map[string]domain.MerchItemOption, items map[string]domain.MerchItem) *stubMerchRepo {
	return &stubMerchRepo{
		findOptionsFn: func(_ context.Context, ids []string) (map[string]domain.MerchItemOption, error) {
			found := make(map[string]domain.MerchItemOption)
			for _, id := range ids {
				if option, ok := options[id]; ok {
					found[id] = option
				}
			}
			return found, nil
		},
		findItemsFn: func(_ context.Context, ids []string) (map[string]domain.MerchItem, error) {
			found := make(map[string]domain.MerchItem)
			for _, id := range ids {
				if item, ok := items[id]; ok {
					found[id] = item
				}
			}
			return found, nil
		},
	}
}

func newTestOrderService(t *testing.T, deps StoreOrderServiceDeps) StoreOrderService {
	t.Helper()
	if deps.PickupEvents == nil {
		deps.PickupEvents = &stubPickupEventRepo{}
	}
	if deps.Activities == nil {
		deps.Activities = &captureActivities{}
	}
	if deps.UnitOfWork == nil {
		deps.UnitOfWork = &stubUnitOfWork{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return testNow }
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "000TEST" }
	}
	svc, err := NewStoreOrderService(deps)
	if err != nil {
		t.Fatalf("new store order service: %v", err)
	}
	return svc
}

func TestPlaceOrderDebitsEverythingAndConfirms(t *testing.T) {
	ctx := context.Background()
	user := testUser("user-1", domain.AccessStandard, 5000)
	option := testOption("opt-1", "item-1", 10, 1000, 0)
	event := domain.OrderPickupEvent{
		ID:         "pev-1",
		Title:      "Spring pickup",
		Start:      testNow.Add(72 * time.Hour),
		End:        testNow.Add(74 * time.Hour),
		OrderLimit: 20,
		Status:     domain.PickupEventStatusActive,
	}

	var inserted []domain.Order
	stockDeltas := map[string]int{}
	creditDeltas := map[string]int64{}
	activities := &captureActivities{}
	dispatcher := &captureDispatcher{}

	users := singleUserRepo(user)
	users.adjustFn = func(_ context.Context, userID string, delta int64) error {
		creditDeltas[userID] += delta
		return nil
	}
	merch := catalogMerchRepo(
		map[string]domain.MerchItemOption{option.ID: option},
		map[string]domain.MerchItem{"item-1": testItem("item-1", "Club Hoodie")},
	)
	merch.adjustFn = func(_ context.Context, optionID string, delta int) error {
		stockDeltas[optionID] += delta
		return nil
	}
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = append(inserted, order)
			return nil
		},
	}
	events := &stubPickupEventRepo{
		findFn: func(_ context.Context, eventID string) (domain.OrderPickupEvent, error) {
			if eventID != event.ID {
				return domain.OrderPickupEvent{}, errors.New("unknown event")
			}
			return event, nil
		},
	}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users:         users,
		Merch:         merch,
		Orders:        orders,
		PickupEvents:  events,
		Activities:    activities,
		Notifications: dispatcher,
	})

	order, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:        "user-1",
		PickupEventID: "pev-1",
		Lines:         []OrderLine{{OptionID: "opt-1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if order.ID != "ord_000TEST" {
		t.Fatalf("unexpected order id %s", order.ID)
	}
	if order.Status != domain.OrderStatusPlaced {
		t.Fatalf("expected status PLACED got %s", order.Status)
	}
	if order.TotalCost != 2000 {
		t.Fatalf("expected total 2000 got %d", order.TotalCost)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 order items got %d", len(order.Items))
	}
	for _, item := range order.Items {
		if item.SalePriceAtPurchase != 1000 {
			t.Fatalf("expected frozen sale price 1000 got %d", item.SalePriceAtPurchase)
		}
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted order got %d", len(inserted))
	}
	if stockDeltas["opt-1"] != -2 {
		t.Fatalf("expected stock delta -2 got %d", stockDeltas["opt-1"])
	}
	if creditDeltas["user-1"] != -2000 {
		t.Fatalf("expected credit delta -2000 got %d", creditDeltas["user-1"])
	}
	if len(activities.activities) != 1 || activities.activities[0].Type != domain.ActivityOrderPlaced {
		t.Fatalf("expected one ORDER_PLACED activity, got %+v", activities.activities)
	}
	confirmations := dispatcher.byKind("confirmation")
	if len(confirmations) != 1 {
		t.Fatalf("expected 1 confirmation email got %d", len(confirmations))
	}
	if confirmations[0].order.RecipientEmail != "user-1@club.test" {
		t.Fatalf("unexpected recipient %s", confirmations[0].order.RecipientEmail)
	}
	if confirmations[0].order.Pickup == nil || confirmations[0].order.Pickup.Title != "Spring pickup" {
		t.Fatalf("expected pickup summary in confirmation, got %+v", confirmations[0].order.Pickup)
	}
}

func TestPlaceOrderRejectsInsufficientCredits(t *testing.T) {
	ctx := context.Background()
	user := testUser("user-1", domain.AccessStandard, 500)
	option := testOption("opt-1", "item-1", 10, 1000, 0)
	event := domain.OrderPickupEvent{
		ID:         "pev-1",
		Title:      "Spring pickup",
		Start:      testNow.Add(72 * time.Hour),
		End:        testNow.Add(74 * time.Hour),
		OrderLimit: 20,
		Status:     domain.PickupEventStatusActive,
	}

	var inserted []domain.Order
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = append(inserted, order)
			return nil
		},
	}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: singleUserRepo(user),
		Merch: catalogMerchRepo(
			map[string]domain.MerchItemOption{option.ID: option},
			map[string]domain.MerchItem{"item-1": testItem("item-1", "Club Hoodie")},
		),
		Orders: orders,
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) { return event, nil },
		},
	})

	_, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:        "user-1",
		PickupEventID: "pev-1",
		Lines:         []OrderLine{{OptionID: "opt-1", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(inserted) != 0 {
		t.Fatalf("expected no inserted orders, got %d", len(inserted))
	}
}

func TestVerifyOrderSkipsPickupEventCheck(t *testing.T) {
	ctx := context.Background()
	user := testUser("user-1", domain.AccessStandard, 5000)
	option := testOption("opt-1", "item-1", 5, 800, 0)

	orders := &stubOrderRepo{
		countActiveFn: func(context.Context, string) (int, error) {
			t.Fatal("capacity must not be checked during verification")
			return 0, nil
		},
	}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: singleUserRepo(user),
		Merch: catalogMerchRepo(
			map[string]domain.MerchItemOption{option.ID: option},
			map[string]domain.MerchItem{"item-1": testItem("item-1", "Sticker Pack")},
		),
		Orders: orders,
	})

	if err := svc.VerifyOrder(ctx, VerifyOrderCommand{
		UserID: "user-1",
		Lines:  []OrderLine{{OptionID: "opt-1", Quantity: 2}},
	}); err != nil {
		t.Fatalf("verify order: %v", err)
	}
}

func fulfillmentFixtureOrder() domain.Order {
	eventID := "pev-1"
	return domain.Order{
		ID:            "ord-1",
		UserID:        "user-1",
		TotalCost:     2000,
		Status:        domain.OrderStatusPlaced,
		PickupEventID: &eventID,
		OrderedAt:     testNow.Add(-48 * time.Hour),
		Items: []domain.OrderItem{
			{ID: "oit-1", OrderID: "ord-1", OptionID: "opt-1", SalePriceAtPurchase: 1000},
			{ID: "oit-2", OrderID: "ord-1", OptionID: "opt-1", SalePriceAtPurchase: 1000},
		},
	}
}

func TestFulfillOrderItemsPartially(t *testing.T) {
	ctx := context.Background()
	distributor := testUser("staff-1", domain.AccessStoreDistributor, 0)
	owner := testUser("user-1", domain.AccessStandard, 0)
	stored := fulfillmentFixtureOrder()
	option := testOption("opt-1", "item-1", 0, 1000, 0)

	var updatedItems []domain.OrderItem
	var updatedStatus domain.OrderStatus
	dispatcher := &captureDispatcher{}

	users := &stubUserRepo{
		findFn: func(_ context.Context, userID string) (domain.User, error) {
			switch userID {
			case distributor.ID:
				return distributor, nil
			case owner.ID:
				return owner, nil
			}
			return domain.User{}, errors.New("unknown user")
		},
	}
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateItemsFn: func(_ context.Context, items []domain.OrderItem) error {
			updatedItems = items
			return nil
		},
		updateStatusFn: func(_ context.Context, _ string, status domain.OrderStatus, _ *string) error {
			updatedStatus = status
			return nil
		},
	}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: users,
		Merch: catalogMerchRepo(
			map[string]domain.MerchItemOption{option.ID: option},
			map[string]domain.MerchItem{"item-1": testItem("item-1", "Club Hoodie")},
		),
		Orders: orders,
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) {
				return domain.OrderPickupEvent{ID: "pev-1", Title: "Spring pickup"}, nil
			},
		},
		Notifications: dispatcher,
	})

	notes := "exchanged for size L"
	order, err := svc.FulfillOrderItems(ctx, FulfillOrderItemsCommand{
		OrderID: "ord-1",
		ActorID: "staff-1",
		Updates: []FulfillItemUpdate{{ItemID: "oit-1", Notes: &notes}},
	})
	if err != nil {
		t.Fatalf("fulfill order items: %v", err)
	}

	if order.Status != domain.OrderStatusPartiallyFulfilled {
		t.Fatalf("expected PARTIALLY_FULFILLED got %s", order.Status)
	}
	if updatedStatus != domain.OrderStatusPartiallyFulfilled {
		t.Fatalf("expected persisted status PARTIALLY_FULFILLED got %s", updatedStatus)
	}
	if len(updatedItems) != 1 || updatedItems[0].ID != "oit-1" {
		t.Fatalf("expected oit-1 updated, got %+v", updatedItems)
	}
	if !updatedItems[0].Fulfilled || updatedItems[0].FulfilledAt == nil {
		t.Fatalf("expected item marked fulfilled with timestamp, got %+v", updatedItems[0])
	}
	if updatedItems[0].Notes == nil || *updatedItems[0].Notes != notes {
		t.Fatalf("expected notes preserved, got %+v", updatedItems[0].Notes)
	}

	partials := dispatcher.byKind("fulfillment.partial")
	if len(partials) != 1 {
		t.Fatalf("expected 1 partial fulfillment email got %d", len(partials))
	}
	if len(partials[0].partial.Fulfilled) != 1 || len(partials[0].partial.Remaining) != 1 {
		t.Fatalf("expected 1 fulfilled and 1 remaining line, got %+v", partials[0].partial)
	}
}

func TestFulfillOrderItemsCompletesOrder(t *testing.T) {
	ctx := context.Background()
	distributor := testUser("staff-1", domain.AccessStoreDistributor, 0)
	owner := testUser("user-1", domain.AccessStandard, 0)
	stored := fulfillmentFixtureOrder()
	option := testOption("opt-1", "item-1", 0, 1000, 0)

	var updatedStatus domain.OrderStatus
	dispatcher := &captureDispatcher{}

	users := &stubUserRepo{
		findFn: func(_ context.Context, userID string) (domain.User, error) {
			if userID == distributor.ID {
				return distributor, nil
			}
			return owner, nil
		},
	}
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateStatusFn: func(_ context.Context, _ string, status domain.OrderStatus, _ *string) error {
			updatedStatus = status
			return nil
		},
	}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: users,
		Merch: catalogMerchRepo(
			map[string]domain.MerchItemOption{option.ID: option},
			map[string]domain.MerchItem{"item-1": testItem("item-1", "Club Hoodie")},
		),
		Orders: orders,
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) {
				return domain.OrderPickupEvent{ID: "pev-1"}, nil
			},
		},
		Notifications: dispatcher,
	})

	order, err := svc.FulfillOrderItems(ctx, FulfillOrderItemsCommand{
		OrderID: "ord-1",
		ActorID: "staff-1",
		Updates: []FulfillItemUpdate{{ItemID: "oit-1"}, {ItemID: "oit-2"}},
	})
	if err != nil {
		t.Fatalf("fulfill order items: %v", err)
	}
	if order.Status != domain.OrderStatusFulfilled {
		t.Fatalf("expected FULFILLED got %s", order.Status)
	}
	if updatedStatus != domain.OrderStatusFulfilled {
		t.Fatalf("expected persisted status FULFILLED got %s", updatedStatus)
	}
	if got := dispatcher.byKind("fulfillment"); len(got) != 1 {
		t.Fatalf("expected 1 fulfillment email got %d", len(got))
	}
}

func TestFulfillOrderItemsRequiresDistributor(t *testing.T) {
	ctx := context.Background()
	member := testUser("user-2", domain.AccessStandard, 0)

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users:  singleUserRepo(member),
		Merch:  &stubMerchRepo{},
		Orders: &stubOrderRepo{},
	})

	_, err := svc.FulfillOrderItems(ctx, FulfillOrderItemsCommand{
		OrderID: "ord-1",
		ActorID: "user-2",
		Updates: []FulfillItemUpdate{{ItemID: "oit-1"}},
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestFulfillOrderItemsRejectsAlreadyFulfilled(t *testing.T) {
	ctx := context.Background()
	distributor := testUser("staff-1", domain.AccessStoreDistributor, 0)
	stored := fulfillmentFixtureOrder()
	fulfilledAt := testNow.Add(-time.Hour)
	stored.Items[0].Fulfilled = true
	stored.Items[0].FulfilledAt = &fulfilledAt
	stored.Status = domain.OrderStatusPartiallyFulfilled

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: singleUserRepo(distributor),
		Merch: &stubMerchRepo{},
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) {
				return domain.OrderPickupEvent{ID: "pev-1", Start: testNow.Add(-2 * time.Hour)}, nil
			},
		},
	})

	_, err := svc.FulfillOrderItems(ctx, FulfillOrderItemsCommand{
		OrderID: "ord-1",
		ActorID: "staff-1",
		Updates: []FulfillItemUpdate{{ItemID: "oit-1"}},
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestFulfillOrderItemsRejectsBeforeEventStart(t *testing.T) {
	ctx := context.Background()
	distributor := testUser("staff-1", domain.AccessStoreDistributor, 0)
	stored := fulfillmentFixtureOrder()

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: singleUserRepo(distributor),
		Merch: &stubMerchRepo{},
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateItemsFn: func(context.Context, []domain.OrderItem) error {
				t.Fatal("items must not be updated before the pickup event starts")
				return nil
			},
		},
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) {
				return domain.OrderPickupEvent{ID: "pev-1", Start: testNow.Add(96 * time.Hour)}, nil
			},
		},
	})

	_, err := svc.FulfillOrderItems(ctx, FulfillOrderItemsCommand{
		OrderID: "ord-1",
		ActorID: "staff-1",
		Updates: []FulfillItemUpdate{{ItemID: "oit-1"}},
	})
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "not started") {
		t.Fatalf("expected not-started message, got %v", err)
	}
}

func TestCancelOrderRefundsAndRestocks(t *testing.T) {
	ctx := context.Background()
	owner := testUser("user-1", domain.AccessStandard, 100)
	stored := fulfillmentFixtureOrder()
	option := testOption("opt-1", "item-1", 0, 1000, 0)
	event := domain.OrderPickupEvent{
		ID:     "pev-1",
		Title:  "Spring pickup",
		Start:  testNow.Add(120 * time.Hour),
		End:    testNow.Add(122 * time.Hour),
		Status: domain.PickupEventStatusActive,
	}

	stockDeltas := map[string]int{}
	creditDeltas := map[string]int64{}
	var updatedStatus domain.OrderStatus
	dispatcher := &captureDispatcher{}
	activities := &captureActivities{}

	users := singleUserRepo(owner)
	users.adjustFn = func(_ context.Context, userID string, delta int64) error {
		creditDeltas[userID] += delta
		return nil
	}
	merch := catalogMerchRepo(
		map[string]domain.MerchItemOption{option.ID: option},
		map[string]domain.MerchItem{"item-1": testItem("item-1", "Club Hoodie")},
	)
	merch.adjustFn = func(_ context.Context, optionID string, delta int) error {
		stockDeltas[optionID] += delta
		return nil
	}
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateStatusFn: func(_ context.Context, _ string, status domain.OrderStatus, _ *string) error {
			updatedStatus = status
			return nil
		},
	}
	events := &stubPickupEventRepo{
		findFn: func(context.Context, string) (domain.OrderPickupEvent, error) { return event, nil },
	}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users:         users,
		Merch:         merch,
		Orders:        orders,
		PickupEvents:  events,
		Activities:    activities,
		Notifications: dispatcher,
	})

	order, err := svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord-1", ActorID: "user-1"})
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED got %s", order.Status)
	}
	if updatedStatus != domain.OrderStatusCancelled {
		t.Fatalf("expected persisted CANCELLED got %s", updatedStatus)
	}
	if creditDeltas["user-1"] != 2000 {
		t.Fatalf("expected refund 2000 got %d", creditDeltas["user-1"])
	}
	if stockDeltas["opt-1"] != 2 {
		t.Fatalf("expected restock 2 got %d", stockDeltas["opt-1"])
	}
	if got := dispatcher.byKind("cancellation"); len(got) != 1 {
		t.Fatalf("expected 1 cancellation email got %d", len(got))
	}
	if len(activities.activities) != 1 || activities.activities[0].Type != domain.ActivityOrderCancelled {
		t.Fatalf("expected ORDER_CANCELLED activity, got %+v", activities.activities)
	}
}

func TestCancelOrderRejectsCloseToPickup(t *testing.T) {
	ctx := context.Background()
	owner := testUser("user-1", domain.AccessStandard, 0)
	stored := fulfillmentFixtureOrder()
	event := domain.OrderPickupEvent{
		ID:     "pev-1",
		Start:  testNow.Add(24 * time.Hour),
		End:    testNow.Add(26 * time.Hour),
		Status: domain.PickupEventStatusActive,
	}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: singleUserRepo(owner),
		Merch: &stubMerchRepo{},
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) { return event, nil },
		},
	})

	_, err := svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord-1", ActorID: "user-1"})
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "2 days") {
		t.Fatalf("expected cutoff message, got %v", err)
	}
}

func TestCancelOrderCutoffAppliesToManagers(t *testing.T) {
	ctx := context.Background()
	manager := testUser("mgr-1", domain.AccessStoreManager, 0)
	owner := testUser("user-1", domain.AccessStandard, 0)
	stored := fulfillmentFixtureOrder()
	event := domain.OrderPickupEvent{
		ID:     "pev-1",
		Start:  testNow.Add(24 * time.Hour),
		End:    testNow.Add(26 * time.Hour),
		Status: domain.PickupEventStatusActive,
	}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: &stubUserRepo{
			findFn: func(_ context.Context, userID string) (domain.User, error) {
				if userID == manager.ID {
					return manager, nil
				}
				return owner, nil
			},
		},
		Merch:  &stubMerchRepo{},
		Orders: &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return stored, nil }},
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) { return event, nil },
		},
	})

	_, err := svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord-1", ActorID: "mgr-1"})
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCancelPartiallyFulfilledOrderRefundsRemainder(t *testing.T) {
	ctx := context.Background()
	owner := testUser("user-1", domain.AccessStandard, 0)
	stored := fulfillmentFixtureOrder()
	fulfilledAt := testNow.Add(-time.Hour)
	stored.Status = domain.OrderStatusPartiallyFulfilled
	stored.Items[0].Fulfilled = true
	stored.Items[0].FulfilledAt = &fulfilledAt
	option := testOption("opt-1", "item-1", 0, 1000, 0)

	stockDeltas := map[string]int{}
	creditDeltas := map[string]int64{}
	var updatedStatus domain.OrderStatus

	users := singleUserRepo(owner)
	users.adjustFn = func(_ context.Context, userID string, delta int64) error {
		creditDeltas[userID] += delta
		return nil
	}
	merch := catalogMerchRepo(
		map[string]domain.MerchItemOption{option.ID: option},
		map[string]domain.MerchItem{"item-1": testItem("item-1", "Club Hoodie")},
	)
	merch.adjustFn = func(_ context.Context, optionID string, delta int) error {
		stockDeltas[optionID] += delta
		return nil
	}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: users,
		Merch: merch,
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateStatusFn: func(_ context.Context, _ string, status domain.OrderStatus, _ *string) error {
				updatedStatus = status
				return nil
			},
		},
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) {
				return domain.OrderPickupEvent{ID: "pev-1", Title: "Spring pickup"}, nil
			},
		},
	})

	order, err := svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord-1", ActorID: "user-1"})
	if err != nil {
		t.Fatalf("cancel partially fulfilled order: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED got %s", order.Status)
	}
	if updatedStatus != domain.OrderStatusCancelled {
		t.Fatalf("expected persisted CANCELLED got %s", updatedStatus)
	}
	// Only the unfulfilled item comes back; the fulfilled one stays sunk.
	if creditDeltas["user-1"] != 1000 {
		t.Fatalf("expected refund 1000 got %d", creditDeltas["user-1"])
	}
	if stockDeltas["opt-1"] != 1 {
		t.Fatalf("expected restock 1 got %d", stockDeltas["opt-1"])
	}
}

func TestRescheduleRestoresMissedOrder(t *testing.T) {
	ctx := context.Background()
	owner := testUser("user-1", domain.AccessStandard, 0)
	stored := fulfillmentFixtureOrder()
	stored.Status = domain.OrderStatusPickupMissed
	next := domain.OrderPickupEvent{
		ID:         "pev-2",
		Title:      "Makeup pickup",
		Start:      testNow.Add(96 * time.Hour),
		End:        testNow.Add(98 * time.Hour),
		OrderLimit: 10,
		Status:     domain.PickupEventStatusActive,
	}
	option := testOption("opt-1", "item-1", 0, 1000, 0)

	var movedTo *string
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateStatusFn: func(_ context.Context, _ string, status domain.OrderStatus, pickupEventID *string) error {
			if status != domain.OrderStatusPlaced {
				t.Fatalf("expected status PLACED got %s", status)
			}
			movedTo = pickupEventID
			return nil
		},
	}
	dispatcher := &captureDispatcher{}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: singleUserRepo(owner),
		Merch: catalogMerchRepo(
			map[string]domain.MerchItemOption{option.ID: option},
			map[string]domain.MerchItem{"item-1": testItem("item-1", "Club Hoodie")},
		),
		Orders: orders,
		PickupEvents: &stubPickupEventRepo{
			findFn: func(_ context.Context, eventID string) (domain.OrderPickupEvent, error) {
				if eventID != next.ID {
					return domain.OrderPickupEvent{}, errors.New("unknown event")
				}
				return next, nil
			},
		},
		Notifications: dispatcher,
	})

	order, err := svc.RescheduleOrderPickup(ctx, RescheduleOrderPickupCommand{
		OrderID:       "ord-1",
		UserID:        "user-1",
		PickupEventID: "pev-2",
	})
	if err != nil {
		t.Fatalf("reschedule order pickup: %v", err)
	}
	if order.Status != domain.OrderStatusPlaced {
		t.Fatalf("expected PLACED got %s", order.Status)
	}
	if movedTo == nil || *movedTo != "pev-2" {
		t.Fatalf("expected order moved to pev-2, got %v", movedTo)
	}
	if got := dispatcher.byKind("pickup.updated"); len(got) != 1 {
		t.Fatalf("expected 1 pickup updated email got %d", len(got))
	}
}

func TestRescheduleRejectsForeignOrder(t *testing.T) {
	ctx := context.Background()
	other := testUser("user-2", domain.AccessStandard, 0)
	stored := fulfillmentFixtureOrder()

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users:  singleUserRepo(other),
		Merch:  &stubMerchRepo{},
		Orders: &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return stored, nil }},
	})

	_, err := svc.RescheduleOrderPickup(ctx, RescheduleOrderPickupCommand{
		OrderID:       "ord-1",
		UserID:        "user-2",
		PickupEventID: "pev-2",
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestMarkOrderAsMissed(t *testing.T) {
	ctx := context.Background()
	distributor := testUser("staff-1", domain.AccessStoreDistributor, 0)
	owner := testUser("user-1", domain.AccessStandard, 0)
	stored := fulfillmentFixtureOrder()
	option := testOption("opt-1", "item-1", 0, 1000, 0)

	var updatedStatus domain.OrderStatus
	dispatcher := &captureDispatcher{}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: &stubUserRepo{
			findFn: func(_ context.Context, userID string) (domain.User, error) {
				if userID == distributor.ID {
					return distributor, nil
				}
				return owner, nil
			},
		},
		Merch: catalogMerchRepo(
			map[string]domain.MerchItemOption{option.ID: option},
			map[string]domain.MerchItem{"item-1": testItem("item-1", "Club Hoodie")},
		),
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateStatusFn: func(_ context.Context, _ string, status domain.OrderStatus, _ *string) error {
				updatedStatus = status
				return nil
			},
		},
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) {
				return domain.OrderPickupEvent{ID: "pev-1", Title: "Spring pickup"}, nil
			},
		},
		Notifications: dispatcher,
	})

	order, err := svc.MarkOrderAsMissed(ctx, MarkOrderMissedCommand{OrderID: "ord-1", ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("mark order as missed: %v", err)
	}
	if order.Status != domain.OrderStatusPickupMissed {
		t.Fatalf("expected PICKUP_MISSED got %s", order.Status)
	}
	if updatedStatus != domain.OrderStatusPickupMissed {
		t.Fatalf("expected persisted PICKUP_MISSED got %s", updatedStatus)
	}
	if got := dispatcher.byKind("pickup.missed"); len(got) != 1 {
		t.Fatalf("expected 1 pickup missed email got %d", len(got))
	}
}

func TestMarkOrderAsMissedRejectsBeforeEventStart(t *testing.T) {
	ctx := context.Background()
	distributor := testUser("staff-1", domain.AccessStoreDistributor, 0)
	stored := fulfillmentFixtureOrder()

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: singleUserRepo(distributor),
		Merch: &stubMerchRepo{},
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateStatusFn: func(context.Context, string, domain.OrderStatus, *string) error {
				t.Fatal("order must not be marked missed before the pickup event starts")
				return nil
			},
		},
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) {
				return domain.OrderPickupEvent{ID: "pev-1", Start: testNow.Add(96 * time.Hour)}, nil
			},
		},
	})

	_, err := svc.MarkOrderAsMissed(ctx, MarkOrderMissedCommand{OrderID: "ord-1", ActorID: "staff-1"})
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCancelAllPendingOrdersSweeps(t *testing.T) {
	ctx := context.Background()
	manager := testUser("mgr-1", domain.AccessStoreManager, 0)
	alice := testUser("user-1", domain.AccessStandard, 0)
	bob := testUser("user-2", domain.AccessStandard, 0)
	option := testOption("opt-1", "item-1", 0, 1000, 0)

	first := fulfillmentFixtureOrder()
	first.Status = domain.OrderStatusPickupCancelled
	second := fulfillmentFixtureOrder()
	second.ID = "ord-2"
	second.UserID = "user-2"
	second.Status = domain.OrderStatusPickupMissed

	creditDeltas := map[string]int64{}
	var statusUpdates []domain.OrderStatus
	dispatcher := &captureDispatcher{}
	activities := &captureActivities{}

	users := &stubUserRepo{
		findFn: func(_ context.Context, userID string) (domain.User, error) {
			switch userID {
			case manager.ID:
				return manager, nil
			case alice.ID:
				return alice, nil
			case bob.ID:
				return bob, nil
			}
			return domain.User{}, errors.New("unknown user")
		},
		adjustFn: func(_ context.Context, userID string, delta int64) error {
			creditDeltas[userID] += delta
			return nil
		},
	}
	orders := &stubOrderRepo{
		listByStatusFn: func(_ context.Context, statuses []domain.OrderStatus) ([]domain.Order, error) {
			pending := []domain.OrderStatus{
				domain.OrderStatusPartiallyFulfilled,
				domain.OrderStatusPickupMissed,
				domain.OrderStatusPickupCancelled,
			}
			if !slices.Equal(statuses, pending) {
				t.Fatalf("expected pending statuses %v got %v", pending, statuses)
			}
			return []domain.Order{first, second}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, status domain.OrderStatus, _ *string) error {
			statusUpdates = append(statusUpdates, status)
			return nil
		},
	}

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users: users,
		Merch: catalogMerchRepo(
			map[string]domain.MerchItemOption{option.ID: option},
			map[string]domain.MerchItem{"item-1": testItem("item-1", "Club Hoodie")},
		),
		Orders: orders,
		PickupEvents: &stubPickupEventRepo{
			findFn: func(context.Context, string) (domain.OrderPickupEvent, error) {
				return domain.OrderPickupEvent{ID: "pev-1"}, nil
			},
		},
		Activities:    activities,
		Notifications: dispatcher,
	})

	count, err := svc.CancelAllPendingOrders(ctx, CancelAllPendingOrdersCommand{ActorID: "mgr-1"})
	if err != nil {
		t.Fatalf("cancel all pending orders: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 cancelled orders got %d", count)
	}
	if creditDeltas["user-1"] != 2000 || creditDeltas["user-2"] != 2000 {
		t.Fatalf("expected both users refunded 2000, got %v", creditDeltas)
	}
	for _, status := range statusUpdates {
		if status != domain.OrderStatusCancelled {
			t.Fatalf("expected CANCELLED updates, got %v", statusUpdates)
		}
	}
	if got := dispatcher.byKind("cancellation.automated"); len(got) != 2 {
		t.Fatalf("expected 2 automated cancellation emails got %d", len(got))
	}
	if len(activities.activities) != 1 || activities.activities[0].Type != domain.ActivityPendingOrdersCancelled {
		t.Fatalf("expected PENDING_ORDERS_CANCELLED activity, got %+v", activities.activities)
	}
}

func TestGetOrderHidesForeignOrdersFromMembers(t *testing.T) {
	ctx := context.Background()
	member := testUser("user-2", domain.AccessStandard, 0)
	stored := fulfillmentFixtureOrder()

	svc := newTestOrderService(t, StoreOrderServiceDeps{
		Users:  singleUserRepo(member),
		Merch:  &stubMerchRepo{},
		Orders: &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return stored, nil }},
	})

	_, err := svc.GetOrder(ctx, "ord-1", "user-2")
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}

	distributor := testUser("staff-1", domain.AccessStoreDistributor, 0)
	svc = newTestOrderService(t, StoreOrderServiceDeps{
		Users:  singleUserRepo(distributor),
		Merch:  &stubMerchRepo{},
		Orders: &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return stored, nil }},
	})

	order, err := svc.GetOrder(ctx, "ord-1", "staff-1")
	if err != nil {
		t.Fatalf("get order as distributor: %v", err)
	}
	if order.ID != "ord-1" {
		t.Fatalf("unexpected order %s", order.ID)
	}
}
