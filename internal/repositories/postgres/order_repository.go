package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/campusclub/api/internal/domain"
	"github.com/campusclub/api/internal/repositories"
)

// OrderRepository persists orders and their items. Orders are never hard
// deleted; lifecycle transitions rewrite the status column only.
type OrderRepository struct {
	provider *Provider
}

// NewOrderRepository constructs an OrderRepository over the shared provider.
func NewOrderRepository(provider *Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires postgres provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const q = `
		insert into orders (id, user_id, total_cost, status, pickup_event_id, ordered_at)
		values ($1, $2, $3, $4, $5, $6)`

	db := r.provider.db(ctx)
	if _, err := db.Exec(ctx, q,
		order.ID, order.UserID, order.TotalCost, order.Status,
		order.PickupEventID, order.OrderedAt,
	); err != nil {
		return wrapError("orders.insert", err)
	}

	if len(order.Items) == 0 {
		return nil
	}

	batchQ, args := buildItemInsert(order.Items)
	tag, err := db.Exec(ctx, batchQ, args...)
	if err != nil {
		return wrapError("orders.insertItems", err)
	}
	if int(tag.RowsAffected()) != len(order.Items) {
		return wrapError("orders.insertItems",
			fmt.Errorf("expected %d items inserted, got %d", len(order.Items), tag.RowsAffected()))
	}
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, pickupEventID *string) error {
	const q = `update orders set status = $2, pickup_event_id = $3 where id = $1`

	tag, err := r.provider.db(ctx).Exec(ctx, q, orderID, status, pickupEventID)
	if err != nil {
		return wrapError("orders.updateStatus", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("orders.updateStatus", fmt.Errorf("order %s not found", orderID))
	}
	return nil
}

func (r *OrderRepository) UpdateItems(ctx context.Context, items []domain.OrderItem) error {
	const q = `
		update order_items
		set fulfilled = $2, fulfilled_at = $3, notes = $4
		where id = $1`

	db := r.provider.db(ctx)
	for _, item := range items {
		tag, err := db.Exec(ctx, q, item.ID, item.Fulfilled, item.FulfilledAt, item.Notes)
		if err != nil {
			return wrapError("orders.updateItems", err)
		}
		if tag.RowsAffected() == 0 {
			return notFoundError("orders.updateItems", fmt.Errorf("order item %s not found", item.ID))
		}
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	const q = `
		select id, user_id, total_cost, status, pickup_event_id, ordered_at
		from orders
		where id = $1`

	var order domain.Order
	err := r.provider.db(ctx).QueryRow(ctx, q, orderID).Scan(
		&order.ID, &order.UserID, &order.TotalCost, &order.Status,
		&order.PickupEventID, &order.OrderedAt,
	)
	if err != nil {
		return domain.Order{}, wrapError("orders.find", err)
	}

	items, err := r.listItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	const q = `
		select id, user_id, total_cost, status, pickup_event_id, ordered_at
		from orders
		where user_id = $1
		order by ordered_at desc`
	return r.list(ctx, "orders.listByUser", q, userID)
}

func (r *OrderRepository) ListByPickupEvent(ctx context.Context, pickupEventID string) ([]domain.Order, error) {
	const q = `
		select id, user_id, total_cost, status, pickup_event_id, ordered_at
		from orders
		where pickup_event_id = $1
		order by ordered_at`
	return r.list(ctx, "orders.listByPickupEvent", q, pickupEventID)
}

func (r *OrderRepository) ListByStatuses(ctx context.Context, statuses []domain.OrderStatus) ([]domain.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}

	const q = `
		select id, user_id, total_cost, status, pickup_event_id, ordered_at
		from orders
		where status = any($1)
		order by ordered_at`
	return r.list(ctx, "orders.listByStatuses", q, values)
}

func (r *OrderRepository) CountByPickupEvent(ctx context.Context, pickupEventID string) (int, error) {
	const q = `select count(*) from orders where pickup_event_id = $1`

	var count int
	if err := r.provider.db(ctx).QueryRow(ctx, q, pickupEventID).Scan(&count); err != nil {
		return 0, wrapError("orders.countByPickupEvent", err)
	}
	return count, nil
}

func (r *OrderRepository) CountActiveByPickupEvent(ctx context.Context, pickupEventID string) (int, error) {
	const q = `
		select count(*)
		from orders
		where pickup_event_id = $1 and status <> $2`

	var count int
	err := r.provider.db(ctx).QueryRow(ctx, q, pickupEventID, domain.OrderStatusCancelled).Scan(&count)
	if err != nil {
		return 0, wrapError("orders.countActiveByPickupEvent", err)
	}
	return count, nil
}

func (r *OrderRepository) ListPurchaseHistory(ctx context.Context, userID string, itemIDs []string) ([]repositories.PurchaseRecord, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	const q = `
		select mio.item_id, o.status, oi.fulfilled, o.ordered_at
		from order_items oi
		join orders o on o.id = oi.order_id
		join merch_item_options mio on mio.id = oi.option_id
		where o.user_id = $1 and mio.item_id = any($2)`

	rows, err := r.provider.db(ctx).Query(ctx, q, userID, itemIDs)
	if err != nil {
		return nil, wrapError("orders.purchaseHistory", err)
	}
	defer rows.Close()

	var records []repositories.PurchaseRecord
	for rows.Next() {
		var rec repositories.PurchaseRecord
		if err := rows.Scan(&rec.ItemID, &rec.OrderStatus, &rec.Fulfilled, &rec.OrderedAt); err != nil {
			return nil, wrapError("orders.purchaseHistory", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("orders.purchaseHistory", err)
	}
	return records, nil
}

func (r *OrderRepository) list(ctx context.Context, op, q string, arg any) ([]domain.Order, error) {
	rows, err := r.provider.db(ctx).Query(ctx, q, arg)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID, &order.UserID, &order.TotalCost, &order.Status,
			&order.PickupEventID, &order.OrderedAt,
		); err != nil {
			return nil, wrapError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}

	for i := range orders {
		items, err := r.listItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *OrderRepository) listItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	const q = `
		select id, order_id, option_id, sale_price_at_purchase,
		       discount_percentage_at_purchase, fulfilled, fulfilled_at, notes
		from order_items
		where order_id = $1
		order by id`

	rows, err := r.provider.db(ctx).Query(ctx, q, orderID)
	if err != nil {
		return nil, wrapError("orders.listItems", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.OptionID, &item.SalePriceAtPurchase,
			&item.DiscountPercentageAtPurchase, &item.Fulfilled, &item.FulfilledAt, &item.Notes,
		); err != nil {
			return nil, wrapError("orders.listItems", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("orders.listItems", err)
	}
	return items, nil
}

// buildItemInsert produces a single multi-row insert with numbered
// placeholders; values are never interpolated into the statement.
func buildItemInsert(items []domain.OrderItem) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`insert into order_items
		(id, order_id, option_id, sale_price_at_purchase,
		 discount_percentage_at_purchase, fulfilled, fulfilled_at, notes) values `)

	const cols = 8
	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*cols)
	for i, item := range items {
		base := i * cols
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			item.ID, item.OrderID, item.OptionID, item.SalePriceAtPurchase,
			item.DiscountPercentageAtPurchase, item.Fulfilled, item.FulfilledAt, item.Notes,
		)
	}
	sb.WriteString(strings.Join(placeholders, ","))
	return sb.String(), args
}
