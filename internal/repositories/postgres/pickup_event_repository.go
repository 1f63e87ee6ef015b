package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/campusclub/api/internal/domain"
)

// PickupEventRepository persists order pickup events.
type PickupEventRepository struct {
	provider *Provider
}

// NewPickupEventRepository constructs a PickupEventRepository over the shared provider.
func NewPickupEventRepository(provider *Provider) (*PickupEventRepository, error) {
	if provider == nil {
		return nil, errors.New("pickup event repository requires postgres provider")
	}
	return &PickupEventRepository{provider: provider}, nil
}

func (r *PickupEventRepository) Insert(ctx context.Context, event domain.OrderPickupEvent) error {
	const q = `
		insert into order_pickup_events
			(id, title, description, start_at, end_at, order_limit, status, linked_event_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.provider.db(ctx).Exec(ctx, q,
		event.ID, event.Title, event.Description, event.Start, event.End,
		event.OrderLimit, event.Status, event.LinkedEventID,
	)
	return wrapError("pickupEvents.insert", err)
}

func (r *PickupEventRepository) Update(ctx context.Context, event domain.OrderPickupEvent) error {
	const q = `
		update order_pickup_events
		set title = $2, description = $3, start_at = $4, end_at = $5,
		    order_limit = $6, status = $7, linked_event_id = $8
		where id = $1`

	tag, err := r.provider.db(ctx).Exec(ctx, q,
		event.ID, event.Title, event.Description, event.Start, event.End,
		event.OrderLimit, event.Status, event.LinkedEventID,
	)
	if err != nil {
		return wrapError("pickupEvents.update", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("pickupEvents.update", fmt.Errorf("pickup event %s not found", event.ID))
	}
	return nil
}

func (r *PickupEventRepository) Delete(ctx context.Context, eventID string) error {
	const q = `delete from order_pickup_events where id = $1`

	tag, err := r.provider.db(ctx).Exec(ctx, q, eventID)
	if err != nil {
		return wrapError("pickupEvents.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("pickupEvents.delete", fmt.Errorf("pickup event %s not found", eventID))
	}
	return nil
}

func (r *PickupEventRepository) FindByID(ctx context.Context, eventID string) (domain.OrderPickupEvent, error) {
	const q = `
		select id, title, description, start_at, end_at, order_limit, status, linked_event_id
		from order_pickup_events
		where id = $1`

	var event domain.OrderPickupEvent
	err := r.provider.db(ctx).QueryRow(ctx, q, eventID).Scan(
		&event.ID, &event.Title, &event.Description, &event.Start, &event.End,
		&event.OrderLimit, &event.Status, &event.LinkedEventID,
	)
	if err != nil {
		return domain.OrderPickupEvent{}, wrapError("pickupEvents.find", err)
	}
	return event, nil
}

func (r *PickupEventRepository) ListFuture(ctx context.Context, from time.Time) ([]domain.OrderPickupEvent, error) {
	const q = `
		select id, title, description, start_at, end_at, order_limit, status, linked_event_id
		from order_pickup_events
		where end_at > $1
		order by start_at`

	rows, err := r.provider.db(ctx).Query(ctx, q, from)
	if err != nil {
		return nil, wrapError("pickupEvents.listFuture", err)
	}
	defer rows.Close()

	var events []domain.OrderPickupEvent
	for rows.Next() {
		var event domain.OrderPickupEvent
		if err := rows.Scan(
			&event.ID, &event.Title, &event.Description, &event.Start, &event.End,
			&event.OrderLimit, &event.Status, &event.LinkedEventID,
		); err != nil {
			return nil, wrapError("pickupEvents.listFuture", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("pickupEvents.listFuture", err)
	}
	return events, nil
}
