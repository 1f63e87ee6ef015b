package postgres

import (
	"context"
	"errors"
)

// CalendarEventRepository resolves general calendar events owned by the
// events subsystem; the store only ever checks existence when linking a
// pickup event.
type CalendarEventRepository struct {
	provider *Provider
}

// NewCalendarEventRepository constructs a CalendarEventRepository over the shared provider.
func NewCalendarEventRepository(provider *Provider) (*CalendarEventRepository, error) {
	if provider == nil {
		return nil, errors.New("calendar event repository requires postgres provider")
	}
	return &CalendarEventRepository{provider: provider}, nil
}

func (r *CalendarEventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	const q = `select exists(select 1 from events where id = $1)`

	var exists bool
	if err := r.provider.db(ctx).QueryRow(ctx, q, eventID).Scan(&exists); err != nil {
		return false, wrapError("events.exists", err)
	}
	return exists, nil
}
