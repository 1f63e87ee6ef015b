package postgres

import (
	"context"
	"errors"

	domain "github.com/campusclub/api/internal/domain"
)

// ActivityRepository appends activity-feed records.
type ActivityRepository struct {
	provider *Provider
}

// NewActivityRepository constructs an ActivityRepository over the shared provider.
func NewActivityRepository(provider *Provider) (*ActivityRepository, error) {
	if provider == nil {
		return nil, errors.New("activity repository requires postgres provider")
	}
	return &ActivityRepository{provider: provider}, nil
}

func (r *ActivityRepository) Insert(ctx context.Context, activity domain.Activity) error {
	const q = `
		insert into activities (id, user_id, type, description, points_earned, created_at)
		values ($1, $2, $3, $4, $5, $6)`

	_, err := r.provider.db(ctx).Exec(ctx, q,
		activity.ID, activity.UserID, activity.Type, activity.Description,
		activity.PointsEarned, activity.CreatedAt,
	)
	return wrapError("activities.insert", err)
}
