package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/campusclub/api/internal/domain"
)

// UserRepository reads member accounts and mutates credit balances.
type UserRepository struct {
	provider *Provider
}

// NewUserRepository constructs a UserRepository over the shared provider.
func NewUserRepository(provider *Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires postgres provider")
	}
	return &UserRepository{provider: provider}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	const q = `
		select id, email, first_name, last_name, access_type, credits, created_at
		from users
		where id = $1`

	var user domain.User
	err := r.provider.db(ctx).QueryRow(ctx, q, userID).Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName,
		&user.AccessType, &user.Credits, &user.CreatedAt,
	)
	if err != nil {
		return domain.User{}, wrapError("users.find", err)
	}
	return user, nil
}

// AdjustCredits applies a signed delta to the balance. Sufficiency is the
// service's concern; the check-then-adjust sequence is protected by the
// enclosing serializable transaction.
func (r *UserRepository) AdjustCredits(ctx context.Context, userID string, delta int64) error {
	const q = `update users set credits = credits + $2 where id = $1`

	tag, err := r.provider.db(ctx).Exec(ctx, q, userID, delta)
	if err != nil {
		return wrapError("users.adjustCredits", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("users.adjustCredits", fmt.Errorf("user %s not found", userID))
	}
	return nil
}
