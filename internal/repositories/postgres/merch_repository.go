package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/campusclub/api/internal/domain"
)

// MerchItemRepository reads items and options and mutates option stock.
// Item visibility folds in the owning collection: a hidden collection hides
// every item in it.
type MerchItemRepository struct {
	provider *Provider
}

// NewMerchItemRepository constructs a MerchItemRepository over the shared provider.
func NewMerchItemRepository(provider *Provider) (*MerchItemRepository, error) {
	if provider == nil {
		return nil, errors.New("merch item repository requires postgres provider")
	}
	return &MerchItemRepository{provider: provider}, nil
}

const itemColumns = `
	mi.id, mi.collection_id, mi.name, mi.description, mi.picture,
	(mi.hidden or coalesce(mc.hidden, false)) as hidden,
	mi.has_variants_enabled, mi.monthly_limit, mi.lifetime_limit`

func (r *MerchItemRepository) FindItemByID(ctx context.Context, itemID string) (domain.MerchItem, error) {
	q := fmt.Sprintf(`
		select %s
		from merch_items mi
		left join merch_collections mc on mc.id = mi.collection_id
		where mi.id = $1`, itemColumns)

	row := r.provider.db(ctx).QueryRow(ctx, q, itemID)
	item, err := scanItem(row)
	if err != nil {
		return domain.MerchItem{}, wrapError("merchItems.find", err)
	}

	options, err := r.listOptionsByItem(ctx, itemID)
	if err != nil {
		return domain.MerchItem{}, err
	}
	item.Options = options
	return item, nil
}

func (r *MerchItemRepository) FindItemsByIDs(ctx context.Context, itemIDs []string) (map[string]domain.MerchItem, error) {
	if len(itemIDs) == 0 {
		return map[string]domain.MerchItem{}, nil
	}

	q := fmt.Sprintf(`
		select %s
		from merch_items mi
		left join merch_collections mc on mc.id = mi.collection_id
		where mi.id = any($1)`, itemColumns)

	rows, err := r.provider.db(ctx).Query(ctx, q, itemIDs)
	if err != nil {
		return nil, wrapError("merchItems.batchFind", err)
	}
	defer rows.Close()

	items := make(map[string]domain.MerchItem, len(itemIDs))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, wrapError("merchItems.batchFind", err)
		}
		items[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("merchItems.batchFind", err)
	}
	return items, nil
}

func (r *MerchItemRepository) FindOptionsByIDs(ctx context.Context, optionIDs []string) (map[string]domain.MerchItemOption, error) {
	if len(optionIDs) == 0 {
		return map[string]domain.MerchItemOption{}, nil
	}

	const q = `
		select id, item_id, quantity, price, discount_percentage,
		       metadata_type, metadata_value, metadata_position
		from merch_item_options
		where id = any($1)`

	rows, err := r.provider.db(ctx).Query(ctx, q, optionIDs)
	if err != nil {
		return nil, wrapError("merchOptions.batchFind", err)
	}
	defer rows.Close()

	options := make(map[string]domain.MerchItemOption, len(optionIDs))
	for rows.Next() {
		option, err := scanOption(rows)
		if err != nil {
			return nil, wrapError("merchOptions.batchFind", err)
		}
		options[option.ID] = option
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("merchOptions.batchFind", err)
	}
	return options, nil
}

// AdjustOptionQuantity applies a signed stock delta. The quantity check
// lives in the validation engine; the non-negative constraint on the column
// is the last line of defence.
func (r *MerchItemRepository) AdjustOptionQuantity(ctx context.Context, optionID string, delta int) error {
	const q = `update merch_item_options set quantity = quantity + $2 where id = $1`

	tag, err := r.provider.db(ctx).Exec(ctx, q, optionID, delta)
	if err != nil {
		return wrapError("merchOptions.adjustQuantity", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("merchOptions.adjustQuantity", fmt.Errorf("option %s not found", optionID))
	}
	return nil
}

func (r *MerchItemRepository) listOptionsByItem(ctx context.Context, itemID string) ([]domain.MerchItemOption, error) {
	const q = `
		select id, item_id, quantity, price, discount_percentage,
		       metadata_type, metadata_value, metadata_position
		from merch_item_options
		where item_id = $1
		order by metadata_position nulls first, id`

	rows, err := r.provider.db(ctx).Query(ctx, q, itemID)
	if err != nil {
		return nil, wrapError("merchOptions.listByItem", err)
	}
	defer rows.Close()

	var options []domain.MerchItemOption
	for rows.Next() {
		option, err := scanOption(rows)
		if err != nil {
			return nil, wrapError("merchOptions.listByItem", err)
		}
		options = append(options, option)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("merchOptions.listByItem", err)
	}
	return options, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.MerchItem, error) {
	var (
		item          domain.MerchItem
		monthlyLimit  sql.NullInt32
		lifetimeLimit sql.NullInt32
	)
	err := row.Scan(
		&item.ID, &item.CollectionID, &item.Name, &item.Description, &item.Picture,
		&item.Hidden, &item.HasVariantsEnabled, &monthlyLimit, &lifetimeLimit,
	)
	if err != nil {
		return domain.MerchItem{}, err
	}
	if monthlyLimit.Valid {
		limit := int(monthlyLimit.Int32)
		item.MonthlyLimit = &limit
	}
	if lifetimeLimit.Valid {
		limit := int(lifetimeLimit.Int32)
		item.LifetimeLimit = &limit
	}
	return item, nil
}

func scanOption(row rowScanner) (domain.MerchItemOption, error) {
	var (
		option   domain.MerchItemOption
		metaType sql.NullString
		metaVal  sql.NullString
		metaPos  sql.NullInt32
	)
	err := row.Scan(
		&option.ID, &option.ItemID, &option.Quantity, &option.Price,
		&option.DiscountPercentage, &metaType, &metaVal, &metaPos,
	)
	if err != nil {
		return domain.MerchItemOption{}, err
	}
	if metaType.Valid {
		option.Metadata = &domain.OptionMetadata{
			Type:     metaType.String,
			Value:    metaVal.String,
			Position: int(metaPos.Int32),
		}
	}
	return option, nil
}
