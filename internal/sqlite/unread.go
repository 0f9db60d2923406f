package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/subl/internal/subl"
)

// SetUnread flips the read state of one item for one subscription.
func (r Repo) SetUnread(ctx context.Context, subscriptionID, itemID string, unread bool) error {
	const q = `UPDATE subscription_items SET unread = ? WHERE subscription_id = ? AND item_id = ?;`

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return execOne(ctx, tx, "subscription item", subscriptionID+"/"+itemID, q, unread, subscriptionID, itemID)
	})
}

// MarkAllRead marks every item of the subscription read, returning how many
// were unread.
func (r Repo) MarkAllRead(ctx context.Context, subscriptionID string) (int64, error) {
	const q = `UPDATE subscription_items SET unread = 0 WHERE subscription_id = ? AND unread = 1;`

	var n int64
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := mustExist(ctx, tx, "subscriptions", "subscription", subscriptionID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, q, subscriptionID)
		if err != nil {
			return fmt.Errorf("error marking items read: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

func (r Repo) SubscriptionItem(ctx context.Context, subscriptionID, itemID string) (subl.SubscriptionItem, error) {
	const q = `SELECT * FROM subscription_items WHERE subscription_id = ? AND item_id = ?;`
	return getOne[subl.SubscriptionItem](ctx, r.db, "subscription item", subscriptionID+"/"+itemID, q, subscriptionID, itemID)
}

// SubscriptionItems lists the subscription's items, newest first.
func (r Repo) SubscriptionItems(ctx context.Context, subscriptionID string, unreadOnly bool) ([]subl.Item, error) {
	if err := mustExist(ctx, r.db, "subscriptions", "subscription", subscriptionID); err != nil {
		return nil, err
	}

	where := sq.Eq{"si.subscription_id": subscriptionID}
	if unreadOnly {
		where["si.unread"] = true
	}
	query, args, err := sq.Select("i.*").
		From("items i").
		Join("subscription_items si ON si.item_id = i.id").
		Where(where).
		OrderBy("i.published DESC", "i.id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	items := []subl.Item{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting subscription items: %w", err)
	}

	return items, nil
}

func (r Repo) UnreadCount(ctx context.Context, subscriptionID string) (int, error) {
	const q = `SELECT COUNT(*) FROM subscription_items WHERE subscription_id = ? AND unread = 1;`

	var count int
	if err := r.db.GetContext(ctx, &count, q, subscriptionID); err != nil {
		return 0, fmt.Errorf("error counting unread items: %w", err)
	}

	return count, nil
}
