package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/subl"
)

const subscriptionNamespace = "-sub"

func subscriptionByID(ctx context.Context, q sqlx.QueryerContext, id string) (subl.Subscription, error) {
	return getOne[subl.Subscription](ctx, q, "subscription", id, `SELECT * FROM subscriptions WHERE id = ?;`, id)
}

// Subscribe subscribes the user to the feed. The feed's public items become
// visible to the new subscription, unread.
func (r Repo) Subscribe(ctx context.Context, userID, feedID string, auth subl.SubscriptionAuth) (subl.Subscription, error) {
	const (
		insert = `INSERT INTO subscriptions (id, user_id, feed_id, auth_cookie, auth_token, created_at)
		VALUES (:id, :user_id, :feed_id, :auth_cookie, :auth_token, :created_at);`
		attach = `INSERT OR IGNORE INTO subscription_items (subscription_id, item_id, unread)
		SELECT ?, id, 1 FROM items WHERE feed_id = ?;`
	)

	var sub subl.Subscription
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := mustExist(ctx, tx, "users", "user", userID); err != nil {
			return err
		}
		if err := mustExist(ctx, tx, "feeds", "feed", feedID); err != nil {
			return err
		}

		sub = subl.Subscription{
			ID:         newID(subscriptionNamespace),
			UserID:     userID,
			FeedID:     feedID,
			AuthCookie: auth.Cookie,
			AuthToken:  auth.Token,
			CreatedAt:  r.clock(),
		}
		_, err := sqlx.NamedExecContext(ctx, tx, insert, sub)
		if isUniqueViolation(err) {
			return sublerrs.E(sublerrs.Conflict, fmt.Sprintf("user %s is already subscribed to feed %s", userID, feedID))
		}
		if err != nil {
			return fmt.Errorf("error inserting subscription: %w", err)
		}

		if _, err := tx.ExecContext(ctx, attach, sub.ID, feedID); err != nil {
			return fmt.Errorf("error attaching feed items: %w", err)
		}

		sub, err = subscriptionByID(ctx, tx, sub.ID)
		return err
	})
	if err != nil {
		return subl.Subscription{}, err
	}

	return sub, nil
}

// Unsubscribe deletes the subscription with its tags, channel memberships
// and read state. Items it owns go too, except those kept in a collection,
// which lose their owner instead.
func (r Repo) Unsubscribe(ctx context.Context, id string) error {
	steps := []struct {
		what string
		q    string
	}{
		{"tags", `DELETE FROM tags WHERE subscription_id = ?;`},
		{"channel memberships", `DELETE FROM channel_subscriptions WHERE subscription_id = ?;`},
		{"subscription items", `DELETE FROM subscription_items WHERE subscription_id = ?;`},
		{"item links", `DELETE FROM item_links WHERE item_id IN (
			SELECT id FROM items WHERE subscription_id = ? AND id NOT IN (SELECT item_id FROM collection_items)
		);`},
		{"items", `DELETE FROM items WHERE subscription_id = ? AND id NOT IN (SELECT item_id FROM collection_items);`},
		{"pinned items", `UPDATE items SET subscription_id = NULL WHERE subscription_id = ?;`},
		{"subscription", `DELETE FROM subscriptions WHERE id = ?;`},
	}

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := mustExist(ctx, tx, "subscriptions", "subscription", id); err != nil {
			return err
		}

		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, step.q, id); err != nil {
				return fmt.Errorf("error deleting %s: %w", step.what, err)
			}
		}

		return nil
	})
}

// updateSubscription applies a single-statement change to a subscription
// and returns the result.
func (r Repo) updateSubscription(ctx context.Context, id, q string, args ...any) (subl.Subscription, error) {
	var sub subl.Subscription
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := execOne(ctx, tx, "subscription", id, q, args...); err != nil {
			return err
		}

		var err error
		sub, err = subscriptionByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return subl.Subscription{}, err
	}

	return sub, nil
}

// RecordAuthError keeps the last authentication failure seen while
// fetching the feed for this subscription.
func (r Repo) RecordAuthError(ctx context.Context, id string, code int, message string) (subl.Subscription, error) {
	const q = `UPDATE subscriptions SET auth_error_code = ?, auth_error_message = ? WHERE id = ?;`
	return r.updateSubscription(ctx, id, q, code, message, id)
}

func (r Repo) ClearAuthError(ctx context.Context, id string) (subl.Subscription, error) {
	const q = `UPDATE subscriptions SET auth_error_code = NULL, auth_error_message = '' WHERE id = ?;`
	return r.updateSubscription(ctx, id, q, id)
}

// UpdateAuth replaces the subscription's credentials. A stale auth error is
// cleared along with them.
func (r Repo) UpdateAuth(ctx context.Context, id string, auth subl.SubscriptionAuth) (subl.Subscription, error) {
	const q = `UPDATE subscriptions
	SET auth_cookie = ?, auth_token = ?, auth_error_code = NULL, auth_error_message = ''
	WHERE id = ?;`
	return r.updateSubscription(ctx, id, q, auth.Cookie, auth.Token, id)
}

// TouchSubscription records a completed fetch on behalf of the subscription.
func (r Repo) TouchSubscription(ctx context.Context, id string, at time.Time) (subl.Subscription, error) {
	const q = `UPDATE subscriptions SET last_update = ? WHERE id = ?;`
	return r.updateSubscription(ctx, id, q, at.UTC(), id)
}

// RecordBackfill marks the subscription's archive as fully walked at at.
func (r Repo) RecordBackfill(ctx context.Context, id string, at time.Time) (subl.Subscription, error) {
	const q = `UPDATE subscriptions SET last_backfill = ? WHERE id = ?;`
	return r.updateSubscription(ctx, id, q, at.UTC(), id)
}

func (r Repo) Subscription(ctx context.Context, id string) (subl.Subscription, error) {
	return subscriptionByID(ctx, r.db, id)
}

func (r Repo) SubscriptionByUserFeed(ctx context.Context, userID, feedID string) (subl.Subscription, error) {
	const q = `SELECT * FROM subscriptions WHERE user_id = ? AND feed_id = ?;`
	return getOne[subl.Subscription](ctx, r.db, "subscription", userID+"/"+feedID, q, userID, feedID)
}

func (r Repo) UserSubscriptions(ctx context.Context, userID string) ([]subl.Subscription, error) {
	const q = `SELECT * FROM subscriptions WHERE user_id = ? ORDER BY created_at, id;`

	subs := []subl.Subscription{}
	if err := r.db.SelectContext(ctx, &subs, q, userID); err != nil {
		return nil, fmt.Errorf("error selecting subscriptions: %w", err)
	}

	return subs, nil
}

func (r Repo) FeedSubscriptions(ctx context.Context, feedID string) ([]subl.Subscription, error) {
	const q = `SELECT * FROM subscriptions WHERE feed_id = ? ORDER BY created_at, id;`

	subs := []subl.Subscription{}
	if err := r.db.SelectContext(ctx, &subs, q, feedID); err != nil {
		return nil, fmt.Errorf("error selecting subscriptions: %w", err)
	}

	return subs, nil
}

// SubscriptionsDueForBackfill returns the subscriptions bound to a BACKFILL
// channel whose archive should be walked again at now. A subscription in
// several such channels follows the shortest recrawl interval; a channel
// without one falls back to defaultRecheck.
func (r Repo) SubscriptionsDueForBackfill(ctx context.Context, now time.Time, defaultRecheck time.Duration) ([]subl.Subscription, error) {
	const q = `SELECT s.*, MIN(c.expiration_time) AS recrawl
	FROM subscriptions s
	JOIN channel_subscriptions cs ON cs.subscription_id = s.id
	JOIN channels c ON c.id = cs.channel_id
	WHERE c.expiration_policy = ?
	GROUP BY s.id
	ORDER BY s.created_at, s.id;`

	var rows []struct {
		subl.Subscription
		Recrawl *int64 `db:"recrawl"`
	}
	if err := r.db.SelectContext(ctx, &rows, q, subl.PolicyBackfill); err != nil {
		return nil, fmt.Errorf("error selecting backfill subscriptions: %w", err)
	}

	due := []subl.Subscription{}
	for _, row := range rows {
		recheck := defaultRecheck
		if row.Recrawl != nil && *row.Recrawl > 0 {
			recheck = time.Duration(*row.Recrawl)
		}
		if subl.NeedsBackfill(row.Subscription, now, recheck) {
			due = append(due, row.Subscription)
		}
	}

	return due, nil
}
