package sqlite

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/subl"
)

const (
	channelNamespace = "-chn"

	defaultPageLimit = 50
	maxPageLimit     = 500
)

func channelByID(ctx context.Context, q sqlx.QueryerContext, id string) (subl.Channel, error) {
	return getOne[subl.Channel](ctx, q, "channel", id, `SELECT * FROM channels WHERE id = ?;`, id)
}

func (r Repo) CreateChannel(ctx context.Context, args subl.ChannelArgs) (subl.Channel, error) {
	if err := args.Validate(); err != nil {
		return subl.Channel{}, err
	}

	const q = `INSERT INTO channels (id, user_id, name, sort_order, expiration_policy, expiration_time, created_at)
	VALUES (:id, :user_id, :name, :sort_order, :expiration_policy, :expiration_time, :created_at);`

	ch := subl.Channel{
		ID:               newID(channelNamespace),
		UserID:           args.UserID,
		Name:             args.Name,
		SortOrder:        args.SortOrder,
		ExpirationPolicy: args.Policy,
		ExpirationTime:   args.ExpirationTime,
		CreatedAt:        r.clock(),
	}
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := mustExist(ctx, tx, "users", "user", args.UserID); err != nil {
			return err
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, q, ch); err != nil {
			return fmt.Errorf("error inserting channel: %w", err)
		}

		var err error
		ch, err = channelByID(ctx, tx, ch.ID)
		return err
	})
	if err != nil {
		return subl.Channel{}, err
	}

	return ch, nil
}

func (r Repo) Channel(ctx context.Context, id string) (subl.Channel, error) {
	return channelByID(ctx, r.db, id)
}

func (r Repo) UserChannels(ctx context.Context, userID string) ([]subl.Channel, error) {
	const q = `SELECT * FROM channels WHERE user_id = ? ORDER BY created_at, id;`

	channels := []subl.Channel{}
	if err := r.db.SelectContext(ctx, &channels, q, userID); err != nil {
		return nil, fmt.Errorf("error selecting channels: %w", err)
	}

	return channels, nil
}

func (r Repo) updateChannel(ctx context.Context, id, q string, args ...any) (subl.Channel, error) {
	var ch subl.Channel
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := execOne(ctx, tx, "channel", id, q, args...); err != nil {
			return err
		}

		var err error
		ch, err = channelByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return subl.Channel{}, err
	}

	return ch, nil
}

func (r Repo) RenameChannel(ctx context.Context, id, name string) (subl.Channel, error) {
	name = strings.TrimSpace(name)
	if err := requireField("name", name); err != nil {
		return subl.Channel{}, err
	}

	return r.updateChannel(ctx, id, `UPDATE channels SET name = ? WHERE id = ?;`, name, id)
}

// SetChannelPolicy changes what the channel does with items over time.
func (r Repo) SetChannelPolicy(ctx context.Context, id string, policy subl.ExpirationPolicy, expiration *time.Duration) (subl.Channel, error) {
	exp, err := subl.ValidatePolicy(policy, expiration)
	if err != nil {
		return subl.Channel{}, err
	}

	const q = `UPDATE channels SET expiration_policy = ?, expiration_time = ? WHERE id = ?;`
	return r.updateChannel(ctx, id, q, policy, exp, id)
}

func (r Repo) SetChannelSortOrder(ctx context.Context, id string, order subl.SortOrder) (subl.Channel, error) {
	if _, err := subl.ParseSortOrder(int(order)); err != nil {
		return subl.Channel{}, err
	}

	return r.updateChannel(ctx, id, `UPDATE channels SET sort_order = ? WHERE id = ?;`, order, id)
}

// DeleteChannel deletes the channel. Its subscriptions and their items are
// left alone.
func (r Repo) DeleteChannel(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := mustExist(ctx, tx, "channels", "channel", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM channel_subscriptions WHERE channel_id = ?;`, id); err != nil {
			return fmt.Errorf("error deleting channel memberships: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?;`, id); err != nil {
			return fmt.Errorf("error deleting channel: %w", err)
		}

		return nil
	})
}

// AddChannelSubscription binds a subscription to a channel. Both must belong
// to the same user. Adding it twice is a no-op.
func (r Repo) AddChannelSubscription(ctx context.Context, channelID, subscriptionID string) error {
	const q = `INSERT OR IGNORE INTO channel_subscriptions (channel_id, subscription_id) VALUES (?, ?);`

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		ch, err := channelByID(ctx, tx, channelID)
		if err != nil {
			return err
		}
		sub, err := subscriptionByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if ch.UserID != sub.UserID {
			return sublerrs.E(sublerrs.Forbidden,
				fmt.Sprintf("subscription %s and channel %s belong to different users", subscriptionID, channelID))
		}

		if _, err := tx.ExecContext(ctx, q, channelID, subscriptionID); err != nil {
			return fmt.Errorf("error adding subscription to channel: %w", err)
		}

		return nil
	})
}

func (r Repo) RemoveChannelSubscription(ctx context.Context, channelID, subscriptionID string) error {
	const q = `DELETE FROM channel_subscriptions WHERE channel_id = ? AND subscription_id = ?;`

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return execOne(ctx, tx, "channel subscription", channelID+"/"+subscriptionID, q, channelID, subscriptionID)
	})
}

// ChannelSubscriptions returns the channel's subscriptions in the order
// they were added.
func (r Repo) ChannelSubscriptions(ctx context.Context, channelID string) ([]subl.Subscription, error) {
	if err := mustExist(ctx, r.db, "channels", "channel", channelID); err != nil {
		return nil, err
	}

	const q = `SELECT s.* FROM subscriptions s
	JOIN channel_subscriptions cs ON cs.subscription_id = s.id
	WHERE cs.channel_id = ?
	ORDER BY cs.rowid;`

	subs := []subl.Subscription{}
	if err := r.db.SelectContext(ctx, &subs, q, channelID); err != nil {
		return nil, fmt.Errorf("error selecting channel subscriptions: %w", err)
	}

	return subs, nil
}

func pageLimit(limit uint64) uint64 {
	switch {
	case limit == 0:
		return defaultPageLimit
	case limit > maxPageLimit:
		return maxPageLimit
	default:
		return limit
	}
}

// ListChannelItems returns one page of the items visible through the
// channel, in the channel's sort order. An item reachable through several
// of the channel's subscriptions appears once, unread if any of them has
// it unread. The returned cursor is nil on the last page.
func (r Repo) ListChannelItems(ctx context.Context, channelID string, args subl.ChannelListArgs) ([]subl.ChannelItem, *subl.ItemCursor, error) {
	ch, err := r.Channel(ctx, channelID)
	if err != nil {
		return nil, nil, err
	}

	dir, cmp := "ASC", ">"
	if ch.SortOrder == subl.SortNewest {
		dir, cmp = "DESC", "<"
	}
	limit := pageLimit(args.Limit)

	q := sq.Select("i.*", "MAX(si.unread) AS unread").
		From("items i").
		Join("subscription_items si ON si.item_id = i.id").
		Join("channel_subscriptions cs ON cs.subscription_id = si.subscription_id").
		Where(sq.Eq{"cs.channel_id": channelID}).
		GroupBy("i.id").
		OrderBy("i.published "+dir, "i.id "+dir).
		Limit(limit + 1)
	if args.After != nil {
		after := args.After.Published.UTC()
		q = q.Where(sq.Or{
			sq.Expr("i.published "+cmp+" ?", after),
			sq.And{
				sq.Eq{"i.published": after},
				sq.Expr("i.id "+cmp+" ?", args.After.ID),
			},
		})
	}
	if args.UnreadOnly {
		q = q.Having("MAX(si.unread) = 1")
	}

	query, qArgs, err := q.ToSql()
	if err != nil {
		return nil, nil, fmt.Errorf("error constructing sql: %w", err)
	}

	items := []subl.ChannelItem{}
	if err := r.db.SelectContext(ctx, &items, query, qArgs...); err != nil {
		return nil, nil, fmt.Errorf("error selecting channel items: %w", err)
	}

	if uint64(len(items)) <= limit {
		return items, nil, nil
	}
	items = items[:limit]
	next := items[len(items)-1].Cursor()

	return items, &next, nil
}

// ChannelItems walks every item visible through the channel, a page at a
// time. Iteration stops at the first error, which is yielded.
func (r Repo) ChannelItems(ctx context.Context, channelID string, args subl.ChannelListArgs) iter.Seq2[subl.ChannelItem, error] {
	return func(yield func(subl.ChannelItem, error) bool) {
		page := args
		for {
			items, next, err := r.ListChannelItems(ctx, channelID, page)
			if err != nil {
				yield(subl.ChannelItem{}, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			page.After = next
		}
	}
}
