package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/logger"
	"github.com/jdholdren/subl/internal/subl"
)

// expirable selects the items of the channel that may be deleted: owned by
// a subscription (a feed's public items never expire), last seen before
// cutoff, kept in no collection, not unread in a NEVER channel and not part
// of a BACKFILL channel.
func expirable(channelID string, cutoff time.Time, columns ...string) sq.SelectBuilder {
	return sq.Select(columns...).
		From("items i").
		Where(sq.Expr(`i.id IN (
			SELECT si.item_id FROM subscription_items si
			JOIN channel_subscriptions cs ON cs.subscription_id = si.subscription_id
			WHERE cs.channel_id = ?
		)`, channelID)).
		Where("i.feed_id IS NULL").
		Where(sq.Lt{"i.last_seen": cutoff.UTC()}).
		Where("i.id NOT IN (SELECT item_id FROM collection_items)").
		Where(sq.Expr(`i.id NOT IN (
			SELECT si.item_id FROM subscription_items si
			JOIN channel_subscriptions cs ON cs.subscription_id = si.subscription_id
			JOIN channels c ON c.id = cs.channel_id
			WHERE (c.expiration_policy = ? AND si.unread = 1) OR c.expiration_policy = ?
		)`, int(subl.PolicyNever), int(subl.PolicyBackfill)))
}

// ExpirableItems returns the items a sweep of the channel at now would
// delete. Channels not on the EXPIRE policy have none.
func (r Repo) ExpirableItems(ctx context.Context, channelID string, now time.Time) ([]subl.Item, error) {
	ch, err := r.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	items := []subl.Item{}
	cutoff, ok := ch.ExpiryCutoff(now)
	if !ok {
		return items, nil
	}

	query, args, err := expirable(ch.ID, cutoff, "i.*").OrderBy("i.last_seen", "i.id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting expirable items: %w", err)
	}

	return items, nil
}

// SweepChannel deletes the channel's expirable items at now, returning how
// many went. Eligibility is decided inside the deleting transaction, so an
// item pinned or marked unread concurrently is never lost.
func (r Repo) SweepChannel(ctx context.Context, channelID string, now time.Time) (int64, error) {
	var deleted int64
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		deleted = 0

		ch, err := channelByID(ctx, tx, channelID)
		if sublerrs.Is(err, sublerrs.NotFound) {
			// Deleted since the sweep started.
			return nil
		}
		if err != nil {
			return err
		}

		cutoff, ok := ch.ExpiryCutoff(now)
		if !ok {
			return nil
		}

		deleted, err = deleteItems(ctx, tx, expirable(ch.ID, cutoff, "i.id"))
		return err
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// deleteItems removes the items selected by sel, with their links and read
// state. The ids are staged in a temp table private to the connection, so
// the statements don't grow with the number of items.
func deleteItems(ctx context.Context, tx *sqlx.Tx, sel sq.SelectBuilder) (int64, error) {
	const (
		create = `CREATE TEMP TABLE IF NOT EXISTS doomed_items (id TEXT PRIMARY KEY);`
		reset  = `DELETE FROM doomed_items;`
	)

	if _, err := tx.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("error creating doomed_items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, reset); err != nil {
		return 0, fmt.Errorf("error clearing doomed_items: %w", err)
	}

	query, args, err := sq.Insert("doomed_items").Columns("id").Select(sel).ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("error selecting items to delete: %w", err)
	}

	for _, table := range []string{"item_links", "subscription_items"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE item_id IN (SELECT id FROM doomed_items);`, table)
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return 0, fmt.Errorf("error deleting from %s: %w", table, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id IN (SELECT id FROM doomed_items);`)
	if err != nil {
		return 0, fmt.Errorf("error deleting items: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error deleting items: %w", err)
	}

	if _, err := tx.ExecContext(ctx, reset); err != nil {
		return 0, fmt.Errorf("error clearing doomed_items: %w", err)
	}

	return deleted, nil
}

// DeleteOrphans removes items that lost their owner and are no longer kept
// by any collection.
func (r Repo) DeleteOrphans(ctx context.Context) (int64, error) {
	orphans := sq.Select("id").
		From("items").
		Where("feed_id IS NULL AND subscription_id IS NULL").
		Where("id NOT IN (SELECT item_id FROM subscription_items)").
		Where("id NOT IN (SELECT item_id FROM collection_items)")

	var deleted int64
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		deleted, err = deleteItems(ctx, tx, orphans)
		return err
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// Sweep runs expiration over every EXPIRE channel at now, one transaction
// per channel. A channel that fails is logged and left for the next pass;
// the others are still swept.
func (r Repo) Sweep(ctx context.Context, now time.Time) (subl.SweepResult, error) {
	const q = `SELECT id FROM channels WHERE expiration_policy = ? ORDER BY id;`

	var res subl.SweepResult
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, q, subl.PolicyExpire); err != nil {
		return res, fmt.Errorf("error selecting channels to sweep: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ctx := logger.Ctx(ctx, slog.String("channel_id", id))
		res.Channels++

		n, err := r.SweepChannel(ctx, id, now)
		if err != nil {
			slog.ErrorContext(ctx, "error sweeping channel", "error", err)
			res.Failed++
			continue
		}
		res.Deleted += n
		if n > 0 {
			slog.DebugContext(ctx, "swept channel", "deleted", n)
		}
	}

	orphans, err := r.DeleteOrphans(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "error deleting orphaned items", "error", err)
	}
	res.Orphans = orphans

	slog.InfoContext(ctx, "sweep finished",
		"channels", res.Channels,
		"failed", res.Failed,
		"deleted", res.Deleted,
		"orphans", res.Orphans,
	)

	return res, nil
}
