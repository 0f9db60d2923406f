package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/subl"
)

// transitionFeed moves a feed's WebSub lifecycle to next, applying set (a
// list of "column = ?" assignments with their args) in the same statement.
func (r Repo) transitionFeed(ctx context.Context, feedID string, next subl.WebSubState, set string, args ...any) (subl.Feed, error) {
	var feed subl.Feed
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := feedByID(ctx, tx, feedID)
		if err != nil {
			return err
		}
		if !current.WebSubState.CanTransition(next) {
			return sublerrs.E(sublerrs.InvalidState,
				fmt.Sprintf("feed %s cannot move from %s to %s", feedID, current.WebSubState, next))
		}

		q := fmt.Sprintf(`UPDATE feeds SET %s, websub_state = ?, updated_at = ? WHERE id = ?;`, set)
		qArgs := append(append([]any{}, args...), next, r.clock(), feedID)
		if _, err := tx.ExecContext(ctx, q, qArgs...); err != nil {
			return fmt.Errorf("error updating websub state: %w", err)
		}

		feed, err = feedByID(ctx, tx, feedID)
		return err
	})
	if err != nil {
		return subl.Feed{}, err
	}

	return feed, nil
}

// BeginWebSub records that a subscribe request was sent to hub. The lease
// stays unknown until the hub confirms it.
func (r Repo) BeginWebSub(ctx context.Context, feedID, hub, secret string) (subl.Feed, error) {
	if err := requireField("websub_hub", hub); err != nil {
		return subl.Feed{}, err
	}

	return r.transitionFeed(ctx, feedID, subl.WebSubPending,
		"websub_hub = ?, websub_secret = ?, websub_lease = NULL", hub, secret)
}

// Hubs may grant any lease; longer ones are cut to this.
const maxLeaseSeconds = 365 * 24 * 60 * 60

// ConfirmWebSubLease records the hub's confirmation of a lease lasting
// leaseSeconds from now, at most a year.
func (r Repo) ConfirmWebSubLease(ctx context.Context, feedID string, leaseSeconds int) (subl.Feed, error) {
	if leaseSeconds <= 0 {
		return subl.Feed{}, sublerrs.E(sublerrs.Invalid, "lease must be positive",
			sublerrs.Detail{Field: "lease_seconds", Error: "must be greater than zero"})
	}

	leaseSeconds = min(leaseSeconds, maxLeaseSeconds)

	lease := r.clock().Add(time.Duration(leaseSeconds) * time.Second)
	return r.transitionFeed(ctx, feedID, subl.WebSubLeased, "websub_lease = ?", lease)
}

// EndWebSub drops the feed's WebSub subscription, after an unsubscribe or a
// denied request. The feed goes back to being polled.
func (r Repo) EndWebSub(ctx context.Context, feedID string) (subl.Feed, error) {
	return r.transitionFeed(ctx, feedID, subl.WebSubNone,
		"websub_hub = '', websub_secret = '', websub_lease = NULL")
}

// LapseWebSubLeases resets every feed whose lease ran out without renewal,
// returning how many were reset.
func (r Repo) LapseWebSubLeases(ctx context.Context) (int64, error) {
	const q = `UPDATE feeds
	SET websub_hub = '', websub_secret = '', websub_lease = NULL, websub_state = 'none', updated_at = ?
	WHERE websub_state = 'leased' AND websub_lease <= ?;`

	var n int64
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		now := r.clock()
		res, err := tx.ExecContext(ctx, q, now, now)
		if err != nil {
			return fmt.Errorf("error lapsing leases: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

// FeedsExpiringSoon returns the leased feeds whose lease runs out within
// threshold, soonest first, so their subscriptions can be renewed.
func (r Repo) FeedsExpiringSoon(ctx context.Context, threshold time.Duration) ([]subl.Feed, error) {
	const q = `SELECT * FROM feeds
	WHERE websub_state = 'leased' AND websub_lease > ? AND websub_lease <= ?
	ORDER BY websub_lease, id;`

	now := r.clock()
	feeds := []subl.Feed{}
	if err := r.db.SelectContext(ctx, &feeds, q, now, now.Add(threshold)); err != nil {
		return nil, fmt.Errorf("error selecting expiring leases: %w", err)
	}

	return feeds, nil
}
