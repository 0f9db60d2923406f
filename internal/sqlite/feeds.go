package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/subl"
)

const (
	feedNamespace = "-fd"
	linkNamespace = "-lnk"
)

func (r Repo) Feed(ctx context.Context, id string) (subl.Feed, error) {
	return feedByID(ctx, r.db, id)
}

func feedByID(ctx context.Context, q sqlx.QueryerContext, id string) (subl.Feed, error) {
	return getOne[subl.Feed](ctx, q, "feed", id, `SELECT * FROM feeds WHERE id = ?;`, id)
}

func feedByURL(ctx context.Context, q sqlx.QueryerContext, url string) (subl.Feed, error) {
	return getOne[subl.Feed](ctx, q, "feed", url, `SELECT * FROM feeds WHERE feed_url = ?;`, url)
}

// FeedByURL looks a feed up by the URL it is fetched from.
func (r Repo) FeedByURL(ctx context.Context, url string) (subl.Feed, error) {
	if id, ok := r.feedIDs.Get(url); ok {
		feed, err := r.Feed(ctx, id)
		if err == nil {
			return feed, nil
		}
		if !sublerrs.Is(err, sublerrs.NotFound) {
			return subl.Feed{}, err
		}
		r.feedIDs.Remove(url)
	}

	feed, err := feedByURL(ctx, r.db, url)
	if err != nil {
		return subl.Feed{}, err
	}
	r.feedIDs.Add(url, feed.ID)

	return feed, nil
}

// UpsertFeed creates the feed for url, or updates the existing one with
// whatever meta carries. Concurrent calls for the same URL converge on a
// single feed.
func (r Repo) UpsertFeed(ctx context.Context, url string, meta subl.FeedMeta) (subl.Feed, error) {
	url = strings.TrimSpace(url)
	if err := requireField("feed_url", url); err != nil {
		return subl.Feed{}, err
	}

	var feed subl.Feed
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		feed, err = r.upsertFeed(ctx, tx, url, meta)
		return err
	})
	if isUniqueViolation(err) {
		return subl.Feed{}, sublerrs.E(sublerrs.Conflict, fmt.Sprintf("feed %q was created concurrently", url))
	}
	if err != nil {
		return subl.Feed{}, err
	}
	r.feedIDs.Add(url, feed.ID)

	return feed, nil
}

func (r Repo) upsertFeed(ctx context.Context, tx *sqlx.Tx, url string, meta subl.FeedMeta) (subl.Feed, error) {
	existing, err := feedByURL(ctx, tx, url)
	switch {
	case sublerrs.Is(err, sublerrs.NotFound):
		existing, err = r.insertFeed(ctx, tx, url, meta)
		if isUniqueViolation(err) {
			// Lost the race with another writer; the retry will find its row.
			return subl.Feed{}, retry.RetryableError(err)
		}
	case err == nil:
		err = r.updateFeed(ctx, tx, existing.ID, meta)
	}
	if err != nil {
		return subl.Feed{}, err
	}

	if meta.Links != nil {
		if err := replaceFeedLinks(ctx, tx, existing.ID, meta.Links); err != nil {
			return subl.Feed{}, err
		}
	}

	return feedByID(ctx, tx, existing.ID)
}

func (r Repo) insertFeed(ctx context.Context, tx *sqlx.Tx, url string, meta subl.FeedMeta) (subl.Feed, error) {
	const q = `INSERT INTO feeds (
		id,
		feed_url,
		self_url,
		title,
		auth_url,
		last_update,
		next_update,
		websub_hub,
		websub_state,
		created_at,
		updated_at
	) VALUES (
		:id,
		:feed_url,
		:self_url,
		:title,
		:auth_url,
		:last_update,
		:next_update,
		:websub_hub,
		:websub_state,
		:created_at,
		:updated_at
	);`

	now := r.clock()
	f := subl.Feed{
		ID:          newID(feedNamespace),
		FeedURL:     url,
		SelfURL:     meta.SelfURL,
		Title:       meta.Title,
		AuthURL:     meta.AuthURL,
		LastUpdate:  utc(meta.LastUpdate),
		NextUpdate:  utc(meta.NextUpdate),
		WebSubHub:   meta.WebSubHub,
		WebSubState: subl.WebSubNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if f.SelfURL == "" {
		f.SelfURL = url
	}
	if _, err := sqlx.NamedExecContext(ctx, tx, q, f); err != nil {
		return subl.Feed{}, fmt.Errorf("error inserting feed: %w", err)
	}

	return f, nil
}

func (r Repo) updateFeed(ctx context.Context, tx *sqlx.Tx, id string, meta subl.FeedMeta) error {
	q := sq.Update("feeds").Set("updated_at", r.clock())
	if meta.SelfURL != "" {
		q = q.Set("self_url", meta.SelfURL)
	}
	if meta.Title != "" {
		q = q.Set("title", meta.Title)
	}
	if meta.AuthURL != "" {
		q = q.Set("auth_url", meta.AuthURL)
	}
	if meta.LastUpdate != nil {
		q = q.Set("last_update", meta.LastUpdate.UTC())
	}
	if meta.NextUpdate != nil {
		q = q.Set("next_update", meta.NextUpdate.UTC())
	}
	if meta.WebSubHub != "" {
		// A hub found by a crawl never replaces the hub of an active subscription.
		q = q.Set("websub_hub", sq.Expr("CASE WHEN websub_state = 'none' THEN ? ELSE websub_hub END", meta.WebSubHub))
	}
	q = q.Where(sq.Eq{"id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error executing feed update: %w", err)
	}

	return nil
}

func replaceFeedLinks(ctx context.Context, tx *sqlx.Tx, feedID string, links []subl.Link) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_links WHERE feed_id = ?;`, feedID); err != nil {
		return fmt.Errorf("error clearing feed links: %w", err)
	}
	if len(links) == 0 {
		return nil
	}

	rows := make([]subl.FeedLink, 0, len(links))
	for _, l := range links {
		rows = append(rows, subl.FeedLink{
			ID:          newID(linkNamespace),
			FeedID:      feedID,
			Href:        l.Href,
			Rel:         l.Rel,
			ContentType: l.ContentType,
		})
	}

	const q = `INSERT INTO feed_links (id, feed_id, href, rel, content_type)
	VALUES (:id, :feed_id, :href, :rel, :content_type);`
	if _, err := sqlx.NamedExecContext(ctx, tx, q, rows); err != nil {
		return fmt.Errorf("error inserting feed links: %w", err)
	}

	return nil
}

// FeedLinks returns the feed's links in the order the feed listed them.
func (r Repo) FeedLinks(ctx context.Context, feedID string) ([]subl.FeedLink, error) {
	if err := mustExist(ctx, r.db, "feeds", "feed", feedID); err != nil {
		return nil, err
	}

	const q = `SELECT * FROM feed_links WHERE feed_id = ? ORDER BY rowid;`

	links := []subl.FeedLink{}
	if err := r.db.SelectContext(ctx, &links, q, feedID); err != nil {
		return nil, fmt.Errorf("error selecting feed links: %w", err)
	}

	return links, nil
}

// FeedsDueForUpdate returns the feeds to poll: those never scheduled or
// scheduled at or before now. Feeds pushed to by a WebSub hub are left out.
func (r Repo) FeedsDueForUpdate(ctx context.Context, now time.Time) ([]subl.Feed, error) {
	const q = `SELECT * FROM feeds
	WHERE websub_state != 'leased' AND (next_update IS NULL OR next_update <= ?)
	ORDER BY next_update, id;`

	feeds := []subl.Feed{}
	if err := r.db.SelectContext(ctx, &feeds, q, now.UTC()); err != nil {
		return nil, fmt.Errorf("error selecting due feeds: %w", err)
	}

	return feeds, nil
}
