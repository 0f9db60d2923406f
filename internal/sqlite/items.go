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

const itemNamespace = "-itm"

func itemByID(ctx context.Context, q sqlx.QueryerContext, id string) (subl.Item, error) {
	return getOne[subl.Item](ctx, q, "item", id, `SELECT * FROM items WHERE id = ?;`, id)
}

func (r Repo) Item(ctx context.Context, id string) (subl.Item, error) {
	return itemByID(ctx, r.db, id)
}

// ItemLinks returns the item's links in the order the feed listed them.
func (r Repo) ItemLinks(ctx context.Context, itemID string) ([]subl.ItemLink, error) {
	if err := mustExist(ctx, r.db, "items", "item", itemID); err != nil {
		return nil, err
	}

	const q = `SELECT * FROM item_links WHERE item_id = ? ORDER BY rowid;`

	links := []subl.ItemLink{}
	if err := r.db.SelectContext(ctx, &links, q, itemID); err != nil {
		return nil, fmt.Errorf("error selecting item links: %w", err)
	}

	return links, nil
}

// IngestItem records that the item guid was seen in scope. A new item is
// created unread for every subscription that can see it. A known item keeps
// its publication date and read state, has its fields refreshed and its
// last_seen moved forward.
func (r Repo) IngestItem(ctx context.Context, scope subl.Scope, guid string, fields subl.ItemFields) (subl.Item, error) {
	if err := scope.Validate(); err != nil {
		return subl.Item{}, err
	}
	guid = strings.TrimSpace(guid)
	if err := requireField("guid", guid); err != nil {
		return subl.Item{}, err
	}
	fields = fields.Normalize()

	var item subl.Item
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		item, err = r.ingest(ctx, tx, scope, guid, fields)
		return err
	})
	if isUniqueViolation(err) {
		return subl.Item{}, sublerrs.E(sublerrs.Conflict, fmt.Sprintf("item %q was created concurrently", guid))
	}
	if err != nil {
		return subl.Item{}, err
	}

	return item, nil
}

func (r Repo) ingest(ctx context.Context, tx *sqlx.Tx, scope subl.Scope, guid string, fields subl.ItemFields) (subl.Item, error) {
	if scope.FeedID != "" {
		if err := mustExist(ctx, tx, "feeds", "feed", scope.FeedID); err != nil {
			return subl.Item{}, err
		}
	} else {
		if err := mustExist(ctx, tx, "subscriptions", "subscription", scope.SubscriptionID); err != nil {
			return subl.Item{}, err
		}
	}

	now := r.clock()
	item, err := itemByKey(ctx, tx, scope, guid)
	switch {
	case sublerrs.Is(err, sublerrs.NotFound):
		item, err = insertItem(ctx, tx, scope, guid, fields, now)
		if isUniqueViolation(err) {
			// Lost the race with another writer; the retry will find its row.
			return subl.Item{}, retry.RetryableError(err)
		}
	case err == nil:
		err = refreshItem(ctx, tx, item, fields, now)
	}
	if err != nil {
		return subl.Item{}, err
	}

	if fields.Links != nil {
		if err := replaceItemLinks(ctx, tx, item.ID, fields.Links); err != nil {
			return subl.Item{}, err
		}
	}

	// Rows that already exist keep their read state.
	if scope.FeedID != "" {
		const q = `INSERT OR IGNORE INTO subscription_items (subscription_id, item_id, unread)
		SELECT id, ?, 1 FROM subscriptions WHERE feed_id = ?;`
		if _, err := tx.ExecContext(ctx, q, item.ID, scope.FeedID); err != nil {
			return subl.Item{}, fmt.Errorf("error attaching item to subscribers: %w", err)
		}
	} else {
		const q = `INSERT OR IGNORE INTO subscription_items (subscription_id, item_id, unread) VALUES (?, ?, 1);`
		if _, err := tx.ExecContext(ctx, q, scope.SubscriptionID, item.ID); err != nil {
			return subl.Item{}, fmt.Errorf("error attaching item to subscription: %w", err)
		}
	}

	return itemByID(ctx, tx, item.ID)
}

func itemByKey(ctx context.Context, tx *sqlx.Tx, scope subl.Scope, guid string) (subl.Item, error) {
	where := sq.Eq{"guid": guid}
	if scope.FeedID != "" {
		where["feed_id"] = scope.FeedID
	} else {
		where["subscription_id"] = scope.SubscriptionID
	}

	query, args, err := sq.Select("*").From("items").Where(where).ToSql()
	if err != nil {
		return subl.Item{}, fmt.Errorf("error constructing sql: %w", err)
	}

	return getOne[subl.Item](ctx, tx, "item", guid, query, args...)
}

func insertItem(ctx context.Context, tx *sqlx.Tx, scope subl.Scope, guid string, fields subl.ItemFields, now time.Time) (subl.Item, error) {
	const q = `INSERT INTO items (
		id,
		feed_id,
		subscription_id,
		guid,
		published,
		updated,
		title,
		summary,
		content,
		link,
		last_seen,
		created_at
	) VALUES (
		:id,
		:feed_id,
		:subscription_id,
		:guid,
		:published,
		:updated,
		:title,
		:summary,
		:content,
		:link,
		:last_seen,
		:created_at
	);`

	item := subl.Item{
		ID:        newID(itemNamespace),
		GUID:      guid,
		Published: now,
		Updated:   fields.Updated,
		Title:     fields.Title,
		Summary:   fields.Summary,
		Content:   fields.Content,
		Link:      fields.Link,
		LastSeen:  now,
		CreatedAt: now,
	}
	if fields.Published != nil {
		item.Published = *fields.Published
	}
	if scope.FeedID != "" {
		item.FeedID = &scope.FeedID
	} else {
		item.SubscriptionID = &scope.SubscriptionID
	}

	if _, err := sqlx.NamedExecContext(ctx, tx, q, item); err != nil {
		return subl.Item{}, fmt.Errorf("error inserting item: %w", err)
	}

	return item, nil
}

// refreshItem updates a known item from a newer sighting. Empty fields keep
// what's stored. The publication date never changes and last_seen only ever
// moves forward.
func refreshItem(ctx context.Context, tx *sqlx.Tx, item subl.Item, fields subl.ItemFields, now time.Time) error {
	const q = `UPDATE items SET
		updated = COALESCE(?, updated),
		title = COALESCE(NULLIF(?, ''), title),
		summary = COALESCE(NULLIF(?, ''), summary),
		content = COALESCE(NULLIF(?, ''), content),
		link = COALESCE(NULLIF(?, ''), link),
		last_seen = ?
	WHERE id = ?;`

	seen := now
	if !seen.After(item.LastSeen) {
		seen = item.LastSeen.UTC().Add(time.Nanosecond)
	}

	if _, err := tx.ExecContext(ctx, q, fields.Updated, fields.Title, fields.Summary, fields.Content, fields.Link, seen, item.ID); err != nil {
		return fmt.Errorf("error refreshing item: %w", err)
	}

	return nil
}

func replaceItemLinks(ctx context.Context, tx *sqlx.Tx, itemID string, links []subl.Link) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_links WHERE item_id = ?;`, itemID); err != nil {
		return fmt.Errorf("error clearing item links: %w", err)
	}
	if len(links) == 0 {
		return nil
	}

	rows := make([]subl.ItemLink, 0, len(links))
	for _, l := range links {
		rows = append(rows, subl.ItemLink{
			ID:          newID(linkNamespace),
			ItemID:      itemID,
			Href:        l.Href,
			Rel:         l.Rel,
			ContentType: l.ContentType,
		})
	}

	const q = `INSERT INTO item_links (id, item_id, href, rel, content_type)
	VALUES (:id, :item_id, :href, :rel, :content_type);`
	if _, err := sqlx.NamedExecContext(ctx, tx, q, rows); err != nil {
		return fmt.Errorf("error inserting item links: %w", err)
	}

	return nil
}

// IngestSnapshot applies a fetched copy of a feed: the feed record is
// upserted, then every item is ingested. With a subscriptionID the items
// are authenticated content owned by that subscription; without one they
// are the feed's public items.
//
// Items are ingested one transaction each. On error the items ingested so
// far are returned along with it.
func (r Repo) IngestSnapshot(ctx context.Context, snap subl.Snapshot, subscriptionID string) ([]subl.Item, error) {
	feed, err := r.UpsertFeed(ctx, snap.FeedURL, snap.FeedMeta)
	if err != nil {
		return nil, err
	}

	scope := subl.FeedScope(feed.ID)
	if subscriptionID != "" {
		sub, err := r.Subscription(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if sub.FeedID != feed.ID {
			return nil, sublerrs.E(sublerrs.Invalid,
				fmt.Sprintf("subscription %s is not subscribed to feed %s", subscriptionID, feed.ID))
		}
		scope = subl.SubscriptionScope(subscriptionID)
	}

	items := make([]subl.Item, 0, len(snap.Items))
	for _, si := range snap.Items {
		item, err := r.IngestItem(ctx, scope, si.GUID, si.ItemFields)
		if err != nil {
			return items, fmt.Errorf("error ingesting item %q: %w", si.GUID, err)
		}
		items = append(items, item)
	}

	return items, nil
}
