// Package subl holds the data model of the subscription service: which users
// subscribe to which feeds, which items live in which subscriptions, how
// items are grouped into channels and collections, and when they expire.
//
// The types here are plain records plus the lifecycle rules that can be
// decided without touching storage. The store in internal/sqlite applies
// them transactionally.
package subl

import (
	"time"
)

// SchemaVersion is the version of the persisted layout. Bump it, and add a
// migration, whenever the shape of any table changes.
const SchemaVersion = 1

type (
	// User is an account of the system, keyed by an external identity.
	User struct {
		ID        string    `db:"id"`
		SelfID    string    `db:"self_id"`
		Profile   string    `db:"profile"`
		CreatedAt time.Time `db:"created_at"`
	}

	// Feed is the single canonical record of a remote feed, shared by every
	// user subscribed to its URL.
	Feed struct {
		ID         string     `db:"id"`
		FeedURL    string     `db:"feed_url"`
		SelfURL    string     `db:"self_url"`
		Title      string     `db:"title"`
		AuthURL    string     `db:"auth_url"` // Where to obtain feed authorization
		LastUpdate *time.Time `db:"last_update"`
		NextUpdate *time.Time `db:"next_update"`

		WebSubHub    string      `db:"websub_hub"`
		WebSubSecret string      `db:"websub_secret"`
		WebSubLease  *time.Time  `db:"websub_lease"` // Absolute expiry of the hub's lease
		WebSubState  WebSubState `db:"websub_state"`

		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	// Link is a link relation as supplied by a crawler.
	Link struct {
		Href        string
		Rel         string
		ContentType string
	}

	FeedLink struct {
		ID          string `db:"id"`
		FeedID      string `db:"feed_id"`
		Href        string `db:"href"`
		Rel         string `db:"rel"`
		ContentType string `db:"content_type"`
	}

	ItemLink struct {
		ID          string `db:"id"`
		ItemID      string `db:"item_id"`
		Href        string `db:"href"`
		Rel         string `db:"rel"`
		ContentType string `db:"content_type"`
	}

	// Subscription binds a user to a feed along with the user's credentials
	// for it and the bookkeeping of the crawls done on their behalf.
	Subscription struct {
		ID         string `db:"id"`
		UserID     string `db:"user_id"`
		FeedID     string `db:"feed_id"`
		AuthCookie string `db:"auth_cookie"`
		AuthToken  string `db:"auth_token"`

		// The last authentication failure, kept until cleared so a retry can
		// take it into account.
		AuthErrorCode    *int   `db:"auth_error_code"`
		AuthErrorMessage string `db:"auth_error_message"`

		LastUpdate   *time.Time `db:"last_update"`
		LastBackfill *time.Time `db:"last_backfill"` // Last completed RFC5005 backfill
		CreatedAt    time.Time  `db:"created_at"`
	}

	// SubscriptionAuth is the credential material a user supplies for a feed.
	SubscriptionAuth struct {
		Cookie string
		Token  string
	}

	// Item is one entry of a feed. Exactly one of FeedID (public content,
	// shared by every subscriber) or SubscriptionID (authenticated content,
	// owned by that subscription) is set, unless the owning subscription is
	// gone and a collection still pins the item.
	Item struct {
		ID             string     `db:"id"`
		FeedID         *string    `db:"feed_id"`
		SubscriptionID *string    `db:"subscription_id"`
		GUID           string     `db:"guid"`
		Published      time.Time  `db:"published"`
		Updated        *time.Time `db:"updated"`
		Title          string     `db:"title"`
		Summary        string     `db:"summary"`
		Content        string     `db:"content"`
		Link           string     `db:"link"`
		LastSeen       time.Time  `db:"last_seen"` // Last time seen in a feed, for expiration
		CreatedAt      time.Time  `db:"created_at"`
	}

	// SubscriptionItem is an item's membership in a subscription, with that
	// subscription's read state for it.
	SubscriptionItem struct {
		SubscriptionID string `db:"subscription_id"`
		ItemID         string `db:"item_id"`
		Unread         bool   `db:"unread"`
	}

	// Channel is a user's aggregated view over several subscriptions.
	Channel struct {
		ID               string           `db:"id"`
		UserID           string           `db:"user_id"`
		Name             string           `db:"name"`
		SortOrder        SortOrder        `db:"sort_order"`
		ExpirationPolicy ExpirationPolicy `db:"expiration_policy"`

		// For EXPIRE, how long after it was last seen an item may be removed;
		// for BACKFILL, how often feeds should be re-crawled. Unset for NEVER.
		ExpirationTime *time.Duration `db:"expiration_time"`

		CreatedAt time.Time `db:"created_at"`
	}

	// ChannelItem is an item as seen through a channel.
	ChannelItem struct {
		Item

		// True when the item is unread in any of the channel's subscriptions.
		Unread bool `db:"unread"`
	}

	// Collection is a user's named set of items, for bookmarking or sharing.
	Collection struct {
		ID        string    `db:"id"`
		UserID    string    `db:"user_id"`
		Name      string    `db:"name"`
		Public    bool      `db:"public"`
		CreatedAt time.Time `db:"created_at"`
	}

	// Tag is a subscription's category label.
	Tag struct {
		SubscriptionID string `db:"subscription_id"`
		Term           string `db:"term"`
		Label          string `db:"label"`
	}

	// TagTerm is a tag as supplied to SetTags.
	TagTerm struct {
		Term  string
		Label string
	}
)

// ItemCursor marks a position in a channel listing.
type ItemCursor struct {
	Published time.Time
	ID        string
}

// Cursor returns the position just after this item.
func (i ChannelItem) Cursor() ItemCursor {
	return ItemCursor{Published: i.Published, ID: i.ID}
}

// ChannelListArgs narrows a channel listing.
type ChannelListArgs struct {
	UnreadOnly bool
	Limit      uint64
	After      *ItemCursor
}

// SweepResult summarizes one expiration pass.
type SweepResult struct {
	Channels int   // EXPIRE channels visited
	Failed   int   // Channels whose sweep failed and will be retried next pass
	Deleted  int64 // Items removed by channel policy
	Orphans  int64 // Items removed because nothing references them anymore
}
