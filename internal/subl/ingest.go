package subl

import (
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	sublerrs "github.com/jdholdren/subl/internal/errors"
)

// Scope says who an ingested item belongs to: the feed itself (public
// content, visible to every subscriber) or a single subscription
// (authenticated content).
type Scope struct {
	FeedID         string
	SubscriptionID string
}

func FeedScope(feedID string) Scope {
	return Scope{FeedID: feedID}
}

func SubscriptionScope(subscriptionID string) Scope {
	return Scope{SubscriptionID: subscriptionID}
}

// Validate checks that exactly one owner is set.
func (s Scope) Validate() error {
	if (s.FeedID == "") == (s.SubscriptionID == "") {
		return sublerrs.E(sublerrs.Invalid, "an item belongs to exactly one of a feed or a subscription",
			sublerrs.Detail{Field: "scope", Error: "set exactly one of feed_id or subscription_id"})
	}

	return nil
}

// ItemFields are the mutable fields of an item as a crawler sees them.
type ItemFields struct {
	Published *time.Time // Nil means "now"; ignored after the first ingest
	Updated   *time.Time // Nil keeps what's stored
	Title     string     // Empty keeps what's stored, as for Summary, Content and Link
	Summary   string
	Content   string
	Link      string
	Links     []Link // Nil leaves stored links alone, non-nil replaces them
}

var titlePolicy = bluemonday.StrictPolicy()

// Normalize strips markup from the title and trims the plain-text fields.
// Summary and content are kept as the feed sent them.
func (f ItemFields) Normalize() ItemFields {
	f.Title = strings.TrimSpace(html.UnescapeString(titlePolicy.Sanitize(f.Title)))
	f.Link = strings.TrimSpace(f.Link)
	if f.Published != nil {
		p := f.Published.UTC()
		f.Published = &p
	}
	if f.Updated != nil {
		u := f.Updated.UTC()
		f.Updated = &u
	}

	return f
}

// FeedMeta is what a crawl learns about a feed. Empty strings and nil times
// leave stored values alone, nil Links leaves stored links alone.
type FeedMeta struct {
	SelfURL    string
	Title      string
	AuthURL    string
	LastUpdate *time.Time
	NextUpdate *time.Time
	WebSubHub  string // Only applied while no WebSub subscription is active
	Links      []Link
}

// Snapshot is one fetched copy of a feed.
type Snapshot struct {
	FeedURL string
	FeedMeta
	Items []SnapshotItem
}

type SnapshotItem struct {
	GUID string
	ItemFields
}
