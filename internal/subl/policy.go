package subl

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	sublerrs "github.com/jdholdren/subl/internal/errors"
)

// SortOrder is the order in which a channel lists its items.
type SortOrder int

const (
	SortOldest SortOrder = 1
	SortNewest SortOrder = 2
)

// ParseSortOrder validates a raw sort order.
func ParseSortOrder(v int) (SortOrder, error) {
	s := SortOrder(v)
	if !s.Valid() {
		return 0, sublerrs.E(sublerrs.Invalid, fmt.Sprintf("unknown sort order %d", v),
			sublerrs.Detail{Field: "sort_order", Error: "must be 1 (oldest) or 2 (newest)"})
	}

	return s, nil
}

func (s SortOrder) Valid() bool {
	return s == SortOldest || s == SortNewest
}

func (s SortOrder) String() string {
	switch s {
	case SortOldest:
		return "OLDEST"
	case SortNewest:
		return "NEWEST"
	default:
		return fmt.Sprintf("SortOrder(%d)", int(s))
	}
}

// Value implements [driver.Valuer].
func (s SortOrder) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid sort order %d", int(s))
	}

	return int64(s), nil
}

// ExpirationPolicy is what a channel does with items over time.
type ExpirationPolicy int

const (
	PolicyNever    ExpirationPolicy = 1 // Keep items forever
	PolicyBackfill ExpirationPolicy = 2 // Keep items, backfill via RFC5005
	PolicyExpire   ExpirationPolicy = 3 // Let items expire after a while
)

// ParseExpirationPolicy validates a raw expiration policy.
func ParseExpirationPolicy(v int) (ExpirationPolicy, error) {
	p := ExpirationPolicy(v)
	if !p.Valid() {
		return 0, sublerrs.E(sublerrs.Invalid, fmt.Sprintf("unknown expiration policy %d", v),
			sublerrs.Detail{Field: "expiration_policy", Error: "must be 1 (never), 2 (backfill) or 3 (expire)"})
	}

	return p, nil
}

func (p ExpirationPolicy) Valid() bool {
	return p >= PolicyNever && p <= PolicyExpire
}

func (p ExpirationPolicy) String() string {
	switch p {
	case PolicyNever:
		return "NEVER"
	case PolicyBackfill:
		return "BACKFILL"
	case PolicyExpire:
		return "EXPIRE"
	default:
		return fmt.Sprintf("ExpirationPolicy(%d)", int(p))
	}
}

// Value implements [driver.Valuer].
func (p ExpirationPolicy) Value() (driver.Value, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid expiration policy %d", int(p))
	}

	return int64(p), nil
}

// ValidatePolicy checks that the expiration time fits the policy and returns
// the value to store: NEVER drops it, EXPIRE and BACKFILL need it positive.
func ValidatePolicy(p ExpirationPolicy, expiration *time.Duration) (*time.Duration, error) {
	if !p.Valid() {
		_, err := ParseExpirationPolicy(int(p))
		return nil, err
	}
	if p == PolicyNever {
		return nil, nil
	}

	if expiration == nil || *expiration <= 0 {
		msg := "expiration time must be a positive duration"
		if p == PolicyBackfill {
			msg = "expiration time must be a positive recrawl interval"
		}
		return nil, sublerrs.E(sublerrs.InvalidPolicy, fmt.Sprintf("%s policy needs an expiration time", p),
			sublerrs.Detail{Field: "expiration_time", Error: msg})
	}

	d := *expiration
	return &d, nil
}

// ChannelArgs are the fields of a new channel.
type ChannelArgs struct {
	UserID         string
	Name           string
	SortOrder      SortOrder
	Policy         ExpirationPolicy
	ExpirationTime *time.Duration
}

// Validate checks the arguments and normalizes the expiration time for the
// policy.
func (a *ChannelArgs) Validate() error {
	var details []sublerrs.Detail
	if a.UserID == "" {
		details = append(details, sublerrs.Detail{Field: "user_id", Error: "is required"})
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		details = append(details, sublerrs.Detail{Field: "name", Error: "is required"})
	}
	if !a.SortOrder.Valid() {
		details = append(details, sublerrs.Detail{Field: "sort_order", Error: "must be 1 (oldest) or 2 (newest)"})
	}
	if len(details) > 0 {
		return sublerrs.E(sublerrs.Invalid, "invalid channel", details)
	}

	exp, err := ValidatePolicy(a.Policy, a.ExpirationTime)
	if err != nil {
		return err
	}
	a.ExpirationTime = exp

	return nil
}

// ExpiryCutoff returns the instant before which an item last seen is old
// enough to expire, and false when the channel doesn't expire items.
func (c Channel) ExpiryCutoff(now time.Time) (time.Time, bool) {
	if c.ExpirationPolicy != PolicyExpire || c.ExpirationTime == nil {
		return time.Time{}, false
	}

	return now.Add(-*c.ExpirationTime), true
}

// RecrawlInterval returns how often the channel's feeds should be
// re-crawled, and false when the channel isn't a BACKFILL channel.
func (c Channel) RecrawlInterval() (time.Duration, bool) {
	if c.ExpirationPolicy != PolicyBackfill || c.ExpirationTime == nil {
		return 0, false
	}

	return *c.ExpirationTime, true
}
