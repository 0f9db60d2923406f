package subl

import (
	"fmt"
	"time"
)

// WebSubState is the persisted half of a feed's WebSub lease lifecycle.
type WebSubState string

const (
	WebSubNone    WebSubState = "none"
	WebSubPending WebSubState = "pending" // Subscribe request sent, awaiting the hub
	WebSubLeased  WebSubState = "leased"  // Hub confirmed, lease expiry known
)

// CanTransition reports whether a feed in state s may move to next.
//
// A lease can only be confirmed after a subscribe request, and a renewal goes
// back through pending. Any state may return to none.
func (s WebSubState) CanTransition(next WebSubState) bool {
	switch next {
	case WebSubNone:
		return true
	case WebSubPending:
		return s == WebSubNone || s == WebSubPending || s == WebSubLeased
	case WebSubLeased:
		return s == WebSubPending || s == WebSubLeased
	default:
		return false
	}
}

// LeaseState is where a feed stands in its WebSub lease lifecycle at a given
// instant.
type LeaseState int

const (
	LeaseNone LeaseState = iota
	LeasePendingSubscribe
	LeaseLeased
	LeaseExpiringSoon
)

func (l LeaseState) String() string {
	switch l {
	case LeaseNone:
		return "NONE"
	case LeasePendingSubscribe:
		return "PENDING_SUBSCRIBE"
	case LeaseLeased:
		return "LEASED"
	case LeaseExpiringSoon:
		return "EXPIRING_SOON"
	default:
		return fmt.Sprintf("LeaseState(%d)", int(l))
	}
}

// LeaseState derives the lease state at now. A lease within threshold of its
// expiry is EXPIRING_SOON; one already past it has lapsed and counts as NONE
// until the store resets it.
func (f Feed) LeaseState(now time.Time, threshold time.Duration) LeaseState {
	switch f.WebSubState {
	case WebSubPending:
		return LeasePendingSubscribe
	case WebSubLeased:
		if f.WebSubLease == nil || !f.WebSubLease.After(now) {
			return LeaseNone
		}
		if f.WebSubLease.Sub(now) <= threshold {
			return LeaseExpiringSoon
		}
		return LeaseLeased
	default:
		return LeaseNone
	}
}
