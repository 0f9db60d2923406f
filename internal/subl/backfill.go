package subl

import "time"

// NeedsBackfill reports whether the subscription's archive should be walked
// again. A backfill that found nothing new is recorded as complete and isn't
// retried until recheck has passed.
func NeedsBackfill(sub Subscription, now time.Time, recheck time.Duration) bool {
	if sub.LastBackfill == nil {
		return true
	}

	return !now.Before(sub.LastBackfill.Add(recheck))
}
