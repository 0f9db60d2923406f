package sqlite

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/subl"
)

func TestWebSubLifecycle(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()
	threshold := 24 * time.Hour

	feed, err := r.UpsertFeed(ctx, "https://example.com/feed.xml", subl.FeedMeta{})
	require.NoError(t, err)
	assert.Equal(t, subl.LeaseNone, feed.LeaseState(clock.Now(), threshold))

	feed, err = r.BeginWebSub(ctx, feed.ID, "https://hub.example.com/", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, subl.LeasePendingSubscribe, feed.LeaseState(clock.Now(), threshold))
	assert.Equal(t, "https://hub.example.com/", feed.WebSubHub)
	assert.Equal(t, "s3cret", feed.WebSubSecret)
	assert.Nil(t, feed.WebSubLease)

	feed, err = r.ConfirmWebSubLease(ctx, feed.ID, int((72 * time.Hour).Seconds()))
	require.NoError(t, err)
	require.NotNil(t, feed.WebSubLease)
	assert.WithinDuration(t, epoch.Add(72*time.Hour), *feed.WebSubLease, 0)
	assert.Equal(t, subl.LeaseLeased, feed.LeaseState(clock.Now(), threshold))

	clock.Advance(60 * time.Hour)
	assert.Equal(t, subl.LeaseExpiringSoon, feed.LeaseState(clock.Now(), threshold))

	expiring, err := r.FeedsExpiringSoon(ctx, threshold)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, feed.ID, expiring[0].ID)

	// Renewal goes back through pending and keeps the feed pushed.
	feed, err = r.BeginWebSub(ctx, feed.ID, "https://hub.example.com/", "n3w")
	require.NoError(t, err)
	feed, err = r.ConfirmWebSubLease(ctx, feed.ID, 3600)
	require.NoError(t, err)
	assert.Equal(t, "n3w", feed.WebSubSecret)

	feed, err = r.EndWebSub(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, subl.WebSubNone, feed.WebSubState)
	assert.Empty(t, feed.WebSubHub)
	assert.Empty(t, feed.WebSubSecret)
	assert.Nil(t, feed.WebSubLease)
}

func TestConfirmWithoutSubscribeIsInvalid(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	feed, err := r.UpsertFeed(ctx, "https://example.com/feed.xml", subl.FeedMeta{})
	require.NoError(t, err)

	_, err = r.ConfirmWebSubLease(ctx, feed.ID, 3600)
	assert.True(t, sublerrs.Is(err, sublerrs.InvalidState))

	_, err = r.ConfirmWebSubLease(ctx, feed.ID, 0)
	assert.True(t, sublerrs.Is(err, sublerrs.Invalid))

	_, err = r.BeginWebSub(ctx, feed.ID, "", "")
	assert.True(t, sublerrs.Is(err, sublerrs.Invalid))

	_, err = r.BeginWebSub(ctx, "missing-fd", "https://hub.example.com/", "")
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))
}

func TestLapseWebSubLeases(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()

	short, err := r.UpsertFeed(ctx, "https://example.com/short.xml", subl.FeedMeta{})
	require.NoError(t, err)
	long, err := r.UpsertFeed(ctx, "https://example.com/long.xml", subl.FeedMeta{})
	require.NoError(t, err)
	for id, lease := range map[string]int{short.ID: 60, long.ID: 7200} {
		_, err := r.BeginWebSub(ctx, id, "https://hub.example.com/", "")
		require.NoError(t, err)
		_, err = r.ConfirmWebSubLease(ctx, id, lease)
		require.NoError(t, err)
	}

	clock.Advance(time.Hour)
	n, err := r.LapseWebSubLeases(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	short, err = r.Feed(ctx, short.ID)
	require.NoError(t, err)
	assert.Equal(t, subl.WebSubNone, short.WebSubState)
	assert.Empty(t, short.WebSubHub)
	assert.Nil(t, short.WebSubLease)

	long, err = r.Feed(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, subl.WebSubLeased, long.WebSubState)
}

func TestCrawledHubDoesNotReplaceActiveHub(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	feed, err := r.UpsertFeed(ctx, "https://example.com/feed.xml", subl.FeedMeta{WebSubHub: "https://a.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com/", feed.WebSubHub)

	_, err = r.BeginWebSub(ctx, feed.ID, "https://a.example.com/", "")
	require.NoError(t, err)

	feed, err = r.UpsertFeed(ctx, feed.FeedURL, subl.FeedMeta{WebSubHub: "https://b.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com/", feed.WebSubHub)
}

func TestConfirmWebSubLeaseCapsLongLeases(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	feed, err := r.UpsertFeed(ctx, "https://example.com/feed.xml", subl.FeedMeta{})
	require.NoError(t, err)
	_, err = r.BeginWebSub(ctx, feed.ID, "https://hub.example.com/", "")
	require.NoError(t, err)

	feed, err = r.ConfirmWebSubLease(ctx, feed.ID, math.MaxInt)
	require.NoError(t, err)
	require.NotNil(t, feed.WebSubLease)
	assert.WithinDuration(t, epoch.Add(365*24*time.Hour), *feed.WebSubLease, 0)
}
