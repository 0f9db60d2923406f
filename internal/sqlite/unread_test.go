package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/subl"
)

func TestUnreadIsPerSubscription(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	alice := seed(t, r, "alice", "https://example.com/feed.xml")
	bob, err := r.EnsureUser(ctx, "bob", "")
	require.NoError(t, err)
	bobSub, err := r.Subscribe(ctx, bob.ID, alice.feed.ID, subl.SubscriptionAuth{})
	require.NoError(t, err)

	shared, err := r.IngestItem(ctx, subl.FeedScope(alice.feed.ID), "1", subl.ItemFields{})
	require.NoError(t, err)

	require.NoError(t, r.SetUnread(ctx, alice.sub.ID, shared.ID, false))

	a, err := r.SubscriptionItem(ctx, alice.sub.ID, shared.ID)
	require.NoError(t, err)
	assert.False(t, a.Unread)
	b, err := r.SubscriptionItem(ctx, bobSub.ID, shared.ID)
	require.NoError(t, err)
	assert.True(t, b.Unread)

	require.NoError(t, r.SetUnread(ctx, alice.sub.ID, shared.ID, true))
	a, err = r.SubscriptionItem(ctx, alice.sub.ID, shared.ID)
	require.NoError(t, err)
	assert.True(t, a.Unread)
}

func TestSetUnreadUnknownPair(t *testing.T) {
	r, _ := newTestRepo(t)
	fx := seed(t, r, "alice", "https://example.com/feed.xml")

	err := r.SetUnread(context.Background(), fx.sub.ID, "missing-itm", false)
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))
}

func TestMarkAllRead(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	fx := seed(t, r, "alice", "https://example.com/feed.xml")
	for _, guid := range []string{"1", "2", "3"} {
		_, err := r.IngestItem(ctx, subl.SubscriptionScope(fx.sub.ID), guid, subl.ItemFields{})
		require.NoError(t, err)
	}

	unread, err := r.SubscriptionItems(ctx, fx.sub.ID, true)
	require.NoError(t, err)
	assert.Len(t, unread, 3)

	n, err := r.MarkAllRead(ctx, fx.sub.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	count, err := r.UnreadCount(ctx, fx.sub.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	unread, err = r.SubscriptionItems(ctx, fx.sub.ID, true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := r.SubscriptionItems(ctx, fx.sub.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = r.MarkAllRead(ctx, "missing-sub")
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))
}
