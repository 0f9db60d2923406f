package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/subl"
)

func TestCollectionItemsInInsertionOrder(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()
	fx := seed(t, r, "alice", "https://example.com/feed.xml")

	col, err := r.CreateCollection(ctx, fx.user.ID, " Saved ", false)
	require.NoError(t, err)
	assert.Equal(t, "Saved", col.Name)
	assert.False(t, col.Public)

	var want []string
	for _, guid := range []string{"c", "a", "b"} {
		item, err := r.IngestItem(ctx, subl.SubscriptionScope(fx.sub.ID), guid, subl.ItemFields{})
		require.NoError(t, err)
		require.NoError(t, r.AddCollectionItem(ctx, col.ID, item.ID))
		want = append(want, item.ID)
		clock.Advance(time.Second)
	}
	require.NoError(t, r.AddCollectionItem(ctx, col.ID, want[0]), "adding twice is a no-op")

	items, err := r.CollectionItems(ctx, col.ID, fx.user.ID)
	require.NoError(t, err)
	assert.Equal(t, want, itemIDs(items))

	require.NoError(t, r.RemoveCollectionItem(ctx, col.ID, want[1]))
	items, err = r.CollectionItems(ctx, col.ID, fx.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{want[0], want[2]}, itemIDs(items))

	err = r.RemoveCollectionItem(ctx, col.ID, want[1])
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))

	err = r.AddCollectionItem(ctx, col.ID, "missing-itm")
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))
}

func TestCollectionVisibility(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	alice := seed(t, r, "alice", "https://example.com/a.xml")
	bob := seed(t, r, "bob", "https://example.com/b.xml")

	col, err := r.CreateCollection(ctx, alice.user.ID, "mine", false)
	require.NoError(t, err)

	_, err = r.CollectionItems(ctx, col.ID, bob.user.ID)
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))

	public, err := r.PublicCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, public)

	col, err = r.SetCollectionPublic(ctx, col.ID, true)
	require.NoError(t, err)
	assert.True(t, col.Public)

	items, err := r.CollectionItems(ctx, col.ID, bob.user.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	public, err = r.PublicCollections(ctx)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, col.ID, public[0].ID)
}

func TestCollectionLifecycle(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	fx := seed(t, r, "alice", "https://example.com/feed.xml")

	_, err := r.CreateCollection(ctx, fx.user.ID, "", false)
	assert.True(t, sublerrs.Is(err, sublerrs.Invalid))
	_, err = r.CreateCollection(ctx, "missing-usr", "x", false)
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))

	col, err := r.CreateCollection(ctx, fx.user.ID, "a", true)
	require.NoError(t, err)
	col, err = r.RenameCollection(ctx, col.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", col.Name)

	cols, err := r.UserCollections(ctx, fx.user.ID)
	require.NoError(t, err)
	require.Len(t, cols, 1)

	item, err := r.IngestItem(ctx, subl.SubscriptionScope(fx.sub.ID), "1", subl.ItemFields{})
	require.NoError(t, err)
	require.NoError(t, r.AddCollectionItem(ctx, col.ID, item.ID))

	require.NoError(t, r.DeleteCollection(ctx, col.ID))
	_, err = r.Collection(ctx, col.ID)
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))

	_, err = r.Item(ctx, item.ID)
	assert.NoError(t, err, "items outlive the collection")
}
