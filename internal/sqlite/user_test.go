package sqlite

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sublerrs "github.com/jdholdren/subl/internal/errors"
)

func TestEnsureUser(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	first, err := r.EnsureUser(ctx, "https://alice.example/", `{"name":"Alice"}`)
	require.NoError(t, err)
	assert.Equal(t, userNamespace, first.ID[len(first.ID)-len(userNamespace):])
	assert.WithinDuration(t, epoch, first.CreatedAt, 0)

	again, err := r.EnsureUser(ctx, "https://alice.example/", "ignored")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, again))

	byID, err := r.User(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, byID))
}

func TestEnsureUserRequiresSelfID(t *testing.T) {
	r, _ := newTestRepo(t)

	_, err := r.EnsureUser(context.Background(), " ", "")
	assert.True(t, sublerrs.Is(err, sublerrs.Invalid))
}

func TestUpdateProfile(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	usr, err := r.EnsureUser(ctx, "bob", "")
	require.NoError(t, err)

	usr, err = r.UpdateProfile(ctx, usr.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", usr.Profile)

	_, err = r.UpdateProfile(ctx, "missing-usr", "x")
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))
}

func TestUserNotFound(t *testing.T) {
	r, _ := newTestRepo(t)

	_, err := r.User(context.Background(), "nope-usr")
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))
}

func TestUserBySelfID(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	usr, err := r.EnsureUser(ctx, "https://carol.example/", "")
	require.NoError(t, err)

	got, err := r.UserBySelfID(ctx, "https://carol.example/")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	_, err = r.UserBySelfID(ctx, "https://nobody.example/")
	assert.True(t, sublerrs.Is(err, sublerrs.NotFound))
}

func TestEnsureUserTrimsSelfID(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	padded, err := r.EnsureUser(ctx, " alice ", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", padded.SelfID)

	plain, err := r.EnsureUser(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, padded.ID, plain.ID)

	got, err := r.UserBySelfID(ctx, "alice ")
	require.NoError(t, err)
	assert.Equal(t, padded.ID, got.ID)
}
