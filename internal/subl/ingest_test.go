package subl_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/subl"
)

func TestScopeValidate(t *testing.T) {
	assert.NoError(t, subl.FeedScope("f").Validate())
	assert.NoError(t, subl.SubscriptionScope("s").Validate())

	assert.True(t, sublerrs.Is(subl.Scope{}.Validate(), sublerrs.Invalid))
	assert.True(t, sublerrs.Is(subl.Scope{FeedID: "f", SubscriptionID: "s"}.Validate(), sublerrs.Invalid))
}

func TestItemFieldsNormalize(t *testing.T) {
	pub := time.Date(2024, 5, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	in := subl.ItemFields{
		Published: &pub,
		Title:     "  <b>Hello</b> &amp; <script>alert(1)</script>world ",
		Content:   "<p>kept</p>",
		Link:      " https://example.com/a ",
	}

	out := in.Normalize()
	assert.Equal(t, "Hello & world", out.Title)
	assert.Equal(t, "<p>kept</p>", out.Content)
	assert.Equal(t, "https://example.com/a", out.Link)
	require.NotNil(t, out.Published)
	assert.Equal(t, time.UTC, out.Published.Location())
	assert.True(t, pub.Equal(*out.Published))

	// The input is left alone.
	assert.Equal(t, "CEST", pub.Location().String())
}

func TestNeedsBackfill(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	recheck := 24 * time.Hour

	assert.True(t, subl.NeedsBackfill(subl.Subscription{}, now, recheck))

	recent := now.Add(-time.Hour)
	assert.False(t, subl.NeedsBackfill(subl.Subscription{LastBackfill: &recent}, now, recheck))

	stale := now.Add(-recheck)
	assert.True(t, subl.NeedsBackfill(subl.Subscription{LastBackfill: &stale}, now, recheck))
}
