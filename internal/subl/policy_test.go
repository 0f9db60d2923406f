package subl_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/subl"
)

func dur(d time.Duration) *time.Duration {
	return &d
}

func TestParseSortOrder(t *testing.T) {
	s, err := subl.ParseSortOrder(2)
	require.NoError(t, err)
	assert.Equal(t, subl.SortNewest, s)
	assert.Equal(t, "NEWEST", s.String())

	for _, raw := range []int{0, 3, -1} {
		_, err := subl.ParseSortOrder(raw)
		assert.True(t, sublerrs.Is(err, sublerrs.Invalid), "raw %d", raw)
	}
}

func TestParseExpirationPolicy(t *testing.T) {
	p, err := subl.ParseExpirationPolicy(3)
	require.NoError(t, err)
	assert.Equal(t, subl.PolicyExpire, p)

	_, err = subl.ParseExpirationPolicy(4)
	assert.True(t, sublerrs.Is(err, sublerrs.Invalid))
}

func TestEnumValuesRejectUnknown(t *testing.T) {
	_, err := subl.SortOrder(9).Value()
	assert.Error(t, err)

	v, err := subl.PolicyBackfill.Value()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestChannelArgsValidate(t *testing.T) {
	tests := []struct {
		name     string
		args     subl.ChannelArgs
		wantKind sublerrs.Kind
		wantExp  *time.Duration
	}{
		{
			name:    "never drops expiration time",
			args:    subl.ChannelArgs{UserID: "u", Name: "news", SortOrder: subl.SortOldest, Policy: subl.PolicyNever, ExpirationTime: dur(time.Hour)},
			wantExp: nil,
		},
		{
			name:    "expire keeps expiration time",
			args:    subl.ChannelArgs{UserID: "u", Name: "news", SortOrder: subl.SortNewest, Policy: subl.PolicyExpire, ExpirationTime: dur(time.Hour)},
			wantExp: dur(time.Hour),
		},
		{
			name:     "expire without expiration time",
			args:     subl.ChannelArgs{UserID: "u", Name: "news", SortOrder: subl.SortNewest, Policy: subl.PolicyExpire},
			wantKind: sublerrs.InvalidPolicy,
		},
		{
			name:     "backfill with zero interval",
			args:     subl.ChannelArgs{UserID: "u", Name: "news", SortOrder: subl.SortNewest, Policy: subl.PolicyBackfill, ExpirationTime: dur(0)},
			wantKind: sublerrs.InvalidPolicy,
		},
		{
			name:     "blank name",
			args:     subl.ChannelArgs{UserID: "u", Name: "   ", SortOrder: subl.SortNewest, Policy: subl.PolicyNever},
			wantKind: sublerrs.Invalid,
		},
		{
			name:     "unknown sort order",
			args:     subl.ChannelArgs{UserID: "u", Name: "news", SortOrder: 7, Policy: subl.PolicyNever},
			wantKind: sublerrs.Invalid,
		},
		{
			name:     "unknown policy",
			args:     subl.ChannelArgs{UserID: "u", Name: "news", SortOrder: subl.SortOldest, Policy: 0},
			wantKind: sublerrs.Invalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			err := args.Validate()
			if tt.wantKind != "" {
				assert.True(t, sublerrs.Is(err, tt.wantKind), "got %v", err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantExp, args.ExpirationTime)
		})
	}
}

func TestChannelExpiryCutoff(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ch := subl.Channel{ExpirationPolicy: subl.PolicyExpire, ExpirationTime: dur(2 * time.Hour)}
	cutoff, ok := ch.ExpiryCutoff(now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-2*time.Hour), cutoff)

	ch.ExpirationPolicy = subl.PolicyBackfill
	_, ok = ch.ExpiryCutoff(now)
	assert.False(t, ok)

	interval, ok := ch.RecrawlInterval()
	require.True(t, ok)
	assert.Equal(t, 2*time.Hour, interval)
}
