package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/satpass/internal/apperr"
	"github.com/star/satpass/internal/tle"
)

func parseAll(t *testing.T, text string) []tle.ElementSet {
	t.Helper()
	sets, err := tle.Parse(strings.NewReader(text), testLogger())
	require.NoError(t, err)
	return sets
}

func TestStaticNewestEpochWins(t *testing.T) {
	s := NewStatic(parseAll(t, iss2025+"\n"+iss2024))
	ctx := context.Background()

	es, err := s.Elements(ctx, 25544)
	require.NoError(t, err)
	assert.Equal(t, 2025, es.Epoch.Year())
	assert.Equal(t, "file", es.Source)

	refreshed, err := s.Refresh(ctx, 25544)
	require.NoError(t, err)
	assert.True(t, refreshed.Epoch.Equal(es.Epoch))
}

func TestStaticLookups(t *testing.T) {
	s := NewStatic(parseAll(t, iss2025))
	ctx := context.Background()

	name, err := s.Name(ctx, 25544)
	require.NoError(t, err)
	assert.Equal(t, "ISS (ZARYA)", name)

	ids, err := s.IDs(ctx, "zarya")
	require.NoError(t, err)
	assert.Equal(t, []int{25544}, ids)

	_, err = s.Elements(ctx, 99999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.Elements(ctx, -1)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = s.IDs(ctx, "hubble")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.IDs(ctx, " ")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	assert.Equal(t, 1, s.Store().Len())
}
