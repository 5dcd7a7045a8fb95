package location

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climastream/weather-stream/internal/weather"
)

type stubSearcher struct {
	locations []weather.Location
	err       error
	queries   []string
}

func (s *stubSearcher) SearchLocations(ctx context.Context, query string) ([]weather.Location, error) {
	s.queries = append(s.queries, query)
	return s.locations, s.err
}

func TestResolveCoordinatePair(t *testing.T) {
	search := &stubSearcher{}
	r := NewResolver(search, "")

	loc, err := r.Resolve(context.Background(), "40.7484, -73.9857")
	require.NoError(t, err)
	assert.Equal(t, "40.7484,-73.9857", loc.Key)
	assert.Empty(t, search.queries, "coordinate pairs must not hit the provider")
}

func TestResolveRejectsOutOfRangeCoordinates(t *testing.T) {
	search := &stubSearcher{err: weather.ErrLocationNotFound}
	r := NewResolver(search, "")

	_, err := r.Resolve(context.Background(), "123.0,456.0")
	assert.ErrorIs(t, err, weather.ErrLocationNotFound)
	// Out-of-range pairs fall through to the provider search.
	assert.Len(t, search.queries, 1)
}

func TestResolveZipViaProviderSearch(t *testing.T) {
	search := &stubSearcher{locations: []weather.Location{
		{Key: "40.7506,-73.9971", Name: "New York"},
	}}
	r := NewResolver(search, "")

	loc, err := r.Resolve(context.Background(), "10001")
	require.NoError(t, err)
	assert.Equal(t, "New York", loc.Name)
	assert.Equal(t, []string{"10001"}, search.queries)
}

func TestResolveEmptyIdentifier(t *testing.T) {
	r := NewResolver(&stubSearcher{}, "")

	_, err := r.Resolve(context.Background(), "  ")
	assert.ErrorIs(t, err, weather.ErrLocationNotFound)
}

func TestResolveNoMatches(t *testing.T) {
	r := NewResolver(&stubSearcher{locations: []weather.Location{}}, "")

	_, err := r.Resolve(context.Background(), "99999")
	assert.ErrorIs(t, err, weather.ErrLocationNotFound)
}
