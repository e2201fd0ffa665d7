package councils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binportal/internal/config"
	"binportal/internal/models"
)

func testScrapeConfig() config.ScrapeConfig {
	return config.ScrapeConfig{
		HTTPTimeout: 5 * time.Second,
		MonthsAhead: 12,
		UserAgent:   "test-agent",
	}
}

type stubScraper struct {
	name string
}

func (s *stubScraper) Name() string          { return s.name }
func (s *stubScraper) RequiresBrowser() bool { return false }
func (s *stubScraper) Collect(context.Context, *Query) ([]models.Bin, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&stubScraper{name: "BCouncil"}))
	require.NoError(t, r.Register(&stubScraper{name: "ACouncil"}))

	t.Run("duplicate names are rejected", func(t *testing.T) {
		err := r.Register(&stubScraper{name: "ACouncil"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("get", func(t *testing.T) {
		s, ok := r.Get("ACouncil")
		require.True(t, ok)
		assert.Equal(t, "ACouncil", s.Name())

		_, ok = r.Get("NoSuchCouncil")
		assert.False(t, ok)
	})

	t.Run("names are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"ACouncil", "BCouncil"}, r.Names())
	})
}

func TestDefaultRegistry(t *testing.T) {
	r, err := DefaultRegistry(testScrapeConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"SwindonBoroughCouncil", "WiltshireCouncil"}, r.Names())

	wiltshire, ok := r.Get("WiltshireCouncil")
	require.True(t, ok)
	assert.False(t, wiltshire.RequiresBrowser())

	swindon, ok := r.Get("SwindonBoroughCouncil")
	require.True(t, ok)
	assert.True(t, swindon.RequiresBrowser())
}

func TestDedupeBins(t *testing.T) {
	bins := dedupeBins([]models.Bin{
		{Type: "Household waste", CollectionDate: "05/09/2026"},
		{Type: "Recycling", CollectionDate: "05/09/2026"},
		{Type: "Household waste", CollectionDate: "05/09/2026"},
	})

	assert.Equal(t, []models.Bin{
		{Type: "Household waste", CollectionDate: "05/09/2026"},
		{Type: "Recycling", CollectionDate: "05/09/2026"},
	}, bins)
}
