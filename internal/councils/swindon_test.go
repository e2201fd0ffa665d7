package councils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binportal/internal/models"
)

type fakeRenderer struct {
	html    string
	err     error
	lastURL string
}

func (f *fakeRenderer) RenderHTML(_ context.Context, url, _ string) (string, error) {
	f.lastURL = url
	return f.html, f.err
}

const swindonFixture = `
<div class="bin-collection-content">
  <h3>Household waste</h3>
  <ul>
    <li>Monday 7 September 2026</li>
    <li>Monday 21 September 2026</li>
  </ul>
</div>
<div class="bin-collection-content">
  <h3>Recycling</h3>
  <ul>
    <li>Monday 14 September</li>
  </ul>
</div>`

func TestSwindonCollect(t *testing.T) {
	renderer := &fakeRenderer{html: swindonFixture}

	s := &Swindon{
		baseURL: swindonBaseURL,
		now:     func() time.Time { return time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC) },
	}

	bins, err := s.Collect(context.Background(), &Query{
		Address: models.Address{UPRN: "10001234"},
		Browser: renderer,
	})
	require.NoError(t, err)

	assert.Contains(t, renderer.lastURL, "addressList=10001234")
	assert.Contains(t, renderer.lastURL, "uprnSubmit=Yes")

	assert.Equal(t, []models.Bin{
		{Type: "Household waste", CollectionDate: "07/09/2026"},
		{Type: "Household waste", CollectionDate: "21/09/2026"},
		{Type: "Recycling", CollectionDate: "14/09/2026"},
	}, bins)
}

func TestSwindonCollectValidation(t *testing.T) {
	s := NewSwindon(testScrapeConfig())

	_, err := s.Collect(context.Background(), &Query{
		Address: models.Address{Postcode: "SN1 1AA"},
		Browser: &fakeRenderer{},
	})
	assert.ErrorIs(t, err, models.ErrMissingUPRN)

	_, err = s.Collect(context.Background(), &Query{
		Address: models.Address{UPRN: "1234567890123"},
		Browser: &fakeRenderer{},
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = s.Collect(context.Background(), &Query{
		Address: models.Address{UPRN: "10001234"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser not available")
}

func TestSwindonCollectRenderFailure(t *testing.T) {
	s := NewSwindon(testScrapeConfig())

	_, err := s.Collect(context.Background(), &Query{
		Address: models.Address{UPRN: "10001234"},
		Browser: &fakeRenderer{err: errors.New("navigation timed out")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "navigation timed out")
}

func TestSwindonCollectEmptyPage(t *testing.T) {
	s := NewSwindon(testScrapeConfig())
	s.now = func() time.Time { return time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC) }

	_, err := s.Collect(context.Background(), &Query{
		Address: models.Address{UPRN: "10001234"},
		Browser: &fakeRenderer{html: "<html><body>No results for this address</body></html>"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no collection dates")
}

func TestParseLongFormDate(t *testing.T) {
	now := time.Date(2026, time.November, 20, 0, 0, 0, 0, time.UTC)

	t.Run("full date with weekday", func(t *testing.T) {
		d, ok := parseLongFormDate("Monday 7 September 2026", now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC), d)
	})

	t.Run("full date without weekday", func(t *testing.T) {
		d, ok := parseLongFormDate("7 September 2026", now)
		require.True(t, ok)
		assert.Equal(t, time.September, d.Month())
	})

	t.Run("yearless date in the near past keeps the year", func(t *testing.T) {
		d, ok := parseLongFormDate("Friday 13 November", now)
		require.True(t, ok)
		assert.Equal(t, 2026, d.Year())
	})

	t.Run("yearless date far in the past rolls forward", func(t *testing.T) {
		d, ok := parseLongFormDate("Monday 5 January", now)
		require.True(t, ok)
		assert.Equal(t, 2027, d.Year())
	})

	t.Run("garbage", func(t *testing.T) {
		_, ok := parseLongFormDate("check back later", now)
		assert.False(t, ok)
		_, ok = parseLongFormDate("", now)
		assert.False(t, ok)
	})
}
