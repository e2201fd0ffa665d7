package councils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binportal/internal/models"
)

const wiltshireMonthFixture = `
<div class="calendar-wrapper">
  <div class="cal-inner">
    <span class="day-no" data-cal-date="2026-09-04T00:00:00">4</span>
  </div>
  <div class="cal-inner">
    <div class="events-list"></div>
    <span class="day-no" data-cal-date="2026-09-05T00:00:00">5</span>
    <div class="rc-event-container"><span>Household waste</span></div>
  </div>
  <div class="cal-inner">
    <div class="events-list"></div>
    <span class="day-no" data-cal-date="2026-09-12T00:00:00">12</span>
    <div class="rc-event-container"><span>Mixed dry recycling and Garden waste</span></div>
  </div>
</div>`

func TestWiltshireCollect(t *testing.T) {
	var gotForms []map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForms = append(gotForms, map[string]string{
			"Month":    r.PostFormValue("Month"),
			"Year":     r.PostFormValue("Year"),
			"Postcode": r.PostFormValue("Postcode"),
			"Uprn":     r.PostFormValue("Uprn"),
		})
		w.Write([]byte(wiltshireMonthFixture))
	}))
	defer server.Close()

	w := &Wiltshire{
		endpoint:    server.URL,
		userAgent:   "test-agent",
		monthsAhead: 2,
		now:         func() time.Time { return time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC) },
	}

	q := &Query{
		Address: models.Address{Postcode: "SN8 1RA", UPRN: "12345"},
		Client:  server.Client(),
	}

	bins, err := w.Collect(context.Background(), q)
	require.NoError(t, err)

	// One request per month in the window.
	require.Len(t, gotForms, 2)
	assert.Equal(t, "9", gotForms[0]["Month"])
	assert.Equal(t, "2026", gotForms[0]["Year"])
	assert.Equal(t, "10", gotForms[1]["Month"])
	assert.Equal(t, "SN8 1RA", gotForms[0]["Postcode"])
	assert.Equal(t, "000000012345", gotForms[0]["Uprn"])

	// Both months serve the same fixture; duplicates collapse.
	assert.Equal(t, []models.Bin{
		{Type: "Household waste", CollectionDate: "05/09/2026"},
		{Type: "Mixed dry recycling", CollectionDate: "12/09/2026"},
		{Type: "Garden waste", CollectionDate: "12/09/2026"},
	}, bins)
}

func TestWiltshireCollectValidation(t *testing.T) {
	w := NewWiltshire(testScrapeConfig())

	_, err := w.Collect(context.Background(), &Query{
		Address: models.Address{UPRN: "12345"},
	})
	assert.ErrorIs(t, err, models.ErrMissingPostcode)

	_, err = w.Collect(context.Background(), &Query{
		Address: models.Address{Postcode: "SN8 1RA"},
	})
	assert.ErrorIs(t, err, models.ErrMissingUPRN)

	_, err = w.Collect(context.Background(), &Query{
		Address: models.Address{Postcode: "SN8 1RA", UPRN: "12a45"},
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestWiltshireCollectServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	w := &Wiltshire{
		endpoint:    server.URL,
		monthsAhead: 1,
		now:         time.Now,
	}

	_, err := w.Collect(context.Background(), &Query{
		Address: models.Address{Postcode: "SN8 1RA", UPRN: "12345"},
		Client:  server.Client(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
}

func TestWiltshireMonthsToFetch(t *testing.T) {
	w := &Wiltshire{
		monthsAhead: 12,
		now:         func() time.Time { return time.Date(2026, time.November, 17, 10, 0, 0, 0, time.UTC) },
	}

	months := w.monthsToFetch()
	require.Len(t, months, 12)
	assert.Equal(t, time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC), months[0])
	// Year boundary.
	assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), months[2])
	assert.Equal(t, time.Date(2027, time.October, 1, 0, 0, 0, 0, time.UTC), months[11])
}
