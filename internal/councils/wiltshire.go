package councils

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"binportal/internal/config"
	"binportal/internal/models"
)

const (
	wiltshireEndpoint = "https://ilambassadorformsprod.azurewebsites.net/wastecollectiondays/wastecollectioncalendar"
	wiltshireReferer  = "https://ilambassadorformsprod.azurewebsites.net/wastecollectiondays/index"

	// The council calendar sits behind Azure ARR; requests without an
	// affinity cookie get bounced between instances and lose form state.
	wiltshireAffinity = "c5a9db7fe43cef907f06528c3d34a997365656f757206fbdf34193e2c3b6f737"

	wiltshireDateAttr = "2006-01-02T15:04:05"
)

// Wiltshire scrapes the Wiltshire Council waste collection calendar. The
// calendar is served one month at a time, so the module walks a rolling
// window of months and merges the results.
type Wiltshire struct {
	endpoint    string
	userAgent   string
	monthsAhead int
	now         func() time.Time
}

// NewWiltshire creates the Wiltshire council module.
func NewWiltshire(cfg config.ScrapeConfig) *Wiltshire {
	months := cfg.MonthsAhead
	if months <= 0 {
		months = 12
	}
	return &Wiltshire{
		endpoint:    wiltshireEndpoint,
		userAgent:   cfg.UserAgent,
		monthsAhead: months,
		now:         time.Now,
	}
}

// Name implements Scraper.
func (w *Wiltshire) Name() string { return "WiltshireCouncil" }

// RequiresBrowser implements Scraper. The calendar is plain server-rendered
// HTML, so no Chrome is needed.
func (w *Wiltshire) RequiresBrowser() bool { return false }

// Collect implements Scraper.
func (w *Wiltshire) Collect(ctx context.Context, q *Query) ([]models.Bin, error) {
	if err := models.ValidatePostcode(q.Address.Postcode); err != nil {
		return nil, err
	}
	if err := models.ValidateUPRN(q.Address.UPRN); err != nil {
		return nil, err
	}

	uprn := q.Address.PaddedUPRN()

	var bins []models.Bin
	for _, month := range w.monthsToFetch() {
		monthBins, err := w.fetchMonth(ctx, q, month, uprn)
		if err != nil {
			return nil, fmt.Errorf("error retrieving data for %d/%d: %w", month.Month(), month.Year(), err)
		}
		bins = append(bins, monthBins...)
	}

	return dedupeBins(bins), nil
}

// monthsToFetch returns the first day of each month in the rolling window.
func (w *Wiltshire) monthsToFetch() []time.Time {
	current := w.now()
	months := make([]time.Time, 0, w.monthsAhead)
	for i := 0; i < w.monthsAhead; i++ {
		months = append(months, time.Date(current.Year(), current.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0))
	}
	return months
}

func (w *Wiltshire) fetchMonth(ctx context.Context, q *Query, month time.Time, uprn string) ([]models.Bin, error) {
	form := url.Values{
		"Month":    {strconv.Itoa(int(month.Month()))},
		"Year":     {strconv.Itoa(month.Year())},
		"Postcode": {q.Address.Postcode},
		"Uprn":     {uprn},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build calendar request: %w", err)
	}

	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Origin", "https://ilambassadorformsprod.azurewebsites.net")
	req.Header.Set("Referer", wiltshireReferer)
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.AddCookie(&http.Cookie{Name: "ARRAffinity", Value: wiltshireAffinity})
	req.AddCookie(&http.Cookie{Name: "ARRAffinitySameSite", Value: wiltshireAffinity})

	resp, err := q.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return parseWiltshireCalendar(resp)
}

// parseWiltshireCalendar extracts collections from one month of the council
// calendar markup. Each day cell is a div.cal-inner; days with collections
// carry an events-list block, the date in span.day-no's data-cal-date
// attribute, and the collection type(s) under .rc-event-container. Combined
// collections arrive as a single "X and Y" label.
func parseWiltshireCalendar(resp *http.Response) ([]models.Bin, error) {
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar html: %w", err)
	}

	var bins []models.Bin
	doc.Find("div.cal-inner").Each(func(_ int, cell *goquery.Selection) {
		if cell.Find("div.events-list").Length() == 0 {
			return
		}

		dateAttr, ok := cell.Find("span.day-no").Attr("data-cal-date")
		if !ok {
			return
		}
		collectionDate, err := time.Parse(wiltshireDateAttr, dateAttr)
		if err != nil {
			return
		}

		label := strings.TrimSpace(cell.Find(".rc-event-container span").First().Text())
		if label == "" {
			return
		}

		for _, binType := range strings.Split(label, " and ") {
			bins = append(bins, models.Bin{
				Type:           strings.TrimSpace(binType),
				CollectionDate: collectionDate.Format(models.DateFormat),
			})
		}
	})

	return bins, nil
}
