package councils

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"binportal/internal/config"
	"binportal/internal/models"
)

const (
	swindonBaseURL      = "https://www.swindon.gov.uk/info/20122/rubbish_and_recycling/1044/check_your_bin_collection_day"
	swindonResultsClass = ".bin-collection-content"
)

// Swindon scrapes Swindon Borough Council. The collection-day page builds
// its results client-side from the address lookup, so the module renders it
// in headless Chrome and parses the resulting document.
type Swindon struct {
	baseURL string
	now     func() time.Time
}

// NewSwindon creates the Swindon council module.
func NewSwindon(cfg config.ScrapeConfig) *Swindon {
	return &Swindon{
		baseURL: swindonBaseURL,
		now:     time.Now,
	}
}

// Name implements Scraper.
func (s *Swindon) Name() string { return "SwindonBoroughCouncil" }

// RequiresBrowser implements Scraper.
func (s *Swindon) RequiresBrowser() bool { return true }

// Collect implements Scraper.
func (s *Swindon) Collect(ctx context.Context, q *Query) ([]models.Bin, error) {
	if err := models.ValidateUPRN(q.Address.UPRN); err != nil {
		return nil, err
	}
	if q.Browser == nil {
		return nil, errors.New("browser not available for SwindonBoroughCouncil")
	}

	pageURL := fmt.Sprintf("%s?addressList=%s&uprnSubmit=Yes", s.baseURL, url.QueryEscape(q.Address.UPRN))

	html, err := q.Browser.RenderHTML(ctx, pageURL, swindonResultsClass)
	if err != nil {
		return nil, fmt.Errorf("failed to render collection page: %w", err)
	}

	return s.parseResults(html)
}

// parseResults reads the rendered results blocks. Each block holds the bin
// type in its heading and one or more collection dates as list items written
// out long-form ("Monday 15 September 2025").
func (s *Swindon) parseResults(html string) ([]models.Bin, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered html: %w", err)
	}

	var bins []models.Bin
	doc.Find(swindonResultsClass).Each(func(_ int, block *goquery.Selection) {
		binType := strings.TrimSpace(block.Find("h3").First().Text())
		if binType == "" {
			return
		}

		block.Find("li").Each(func(_ int, item *goquery.Selection) {
			date, ok := parseLongFormDate(strings.TrimSpace(item.Text()), s.now())
			if !ok {
				return
			}
			bins = append(bins, models.Bin{
				Type:           binType,
				CollectionDate: date.Format(models.DateFormat),
			})
		})
	})

	if len(bins) == 0 {
		return nil, errors.New("no collection dates found on rendered page")
	}

	return dedupeBins(bins), nil
}

var weekdayNames = map[string]struct{}{
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {},
	"friday": {}, "saturday": {}, "sunday": {},
}

// parseLongFormDate handles the council's spelled-out dates, with and without
// the year. The leading weekday is dropped before parsing since the site
// occasionally abbreviates it. Year-less dates that would land well in the
// past roll into the following year.
func parseLongFormDate(text string, now time.Time) (time.Time, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return time.Time{}, false
	}
	if _, isDay := weekdayNames[strings.ToLower(strings.TrimSuffix(fields[0], ","))]; isDay {
		fields = fields[1:]
	}
	cleaned := strings.Join(fields, " ")

	if t, err := time.Parse("2 January 2006", cleaned); err == nil {
		return t, true
	}

	t, err := time.Parse("2 January", cleaned)
	if err != nil {
		return time.Time{}, false
	}
	t = time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if t.Before(now.AddDate(0, -1, 0)) {
		t = t.AddDate(1, 0, 0)
	}
	return t, true
}
