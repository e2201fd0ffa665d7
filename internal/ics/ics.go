// Package ics renders bin schedules as iCalendar feeds so calendar apps can
// subscribe to collection dates.
package ics

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"binportal/internal/models"
)

const (
	// ContentType is the MIME type for the feed response.
	ContentType = "text/calendar; charset=utf-8"

	// Filename is the suggested attachment name.
	Filename = "bins.ics"

	prodID = "-//Bin Portal//EN"
	crlf   = "\r\n"
)

// Calendar renders one all-day VEVENT per bin. Bins whose dates fail to
// parse are skipped rather than corrupting the feed. Event UIDs are stable
// across regenerations so subscribed calendars update in place.
func Calendar(bins []models.Bin) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR" + crlf)
	b.WriteString("VERSION:2.0" + crlf)
	b.WriteString("PRODID:" + prodID + crlf)

	for _, bin := range bins {
		date, err := time.Parse(models.DateFormat, bin.CollectionDate)
		if err != nil {
			continue
		}
		dateStr := date.Format("20060102")

		b.WriteString("BEGIN:VEVENT" + crlf)
		b.WriteString("UID:" + eventUID(bin.Type, dateStr) + crlf)
		b.WriteString("DTSTART;VALUE=DATE:" + dateStr + crlf)
		b.WriteString("SUMMARY:Bin: " + escapeText(bin.Type) + crlf)
		b.WriteString("END:VEVENT" + crlf)
	}

	b.WriteString("END:VCALENDAR")
	return b.String()
}

// eventUID derives a stable identifier from the type and date.
func eventUID(binType, dateStr string) string {
	sum := md5.Sum([]byte(binType + dateStr))
	return hex.EncodeToString(sum[:]) + "@binportal"
}

// escapeText escapes the characters RFC 5545 treats as special in TEXT values.
func escapeText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		";", `\;`,
		",", `\,`,
		"\n", `\n`,
	)
	return r.Replace(s)
}
