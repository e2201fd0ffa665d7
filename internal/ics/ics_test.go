package ics

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binportal/internal/models"
)

func TestCalendar(t *testing.T) {
	bins := []models.Bin{
		{Type: "Household waste", CollectionDate: "05/09/2026"},
		{Type: "Recycling", CollectionDate: "12/09/2026"},
	}

	cal := Calendar(bins)

	lines := strings.Split(cal, "\r\n")
	require.Equal(t, "BEGIN:VCALENDAR", lines[0])
	require.Equal(t, "VERSION:2.0", lines[1])
	require.Equal(t, "PRODID:-//Bin Portal//EN", lines[2])
	assert.Equal(t, "END:VCALENDAR", lines[len(lines)-1])

	assert.Equal(t, 2, strings.Count(cal, "BEGIN:VEVENT"))
	assert.Contains(t, cal, "DTSTART;VALUE=DATE:20260905\r\n")
	assert.Contains(t, cal, "SUMMARY:Bin: Household waste\r\n")

	// UIDs stay stable across regenerations so subscribed calendars
	// update events instead of duplicating them.
	sum := md5.Sum([]byte("Household waste20260905"))
	assert.Contains(t, cal, "UID:"+hex.EncodeToString(sum[:])+"@binportal\r\n")
}

func TestCalendarSkipsBadDates(t *testing.T) {
	cal := Calendar([]models.Bin{
		{Type: "Household waste", CollectionDate: "not a date"},
		{Type: "Recycling", CollectionDate: "12/09/2026"},
	})

	assert.Equal(t, 1, strings.Count(cal, "BEGIN:VEVENT"))
	assert.NotContains(t, cal, "Household waste")
}

func TestCalendarEmpty(t *testing.T) {
	cal := Calendar(nil)
	assert.Equal(t, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Bin Portal//EN\r\nEND:VCALENDAR", cal)
}

func TestEscapeText(t *testing.T) {
	assert.Equal(t, `Garden\; food\, waste`, escapeText("Garden; food, waste"))
	assert.Equal(t, `a\\b`, escapeText(`a\b`))
}
