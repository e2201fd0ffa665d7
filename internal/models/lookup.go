package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Common errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnknownCouncil  = errors.New("unknown council module")
	ErrMissingPostcode = errors.New("a valid UK postcode is required")
	ErrMissingUPRN     = errors.New("this council needs your property reference; try adding your house number (e.g. '10 SN8 1RA')")
)

// DateFormat is the wire format for collection dates (day first, UK style).
const DateFormat = "02/01/2006"

// postcodeRe matches the UK postcode format, with or without the inner space.
var postcodeRe = regexp.MustCompile(`^[A-Za-z]{1,2}\d[A-Za-z\d]? ?\d[A-Za-z]{2}$`)

var uprnRe = regexp.MustCompile(`^\d{1,12}$`)

// Bin is a single upcoming collection as exposed on the wire.
type Bin struct {
	Type           string `json:"type"`
	CollectionDate string `json:"collectionDate"`
}

// BinSchedule is the payload returned by a successful lookup.
type BinSchedule struct {
	Bins []Bin `json:"bins"`
}

// LookupStatus represents the lifecycle of a lookup request.
type LookupStatus string

const (
	LookupStatusQueued    LookupStatus = "queued"
	LookupStatusRunning   LookupStatus = "running"
	LookupStatusCompleted LookupStatus = "completed"
	LookupStatusFailed    LookupStatus = "failed"
	LookupStatusTimedOut  LookupStatus = "timedout"
)

// ResultSource says where a schedule came from.
type ResultSource string

const (
	SourceLive     ResultSource = "live"
	SourceCache    ResultSource = "cache"
	SourceSnapshot ResultSource = "snapshot"
)

// Address is the parsed form of the free-text address_data field. The portal
// accepts a bare postcode ("SN8 1RA"), a house number plus postcode
// ("10 SN8 1RA"), or a raw UPRN ("100121060735").
type Address struct {
	Raw         string `json:"raw"`
	Postcode    string `json:"postcode,omitempty"`
	UPRN        string `json:"uprn,omitempty"`
	HouseNumber string `json:"house_number,omitempty"`
}

// ParseAddress splits address_data into its components. An all-digit value is
// treated as a UPRN; otherwise the trailing tokens must form a UK postcode and
// anything before them is kept as the house identifier.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, fmt.Errorf("%w: empty address_data", ErrInvalidInput)
	}

	addr := Address{Raw: trimmed}

	if uprnRe.MatchString(trimmed) {
		addr.UPRN = trimmed
		return addr, nil
	}

	fields := strings.Fields(trimmed)

	// Postcodes are one token ("SN81RA") or two ("SN8 1RA"); try the longer
	// match first so "10 SN8 1RA" keeps "10" as the house number.
	if len(fields) >= 2 {
		tail := strings.Join(fields[len(fields)-2:], " ")
		if postcodeRe.MatchString(tail) {
			addr.Postcode = strings.ToUpper(tail)
			addr.HouseNumber = strings.Join(fields[:len(fields)-2], " ")
			return addr, nil
		}
	}

	tail := fields[len(fields)-1]
	if postcodeRe.MatchString(tail) {
		addr.Postcode = strings.ToUpper(tail)
		addr.HouseNumber = strings.Join(fields[:len(fields)-1], " ")
		return addr, nil
	}

	return Address{}, fmt.Errorf("%w: %q", ErrMissingPostcode, trimmed)
}

// PaddedUPRN returns the UPRN zero-padded to 12 characters, as several council
// back ends require.
func (a Address) PaddedUPRN() string {
	if a.UPRN == "" {
		return ""
	}
	return fmt.Sprintf("%012s", a.UPRN)
}

// CacheKey identifies a schedule for caching and snapshots.
func (a Address) CacheKey() string {
	if a.UPRN != "" {
		return a.UPRN
	}
	key := strings.ReplaceAll(a.Postcode, " ", "")
	if a.HouseNumber != "" {
		key = a.HouseNumber + ":" + key
	}
	return strings.ToUpper(key)
}

// LookupRequest is the body of POST /get_bins.
type LookupRequest struct {
	AddressData string `json:"address_data" binding:"required"`
	Module      string `json:"module" binding:"required"`
	RequestID   string `json:"request_id"` // optional, generated when absent
	Async       bool   `json:"async"`
}

// LookupResult is what a completed lookup produces.
type LookupResult struct {
	RequestID string       `json:"request_id"`
	Module    string       `json:"module"`
	Status    LookupStatus `json:"status"`
	Source    ResultSource `json:"source"`
	Bins      []Bin        `json:"bins"`
}

// LookupLog is the persisted record of one lookup request.
type LookupLog struct {
	ID           string       `json:"id" db:"id"`
	RequestID    string       `json:"request_id" db:"request_id"`
	Module       string       `json:"module" db:"module"`
	AddressData  string       `json:"address_data" db:"address_data"`
	Status       LookupStatus `json:"status" db:"status"`
	StartedAt    time.Time    `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
	Duration     *int         `json:"duration,omitempty" db:"duration"` // in milliseconds
	BinsFound    *int         `json:"bins_found,omitempty" db:"bins_found"`
	Bins         []Bin        `json:"bins,omitempty" db:"-"`
	ErrorMessage *string      `json:"error_message,omitempty" db:"error_message"`
}

// ScheduleSnapshot is the last known good schedule for a council + address.
type ScheduleSnapshot struct {
	ID        string    `json:"id" db:"id"`
	Module    string    `json:"module" db:"module"`
	CacheKey  string    `json:"cache_key" db:"cache_key"`
	Bins      []Bin     `json:"bins" db:"-"`
	ScrapedAt time.Time `json:"scraped_at" db:"scraped_at"`
}

// WorkerJob is a lookup handed to the worker pool. Sync callers block on the
// response channels; async jobs carry neither.
type WorkerJob struct {
	RequestID    string
	Module       string
	Address      Address
	Async        bool
	Timeout      time.Duration
	ResponseChan chan *LookupResult
	ErrorChan    chan error
}

// QueueMessage is the serialized form of an async lookup on the Redis queue.
type QueueMessage struct {
	RequestID     string    `json:"request_id"`
	Module        string    `json:"module"`
	AddressData   string    `json:"address_data"`
	RetryCount    int       `json:"retry_count"`
	FirstEnqueued time.Time `json:"first_enqueued"`
	LastEnqueued  time.Time `json:"last_enqueued"`
}

// SortBins orders bins chronologically, then by type, for stable output.
func SortBins(bins []Bin) {
	parse := func(b Bin) time.Time {
		t, err := time.Parse(DateFormat, b.CollectionDate)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	sort.SliceStable(bins, func(i, j int) bool {
		ti, tj := parse(bins[i]), parse(bins[j])
		if ti.Equal(tj) {
			return bins[i].Type < bins[j].Type
		}
		return ti.Before(tj)
	})
}

// MarshalBins encodes bins for JSONB storage.
func MarshalBins(bins []Bin) ([]byte, error) {
	data, err := json.Marshal(bins)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bins: %w", err)
	}
	return data, nil
}

// ValidatePostcode checks the UK postcode format.
func ValidatePostcode(pc string) error {
	if !postcodeRe.MatchString(strings.TrimSpace(pc)) {
		return fmt.Errorf("%w: %q", ErrMissingPostcode, pc)
	}
	return nil
}

// ValidateUPRN checks that a UPRN is present, numeric, and at most 12 digits.
func ValidateUPRN(uprn string) error {
	trimmed := strings.TrimSpace(uprn)
	if trimmed == "" {
		return ErrMissingUPRN
	}
	if !uprnRe.MatchString(trimmed) {
		return fmt.Errorf("%w: invalid UPRN %q", ErrInvalidInput, uprn)
	}
	return nil
}
