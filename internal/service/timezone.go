package service

import (
	"errors"
	"sync"
	"time"
	_ "time/tzdata" // zone database for hosts without /usr/share/zoneinfo

	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"
	"payment-link-gateway/pkg/apperror"
)

var errEmptyTimezone = errors.New("timezone is empty")

// TimezoneResolver maps merchant IANA zones to calendar dates. Unknown zones
// are a configuration error; there is no silent fallback to UTC.
type TimezoneResolver struct {
	clock ports.Clock

	mu    sync.RWMutex
	cache map[string]*time.Location
}

// NewTimezoneResolver creates a resolver reading the current instant from clock.
func NewTimezoneResolver(clock ports.Clock) *TimezoneResolver {
	return &TimezoneResolver{
		clock: clock,
		cache: make(map[string]*time.Location),
	}
}

// Location loads (and caches) the IANA zone tz.
func (r *TimezoneResolver) Location(tz string) (*time.Location, error) {
	r.mu.RLock()
	loc, ok := r.cache[tz]
	r.mu.RUnlock()
	if ok {
		return loc, nil
	}

	// LoadLocation maps "" to UTC and "Local" to the host zone; neither is a
	// merchant zone.
	if tz == "" || tz == "Local" {
		return nil, apperror.ErrTimezoneMisconfigured(tz, errEmptyTimezone)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apperror.ErrTimezoneMisconfigured(tz, err)
	}

	r.mu.Lock()
	r.cache[tz] = loc
	r.mu.Unlock()
	return loc, nil
}

// CurrentOrderDate returns today's YYYYMMDD in tz.
func (r *TimezoneResolver) CurrentOrderDate(tz string) (string, error) {
	loc, err := r.Location(tz)
	if err != nil {
		return "", err
	}
	return OrderDate(r.clock.Now(), loc), nil
}

// OrderDate formats the calendar date of instant as observed in loc.
func OrderDate(instant time.Time, loc *time.Location) string {
	return instant.In(loc).Format(domain.OrderDateLayout)
}

// MonthBounds returns [start of month, start of next month) for the calendar
// month containing instant in loc. DST transitions are handled by time.Date.
func MonthBounds(instant time.Time, loc *time.Location) (time.Time, time.Time) {
	local := instant.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
