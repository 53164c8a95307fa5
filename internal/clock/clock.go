package clock

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // zone lookups work on hosts without a zoneinfo database
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock that always returns a fixed time.
type Mock struct {
	T time.Time
}

// Now returns the fixed time.
func (m Mock) Now() time.Time { return m.T }

// Manual is a Clock whose time only moves when Set or Advance is called.
// It is safe for concurrent use.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

// NewManual returns a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{t: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

// Zoned reports the time of an underlying Clock in a fixed location.
// Bid timestamps are recorded through it so that every replica stamps
// bids in the same reference zone.
type Zoned struct {
	base Clock
	loc  *time.Location
}

// NewZoned wraps base so that Now returns times in the named IANA zone.
func NewZoned(base Clock, zone string) (*Zoned, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", zone, err)
	}
	return &Zoned{base: base, loc: loc}, nil
}

// Now returns the base clock's time in the reference location.
func (z *Zoned) Now() time.Time { return z.base.Now().In(z.loc) }

// Location returns the reference location.
func (z *Zoned) Location() *time.Location { return z.loc }
