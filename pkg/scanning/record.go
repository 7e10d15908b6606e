package scanning

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Record is one decoded code plus the metadata captured with it.
type Record struct {
	ID       string    `json:"id"`
	Data     string    `json:"data"`
	Type     string    `json:"type"`
	Date     time.Time `json:"date"`
	Location *Location `json:"location,omitempty"`
}

// Location is the position reported by the device when the scan happened.
// Address is best-effort and may be empty even when coordinates are set.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Valid reports whether the coordinates are finite and within range.
func (l *Location) Valid() bool {
	if l == nil {
		return false
	}
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// HasLocation reports whether the record carries a position.
func (r Record) HasLocation() bool {
	return r.Location != nil
}

// NewID returns a fresh random record identifier.
func NewID() string {
	return uuid.NewString()
}

// Timestamp normalizes t the way capture clients serialize dates: UTC,
// millisecond precision.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
