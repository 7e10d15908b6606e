package history

import (
	"math"

	"github.com/qrtrail/scanhistory/pkg/scanning"
)

const (
	regionPadding  = 1.5
	minRegionDelta = 0.01
	worldDelta     = 100
)

// Trail is every located scan of one payload.
type Trail struct {
	Data  string            `json:"data"`
	Scans []scanning.Record `json:"scans"`
}

// Region is a map viewport: a centre plus the span shown around it, in degrees.
type Region struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	LatitudeDelta  float64 `json:"latitude_delta"`
	LongitudeDelta float64 `json:"longitude_delta"`
}

// GroupByData splits records into trails keyed by payload. Trails appear in
// the order their payload is first seen; records keep their input order.
func GroupByData(records []scanning.Record) []Trail {
	index := make(map[string]int)
	trails := make([]Trail, 0)
	for _, r := range records {
		i, ok := index[r.Data]
		if !ok {
			i = len(trails)
			index[r.Data] = i
			trails = append(trails, Trail{Data: r.Data})
		}
		trails[i].Scans = append(trails[i].Scans, r)
	}
	return trails
}

// RegionFor frames every located record. Records without a location are
// ignored; with none left the whole world is shown.
func RegionFor(records []scanning.Record) Region {
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	seen := false

	for _, r := range records {
		if !r.HasLocation() {
			continue
		}
		seen = true
		minLat = math.Min(minLat, r.Location.Latitude)
		maxLat = math.Max(maxLat, r.Location.Latitude)
		minLng = math.Min(minLng, r.Location.Longitude)
		maxLng = math.Max(maxLng, r.Location.Longitude)
	}

	if !seen {
		return Region{LatitudeDelta: worldDelta, LongitudeDelta: worldDelta}
	}
	return Region{
		Latitude:       (minLat + maxLat) / 2,
		Longitude:      (minLng + maxLng) / 2,
		LatitudeDelta:  math.Max(minRegionDelta, (maxLat-minLat)*regionPadding),
		LongitudeDelta: math.Max(minRegionDelta, (maxLng-minLng)*regionPadding),
	}
}
