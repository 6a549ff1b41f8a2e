package places

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// BoundingBox is a map viewport. West > East means the box crosses the
// antimeridian.
type BoundingBox struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

func (b BoundingBox) Validate() error {
	for name, v := range map[string]float64{"north": b.North, "south": b.South, "east": b.East, "west": b.West} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return FilterError{Field: name, Message: "must be a finite number"}
		}
	}
	if b.North < -90 || b.North > 90 {
		return FilterError{Field: "north", Message: "must be between -90 and 90"}
	}
	if b.South < -90 || b.South > 90 {
		return FilterError{Field: "south", Message: "must be between -90 and 90"}
	}
	if b.North < b.South {
		return FilterError{Field: "north", Message: "must be greater than or equal to south"}
	}
	if b.East < -180 || b.East > 180 {
		return FilterError{Field: "east", Message: "must be between -180 and 180"}
	}
	if b.West < -180 || b.West > 180 {
		return FilterError{Field: "west", Message: "must be between -180 and 180"}
	}
	return nil
}

// CrossesAntimeridian reports whether the longitude range wraps around 180°.
func (b BoundingBox) CrossesAntimeridian() bool {
	return b.West > b.East
}

// Contains mirrors the SQL predicate used by the exploration queries.
func (b BoundingBox) Contains(lat, lng float64) bool {
	if lat < b.South || lat > b.North {
		return false
	}
	if b.CrossesAntimeridian() {
		return lng >= b.West || lng <= b.East
	}
	return lng >= b.West && lng <= b.East
}

type FilterError struct {
	Field   string
	Message string
}

func (e FilterError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ParseBoundingBox reads north/south/east/west from query values. All four
// must be present together; ok is false when none are set.
func ParseBoundingBox(values url.Values) (box BoundingBox, ok bool, err error) {
	keys := []string{"north", "south", "east", "west"}
	present := 0
	parsed := make(map[string]float64, len(keys))
	for _, key := range keys {
		raw := strings.TrimSpace(values.Get(key))
		if raw == "" {
			continue
		}
		present++
		v, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			return BoundingBox{}, false, FilterError{Field: key, Message: "must be a number"}
		}
		parsed[key] = v
	}
	if present == 0 {
		return BoundingBox{}, false, nil
	}
	if present != len(keys) {
		return BoundingBox{}, false, FilterError{Field: "bbox", Message: "north, south, east and west must be provided together"}
	}
	box = BoundingBox{North: parsed["north"], South: parsed["south"], East: parsed["east"], West: parsed["west"]}
	if err := box.Validate(); err != nil {
		return BoundingBox{}, false, err
	}
	return box, true, nil
}
