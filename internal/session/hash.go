package session

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// FormatHash renders a view as #zoom/lat/lng with 2, 5 and 5 decimals.
func FormatHash(zoom float64, center orb.Point) string {
	return fmt.Sprintf("#%.2f/%.5f/%.5f", zoom, center.Lat(), center.Lon())
}

// ParseHash reads a #zoom/lat/lng hash. Extra segments such as bearing are
// ignored; anything unparsable or out of range yields ok == false.
func ParseHash(hash string) (zoom float64, center orb.Point, ok bool) {
	parts := strings.Split(strings.TrimPrefix(hash, "#"), "/")
	if len(parts) < 3 {
		return 0, orb.Point{}, false
	}
	vals := make([]float64, 3)
	for i := range vals {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, orb.Point{}, false
		}
		vals[i] = v
	}
	zoom, lat, lng := vals[0], vals[1], vals[2]
	if zoom < 0 || zoom > 24 || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, orb.Point{}, false
	}
	return zoom, orb.Point{lng, lat}, true
}

// URLState is the page URL as seen by a session.
type URLState interface {
	Hash() string
	SetHash(hash string)
	SetQuery(q url.Values)
}

// MemoryURL is a URLState kept in memory, used outside the browser.
type MemoryURL struct {
	hash   string
	query  url.Values
	writes int
}

// NewMemoryURL creates a MemoryURL with an initial hash.
func NewMemoryURL(hash string) *MemoryURL {
	return &MemoryURL{hash: hash, query: url.Values{}}
}

func (u *MemoryURL) Hash() string { return u.hash }

func (u *MemoryURL) SetHash(hash string) {
	u.hash = hash
	u.writes++
}

// HashWrites counts SetHash calls.
func (u *MemoryURL) HashWrites() int { return u.writes }

// SetQuery merges q into the stored query.
func (u *MemoryURL) SetQuery(q url.Values) {
	for k, v := range q {
		u.query[k] = v
	}
}

// Query returns a copy of the stored query.
func (u *MemoryURL) Query() url.Values {
	out := url.Values{}
	for k, v := range u.query {
		out[k] = append([]string(nil), v...)
	}
	return out
}
