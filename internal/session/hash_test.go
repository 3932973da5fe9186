package session

import (
	"net/url"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestFormatHash(t *testing.T) {
	assert.Equal(t, "#5.25/52.52001/13.40495", FormatHash(5.254, orb.Point{13.404954, 52.520008}))
	assert.Equal(t, "#0.00/-1.00000/-62.20000", FormatHash(0, orb.Point{-62.2, -1}))
}

func TestParseHash(t *testing.T) {
	zoom, center, ok := ParseHash("#5.25/52.52001/13.40495")
	assert.True(t, ok)
	assert.Equal(t, 5.25, zoom)
	assert.Equal(t, orb.Point{13.40495, 52.52001}, center)

	_, _, ok = ParseHash("3/10/20/45")
	assert.True(t, ok, "bearing segment is ignored")

	for _, bad := range []string{"", "#", "#1/2", "#a/1/2", "#1/95/0", "#1/0/181", "#-1/0/0", "#NaN/0/0"} {
		_, _, ok := ParseHash(bad)
		assert.False(t, ok, bad)
	}
}

func TestHashRoundTrip(t *testing.T) {
	h := FormatHash(7.5, orb.Point{-46.63331, -23.55052})
	zoom, center, ok := ParseHash(h)
	assert.True(t, ok)
	assert.Equal(t, h, FormatHash(zoom, center))
}

func TestMemoryURL(t *testing.T) {
	u := NewMemoryURL("#1/2/3")
	assert.Equal(t, "#1/2/3", u.Hash())

	u.SetHash("#4/5/6")
	assert.Equal(t, 1, u.HashWrites())

	u.SetQuery(url.Values{"lat": {"1"}, "zoom": {"2"}})
	u.SetQuery(url.Values{"lat": {"3"}})
	q := u.Query()
	assert.Equal(t, "3", q.Get("lat"))
	assert.Equal(t, "2", q.Get("zoom"))
}
