package requesttime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithClockPinsOneTimePerRequest(t *testing.T) {
	calls := 0
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	var seen []time.Time
	handler := WithClock(clock)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = append(seen, Now(r.Context()), Now(r.Context()))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/apps", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/apps", nil))

	assert.Equal(t, 2, calls)
	assert.Equal(t, seen[0], seen[1])
	assert.Equal(t, base.Add(2*time.Second), seen[2])
}

func TestTimesAreUTCMicroseconds(t *testing.T) {
	local := time.Date(2026, 3, 1, 10, 30, 0, 123456789, time.FixedZone("CET", 3600))
	got := Now(WithTime(context.Background(), local))

	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123456000, got.Nanosecond())
	assert.True(t, got.Equal(local.Truncate(time.Microsecond)))
}

func TestNowOutsideRequestUsesWallClock(t *testing.T) {
	before := time.Now().Add(-time.Millisecond)
	got := Now(context.Background())
	assert.True(t, got.After(before))
	assert.Equal(t, time.UTC, got.Location())
}
