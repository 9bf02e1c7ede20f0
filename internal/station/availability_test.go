package station_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarjproxy/sarjproxy/internal/station"
)

var evalTime = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func windows(t *testing.T, items ...map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(items)
	require.NoError(t, err)
	return raw
}

func TestResolveAvailability_MatchesActiveWindow(t *testing.T) {
	raw := windows(t, map[string]any{
		"active":    1,
		"startTime": "2024-05-10T11:59:50",
		"endTime":   "2024-05-10T12:00:05",
		"status":    "Available",
	})

	res := station.ResolveAvailability(raw, evalTime, time.UTC)

	assert.Equal(t, "Available", res.Status)
	assert.Equal(t, station.ReasonMatched, res.Reason)
}

func TestResolveAvailability_Absent(t *testing.T) {
	tests := []struct {
		name string
		raw  json.RawMessage
	}{
		{"nil", nil},
		{"empty array", json.RawMessage(`[]`)},
		{"null", json.RawMessage(`null`)},
		{"object", json.RawMessage(`{"active":1}`)},
		{"string", json.RawMessage(`"Available"`)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := station.ResolveAvailability(tc.raw, evalTime, time.UTC)

			assert.Equal(t, station.StatusUnknown, res.Status)
			assert.Equal(t, station.ReasonAbsent, res.Reason)
		})
	}
}

func TestResolveAvailability_AllInactive(t *testing.T) {
	raw := windows(t,
		map[string]any{"active": 0, "startTime": "2024-05-10T11:00:00", "endTime": "2024-05-10T13:00:00", "status": "Available"},
		map[string]any{"active": "1", "startTime": "2024-05-10T11:00:00", "endTime": "2024-05-10T13:00:00", "status": "Occupied"},
	)

	res := station.ResolveAvailability(raw, evalTime, time.UTC)

	assert.Equal(t, station.StatusUnknown, res.Status)
	assert.Equal(t, station.ReasonNoActiveWindow, res.Reason)
	assert.Len(t, res.Windows, 2)
}

func TestResolveAvailability_FirstMatchWins(t *testing.T) {
	raw := windows(t,
		map[string]any{"active": 1, "startTime": "2024-05-10T10:00:00", "endTime": "2024-05-10T11:00:00", "status": "Past"},
		map[string]any{"active": 1, "startTime": "2024-05-10T11:00:00", "endTime": "2024-05-10T13:00:00", "status": "Occupied"},
		map[string]any{"active": 1, "startTime": "2024-05-10T11:30:00", "endTime": "2024-05-10T12:30:00", "status": "Available"},
	)

	res := station.ResolveAvailability(raw, evalTime, time.UTC)

	assert.Equal(t, "Occupied", res.Status)
}

func TestResolveAvailability_Boundaries(t *testing.T) {
	tests := []struct {
		name     string
		start    string
		end      string
		expected string
	}{
		{"start is inclusive", "2024-05-10T12:00:00", "2024-05-10T12:10:00", "Available"},
		{"starts after now", "2024-05-10T12:00:01", "2024-05-10T12:10:00", station.StatusUnknown},
		{"end padded by one second", "2024-05-10T11:00:00", "2024-05-10T11:59:59", station.StatusUnknown},
		{"end equal to now is covered", "2024-05-10T11:00:00", "2024-05-10T12:00:00", "Available"},
		{"end fraction truncated", "2024-05-10T11:00:00", "2024-05-10T11:59:59.999", station.StatusUnknown},
		{"space separated", "2024-05-10 11:00:00", "2024-05-10 12:00:00.500", "Available"},
		{"start with zone", "2024-05-10T13:00:00+02:00", "2024-05-10T12:00:00", "Available"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := windows(t, map[string]any{
				"active":    1,
				"startTime": tc.start,
				"endTime":   tc.end,
				"status":    "Available",
			})

			res := station.ResolveAvailability(raw, evalTime, time.UTC)

			assert.Equal(t, tc.expected, res.Status)
		})
	}
}

func TestResolveAvailability_SkipsUnparsableWindow(t *testing.T) {
	raw := windows(t,
		map[string]any{"active": 1, "startTime": "yesterday", "endTime": "tomorrow", "status": "Broken"},
		map[string]any{"active": 1, "startTime": nil, "endTime": "2024-05-10T13:00:00", "status": "Missing"},
		map[string]any{"active": 1, "startTime": "2024-05-10T11:00:00", "endTime": "2024-05-10T13:00:00", "status": "Available"},
	)

	res := station.ResolveAvailability(raw, evalTime, time.UTC)

	assert.Equal(t, "Available", res.Status)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "Broken", res.Skipped[0].Window.StatusString())
}

func TestResolveAvailability_LocalTimeZone(t *testing.T) {
	istanbul, err := time.LoadLocation("Europe/Istanbul")
	require.NoError(t, err)

	raw := windows(t, map[string]any{
		"active":    1,
		"startTime": "2024-05-10T14:30:00",
		"endTime":   "2024-05-10T15:30:00",
		"status":    "Available",
	})

	assert.Equal(t, "Available", station.ResolveAvailability(raw, evalTime, istanbul).Status)
	assert.Equal(t, station.StatusUnknown, station.ResolveAvailability(raw, evalTime, time.UTC).Status)
}

func TestWindow_StatusString(t *testing.T) {
	assert.Equal(t, "Available", station.Window{Status: "Available"}.StatusString())
	assert.Equal(t, "3", station.Window{Status: float64(3)}.StatusString())
	assert.Equal(t, station.StatusUnknown, station.Window{}.StatusString())
}
