package station

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Station errors.
var (
	// ErrInvalidPayload is returned when the upstream body is not valid JSON.
	ErrInvalidPayload = errors.New("invalid station payload")

	// ErrMissingStationID is returned when no station identifier was supplied.
	ErrMissingStationID = errors.New("missing station id")
)

// StatusUnknown is reported when no availability window applies.
const StatusUnknown = "UNKNOWN"

// Socket is the simplified socket returned to clients.
type Socket struct {
	ID           json.RawMessage `json:"id"`
	Price        json.RawMessage `json:"price"`
	Availability string          `json:"availability"`
}

// Window is one upstream availability interval. Fields are kept loosely
// typed because the upstream does not guarantee their JSON types.
type Window struct {
	Active    any `json:"active"`
	StartTime any `json:"startTime"`
	EndTime   any `json:"endTime"`
	Status    any `json:"status"`
}

// IsActive reports whether the window is flagged active (numeric 1).
func (w Window) IsActive() bool {
	n, ok := w.Active.(float64)
	return ok && n == 1
}

// StatusString returns the window status verbatim, stringifying
// non-string values.
func (w Window) StatusString() string {
	switch s := w.Status.(type) {
	case nil:
		return StatusUnknown
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// Query identifies one upstream station lookup.
type Query struct {
	// BaseURL is the upstream API base URL.
	BaseURL string

	// StationID is the raw station identifier from the request path.
	StationID string

	// Timestamp is the minute bucket, formatted but not yet encoded.
	Timestamp string
}

// UpstreamStatusError is returned when the upstream responds with a
// non-success status.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream responded with %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// rawSocket is the subset of an upstream socket this service reads.
type rawSocket struct {
	ID           json.RawMessage `json:"id"`
	Price        json.RawMessage `json:"price"`
	Availability json.RawMessage `json:"availability"`
}
