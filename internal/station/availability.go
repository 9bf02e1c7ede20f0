package station

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Reason explains how an availability status was derived.
type Reason string

const (
	// ReasonMatched means an active window covered the current instant.
	ReasonMatched Reason = "matched"

	// ReasonAbsent means the socket carried no usable window list.
	ReasonAbsent Reason = "absent"

	// ReasonNoActiveWindow means windows were present but none applied.
	ReasonNoActiveWindow Reason = "no_active_window"
)

// windowTimeLength is the seconds-precision prefix kept from upstream times.
const windowTimeLength = len("2006-01-02T15:04:05")

var windowTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var errUnparsableTime = errors.New("unparsable window time")

// Resolution is the outcome of resolving a socket's availability.
type Resolution struct {
	Status string
	Reason Reason

	// Windows holds the decoded windows, for diagnostics.
	Windows []Window

	// Skipped lists windows whose times could not be parsed.
	Skipped []SkippedWindow
}

// SkippedWindow records an active window ignored because of a bad time.
type SkippedWindow struct {
	Window Window
	Err    error
}

// ResolveAvailability picks the status of the first active window that
// contains now. Zone-less window times are read in loc. The end bound is
// truncated to seconds and padded by one second.
func ResolveAvailability(raw json.RawMessage, now time.Time, loc *time.Location) Resolution {
	if loc == nil {
		loc = time.UTC
	}

	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil || len(items) == 0 {
		return Resolution{Status: StatusUnknown, Reason: ReasonAbsent}
	}

	res := Resolution{Windows: make([]Window, 0, len(items))}
	for _, item := range items {
		var w Window
		if err := json.Unmarshal(item, &w); err != nil {
			continue
		}
		res.Windows = append(res.Windows, w)

		if !w.IsActive() {
			continue
		}

		start, end, err := windowBounds(w, loc)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedWindow{Window: w, Err: err})
			continue
		}

		if !now.Before(start) && now.Before(end) {
			res.Status = w.StatusString()
			res.Reason = ReasonMatched
			return res
		}
	}

	res.Status = StatusUnknown
	res.Reason = ReasonNoActiveWindow
	return res
}

func windowBounds(w Window, loc *time.Location) (start, end time.Time, err error) {
	startRaw, ok := w.StartTime.(string)
	if !ok {
		return start, end, fmt.Errorf("%w: startTime %v", errUnparsableTime, w.StartTime)
	}
	endRaw, ok := w.EndTime.(string)
	if !ok {
		return start, end, fmt.Errorf("%w: endTime %v", errUnparsableTime, w.EndTime)
	}

	start, err = parseStart(startRaw, loc)
	if err != nil {
		return start, end, err
	}

	if len(endRaw) > windowTimeLength {
		endRaw = endRaw[:windowTimeLength]
	}
	end, err = parseLocal(endRaw, loc)
	if err != nil {
		return start, end, err
	}

	return start, end.Add(time.Second), nil
}

func parseStart(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if len(s) > windowTimeLength {
		s = s[:windowTimeLength]
	}
	return parseLocal(s, loc)
}

func parseLocal(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range windowTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", errUnparsableTime, s)
}
