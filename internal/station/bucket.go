package station

import (
	"net/url"
	"strings"
	"time"
)

// TimestampLayout is the upstream minute-bucket format.
const TimestampLayout = "2006-01-02 15:04:05"

// QueryBucket returns the start of the previous full minute relative to now,
// expressed in loc. The current minute is skipped because the upstream may
// not have published it yet.
func QueryBucket(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Add(-time.Minute).Truncate(time.Minute)
}

// FormatTimestamp formats a bucket for the upstream path.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// EncodeTimestamp percent-encodes a formatted timestamp for use as a single
// path segment (space as %20, colon as %3A).
func EncodeTimestamp(ts string) string {
	return strings.ReplaceAll(url.QueryEscape(ts), "+", "%20")
}

// StationURL builds <base>/stations/id/<id>/<encoded timestamp>.
func StationURL(q Query) string {
	return strings.TrimSuffix(q.BaseURL, "/") +
		"/stations/id/" + url.PathEscape(q.StationID) +
		"/" + EncodeTimestamp(q.Timestamp)
}
