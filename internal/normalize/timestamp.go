package normalize

import (
	"strings"
	"time"
)

// timestampLayouts lists every accepted input layout, tried in order; the
// offset-bearing RFC3339 layouts come first, then the naive layouts.
var timestampLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02 Jan 2006 15:04:05",
	"02 Jan 2006 15:04",
}

// NormalizeTimestamp parses input against every accepted layout and returns
// the instant in UTC. Naive (offset-less) input is assumed to already be
// UTC. Returns false when no layout matches.
func NormalizeTimestamp(input string) (time.Time, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
