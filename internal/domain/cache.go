package domain

import "time"

// CacheState is a snapshot of fetched todos. It is replaced wholesale,
// never edited in place.
type CacheState struct {
	Items     []Todo
	Timestamp time.Time
	Selection string // Fingerprint of the inputs the snapshot was fetched with
}

// IsStale reports whether the snapshot must be refetched: it is missing,
// older than interval, or was fetched for a different selection.
func (c *CacheState) IsStale(now time.Time, interval time.Duration, selection string) bool {
	if c == nil {
		return true
	}
	if c.Selection != selection {
		return true
	}
	return !now.Before(c.Timestamp.Add(interval))
}
