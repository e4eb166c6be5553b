package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// LoadTime records how long one implementation source took to load. Source is
// a labelled origin such as "TYPE: GMOS_IMAGE", "FILE: raw.fits" or
// "CONFIG: /etc/reducore".
type LoadTime struct {
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns the elapsed load time.
func (lt LoadTime) Duration() time.Duration {
	return lt.FinishedAt.Sub(lt.StartedAt)
}

// LoadTimeLog accumulates load-time telemetry across registry construction
// and reduction object retrieval. Safe for concurrent use.
type LoadTimeLog struct {
	mu      sync.Mutex
	entries []LoadTime
}

// NewLoadTimeLog constructs an empty log.
func NewLoadTimeLog() *LoadTimeLog {
	return &LoadTimeLog{}
}

// Observe appends one load observation.
func (l *LoadTimeLog) Observe(source string, start, end time.Time) {
	l.mu.Lock()
	l.entries = append(l.entries, LoadTime{Source: source, StartedAt: start, FinishedAt: end})
	l.mu.Unlock()
}

// Entries returns a copy of the recorded observations ordered by start time.
func (l *LoadTimeLog) Entries() []LoadTime {
	l.mu.Lock()
	out := make([]LoadTime, len(l.entries))
	copy(out, l.entries)
	l.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Report renders one line per observation in the historical operator format.
func (l *LoadTimeLog) Report() string {
	var b strings.Builder
	for _, entry := range l.Entries() {
		fmt.Fprintf(&b, "Module '%s took %s to load'\n", entry.Source, entry.Duration())
	}
	return b.String()
}
