package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// RecordLayout is the layout of evidence record timestamps
const RecordLayout = "2006-01-02 15:04:05"

var (
	mu              sync.RWMutex
	currentLocation *time.Location
)

// Initialize sets the zone used for record timestamps.
// An empty name falls back to the TZ environment variable, then UTC.
func Initialize(name string) {
	if name == "" {
		name = os.Getenv("TZ")
	}
	if name == "" {
		name = "UTC"
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", name, err)
		loc = time.UTC
	} else {
		log.Infof("Timezone initialized to %s", name)
	}

	mu.Lock()
	currentLocation = loc
	mu.Unlock()
}

// Location returns the configured zone
func Location() *time.Location {
	mu.RLock()
	loc := currentLocation
	mu.RUnlock()
	if loc == nil {
		return time.UTC
	}
	return loc
}

// Now returns the current time in the configured zone
func Now() time.Time {
	return time.Now().In(Location())
}

// Format formats t in the configured zone
func Format(t time.Time, layout string) string {
	return t.In(Location()).Format(layout)
}

// RecordTimestamp formats t as "YYYY-MM-DD HH:MM:SS"
func RecordTimestamp(t time.Time) string {
	return Format(t, RecordLayout)
}
