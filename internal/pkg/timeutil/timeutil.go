package timeutil

import "time"

// Now returns the current instant in UTC. All billing math in this
// codebase runs on UTC instants so period comparisons never mix
// locations.
func Now() time.Time {
	return time.Now().UTC()
}

// Normalize coerces a timestamp of unknown origin to UTC before any
// duration math. Timestamps parsed without zone information already
// carry UTC, so converting the location is enough to make naive and
// aware writers comparable; the instant itself is preserved.
func Normalize(t time.Time) time.Time {
	return t.UTC()
}

// NormalizePtr is Normalize for nullable columns.
func NormalizePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := t.UTC()
	return &n
}
