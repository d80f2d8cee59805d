// Package timeutil provides the single canonical timestamp serializer shared by every code
// path that writes or compares a scan timestamp: the durable store, the idempotency key
// builder, the duplicate-window query, and the cloud wire payload. A second formatter
// anywhere in this codebase is a bug by construction.
package timeutil

import "time"

// rfc3339UTC is RFC3339 with a literal "Z" suffix and a fixed-width nanosecond fraction,
// matching the wire contract in SPEC_FULL.md's Sync Engine section. The fixed width keeps
// lexicographic string order equal to chronological order while preserving the sub-second
// precision spec.md §3 requires of scanned_at_utc.
const rfc3339UTC = "2006-01-02T15:04:05.000000000Z"

// FormatUTC renders t in the canonical form used for storage, idempotency keys, and the
// cloud wire payload. t is converted to UTC before formatting regardless of its source
// location.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(rfc3339UTC)
}

// ParseUTC parses the canonical form produced by FormatUTC. Any other layout is rejected:
// accepting alternate layouts here is exactly the "timestamp format drift" failure mode
// SPEC_FULL.md calls out.
func ParseUTC(s string) (time.Time, error) {
	return time.Parse(rfc3339UTC, s)
}
