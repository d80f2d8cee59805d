// Package roster provides the read-only roster lookup collaborator interface (spec.md §3,
// §4.D). The roster is populated by an external collaborator (the roster importer, an
// explicit non-goal of this repo per spec.md §1); this package only defines what Scan Intake
// needs to consult it, following the same Dependency Inversion pattern as the teacher's
// internal/ingestion.Store (domain defines the interface, an adapter implements it).
package roster

import (
	"strings"

	"github.com/attendance-io/station-agent/internal/scan"
)

// Lookup is consulted by Scan Intake to resolve a badge and to search for non-numeric
// input (spec.md §4.D step 2).
type Lookup interface {
	// ByBadgeID returns the roster entry for an exact badge id, if present.
	ByBadgeID(badgeID string) (scan.RosterEntry, bool)

	// Search returns candidate roster entries matching a non-numeric query (e.g. a name
	// fragment). Scan Intake resolves the input to a badge id only when exactly one
	// candidate is returned.
	Search(query string) []scan.RosterEntry

	// Hash returns a stable digest of the currently loaded roster snapshot. The Durable Scan
	// Store's kv_metadata space has accessors for it (spec.md §6), but nothing in this
	// repository writes the hash there or compares it across restarts.
	Hash() string
}

// InMemorySet is the simplest Lookup: a read-only set of badge identifiers with attached
// opaque payloads, replaced wholesale by the external roster importer collaborator.
type InMemorySet struct {
	entries map[string]scan.RosterEntry
	hash    string
}

// NewInMemorySet builds a Lookup from a roster snapshot and its precomputed hash.
func NewInMemorySet(entries []scan.RosterEntry, hash string) *InMemorySet {
	m := make(map[string]scan.RosterEntry, len(entries))
	for _, e := range entries {
		m[e.BadgeID] = e
	}

	return &InMemorySet{entries: m, hash: hash}
}

// ByBadgeID implements Lookup.
func (s *InMemorySet) ByBadgeID(badgeID string) (scan.RosterEntry, bool) {
	e, ok := s.entries[badgeID]

	return e, ok
}

// Search implements Lookup with a naive substring match over badge IDs and their payload
// values; the roster importer collaborator is expected to provide a richer index if needed,
// this core only guarantees the "exactly one candidate resolves" contract of spec.md §4.D.
func (s *InMemorySet) Search(query string) []scan.RosterEntry {
	var out []scan.RosterEntry

	for _, e := range s.entries {
		if containsFold(e.BadgeID, query) {
			out = append(out, e)

			continue
		}

		for _, v := range e.Payload {
			if containsFold(v, query) {
				out = append(out, e)

				break
			}
		}
	}

	return out
}

// Hash implements Lookup.
func (s *InMemorySet) Hash() string {
	return s.hash
}

func containsFold(haystack, needle string) bool {
	return len(needle) > 0 && strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
