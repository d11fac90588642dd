// Package merge implements the replicated text document shared by a
// collaborative session.
//
// The document is a sequence CRDT in the RGA family: every character carries
// a globally unique ID (Lamport clock plus site) and the ID of its left
// neighbour at the time it was typed. Concurrent inserts after the same
// neighbour are ordered by ID, deletes leave tombstones. Operations whose
// dependency has not arrived yet are parked until it does, which makes Apply
// commutative, associative and idempotent.
package merge

import "fmt"

// ID identifies one character for the lifetime of a document.
type ID struct {
	Clock uint64 `json:"c"`
	Site  string `json:"s"`
}

// IsZero reports whether id is the document head.
func (id ID) IsZero() bool {
	return id.Clock == 0 && id.Site == ""
}

// Less orders ids by clock, then by site.
func (id ID) Less(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Site < other.Site
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%s", id.Clock, id.Site)
}

// Kind discriminates operations.
type Kind string

const (
	KindInsert Kind = "ins"
	KindDelete Kind = "del"
)

// Op is a single replicated edit. For inserts ID names the new character and
// Origin its left neighbour (zero for the head). For deletes ID names the
// character being removed.
type Op struct {
	Kind   Kind   `json:"k"`
	ID     ID     `json:"id"`
	Origin ID     `json:"o"`
	Value  string `json:"v,omitempty"`
}

// Element is one character of the replicated sequence, tombstones included.
type Element struct {
	ID      ID     `json:"id"`
	Origin  ID     `json:"o"`
	Value   string `json:"v"`
	Deleted bool   `json:"d,omitempty"`
}
