package merge

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// SeedSite is the site that owns characters loaded from storage.
const SeedSite = "~seed"

const (
	// MaxClock is the largest clock an operation may carry. Local clocks
	// never pass it, so ids a replica hands out are never reused.
	MaxClock = math.MaxUint32
	// MaxPending caps the operations a replica holds back for a missing
	// dependency.
	MaxPending = 4096
)

var (
	ErrInvalidOp      = errors.New("invalid operation")
	ErrOutOfRange     = errors.New("position out of range")
	ErrNotEmpty       = errors.New("document is not empty")
	ErrClockExhausted = errors.New("document clock exhausted")
	ErrTooManyPending = errors.New("too many operations waiting for a dependency")
)

// Doc is one replica of the document. It is not safe for concurrent use.
type Doc struct {
	site    string
	clock   uint64
	elems   []Element
	present map[ID]struct{}
	pending []Op
	edited  bool
}

// NewDoc returns an empty replica whose local edits are attributed to site.
func NewDoc(site string) *Doc {
	return &Doc{site: site, present: make(map[ID]struct{})}
}

func (d *Doc) Site() string { return d.site }

// Apply integrates a remote operation and reports whether the visible text
// changed. Duplicates are ignored. Operations that depend on characters not
// yet seen are held back and integrated once the dependency arrives.
func (d *Doc) Apply(op Op) (bool, error) {
	if err := validate(op); err != nil {
		return false, err
	}
	d.observe(op.ID.Clock)
	d.edited = true

	changed, ready := d.integrate(op)
	if !ready {
		return false, d.park(op)
	}
	if d.drain() {
		changed = true
	}
	return changed, nil
}

func validate(op Op) error {
	if op.ID.IsZero() {
		return fmt.Errorf("%w: zero id", ErrInvalidOp)
	}
	if op.ID.Clock > MaxClock || op.Origin.Clock > MaxClock {
		return fmt.Errorf("%w: clock out of range", ErrInvalidOp)
	}
	switch op.Kind {
	case KindInsert:
		if utf8.RuneCountInString(op.Value) != 1 || !utf8.ValidString(op.Value) {
			return fmt.Errorf("%w: insert must carry exactly one character", ErrInvalidOp)
		}
	case KindDelete:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOp, op.Kind)
	}
	return nil
}

func (d *Doc) observe(clock uint64) {
	if clock > d.clock {
		d.clock = clock
	}
}

// integrate applies op if its dependency is present. ready is false when the
// op has to wait.
func (d *Doc) integrate(op Op) (changed, ready bool) {
	switch op.Kind {
	case KindInsert:
		if _, ok := d.present[op.ID]; ok {
			return false, true
		}
		i := 0
		if !op.Origin.IsZero() {
			o := d.indexOf(op.Origin)
			if o < 0 {
				return false, false
			}
			i = o + 1
		}
		for i < len(d.elems) && op.ID.Less(d.elems[i].ID) {
			i++
		}
		d.elems = append(d.elems, Element{})
		copy(d.elems[i+1:], d.elems[i:])
		d.elems[i] = Element{ID: op.ID, Origin: op.Origin, Value: op.Value}
		d.present[op.ID] = struct{}{}
		return true, true

	default:
		i := d.indexOf(op.ID)
		if i < 0 {
			return false, false
		}
		if d.elems[i].Deleted {
			return false, true
		}
		d.elems[i].Deleted = true
		return true, true
	}
}

func (d *Doc) park(op Op) error {
	for _, p := range d.pending {
		if p == op {
			return nil
		}
	}
	if len(d.pending) >= MaxPending {
		return ErrTooManyPending
	}
	d.pending = append(d.pending, op)
	return nil
}

// drain retries parked operations until none of them can make progress.
func (d *Doc) drain() bool {
	changed := false
	for progress := true; progress && len(d.pending) > 0; {
		progress = false
		rest := d.pending[:0]
		for _, op := range d.pending {
			c, ready := d.integrate(op)
			if !ready {
				rest = append(rest, op)
				continue
			}
			progress = true
			changed = changed || c
		}
		d.pending = rest
	}
	return changed
}

func (d *Doc) indexOf(id ID) int {
	if _, ok := d.present[id]; !ok {
		return -1
	}
	for i := range d.elems {
		if d.elems[i].ID == id {
			return i
		}
	}
	return -1
}

// visibleIndex maps a visible rune position to an index in elems. pos may
// equal Len, in which case len(elems) is returned.
func (d *Doc) visibleIndex(pos int) int {
	n := 0
	for i := range d.elems {
		if d.elems[i].Deleted {
			continue
		}
		if n == pos {
			return i
		}
		n++
	}
	return len(d.elems)
}

func (d *Doc) next() (ID, error) {
	if d.clock >= MaxClock {
		return ID{}, ErrClockExhausted
	}
	d.clock++
	return ID{Clock: d.clock, Site: d.site}, nil
}

// LocalInsert inserts text before the visible rune at pos and returns the
// operations to broadcast.
func (d *Doc) LocalInsert(pos int, text string) ([]Op, error) {
	if pos < 0 || pos > d.Len() {
		return nil, ErrOutOfRange
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidOp)
	}
	if text == "" {
		return nil, nil
	}
	n := utf8.RuneCountInString(text)
	if uint64(n) > MaxClock-d.clock {
		return nil, ErrClockExhausted
	}

	var origin ID
	if pos > 0 {
		// left neighbour is the last visible rune before pos
		origin = d.elems[d.visibleIndex(pos-1)].ID
	}

	ops := make([]Op, 0, n)
	for _, r := range text {
		id, err := d.next()
		if err != nil {
			return nil, err
		}
		op := Op{Kind: KindInsert, ID: id, Origin: origin, Value: string(r)}
		d.integrate(op)
		ops = append(ops, op)
		origin = op.ID
	}
	d.edited = true
	return ops, nil
}

// LocalDelete removes n visible runes starting at pos.
func (d *Doc) LocalDelete(pos, n int) ([]Op, error) {
	if pos < 0 || n < 0 || pos+n > d.Len() {
		return nil, ErrOutOfRange
	}
	ids := make([]ID, 0, n)
	for i := d.visibleIndex(pos); i < len(d.elems) && len(ids) < n; i++ {
		if !d.elems[i].Deleted {
			ids = append(ids, d.elems[i].ID)
		}
	}

	ops := make([]Op, 0, len(ids))
	for _, id := range ids {
		op := Op{Kind: KindDelete, ID: id}
		d.integrate(op)
		ops = append(ops, op)
	}
	if len(ops) > 0 {
		d.edited = true
	}
	return ops, nil
}

// Snapshot returns the visible text.
func (d *Doc) Snapshot() string {
	var b strings.Builder
	for _, e := range d.elems {
		if !e.Deleted {
			b.WriteString(e.Value)
		}
	}
	return b.String()
}

// Len returns the number of visible runes.
func (d *Doc) Len() int {
	n := 0
	for _, e := range d.elems {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// Edited reports whether any operation other than a snapshot load has ever
// been applied to the replica.
func (d *Doc) Edited() bool { return d.edited }

// Pending returns the number of operations waiting for a dependency.
func (d *Doc) Pending() int { return len(d.pending) }

// State returns a copy of the full sequence, tombstones included.
func (d *Doc) State() []Element {
	out := make([]Element, len(d.elems))
	copy(out, d.elems)
	return out
}

// LoadState replaces an empty replica with elems, as received from a peer
// that already holds the document.
func (d *Doc) LoadState(elems []Element) error {
	if len(d.elems) > 0 || len(d.pending) > 0 {
		return ErrNotEmpty
	}
	for _, e := range elems {
		if e.ID.IsZero() {
			return fmt.Errorf("%w: zero id in state", ErrInvalidOp)
		}
		if e.ID.Clock > MaxClock {
			return fmt.Errorf("%w: clock out of range in state", ErrInvalidOp)
		}
		if _, dup := d.present[e.ID]; dup {
			return fmt.Errorf("%w: duplicate id %s in state", ErrInvalidOp, e.ID)
		}
		d.present[e.ID] = struct{}{}
		d.observe(e.ID.Clock)
	}
	d.elems = append(d.elems[:0], elems...)
	return nil
}

// LoadSnapshot seeds an empty, never edited replica with text and returns the
// insert operations that reproduce it on other replicas. It fails with
// ErrNotEmpty once the replica holds content or has seen any edit.
func (d *Doc) LoadSnapshot(text string) ([]Op, error) {
	if len(d.elems) > 0 || len(d.pending) > 0 || d.edited {
		return nil, ErrNotEmpty
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidOp)
	}

	var (
		ops    []Op
		origin ID
		clock  uint64
	)
	for _, r := range text {
		clock++
		op := Op{Kind: KindInsert, ID: ID{Clock: clock, Site: SeedSite}, Origin: origin, Value: string(r)}
		d.integrate(op)
		ops = append(ops, op)
		origin = op.ID
	}
	d.observe(clock)
	return ops, nil
}
