package merge

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyAll(t *testing.T, d *Doc, ops []Op) {
	t.Helper()
	for _, op := range ops {
		_, err := d.Apply(op)
		require.NoError(t, err)
	}
}

func TestLocalEdits(t *testing.T) {
	d := NewDoc("a")

	ops, err := d.LocalInsert(0, "héllo")
	require.NoError(t, err)
	assert.Len(t, ops, 5)
	assert.Equal(t, "héllo", d.Snapshot())
	assert.Equal(t, 5, d.Len())

	_, err = d.LocalInsert(5, " world")
	require.NoError(t, err)
	_, err = d.LocalInsert(0, ">")
	require.NoError(t, err)
	assert.Equal(t, ">héllo world", d.Snapshot())

	del, err := d.LocalDelete(1, 6)
	require.NoError(t, err)
	assert.Len(t, del, 6)
	assert.Equal(t, ">world", d.Snapshot())

	_, err = d.LocalInsert(1, "new ")
	require.NoError(t, err)
	assert.Equal(t, ">new world", d.Snapshot())
	assert.True(t, d.Edited())
}

func TestLocalEdits_OutOfRange(t *testing.T) {
	d := NewDoc("a")
	_, err := d.LocalInsert(1, "x")
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = d.LocalInsert(0, "ab")
	require.NoError(t, err)
	_, err = d.LocalDelete(1, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = d.LocalDelete(-1, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	ops, err := d.LocalInsert(0, "")
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestApply_Invalid(t *testing.T) {
	d := NewDoc("a")
	cases := []Op{
		{Kind: KindInsert, Value: "x"},
		{Kind: KindInsert, ID: ID{1, "b"}, Value: "xy"},
		{Kind: KindInsert, ID: ID{1, "b"}},
		{Kind: "move", ID: ID{1, "b"}},
	}
	for i, op := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			_, err := d.Apply(op)
			assert.ErrorIs(t, err, ErrInvalidOp)
		})
	}
}

func TestApply_Idempotent(t *testing.T) {
	src := NewDoc("a")
	ins, err := src.LocalInsert(0, "abc")
	require.NoError(t, err)
	del, err := src.LocalDelete(1, 1)
	require.NoError(t, err)

	d := NewDoc("b")
	applyAll(t, d, ins)
	applyAll(t, d, del)
	want := d.Snapshot()
	assert.Equal(t, "ac", want)

	for _, op := range append(ins, del...) {
		changed, err := d.Apply(op)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, want, d.Snapshot())
	}
}

func TestApply_OutOfOrderIsParked(t *testing.T) {
	src := NewDoc("a")
	ins, err := src.LocalInsert(0, "xyz")
	require.NoError(t, err)
	del, err := src.LocalDelete(0, 1)
	require.NoError(t, err)

	d := NewDoc("b")
	applyAll(t, d, del)
	applyAll(t, d, del)
	assert.Equal(t, 1, d.Pending())

	applyAll(t, d, []Op{ins[2], ins[1]})
	assert.Equal(t, "", d.Snapshot())
	assert.Equal(t, 3, d.Pending())

	changed, err := d.Apply(ins[0])
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, d.Pending())
	assert.Equal(t, "yz", d.Snapshot())
}

// A remote op cannot push the clock past MaxClock, so later local ids never
// wrap onto ids already in the document.
func TestApply_ClockOutOfRange(t *testing.T) {
	a, b := NewDoc("a"), NewDoc("b")
	ops, err := a.LocalInsert(0, "xy")
	require.NoError(t, err)
	applyAll(t, b, ops)

	huge := Op{Kind: KindInsert, ID: ID{math.MaxUint64, "z"}, Value: "!"}
	for _, d := range []*Doc{a, b} {
		_, err := d.Apply(huge)
		assert.ErrorIs(t, err, ErrInvalidOp)
	}
	_, err = a.Apply(Op{Kind: KindInsert, ID: ID{1, "z"}, Origin: ID{MaxClock + 1, "a"}, Value: "!"})
	assert.ErrorIs(t, err, ErrInvalidOp)

	ops, err = a.LocalInsert(2, "QRS")
	require.NoError(t, err)
	for _, op := range ops {
		assert.Greater(t, op.ID.Clock, uint64(2))
	}
	applyAll(t, b, ops)
	assert.Equal(t, "xyQRS", a.Snapshot())
	assert.Equal(t, "xyQRS", b.Snapshot())
}

func TestLocalInsert_ClockExhausted(t *testing.T) {
	d := NewDoc("a")
	_, err := d.Apply(Op{Kind: KindInsert, ID: ID{MaxClock - 1, "z"}, Value: "!"})
	require.NoError(t, err)

	_, err = d.LocalInsert(1, "ab")
	assert.ErrorIs(t, err, ErrClockExhausted)
	assert.Equal(t, "!", d.Snapshot())

	ops, err := d.LocalInsert(1, "a")
	require.NoError(t, err)
	assert.Equal(t, uint64(MaxClock), ops[0].ID.Clock)

	_, err = d.LocalInsert(0, "b")
	assert.ErrorIs(t, err, ErrClockExhausted)
	assert.Equal(t, "!a", d.Snapshot())
}

func TestApply_PendingIsBounded(t *testing.T) {
	d := NewDoc("a")
	missing := ID{1, "ghost"}
	for i := 0; i < MaxPending; i++ {
		_, err := d.Apply(Op{Kind: KindInsert, ID: ID{uint64(i + 2), "b"}, Origin: missing, Value: "x"})
		require.NoError(t, err)
	}
	assert.Equal(t, MaxPending, d.Pending())

	_, err := d.Apply(Op{Kind: KindInsert, ID: ID{uint64(MaxPending + 2), "b"}, Origin: missing, Value: "x"})
	assert.ErrorIs(t, err, ErrTooManyPending)
	assert.Equal(t, MaxPending, d.Pending())

	// a re-delivered parked op is still accepted
	_, err = d.Apply(Op{Kind: KindInsert, ID: ID{2, "b"}, Origin: missing, Value: "x"})
	assert.NoError(t, err)
}

// Two peers insert at the same position concurrently.
func TestConcurrentInsertSamePosition(t *testing.T) {
	p1 := NewDoc("peer-1")
	p2 := NewDoc("peer-2")

	a, err := p1.LocalInsert(0, "a")
	require.NoError(t, err)
	b, err := p2.LocalInsert(0, "b")
	require.NoError(t, err)

	applyAll(t, p1, b)
	applyAll(t, p2, a)

	assert.Equal(t, p1.Snapshot(), p2.Snapshot())
	assert.Contains(t, p1.Snapshot(), "a")
	assert.Contains(t, p1.Snapshot(), "b")
	assert.Len(t, p1.Snapshot(), 2)
}

func TestConcurrentInsertAndDelete(t *testing.T) {
	base := NewDoc("base")
	seed, err := base.LocalInsert(0, "hello")
	require.NoError(t, err)

	p1, p2 := NewDoc("p1"), NewDoc("p2")
	applyAll(t, p1, seed)
	applyAll(t, p2, seed)

	// p1 deletes "ell" while p2 types inside it.
	d1, err := p1.LocalDelete(1, 3)
	require.NoError(t, err)
	i2, err := p2.LocalInsert(3, "XY")
	require.NoError(t, err)

	applyAll(t, p1, i2)
	applyAll(t, p2, d1)

	assert.Equal(t, "hXYo", p1.Snapshot())
	assert.Equal(t, p1.Snapshot(), p2.Snapshot())
}

// randomHistory lets a few replicas edit concurrently with partial exchange
// and returns every generated op.
func randomHistory(r *rand.Rand, sites, steps int) []Op {
	docs := make([]*Doc, sites)
	seen := make([]int, sites)
	for i := range docs {
		docs[i] = NewDoc(fmt.Sprintf("site-%d", i))
	}
	var log []Op
	alphabet := []rune("abcdefgh√λ")

	for s := 0; s < steps; s++ {
		i := r.Intn(sites)
		d := docs[i]
		switch r.Intn(4) {
		case 0:
			// catch up on a random prefix of the history
			upto := seen[i] + r.Intn(len(log)-seen[i]+1)
			for _, op := range log[seen[i]:upto] {
				_, _ = d.Apply(op)
			}
			seen[i] = upto
		case 1:
			if d.Len() > 0 {
				pos := r.Intn(d.Len())
				n := 1 + r.Intn(min(3, d.Len()-pos))
				ops, _ := d.LocalDelete(pos, n)
				log = append(log, ops...)
				continue
			}
			fallthrough
		default:
			text := string(alphabet[r.Intn(len(alphabet))])
			if r.Intn(3) == 0 {
				text += string(alphabet[r.Intn(len(alphabet))])
			}
			ops, _ := d.LocalInsert(r.Intn(d.Len()+1), text)
			log = append(log, ops...)
		}
	}
	return log
}

func TestConvergence_RandomInterleavings(t *testing.T) {
	for seed := int64(1); seed <= 40; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			r := rand.New(rand.NewSource(seed))
			log := randomHistory(r, 3, 60)

			var want string
			for k := 0; k < 4; k++ {
				order := make([]Op, len(log))
				copy(order, log)
				r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
				// duplicate delivery of a random subset
				for _, i := range r.Perm(len(log))[:len(log)/4] {
					order = append(order, log[i])
				}

				d := NewDoc(fmt.Sprintf("replica-%d", k))
				applyAll(t, d, order)
				require.Equal(t, 0, d.Pending())
				if k == 0 {
					want = d.Snapshot()
					continue
				}
				assert.Equal(t, want, d.Snapshot())
			}
		})
	}
}

func TestLoadSnapshot(t *testing.T) {
	d := NewDoc("server")
	ops, err := d.LoadSnapshot("print(1)\n")
	require.NoError(t, err)
	assert.Equal(t, "print(1)\n", d.Snapshot())
	assert.False(t, d.Edited())
	for _, op := range ops {
		assert.Equal(t, SeedSite, op.ID.Site)
	}

	peer := NewDoc("peer")
	applyAll(t, peer, ops)
	assert.Equal(t, d.Snapshot(), peer.Snapshot())

	_, err = d.LoadSnapshot("again")
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestLoadSnapshot_RejectedAfterEdit(t *testing.T) {
	d := NewDoc("server")
	_, err := d.LocalInsert(0, "typed")
	require.NoError(t, err)
	_, err = d.LoadSnapshot("stored")
	assert.ErrorIs(t, err, ErrNotEmpty)
	assert.Equal(t, "typed", d.Snapshot())

	// A replica that saw an edit which was later deleted is empty but edited.
	e := NewDoc("server")
	ins, _ := NewDoc("p").LocalInsert(0, "x")
	applyAll(t, e, ins)
	applyAll(t, e, []Op{{Kind: KindDelete, ID: ins[0].ID}})
	assert.Equal(t, "", e.Snapshot())
	_, err = e.LoadSnapshot("stored")
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestLoadState(t *testing.T) {
	src := NewDoc("a")
	_, err := src.LocalInsert(0, "abcd")
	require.NoError(t, err)
	_, err = src.LocalDelete(1, 2)
	require.NoError(t, err)

	d := NewDoc("b")
	require.NoError(t, d.LoadState(src.State()))
	assert.Equal(t, "ad", d.Snapshot())

	// Local ids must not collide with the loaded ones.
	ops, err := d.LocalInsert(1, "z")
	require.NoError(t, err)
	applyAll(t, src, ops)
	assert.Equal(t, "azd", src.Snapshot())
	assert.Equal(t, src.Snapshot(), d.Snapshot())

	assert.ErrorIs(t, d.LoadState(nil), ErrNotEmpty)
}

func TestIDOrder(t *testing.T) {
	assert.True(t, ID{1, "b"}.Less(ID{2, "a"}))
	assert.True(t, ID{1, "a"}.Less(ID{1, "b"}))
	assert.False(t, ID{1, "a"}.Less(ID{1, "a"}))
	assert.True(t, ID{}.IsZero())
	assert.Equal(t, "3@x", ID{3, "x"}.String())
}
