package httpserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/devsync/internal/client/collab"
	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, s *stack, fileID string, opts collab.Options) *collab.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := collab.Dial(ctx, s.roomURL(protocol.RoomID(fileID)), opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

const pyTemplate = "print(\"Hello from Python!\")\n"

func TestRoom_JoinReceivesStoredContent(t *testing.T) {
	s := newStack(t)
	f := s.create(t, "main", "python", "")

	c := dial(t, s, f.ID, collab.Options{Label: "ann", Color: "#f00"})
	assert.Equal(t, pyTemplate, c.Text())
	assert.Equal(t, protocol.RoomID(f.ID), c.Room())
	assert.NotEmpty(t, c.PeerID())
}

// Two peers insert at position 0 at the same time and converge.
func TestRoom_ConcurrentInsertsConverge(t *testing.T) {
	s := newStack(t)
	f := s.create(t, "x", "python", "")

	p1 := dial(t, s, f.ID, collab.Options{Label: "p1"})
	p2 := dial(t, s, f.ID, collab.Options{Label: "p2"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); assert.NoError(t, p1.Insert(0, "a")) }()
	go func() { defer wg.Done(); assert.NoError(t, p2.Insert(0, "b")) }()
	wg.Wait()

	both := func(text string, _ []protocol.Peer) bool {
		return len(text) == len(pyTemplate)+2 && strings.Contains(text, "a") && strings.Contains(text, "b")
	}
	require.NoError(t, p1.WaitFor(waitCtx(t), both))
	require.NoError(t, p2.WaitFor(waitCtx(t), both))
	assert.Equal(t, p1.Text(), p2.Text())
	assert.True(t, strings.HasSuffix(p1.Text(), pyTemplate))

	live, ok := s.sessions.LiveText(f.ID)
	require.True(t, ok)
	assert.Equal(t, p1.Text(), live)
}

func TestRoom_ManyEditsConverge(t *testing.T) {
	s := newStack(t)
	f := s.create(t, "x", "text", "")

	peers := []*collab.Client{
		dial(t, s, f.ID, collab.Options{}),
		dial(t, s, f.ID, collab.Options{}),
		dial(t, s, f.ID, collab.Options{}),
	}

	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, p *collab.Client) {
			defer wg.Done()
			for k := 0; k < 20; k++ {
				if k%5 == 4 && len(p.Text()) > 0 {
					assert.NoError(t, p.Delete(0, 1))
					continue
				}
				assert.NoError(t, p.Insert(k%3, string(rune('a'+i))))
			}
		}(i, p)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		live, _ := s.sessions.LiveText(f.ID)
		for _, p := range peers {
			if p.Text() != live {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	// 16 inserts and 4 deletes per peer; concurrent deletes may hit the same rune
	n := len([]rune(peers[0].Text()))
	base := len("// Start coding...")
	assert.GreaterOrEqual(t, n, base+3*16-3*4)
	assert.LessOrEqual(t, n, base+3*16-4)
}

func TestRoom_Presence(t *testing.T) {
	s := newStack(t)
	f := s.create(t, "x", "python", "")

	p1 := dial(t, s, f.ID, collab.Options{Label: "ann", Color: "#f00"})
	p2 := dial(t, s, f.ID, collab.Options{Label: "bob"})

	require.NoError(t, p1.WaitFor(waitCtx(t), func(_ string, peers []protocol.Peer) bool {
		return len(peers) == 1 && peers[0].Label == "bob"
	}))
	require.Len(t, p2.Peers(), 1)
	assert.Equal(t, "ann", p2.Peers()[0].Label)

	require.NoError(t, p1.SetCursor(2, 5))
	require.NoError(t, p2.WaitFor(waitCtx(t), func(_ string, peers []protocol.Peer) bool {
		return len(peers) == 1 && peers[0].Cursor != nil && peers[0].Cursor.Head == 5
	}))
	assert.Equal(t, pyTemplate, p2.Text())

	require.NoError(t, p1.Close())
	require.NoError(t, p2.WaitFor(waitCtx(t), func(_ string, peers []protocol.Peer) bool {
		return len(peers) == 0
	}))
}

func TestRoom_SaveFromPeer(t *testing.T) {
	s := newStack(t)
	f := s.create(t, "x", "python", "")
	p := dial(t, s, f.ID, collab.Options{})

	changed, err := p.Save(waitCtx(t))
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, p.Insert(0, "# "))
	require.NoError(t, p.WaitFor(waitCtx(t), func(string, []protocol.Peer) bool {
		live, _ := s.sessions.LiveText(f.ID)
		return live == "# "+pyTemplate
	}))

	changed, err = p.Save(waitCtx(t))
	require.NoError(t, err)
	assert.True(t, changed)

	code, body := s.do(t, http.MethodGet, "/file/"+f.ID+"/content", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "# "+pyTemplate, string(body))
}

func TestRoom_LastLeaveFlushes(t *testing.T) {
	s := newStack(t)
	f := s.create(t, "x", "python", "")
	p := dial(t, s, f.ID, collab.Options{})

	require.NoError(t, p.Delete(0, len("print")))
	require.NoError(t, p.WaitFor(waitCtx(t), func(string, []protocol.Peer) bool {
		live, _ := s.sessions.LiveText(f.ID)
		return live == p.Text()
	}))
	require.NoError(t, p.Close())

	require.Eventually(t, func() bool { return s.sessions.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	b, err := s.blobs.Get(context.Background(), f.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "(\"Hello from Python!\")\n", string(b))
}

func TestRoom_AccessDenied(t *testing.T) {
	s := newStack(t)
	f := s.create(t, "x", "python", "pw")
	ctx := waitCtx(t)

	_, err := collab.Dial(ctx, s.roomURL(protocol.RoomID(f.ID)), collab.Options{})
	var jerr *collab.JoinError
	require.ErrorAs(t, err, &jerr)
	assert.ErrorIs(t, err, common.ErrorAccessDenied)
	assert.False(t, jerr.PasswordSupplied)

	_, err = collab.Dial(ctx, s.roomURL(protocol.RoomID(f.ID)), collab.Options{Password: "wrong"})
	require.ErrorAs(t, err, &jerr)
	assert.True(t, jerr.PasswordSupplied)

	c := dial(t, s, f.ID, collab.Options{Password: "pw"})
	assert.Equal(t, pyTemplate, c.Text())
}

func TestRoom_UnknownFile(t *testing.T) {
	s := newStack(t)
	_, err := collab.Dial(waitCtx(t), s.roomURL(protocol.RoomID("missing")), collab.Options{})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = collab.Dial(waitCtx(t), s.roomURL("not-a-room"), collab.Options{})
	assert.ErrorIs(t, err, common.ErrorTransport)
}

func TestRoom_DeleteDisconnectsPeers(t *testing.T) {
	s := newStack(t)
	f := s.create(t, "x", "python", "")
	p := dial(t, s, f.ID, collab.Options{})

	code, _ := s.do(t, http.MethodDelete, "/file/"+f.ID, nil, nil)
	require.Equal(t, http.StatusOK, code)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("peer still connected after delete")
	}
	assert.ErrorIs(t, p.Insert(0, "x"), collab.ErrClosed)
	assert.Equal(t, 0, s.blobs.Len())
}
