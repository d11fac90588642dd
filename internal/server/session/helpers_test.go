package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/devsync/internal/logging"
	"github.com/dmitrijs2005/devsync/internal/merge"
	"github.com/dmitrijs2005/devsync/internal/protocol"
	"github.com/dmitrijs2005/devsync/internal/server/blobstore"
	"github.com/dmitrijs2005/devsync/internal/server/models"
	"github.com/dmitrijs2005/devsync/internal/server/repositories/files"
	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	id string

	mu     sync.Mutex
	msgs   []*protocol.Message
	full   bool
	closed bool
}

func newMember(id string) *fakeMember { return &fakeMember{id: id} }

func (f *fakeMember) PeerID() string { return f.id }

func (f *fakeMember) Deliver(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	m, err := protocol.Decode(b)
	if err != nil {
		panic(err)
	}
	f.msgs = append(f.msgs, m)
	return true
}

func (f *fakeMember) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeMember) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMember) ofType(typ string) []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Message
	for _, m := range f.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// gatedStore blocks Get until release is closed.
type gatedStore struct {
	*blobstore.Memory
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Memory.Get(ctx, key)
}

// countingStore counts writes and can be told to fail them.
type countingStore struct {
	*blobstore.Memory
	mu   sync.Mutex
	puts int
	fail bool
}

func (c *countingStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("bucket unavailable")
	}
	c.puts++
	return c.Memory.Put(ctx, key, body, contentType)
}

func (c *countingStore) setFail(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = v
}

func (c *countingStore) putCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

type fixture struct {
	repo  *files.MemoryRepository
	blobs blobstore.Store
	file  *models.File
	rec   *Reconciler
	reg   *Registry
}

func newFixture(t *testing.T, blobs blobstore.Store, content string, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := files.NewMemoryRepository()
	f := &models.File{
		ID:            "file-1",
		Name:          "main.py",
		StorageKey:    "01J-main.py",
		UserID:        "u1",
		ContentSHA256: ContentHash([]byte(content)),
	}
	require.NoError(t, repo.Create(ctx, f))

	var raw *blobstore.Memory
	switch b := blobs.(type) {
	case *blobstore.Memory:
		raw = b
	case *gatedStore:
		raw = b.Memory
	case *countingStore:
		raw = b.Memory
	}
	require.NoError(t, raw.Put(ctx, f.StorageKey, []byte(content), "text/plain"))

	rec := NewReconciler(blobs, repo, logging.Nop())
	return &fixture{
		repo:  repo,
		blobs: blobs,
		file:  f,
		rec:   rec,
		reg:   NewRegistry(ctx, rec, opts, logging.Nop()),
	}
}

func (fx *fixture) join(t *testing.T, id string) (*Session, *fakeMember) {
	t.Helper()
	m := newMember(id)
	s, err := fx.reg.Join(context.Background(), fx.file, m, protocol.Peer{ID: id, Label: id})
	require.NoError(t, err)
	return s, m
}

func (fx *fixture) stored(t *testing.T) string {
	t.Helper()
	b, err := fx.blobs.Get(context.Background(), fx.file.StorageKey)
	require.NoError(t, err)
	return string(b)
}

// insertOps builds ops for typing text at pos on a replica of state.
func insertOps(t *testing.T, site string, state []merge.Element, pos int, text string) []merge.Op {
	t.Helper()
	d := merge.NewDoc(site)
	require.NoError(t, d.LoadState(state))
	ops, err := d.LocalInsert(pos, text)
	require.NoError(t, err)
	return ops
}

func welcomeState(t *testing.T, m *fakeMember) []merge.Element {
	t.Helper()
	w := m.ofType(protocol.TypeWelcome)
	require.Len(t, w, 1)
	return w[0].State
}

func waitSeeded(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.seeded:
	case <-time.After(5 * time.Second):
		t.Fatal("seed did not finish")
	}
}
