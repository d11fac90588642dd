// Package session holds the live collaborative state of open files: one
// Session per file id, its connected members, and the reconciliation of the
// in-memory document with the blob store.
package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/merge"
	"github.com/dmitrijs2005/devsync/internal/protocol"
	"github.com/dmitrijs2005/devsync/internal/server/models"
)

// Member is one connection attached to a session.
//
// Deliver must not block; it reports false when the message could not be
// queued. Close must not block or call back into the session.
type Member interface {
	PeerID() string
	Deliver(msg []byte) bool
	Close()
}

type member struct {
	conn Member
	peer protocol.Peer
}

// Session is the live document of one file plus its members. All mutation
// of the document goes through ApplyOps.
type Session struct {
	fileID string
	file   *models.File

	mu      sync.Mutex
	doc     *merge.Doc
	members map[string]*member
	dirty   bool
	version uint64
	closed  bool

	// persistMu serializes seed and flush.
	persistMu  sync.Mutex
	seeded     chan struct{}
	seededOnce sync.Once

	// joining counts Join calls in flight; guarded by the Registry mutex.
	joining int
}

func newSession(file *models.File) *Session {
	return &Session{
		fileID:  file.ID,
		file:    file,
		doc:     merge.NewDoc("server-" + file.ID),
		members: make(map[string]*member),
		seeded:  make(chan struct{}),
	}
}

func (s *Session) FileID() string { return s.fileID }

func (s *Session) Room() string { return protocol.RoomID(s.fileID) }

// Attach admits m and sends it the welcome message before any other message
// of the session can reach it.
func (s *Session) Attach(m Member, p protocol.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.ErrorSessionClosed
	}
	if _, dup := s.members[p.ID]; dup {
		return fmt.Errorf("%w: duplicate peer id %s", common.ErrorValidation, p.ID)
	}

	if !m.Deliver(protocol.Welcome(p.ID, s.Room(), s.doc.State(), s.peersLocked())) {
		return fmt.Errorf("%w: welcome not delivered", common.ErrorTransport)
	}
	s.members[p.ID] = &member{conn: m, peer: p}
	s.broadcastLocked(p.ID, protocol.Joined(p))
	return nil
}

// Detach removes a member and returns how many remain.
func (s *Session) Detach(peerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[peerID]; ok {
		delete(s.members, peerID)
		s.broadcastLocked(peerID, protocol.Left(peerID))
	}
	return len(s.members)
}

// ApplyOps integrates ops sent by a member and relays every accepted op to
// the other members. On an invalid op the ops before it stay applied.
func (s *Session) ApplyOps(from string, ops []merge.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.ErrorSessionClosed
	}

	var (
		accepted = make([]merge.Op, 0, len(ops))
		changed  bool
		applyErr error
	)
	for _, op := range ops {
		c, err := s.doc.Apply(op)
		if err != nil {
			applyErr = fmt.Errorf("%w: %w", common.ErrorValidation, err)
			break
		}
		changed = changed || c
		accepted = append(accepted, op)
	}
	if changed {
		s.dirty = true
		s.version++
	}
	if len(accepted) > 0 {
		s.broadcastLocked(from, protocol.Ops(from, accepted))
	}
	return applyErr
}

// UpdatePresence records the member's cursor and relays it to the others.
func (s *Session) UpdatePresence(peerID string, cursor *protocol.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[peerID]
	if !ok {
		return
	}
	m.peer.Cursor = cursor
	s.broadcastLocked(peerID, protocol.Presence(m.peer))
}

// Peers returns the presence of all members ordered by id.
func (s *Session) Peers() []protocol.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peersLocked()
}

func (s *Session) peersLocked() []protocol.Peer {
	peers := make([]protocol.Peer, 0, len(s.members))
	for _, m := range s.members {
		peers = append(peers, m.peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// Snapshot returns the current text together with its version.
func (s *Session) Snapshot() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Snapshot(), s.version
}

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Session) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// markClean clears the dirty flag unless the document moved past version.
func (s *Session) markClean(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version == version {
		s.dirty = false
	}
}

// loadSeed fills a pristine document with stored content and relays the
// generated ops to members attached before the seed arrived. It reports
// false when the document was already edited and the content was dropped.
func (s *Session) loadSeed(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	ops, err := s.doc.LoadSnapshot(text)
	if err != nil {
		return false
	}
	if len(ops) > 0 {
		s.broadcastLocked("", protocol.Ops(merge.SeedSite, ops))
	}
	return true
}

func (s *Session) markSeeded() {
	s.seededOnce.Do(func() { close(s.seeded) })
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close notifies and disconnects every member. The session is unusable
// afterwards.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	msg := protocol.Closed()
	for id, m := range s.members {
		m.conn.Deliver(msg)
		m.conn.Close()
		delete(s.members, id)
	}
}

// broadcastLocked queues msg for every member except the one with id
// except. A member whose queue is full is disconnected.
func (s *Session) broadcastLocked(except string, msg []byte) {
	for id, m := range s.members {
		if id == except {
			continue
		}
		if !m.conn.Deliver(msg) {
			m.conn.Close()
		}
	}
}

func (s *Session) currentVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}
