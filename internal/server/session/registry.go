package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/logging"
	"github.com/dmitrijs2005/devsync/internal/protocol"
	"github.com/dmitrijs2005/devsync/internal/server/models"
)

type Options struct {
	// SeedTimeout bounds how long a joiner waits for the seed before it is
	// admitted with whatever the document holds.
	SeedTimeout time.Duration
	// FetchTimeout bounds the blob read of a seed.
	FetchTimeout time.Duration
	// FlushTimeout bounds the final flush on teardown.
	FlushTimeout time.Duration
	// FlushOnLastLeave writes dirty documents when the last member leaves.
	FlushOnLastLeave bool
	// FlushRetry is the delay before an idle session whose teardown flush
	// failed is flushed again.
	FlushRetry time.Duration
}

// Registry maps file ids to their single live Session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	reconciler *Reconciler
	opts       Options
	logger     logging.Logger

	// base is the parent context of background seeds and teardown flushes.
	base context.Context
}

const (
	defaultSeedTimeout  = 5 * time.Second
	defaultFetchTimeout = 30 * time.Second
	defaultFlushTimeout = 30 * time.Second
	defaultFlushRetry   = 30 * time.Second
)

func NewRegistry(base context.Context, reconciler *Reconciler, opts Options, logger logging.Logger) *Registry {
	if opts.SeedTimeout <= 0 {
		opts.SeedTimeout = defaultSeedTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = defaultFlushTimeout
	}
	if opts.FlushRetry <= 0 {
		opts.FlushRetry = defaultFlushRetry
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		reconciler: reconciler,
		opts:       opts,
		logger:     logger.With("module", "sessions"),
		base:       base,
	}
}

// Join attaches m to the session of file, creating and seeding the session
// if none is live. Joiners that arrive while a session drains attach to that
// same session.
func (r *Registry) Join(ctx context.Context, file *models.File, m Member, p protocol.Peer) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[file.ID]
	if !ok {
		s = newSession(file)
		r.sessions[file.ID] = s
		r.logger.Info(ctx, "session created", "file_id", file.ID)
		go r.seed(s)
	}
	s.joining++
	r.mu.Unlock()

	defer r.release(s)

	timer := time.NewTimer(r.opts.SeedTimeout)
	defer timer.Stop()
	select {
	case <-s.seeded:
	case <-timer.C:
		r.logger.Warn(ctx, "seed still pending, admitting peer", "file_id", file.ID, "peer_id", p.ID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := s.Attach(m, p); err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "peer joined", "file_id", file.ID, "peer_id", p.ID, "room", s.Room())
	return s, nil
}

func (r *Registry) seed(s *Session) {
	ctx, cancel := context.WithTimeout(r.base, r.opts.FetchTimeout)
	defer cancel()
	r.reconciler.Seed(ctx, s)
}

// release ends a Join and drops the session if nobody ended up in it.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.joining--
	r.reapLocked(s)
}

func (r *Registry) reapLocked(s *Session) {
	if r.sessions[s.fileID] != s || s.joining > 0 || s.MemberCount() > 0 || s.Dirty() {
		return
	}
	delete(r.sessions, s.fileID)
	s.close()
	r.logger.Info(r.base, "session closed", "file_id", s.fileID)
}

// Leave detaches a member. When the last member leaves, a dirty document is
// flushed first if configured; a session whose flush failed stays registered
// so its content is not lost, and the flush is retried while it stays idle.
// A session whose file no longer exists is dropped.
func (r *Registry) Leave(s *Session, peerID string) {
	remaining := s.Detach(peerID)
	r.logger.Info(r.base, "peer left", "file_id", s.fileID, "peer_id", peerID, "remaining", remaining)
	if remaining > 0 || s.isClosed() {
		return
	}
	r.teardown(s)
}

func (r *Registry) teardown(s *Session) {
	if s.Dirty() && r.opts.FlushOnLastLeave {
		ctx, cancel := context.WithTimeout(r.base, r.opts.FlushTimeout)
		_, err := r.reconciler.Flush(ctx, s)
		cancel()
		switch {
		case errors.Is(err, common.ErrorNotFound):
			r.logger.Warn(r.base, "file no longer exists, dropping session", "file_id", s.fileID)
			r.drop(s)
			return
		case err != nil:
			r.logger.Error(r.base, "teardown flush failed, keeping session", "file_id", s.fileID,
				"retry_in", r.opts.FlushRetry.String(), "error", err)
			time.AfterFunc(r.opts.FlushRetry, func() { r.retryTeardown(s) })
			return
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Dirty() && !r.opts.FlushOnLastLeave {
		// unsaved edits are dropped with the session
		s.markClean(s.currentVersion())
	}
	r.reapLocked(s)
}

func (r *Registry) retryTeardown(s *Session) {
	if r.base.Err() != nil || !r.idle(s) {
		return
	}
	r.teardown(s)
}

// idle reports whether s is still registered with nobody in or joining it.
func (r *Registry) idle(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[s.fileID] == s && s.joining == 0 && s.MemberCount() == 0 && !s.isClosed()
}

// drop removes an idle session without flushing it.
func (r *Registry) drop(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.fileID] != s || s.joining > 0 || s.MemberCount() > 0 {
		return
	}
	delete(r.sessions, s.fileID)
	s.close()
	r.logger.Info(r.base, "session closed", "file_id", s.fileID, "reason", "file deleted")
}

// Save flushes s on behalf of a member.
func (r *Registry) Save(ctx context.Context, s *Session) (bool, error) {
	return r.reconciler.Flush(ctx, s)
}

// Close ends the session of fileID without flushing, disconnecting its
// members.
func (r *Registry) Close(fileID string) {
	r.mu.Lock()
	s, ok := r.sessions[fileID]
	delete(r.sessions, fileID)
	r.mu.Unlock()

	if ok {
		s.close()
		r.logger.Info(r.base, "session closed", "file_id", fileID, "reason", "file deleted")
	}
}

// Shutdown ends every live session. Dirty documents are flushed first when
// FlushOnLastLeave is set; sessions are closed even if their flush fails.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		live = append(live, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range live {
		if r.opts.FlushOnLastLeave && s.Dirty() {
			if _, err := r.reconciler.Flush(ctx, s); err != nil {
				errs = append(errs, fmt.Errorf("flush %s: %w", s.fileID, err))
			}
		}
		s.close()
	}
	r.logger.Info(ctx, "sessions shut down", "count", len(live), "failed", len(errs))
	return errors.Join(errs...)
}

// LiveText returns the in-memory text of fileID if a session is live.
func (r *Registry) LiveText(fileID string) (string, bool) {
	r.mu.Lock()
	s, ok := r.sessions[fileID]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	text, _ := s.Snapshot()
	return text, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
