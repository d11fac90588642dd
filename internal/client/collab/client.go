// Package collab is a headless room peer. It keeps a local replica of the
// shared document, sends local edits and presence, and applies what the
// other peers send.
package collab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/merge"
	"github.com/dmitrijs2005/devsync/internal/protocol"
	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("connection closed")

// JoinError is a rejection or failure reported by the server.
type JoinError struct {
	Code             string
	Message          string
	PasswordSupplied bool
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *JoinError) Unwrap() error {
	switch e.Code {
	case protocol.CodeNotFound:
		return common.ErrorNotFound
	case protocol.CodeAccessDenied:
		return common.ErrorAccessDenied
	case protocol.CodeBadRequest:
		return common.ErrorValidation
	case protocol.CodeStorage:
		return common.ErrorStorage
	default:
		return common.ErrorInternal
	}
}

type Options struct {
	Password string
	Label    string
	Color    string
	Header   http.Header
	Dialer   *websocket.Dialer
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
}

type Client struct {
	ws           *websocket.Conn
	peerID       string
	room         string
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu     sync.Mutex
	doc    *merge.Doc
	peers  map[string]protocol.Peer
	notify chan struct{}
	closed bool

	replies chan *protocol.Message
	done    chan struct{}
}

// Dial connects to the room at url and joins it.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	ws, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", common.ErrorTransport, url, err)
	}

	c := &Client{
		ws:           ws,
		writeTimeout: opts.WriteTimeout,
		peers:        make(map[string]protocol.Peer),
		notify:       make(chan struct{}),
		replies:      make(chan *protocol.Message, 16),
		done:         make(chan struct{}),
	}

	join := &protocol.Message{
		Type:     protocol.TypeJoin,
		Password: opts.Password,
		Peer:     &protocol.Peer{Label: opts.Label, Color: opts.Color},
	}
	if err := c.write(protocol.Encode(join)); err != nil {
		ws.Close()
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: read welcome: %w", common.ErrorTransport, err)
	}
	ws.SetReadDeadline(time.Time{})

	msg, err := protocol.Decode(data)
	if err != nil {
		ws.Close()
		return nil, err
	}
	switch msg.Type {
	case protocol.TypeWelcome:
	case protocol.TypeError:
		ws.Close()
		return nil, &JoinError{Code: msg.Code, Message: msg.Message, PasswordSupplied: msg.PasswordSupplied}
	default:
		ws.Close()
		return nil, fmt.Errorf("%w: unexpected %s before welcome", common.ErrorTransport, msg.Type)
	}

	c.peerID, c.room = msg.PeerID, msg.Room
	c.doc = merge.NewDoc(msg.PeerID)
	if err := c.doc.LoadState(msg.State); err != nil {
		ws.Close()
		return nil, err
	}
	for _, p := range msg.Peers {
		c.peers[p.ID] = p
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) PeerID() string { return c.peerID }

func (c *Client) Room() string { return c.room }

func (c *Client) write(b []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("%w: %w", common.ErrorTransport, err)
	}
	return nil
}

// edit runs fn on the replica and sends the ops it returns. Ops leave in
// the order they were generated.
func (c *Client) edit(fn func(d *merge.Doc) ([]merge.Op, error)) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ops, err := fn(c.doc)
	if err == nil && len(ops) > 0 {
		c.changedLocked()
	}
	c.mu.Unlock()

	if err != nil || len(ops) == 0 {
		return err
	}
	return c.write(protocol.Encode(&protocol.Message{Type: protocol.TypeOps, Ops: ops}))
}

// Insert types text before the rune at pos.
func (c *Client) Insert(pos int, text string) error {
	return c.edit(func(d *merge.Doc) ([]merge.Op, error) { return d.LocalInsert(pos, text) })
}

// Delete removes n runes starting at pos.
func (c *Client) Delete(pos, n int) error {
	return c.edit(func(d *merge.Doc) ([]merge.Op, error) { return d.LocalDelete(pos, n) })
}

// SetCursor publishes the local selection.
func (c *Client) SetCursor(anchor, head int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.write(protocol.Encode(&protocol.Message{
		Type:   protocol.TypePresence,
		Cursor: &protocol.Cursor{Anchor: anchor, Head: head},
	}))
}

// Save asks the server to flush the document and waits for the answer.
func (c *Client) Save(ctx context.Context) (bool, error) {
	c.writeMu.Lock()
	err := c.write(protocol.Encode(&protocol.Message{Type: protocol.TypeSave}))
	c.writeMu.Unlock()
	if err != nil {
		return false, err
	}

	select {
	case msg := <-c.replies:
		if msg.Type == protocol.TypeError {
			return false, &JoinError{Code: msg.Code, Message: msg.Message}
		}
		return msg.Changed != nil && *msg.Changed, nil
	case <-c.done:
		return false, ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Text returns the local replica's text.
func (c *Client) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Snapshot()
}

// Peers returns the other members ordered by id.
func (c *Client) Peers() []protocol.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peersLocked()
}

func (c *Client) peersLocked() []protocol.Peer {
	out := make([]protocol.Peer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WaitFor blocks until fn holds for the local state.
func (c *Client) WaitFor(ctx context.Context, fn func(text string, peers []protocol.Peer) bool) error {
	for {
		c.mu.Lock()
		ok := fn(c.doc.Snapshot(), c.peersLocked())
		ch, closed := c.notify, c.closed
		c.mu.Unlock()

		if ok {
			return nil
		}
		if closed {
			return ErrClosed
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) changedLocked() {
	close(c.notify)
	c.notify = make(chan struct{})
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.changedLocked()
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		if msg.Type == protocol.TypeClosed {
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeSaved, protocol.TypeError:
		select {
		case c.replies <- msg:
		default:
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case protocol.TypeOps:
		for _, op := range msg.Ops {
			c.doc.Apply(op)
		}
	case protocol.TypeJoined, protocol.TypePresence:
		if msg.Peer != nil {
			c.peers[msg.Peer.ID] = *msg.Peer
		}
	case protocol.TypeLeft:
		delete(c.peers, msg.PeerID)
	default:
		return
	}
	c.changedLocked()
}
