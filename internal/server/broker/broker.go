// Package broker admits peers into file rooms over websockets and moves
// their messages in and out of the session layer.
package broker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/logging"
	"github.com/dmitrijs2005/devsync/internal/merge"
	"github.com/dmitrijs2005/devsync/internal/protocol"
	"github.com/dmitrijs2005/devsync/internal/server/access"
	"github.com/dmitrijs2005/devsync/internal/server/models"
	"github.com/dmitrijs2005/devsync/internal/server/session"
	"github.com/gorilla/websocket"
)

type Options struct {
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	// JoinTimeout bounds the wait for the join message after the upgrade.
	JoinTimeout     time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

func (o *Options) setDefaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
}

// Gate authorizes a join.
type Gate interface {
	RequestAccess(ctx context.Context, fileID, supplied string) (*models.File, error)
}

// Sessions is the session registry as seen by the broker.
type Sessions interface {
	Join(ctx context.Context, file *models.File, m session.Member, p protocol.Peer) (*session.Session, error)
	Leave(s *session.Session, peerID string)
	Save(ctx context.Context, s *session.Session) (bool, error)
}

type Broker struct {
	gate     Gate
	sessions Sessions
	opts     Options
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func New(gate Gate, sessions Sessions, opts Options, logger logging.Logger) *Broker {
	opts.setDefaults()
	return &Broker{
		gate:     gate,
		sessions: sessions,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the editor is served from its own origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("module", "broker"),
	}
}

// ServeRoom upgrades the request and runs the peer until it disconnects.
func (b *Broker) ServeRoom(w http.ResponseWriter, r *http.Request, room string) {
	fileID, err := protocol.ParseRoomID(room)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn(r.Context(), "websocket upgrade failed", "room", room, "error", err)
		return
	}
	ws.SetReadLimit(b.opts.MaxMessageBytes)

	peerID, err := common.MakeRandHexString(8)
	if err != nil {
		ws.Close()
		return
	}
	c := newConnection(ws, peerID, b.opts)
	go c.writePump()
	defer func() {
		c.Close()
		<-c.written
	}()

	ctx := r.Context()
	log := b.logger.With("room", room, "file_id", fileID, "peer_id", peerID)

	s, err := b.admit(ctx, c, fileID)
	if err != nil {
		log.Info(ctx, "join rejected", "error", err)
		return
	}
	defer b.sessions.Leave(s, peerID)

	if err := b.readLoop(ctx, c, s); err != nil {
		log.Debug(ctx, "connection ended", "error", err)
	}
}

// admit reads the join message, checks access and attaches the peer.
func (b *Broker) admit(ctx context.Context, c *connection, fileID string) (*session.Session, error) {
	c.ws.SetReadDeadline(time.Now().Add(b.opts.JoinTimeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, errors.Join(common.ErrorTransport, err)
	}
	msg, err := protocol.Decode(data)
	if err != nil || msg.Type != protocol.TypeJoin {
		c.Deliver(protocol.Error(protocol.CodeBadRequest, "first message must be join", false))
		return nil, errors.Join(common.ErrorValidation, err)
	}

	file, err := b.gate.RequestAccess(ctx, fileID, msg.Password)
	if err != nil {
		c.Deliver(errorMessage(err))
		return nil, err
	}

	peer := protocol.Peer{ID: c.peerID}
	if msg.Peer != nil {
		peer.Label, peer.Color = msg.Peer.Label, msg.Peer.Color
	}
	s, err := b.sessions.Join(ctx, file, c, peer)
	if err != nil {
		c.Deliver(errorMessage(err))
		return nil, err
	}
	return s, nil
}

func (b *Broker) readLoop(ctx context.Context, c *connection, s *session.Session) error {
	pongWait := 2 * b.opts.PingPeriod
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.Deliver(protocol.Error(protocol.CodeBadRequest, err.Error(), false))
			continue
		}

		switch msg.Type {
		case protocol.TypeOps:
			if err := checkOrigin(c.peerID, msg.Ops); err != nil {
				c.Deliver(errorMessage(err))
				continue
			}
			if err := s.ApplyOps(c.peerID, msg.Ops); err != nil {
				c.Deliver(errorMessage(err))
				if errors.Is(err, common.ErrorSessionClosed) {
					return err
				}
			}
		case protocol.TypePresence:
			s.UpdatePresence(c.peerID, msg.Cursor)
		case protocol.TypeSave:
			changed, err := b.sessions.Save(ctx, s)
			if err != nil {
				c.Deliver(errorMessage(err))
				continue
			}
			c.Deliver(protocol.Saved(changed))
		default:
			c.Deliver(protocol.Error(protocol.CodeBadRequest, "unexpected message type "+msg.Type, false))
		}
	}
}

// checkOrigin rejects inserts a peer attributes to another site.
func checkOrigin(peerID string, ops []merge.Op) error {
	for _, op := range ops {
		if op.Kind == merge.KindInsert && op.ID.Site != peerID {
			return errors.Join(common.ErrorValidation, errors.New("insert attributed to another peer"))
		}
	}
	return nil
}

func errorMessage(err error) []byte {
	var denied *access.DeniedError
	switch {
	case errors.As(err, &denied):
		return protocol.Error(protocol.CodeAccessDenied, denied.Error(), denied.SecretSupplied)
	case errors.Is(err, common.ErrorNotFound):
		return protocol.Error(protocol.CodeNotFound, "file not found", false)
	case errors.Is(err, common.ErrorValidation):
		return protocol.Error(protocol.CodeBadRequest, err.Error(), false)
	case errors.Is(err, common.ErrorStorage):
		return protocol.Error(protocol.CodeStorage, "storage error", false)
	default:
		return protocol.Error(protocol.CodeInternal, "internal error", false)
	}
}
