// Package protocol defines the JSON messages exchanged over a room connection.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/devsync/internal/merge"
)

const roomPrefix = "devsync-room-"

// RoomID derives the room identifier for a file.
func RoomID(fileID string) string {
	return roomPrefix + fileID
}

// ParseRoomID returns the file id addressed by room.
func ParseRoomID(room string) (string, error) {
	id, ok := strings.CutPrefix(room, roomPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("invalid room id %q", room)
	}
	return id, nil
}

// Message types.
const (
	TypeJoin     = "join"
	TypeOps      = "ops"
	TypePresence = "presence"
	TypeSave     = "save"

	TypeWelcome = "welcome"
	TypeJoined  = "joined"
	TypeLeft    = "left"
	TypeSaved   = "saved"
	TypeError   = "error"
	TypeClosed  = "closed"
)

// Error codes carried by error messages.
const (
	CodeBadRequest   = "bad_request"
	CodeNotFound     = "not_found"
	CodeAccessDenied = "access_denied"
	CodeStorage      = "storage_error"
	CodeInternal     = "internal_error"
)

// Cursor is a selection in visible rune offsets.
type Cursor struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Peer is the presence record of one connection.
type Peer struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Color  string  `json:"color"`
	Cursor *Cursor `json:"cursor,omitempty"`
}

// Message is the single envelope for both directions. Only the fields
// relevant to Type are set.
type Message struct {
	Type string `json:"type"`

	Password string `json:"password,omitempty"`

	PeerID string          `json:"peerId,omitempty"`
	Room   string          `json:"room,omitempty"`
	Peer   *Peer           `json:"peer,omitempty"`
	Peers  []Peer          `json:"peers,omitempty"`
	State  []merge.Element `json:"state,omitempty"`
	Ops    []merge.Op      `json:"ops,omitempty"`
	Cursor *Cursor         `json:"cursor,omitempty"`

	Changed *bool `json:"changed,omitempty"`

	Code             string `json:"code,omitempty"`
	Message          string `json:"message,omitempty"`
	PasswordSupplied bool   `json:"passwordSupplied,omitempty"`
}

// Decode parses a single text frame.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("decode message: missing type")
	}
	return &m, nil
}

// Encode serializes m. Messages are built from plain values and always
// encode.
func Encode(m *Message) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("encode %s message: %v", m.Type, err))
	}
	return b
}

// welcome always carries state and peers, even when empty.
type welcome struct {
	Type   string          `json:"type"`
	PeerID string          `json:"peerId"`
	Room   string          `json:"room"`
	State  []merge.Element `json:"state"`
	Peers  []Peer          `json:"peers"`
}

func Welcome(peerID, room string, state []merge.Element, peers []Peer) []byte {
	if state == nil {
		state = []merge.Element{}
	}
	if peers == nil {
		peers = []Peer{}
	}
	b, err := json.Marshal(welcome{Type: TypeWelcome, PeerID: peerID, Room: room, State: state, Peers: peers})
	if err != nil {
		panic(fmt.Sprintf("encode welcome message: %v", err))
	}
	return b
}

func Ops(peerID string, ops []merge.Op) []byte {
	return Encode(&Message{Type: TypeOps, PeerID: peerID, Ops: ops})
}

func Presence(p Peer) []byte {
	return Encode(&Message{Type: TypePresence, Peer: &p})
}

func Joined(p Peer) []byte {
	return Encode(&Message{Type: TypeJoined, Peer: &p})
}

func Left(peerID string) []byte {
	return Encode(&Message{Type: TypeLeft, PeerID: peerID})
}

func Saved(changed bool) []byte {
	return Encode(&Message{Type: TypeSaved, Changed: &changed})
}

func Error(code, message string, passwordSupplied bool) []byte {
	return Encode(&Message{Type: TypeError, Code: code, Message: message, PasswordSupplied: passwordSupplied})
}

func Closed() []byte {
	return Encode(&Message{Type: TypeClosed})
}
