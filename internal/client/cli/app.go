package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/devsync/internal/client/collab"
	"github.com/dmitrijs2005/devsync/internal/client/config"
	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/protocol"
)

var errNotInRoom = errors.New("not in a room, use join <fileId>")

// Peer is the room connection used by App; *collab.Client implements it.
type Peer interface {
	PeerID() string
	Room() string
	Insert(pos int, text string) error
	Delete(pos, n int) error
	SetCursor(anchor, head int) error
	Save(ctx context.Context) (bool, error)
	Text() string
	Peers() []protocol.Peer
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a room connection.
type DialFunc func(ctx context.Context, url string, opts collab.Options) (Peer, error)

func dialCollab(ctx context.Context, url string, opts collab.Options) (Peer, error) {
	return collab.Dial(ctx, url, opts)
}

type App struct {
	config *config.Config
	dial   DialFunc
	reader *bufio.Reader
	out    io.Writer

	fileID string
	peer   Peer
}

func NewApp(c *config.Config) *App {
	return &App{config: c, dial: dialCollab, reader: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// Run starts the REPL on stdin.
func (a *App) Run(ctx context.Context) {
	fmt.Fprintln(a.out, "devsync peer (type 'help' for commands)")
	runREPL(ctx, a, a.status, a.reader)
}

func (a *App) inRoom() bool {
	if a.peer == nil {
		return false
	}
	select {
	case <-a.peer.Done():
		// the server ended the session
		a.peer.Close()
		a.peer, a.fileID = nil, ""
		return false
	default:
		return true
	}
}

func (a *App) status() string {
	if !a.inRoom() {
		return ""
	}
	return fmt.Sprintf("(%s as %s)", a.fileID, a.peer.PeerID())
}

// Join connects to the room of fileID, asking for the password only when
// the file turns out to be protected.
func (a *App) Join(ctx context.Context, fileID string) error {
	if a.inRoom() {
		return fmt.Errorf("already in %s, leave first", a.fileID)
	}
	url, err := a.config.RoomURL(fileID)
	if err != nil {
		return err
	}

	peer, err := a.dialWithPassword(ctx, url, "")
	var joinErr *collab.JoinError
	if errors.As(err, &joinErr) && errors.Is(err, common.ErrorAccessDenied) && !joinErr.PasswordSupplied {
		pw, perr := GetPassword(a.out)
		if perr != nil {
			return perr
		}
		peer, err = a.dialWithPassword(ctx, url, string(pw))
		common.WipeByteArray(pw)
	}
	if err != nil {
		return err
	}

	a.peer, a.fileID = peer, fileID
	fmt.Fprintf(a.out, "Joined %s with %d other peer(s)\n", peer.Room(), len(peer.Peers()))
	return nil
}

func (a *App) dialWithPassword(ctx context.Context, url, password string) (Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.DialTimeout)
	defer cancel()
	return a.dial(ctx, url, collab.Options{
		Password: password,
		Label:    a.config.Label,
		Color:    a.config.Color,
	})
}

func (a *App) Show() error {
	if !a.inRoom() {
		return errNotInRoom
	}
	fmt.Fprintln(a.out, a.peer.Text())
	return nil
}

func (a *App) Peers() error {
	if !a.inRoom() {
		return errNotInRoom
	}
	fmt.Fprintf(a.out, "%s %s (you)\n", a.peer.PeerID(), a.config.Label)
	for _, p := range a.peer.Peers() {
		line := p.ID
		if p.Label != "" {
			line += " " + p.Label
		}
		if p.Cursor != nil {
			line += fmt.Sprintf(" at %d:%d", p.Cursor.Anchor, p.Cursor.Head)
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func (a *App) Insert(pos int, text string) error {
	if !a.inRoom() {
		return errNotInRoom
	}
	return a.peer.Insert(pos, text)
}

func (a *App) Append(text string) error {
	if !a.inRoom() {
		return errNotInRoom
	}
	return a.peer.Insert(len([]rune(a.peer.Text())), text)
}

// Paste inserts multi-line text read from the terminal at pos, or at the
// end when pos is negative.
func (a *App) Paste(pos int) error {
	if !a.inRoom() {
		return errNotInRoom
	}
	text, err := GetMultiline(a.reader, "Paste text", a.out)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	if pos < 0 {
		pos = len([]rune(a.peer.Text()))
		if pos > 0 && !strings.HasSuffix(a.peer.Text(), "\n") {
			text = "\n" + text
		}
	}
	return a.peer.Insert(pos, text)
}

func (a *App) Delete(pos, n int) error {
	if !a.inRoom() {
		return errNotInRoom
	}
	return a.peer.Delete(pos, n)
}

func (a *App) Cursor(anchor, head int) error {
	if !a.inRoom() {
		return errNotInRoom
	}
	return a.peer.SetCursor(anchor, head)
}

func (a *App) Save(ctx context.Context) error {
	if !a.inRoom() {
		return errNotInRoom
	}
	changed, err := a.peer.Save(ctx)
	if err != nil {
		return err
	}
	if changed {
		fmt.Fprintln(a.out, "Saved")
	} else {
		fmt.Fprintln(a.out, "Already up to date")
	}
	return nil
}

func (a *App) Leave() error {
	if a.peer == nil {
		return errNotInRoom
	}
	err := a.peer.Close()
	fmt.Fprintf(a.out, "Left %s\n", a.fileID)
	a.peer, a.fileID = nil, ""
	return err
}
