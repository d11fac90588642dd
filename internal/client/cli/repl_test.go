package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	joined bool
	calls  []string
	fail   error
}

func (f *fakeExec) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.fail
}

func (f *fakeExec) inRoom() bool { return f.joined }
func (f *fakeExec) Join(ctx context.Context, id string) error {
	f.joined = true
	return f.record("join %s", id)
}
func (f *fakeExec) Show() error                    { return f.record("show") }
func (f *fakeExec) Peers() error                   { return f.record("peers") }
func (f *fakeExec) Insert(pos int, s string) error { return f.record("insert %d %q", pos, s) }
func (f *fakeExec) Append(s string) error          { return f.record("append %q", s) }
func (f *fakeExec) Paste(pos int) error            { return f.record("paste %d", pos) }
func (f *fakeExec) Delete(pos, n int) error        { return f.record("delete %d %d", pos, n) }
func (f *fakeExec) Cursor(a, h int) error          { return f.record("cursor %d %d", a, h) }
func (f *fakeExec) Save(ctx context.Context) error {
	return f.record("save")
}
func (f *fakeExec) Leave() error {
	f.joined = false
	return f.record("leave")
}

func captureOutput(t *testing.T) *[]string {
	t.Helper()
	orig := printlnFn
	var lines []string
	printlnFn = func(a ...any) (int, error) {
		lines = append(lines, fmt.Sprintln(a...))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

func TestRunREPL_Commands(t *testing.T) {
	out := captureOutput(t)

	input := strings.Join([]string{
		"help",
		"join f1",
		"help",
		"show",
		"insert 3 hello world",
		"a  tail",
		"paste",
		"paste 2",
		"delete 1 2",
		"cursor 4",
		"cursor 4 6",
		"peers",
		"save",
		"leave",
		"exit",
	}, "\n")

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewReader(strings.NewReader(input)))

	assert.Equal(t, []string{
		"join f1",
		"show",
		`insert 3 "hello world"`,
		`append "tail"`,
		"paste -1",
		"paste 2",
		"delete 1 2",
		"cursor 4 4",
		"cursor 4 6",
		"peers",
		"save",
		"leave",
	}, exec.calls)

	text := strings.Join(*out, "")
	assert.Contains(t, text, helpOutside)
	assert.Contains(t, text, helpInside)
	assert.Contains(t, text, "Bye!")
}

func TestRunREPL_UsageErrors(t *testing.T) {
	out := captureOutput(t)

	input := "join\ninsert x y\ninsert 1\ndelete 1\ncursor a b\nappend\nfoobar\nquit\n"
	exec := &fakeExec{joined: true}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewReader(strings.NewReader(input)))

	// quit leaves the room on the way out
	assert.Equal(t, []string{"leave"}, exec.calls)

	text := strings.Join(*out, "")
	assert.Contains(t, text, "Usage: join <fileId>")
	assert.Contains(t, text, "Usage: insert <pos> <text>")
	assert.Contains(t, text, "Usage: delete <pos> <n>")
	assert.Contains(t, text, "Usage: cursor <anchor> [head]")
	assert.Contains(t, text, "Unknown command: foobar")
	assert.Contains(t, text, "Error:")
}

func TestRunREPL_HandlerErrorsDoNotStopLoop(t *testing.T) {
	out := captureOutput(t)

	exec := &fakeExec{joined: true, fail: errors.New("offline")}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewReader(strings.NewReader("save\nshow\n")))

	assert.Equal(t, []string{"save", "show"}, exec.calls)
	assert.Contains(t, strings.Join(*out, ""), "Error: offline")
}
