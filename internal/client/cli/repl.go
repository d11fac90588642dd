package cli

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL drives.
type execIface interface {
	inRoom() bool
	Join(ctx context.Context, fileID string) error
	Show() error
	Peers() error
	Insert(pos int, text string) error
	Append(text string) error
	Paste(pos int) error
	Delete(pos, n int) error
	Cursor(anchor, head int) error
	Save(ctx context.Context) error
	Leave() error
}

const (
	helpOutside = "Available commands: join <fileId>, exit"
	helpInside  = "Available commands: show, peers, insert <pos> <text>, append <text>, paste <pos>, " +
		"delete <pos> <n>, cursor <anchor> [head], save, leave, exit"
)

// runREPL reads commands from reader until EOF, exit or quit. Handler
// errors are printed and the loop continues. reader is shared with
// multi-line prompts, so it is consumed one line at a time.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("devsync %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		err = nil
		switch cmd {
		case "help":
			if a.inRoom() {
				printlnFn(helpInside)
			} else {
				printlnFn(helpOutside)
			}
		case "join":
			if len(args) != 1 {
				printlnFn("Usage: join <fileId>")
				continue
			}
			err = a.Join(ctx, args[0])
		case "show", "cat":
			err = a.Show()
		case "peers":
			err = a.Peers()
		case "insert", "i":
			var pos int
			if len(args) < 2 {
				printlnFn("Usage: insert <pos> <text>")
				continue
			}
			if pos, err = strconv.Atoi(args[0]); err == nil {
				err = a.Insert(pos, strings.Join(args[1:], " "))
			}
		case "append", "a":
			if len(args) == 0 {
				printlnFn("Usage: append <text>")
				continue
			}
			err = a.Append(strings.Join(args, " "))
		case "paste":
			pos := -1
			if len(args) == 1 {
				pos, err = strconv.Atoi(args[0])
			}
			if err == nil {
				err = a.Paste(pos)
			}
		case "delete", "d":
			ints, perr := atois(args, 2)
			if perr != nil {
				printlnFn("Usage: delete <pos> <n>")
				continue
			}
			err = a.Delete(ints[0], ints[1])
		case "cursor":
			if len(args) == 1 {
				args = append(args, args[0])
			}
			ints, perr := atois(args, 2)
			if perr != nil {
				printlnFn("Usage: cursor <anchor> [head]")
				continue
			}
			err = a.Cursor(ints[0], ints[1])
		case "save":
			err = a.Save(ctx)
		case "leave":
			err = a.Leave()
		case "exit", "quit":
			if a.inRoom() {
				_ = a.Leave()
			}
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			printlnFn("Error:", err)
		}
	}
}

func atois(args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, fmt.Errorf("want %d numbers", n)
	}
	out := make([]int, n)
	for i, s := range args {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
