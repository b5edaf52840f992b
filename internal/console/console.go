// Package console is a terminal chat transport for local runs: it turns
// stdin lines into bot events and renders the bot's commands to stdout,
// saving produced images to a directory.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/akula/imgbot/internal/chat"
	"github.com/akula/imgbot/internal/security"
)

// Handler consumes one inbound event; satisfied by the workflow engine.
type Handler interface {
	HandleEvent(ctx context.Context, ev chat.Event) error
}

// Console reads events from In and renders commands to Out. Input
// conventions: a leading '!' presses a button, a leading '@' sends the named
// file as a photo, anything else is plain text.
type Console struct {
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	outDir  string
	userID  int64
	handler Handler

	mu    sync.Mutex
	saved int
}

type Config struct {
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	OutDir string
	UserID int64
}

func New(cfg Config, handler Handler) *Console {
	c := &Console{
		in:      cfg.In,
		out:     cfg.Out,
		errOut:  cfg.Err,
		outDir:  cfg.OutDir,
		userID:  cfg.UserID,
		handler: handler,
	}
	if c.in == nil {
		c.in = os.Stdin
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.errOut == nil {
		c.errOut = os.Stderr
	}
	if c.outDir == "" {
		c.outDir = "."
	}
	if c.userID == 0 {
		c.userID = 1
	}
	return c
}

// SetHandler installs the event handler. The console is a chat.Gateway for
// the engine and the engine is the console's handler, so one of the two is
// wired after construction.
func (c *Console) SetHandler(h Handler) {
	c.handler = h
}

// Run reads lines until EOF or context cancellation, feeding each to the
// handler. The first event delivered is /start so the session opens at the
// menu.
func (c *Console) Run(ctx context.Context) error {
	c.printWelcome()

	if err := c.handler.HandleEvent(ctx, chat.TextEvent(c.userID, "/start")); err != nil {
		return err
	}

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		c.printPrompt()
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		ev, err := c.parseLine(line)
		if err != nil {
			fmt.Fprintf(c.errOut, "Error: %v\n", err)
			continue
		}
		if err := c.handler.HandleEvent(ctx, ev); err != nil {
			fmt.Fprintf(c.errOut, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (c *Console) parseLine(line string) (chat.Event, error) {
	switch {
	case strings.HasPrefix(line, "!"):
		token := strings.TrimSpace(line[1:])
		if token == "" {
			return chat.Event{}, fmt.Errorf("empty button token")
		}
		return chat.ButtonEvent(c.userID, token), nil
	case strings.HasPrefix(line, "@"):
		path := strings.TrimSpace(line[1:])
		data, err := os.ReadFile(path)
		if err != nil {
			return chat.Event{}, fmt.Errorf("failed to read photo: %w", err)
		}
		return chat.PhotoEvent(c.userID, data), nil
	default:
		return chat.TextEvent(c.userID, line), nil
	}
}

// Deliver renders each command in order. It implements chat.Gateway.
func (c *Console) Deliver(_ context.Context, _ int64, cmds []chat.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cmd := range cmds {
		switch v := cmd.(type) {
		case chat.SendText:
			fmt.Fprintln(c.out, v.Text)
			c.renderKeyboard(v.Keyboard)
		case chat.SendImage:
			if err := c.saveImage(v); err != nil {
				return err
			}
		case chat.ClearKeyboard:
			// Nothing to clear on a scrollback terminal.
		}
	}
	return nil
}

func (c *Console) saveImage(img chat.SendImage) error {
	if err := security.ValidateFilename(img.Filename); err != nil {
		return fmt.Errorf("refusing to save %q: %w", img.Filename, err)
	}
	c.saved++
	name := fmt.Sprintf("%03d_%s", c.saved, img.Filename)
	path := filepath.Join(c.outDir, name)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	if img.Caption != "" {
		fmt.Fprintf(c.out, "%s -> %s\n", img.Caption, path)
	} else {
		fmt.Fprintf(c.out, "saved %s\n", path)
	}
	return nil
}

func (c *Console) renderKeyboard(kb chat.Keyboard) {
	for _, row := range kb {
		for _, label := range row {
			fmt.Fprintf(c.out, "[!%s] ", label)
		}
		fmt.Fprintln(c.out)
	}
}

func (c *Console) printWelcome() {
	fmt.Fprintln(c.out, "imgbot interactive mode")
	fmt.Fprintln(c.out, "Plain text sends a message, !token presses a button, @file.png sends a photo.")
	fmt.Fprintln(c.out, "Type '/quit' to exit.")
	fmt.Fprintln(c.out)
}

func (c *Console) printPrompt() {
	f, ok := c.out.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return
	}
	fmt.Fprint(c.out, "> ")
}
