package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Console is a line-oriented Sink and inbound source over an io.Reader and
// io.Writer, used for local runs without a chat host.
//
// Input lines have the form "<kind>|<sender>|<text>"; a line without "|" is
// treated as "say" from DefaultSender. Printed and broadcast output is
// written as "[kind] name: text" and "> command" respectively.
type Console struct {
	DefaultSender string

	mu  sync.Mutex
	out io.Writer
	// Loopback, when set, feeds every broadcast back as an inbound message
	// the way a game client echoes your own chat lines.
	Loopback Handler
	// SelfName is the sender used for looped-back messages.
	SelfName string
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer, defaultSender string) *Console {
	if defaultSender == "" {
		defaultSender = "You"
	}
	return &Console{out: out, DefaultSender: defaultSender}
}

// Print implements Sink.
func (c *Console) Print(_ context.Context, msg Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[%s] %s: %s\n", msg.Kind, msg.DisplayName, msg.Text)
	return err
}

// Broadcast implements Sink.
func (c *Console) Broadcast(ctx context.Context, command string) error {
	c.mu.Lock()
	_, err := fmt.Fprintf(c.out, "> %s\n", command)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if c.Loopback != nil {
		if kind, text, ok := SplitCommand(command); ok {
			c.Loopback(ctx, Inbound{Kind: kind, Timestamp: time.Now(), Sender: c.SelfName, Text: text})
		}
	}
	return nil
}

// Listen reads r line by line and hands each parsed message to handler until
// r is exhausted or ctx is cancelled.
func (c *Console) Listen(ctx context.Context, r io.Reader, handler Handler) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		handler(ctx, c.parseLine(line))
	}
	return sc.Err()
}

func (c *Console) parseLine(line string) Inbound {
	msg := Inbound{Kind: KindSay, Timestamp: time.Now(), Sender: c.DefaultSender, Text: line}
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		return msg
	}
	if k, err := ParseKind(parts[0]); err == nil {
		msg.Kind = k
	}
	if s := strings.TrimSpace(parts[1]); s != "" {
		msg.Sender = s
	}
	msg.Text = parts[2]
	return msg
}

// SplitCommand splits a slash command into its channel and text.
// "/tell \"Aria\" hi" yields (KindTell, "hi").
func SplitCommand(command string) (Kind, string, bool) {
	prefix, rest, ok := strings.Cut(strings.TrimSpace(command), " ")
	if !ok {
		return "", "", false
	}
	kind, err := ParseKind(prefix)
	if err != nil {
		return "", "", false
	}
	if kind == KindTell && strings.HasPrefix(rest, `"`) {
		if end := strings.Index(rest[1:], `"`); end >= 0 {
			rest = strings.TrimSpace(rest[end+2:])
		}
	}
	return kind, rest, true
}
