// Package matrix adapts a Matrix account to Nunu's chat surface.
//
// Each channel kind is bound to one room: messages arriving in that room are
// delivered as inbound messages of that kind, and broadcasts for that kind
// ("/p ...") are sent there as m.text. Local prints go to an optional log
// room as m.notice, mirroring a game client's private chat log.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/nunu/common/retry"
	"github.com/bdobrica/nunu/internal/nunu/channel"
)

// Config holds the Matrix connection parameters.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string

	// Rooms binds channel kinds to room IDs.
	Rooms map[channel.Kind]string
	// LogRoom receives Print output. Empty drops prints.
	LogRoom string

	Retry retry.Config
}

// ParseRooms converts a "kind" -> "!room:server" map (as read from the
// environment) into channel kinds.
func ParseRooms(raw map[string]string) (map[channel.Kind]string, error) {
	out := make(map[channel.Kind]string, len(raw))
	for name, room := range raw {
		kind, err := channel.ParseKind(name)
		if err != nil {
			return nil, err
		}
		room = strings.TrimSpace(room)
		if !strings.HasPrefix(room, "!") {
			return nil, fmt.Errorf("room for %s must be a room ID starting with '!', got %q", kind, room)
		}
		out[kind] = room
	}
	return out, nil
}

// Client is the Nunu-side Matrix client. It implements channel.Sink.
type Client struct {
	mxc   *mautrix.Client
	cfg   Config
	kinds map[id.RoomID]channel.Kind

	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ channel.Sink = (*Client)(nil)

// New creates a Matrix client but does not start syncing yet.
func New(cfg Config) (*Client, error) {
	if len(cfg.Rooms) == 0 {
		return nil, errors.New("matrix: no rooms configured")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	mxc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	kinds := make(map[id.RoomID]channel.Kind, len(cfg.Rooms))
	for k, room := range cfg.Rooms {
		kinds[id.RoomID(room)] = k
	}
	return &Client{mxc: mxc, cfg: cfg, kinds: kinds, stopCh: make(chan struct{})}, nil
}

// Start joins the bound rooms and begins the sync loop, calling handler for
// every text message received in them. The sync loop reconnects with
// exponential back-off on errors.
func (c *Client) Start(ctx context.Context, handler channel.Handler) error {
	slog.Warn("Matrix E2EE is not enabled; messages are in plaintext")

	syncer, ok := c.mxc.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		if msg, ok := c.toInbound(evt); ok {
			handler(ctx, msg)
		}
	})

	rooms := make([]id.RoomID, 0, len(c.kinds)+1)
	for room := range c.kinds {
		rooms = append(rooms, room)
	}
	if c.cfg.LogRoom != "" {
		rooms = append(rooms, id.RoomID(c.cfg.LogRoom))
	}
	for _, room := range rooms {
		c.join(ctx, room)
	}

	go c.syncLoop()
	return nil
}

func (c *Client) syncLoop() {
	const backoffMax = 5 * time.Minute
	backoff := 2 * time.Second
	for {
		if err := c.mxc.Sync(); err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			slog.Error("matrix sync error; reconnecting", "err", err, "backoff", backoff)
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, backoffMax)
			continue
		}
		select {
		case <-c.stopCh:
			return
		default:
			backoff = 2 * time.Second
		}
	}
}

// Stop halts the sync loop. Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mxc.StopSync()
	})
}

// toInbound converts a room message into an inbound message. Messages from
// unbound rooms, from ourselves, and notices (bot output) are skipped.
func (c *Client) toInbound(evt *event.Event) (channel.Inbound, bool) {
	if evt.Sender == id.UserID(c.cfg.UserID) {
		return channel.Inbound{}, false
	}
	kind, ok := c.kinds[evt.RoomID]
	if !ok {
		return channel.Inbound{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType == event.MsgNotice {
		return channel.Inbound{}, false
	}
	if content.MsgType != event.MsgText && content.MsgType != event.MsgEmote {
		return channel.Inbound{}, false
	}
	return channel.Inbound{
		Kind:      kind,
		Timestamp: time.UnixMilli(evt.Timestamp),
		SenderID:  evt.Sender.String(),
		Sender:    displayName(evt.Sender),
		Text:      content.Body,
	}, true
}

// displayName returns the localpart of an MXID ("@aria:example.org" ->
// "aria"), or the raw ID when it does not parse.
func displayName(user id.UserID) string {
	local, _, err := user.Parse()
	if err != nil || local == "" {
		return user.String()
	}
	return local
}

// Print implements channel.Sink. It posts "[kind] name: text" as a notice
// in the log room.
func (c *Client) Print(ctx context.Context, msg channel.Outbound) error {
	if c.cfg.LogRoom == "" {
		return nil
	}
	body := fmt.Sprintf("[%s] %s: %s", msg.Kind, msg.DisplayName, msg.Text)
	return c.send(ctx, id.RoomID(c.cfg.LogRoom), event.MsgNotice, body)
}

// Broadcast implements channel.Sink. The command's slash prefix selects the
// room; the rest is sent as m.text.
func (c *Client) Broadcast(ctx context.Context, command string) error {
	kind, text, ok := channel.SplitCommand(command)
	if !ok {
		return fmt.Errorf("matrix: cannot parse command %q", command)
	}
	room, ok := c.cfg.Rooms[kind]
	if !ok {
		return fmt.Errorf("matrix: no room bound to %s", kind)
	}
	return c.send(ctx, id.RoomID(room), event.MsgText, text)
}

func (c *Client) send(ctx context.Context, room id.RoomID, msgType event.MessageType, body string) error {
	content := event.MessageEventContent{MsgType: msgType, Body: body}
	return retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		_, err := c.mxc.SendMessageEvent(ctx, room, event.EventMessage, content)
		var httpErr mautrix.HTTPError
		if errors.As(err, &httpErr) && httpErr.Response != nil &&
			httpErr.Response.StatusCode >= 400 && httpErr.Response.StatusCode < 500 {
			return retry.Permanent(err)
		}
		return err
	})
}

// join joins a room, ignoring "already joined" errors.
func (c *Client) join(ctx context.Context, roomID id.RoomID) {
	if _, err := c.mxc.JoinRoomByID(ctx, roomID); err != nil {
		// mautrix returns an error even when already a member
		slog.Info("join room result", "room", roomID, "err", err)
	}
}

// UserID returns the bot's Matrix user ID.
func (c *Client) UserID() string { return c.cfg.UserID }
