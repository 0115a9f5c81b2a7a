// Package channel defines the abstract chat surface Nunu listens to and
// speaks on. Host-specific transports (Matrix, a terminal) adapt to these
// types; nothing in the core knows which one is in use.
package channel

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind is the chat channel a message travelled on.
type Kind string

const (
	KindSay         Kind = "say"
	KindParty       Kind = "party"
	KindAlliance    Kind = "alliance"
	KindFreeCompany Kind = "free_company"
	KindTell        Kind = "tell"
	KindShout       Kind = "shout"
	KindYell        Kind = "yell"
	KindEcho        Kind = "echo"
)

var kindAliases = map[string]Kind{
	"say":          KindSay,
	"s":            KindSay,
	"party":        KindParty,
	"p":            KindParty,
	"alliance":     KindAlliance,
	"a":            KindAlliance,
	"free_company": KindFreeCompany,
	"freecompany":  KindFreeCompany,
	"fc":           KindFreeCompany,
	"tell":         KindTell,
	"tellincoming": KindTell,
	"telloutgoing": KindTell,
	"shout":        KindShout,
	"sh":           KindShout,
	"yell":         KindYell,
	"y":            KindYell,
	"echo":         KindEcho,
}

// ParseKind maps a case-insensitive channel name or slash alias ("Say",
// "fc", "/p") to a Kind.
func ParseKind(s string) (Kind, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
	if k, ok := kindAliases[key]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown channel kind %q", s)
}

// ParseKinds parses every name in names, skipping (and returning) the ones
// that are not recognised.
func ParseKinds(names []string) (kinds []Kind, unknown []string) {
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			unknown = append(unknown, n)
			continue
		}
		kinds = append(kinds, k)
	}
	return kinds, unknown
}

// CommandPrefix is the slash command that speaks on this channel. tellTarget
// is only used for KindTell.
func (k Kind) CommandPrefix(tellTarget string) string {
	switch k {
	case KindSay:
		return "/s"
	case KindParty:
		return "/p"
	case KindAlliance:
		return "/a"
	case KindFreeCompany:
		return "/fc"
	case KindShout:
		return "/sh"
	case KindYell:
		return "/y"
	case KindTell:
		if strings.TrimSpace(tellTarget) == "" {
			return "/tell"
		}
		return fmt.Sprintf("/tell %q", strings.TrimSpace(tellTarget))
	default:
		return "/echo"
	}
}

// Inbound is one message delivered by the host.
type Inbound struct {
	Kind      Kind
	Timestamp time.Time
	SenderID  string
	Sender    string
	Text      string
	// Handled mirrors the host's "already handled" flag. Nunu never reads or
	// sets it; it is carried only so adapters can round-trip it.
	Handled bool
}

// Outbound is a line printed locally on a channel under a display name.
type Outbound struct {
	Kind        Kind
	DisplayName string
	Text        string
}

// Sink is the host's send surface.
type Sink interface {
	// Print shows msg on the local chat log.
	Print(ctx context.Context, msg Outbound) error
	// Broadcast executes a raw slash command such as "/p hello".
	Broadcast(ctx context.Context, command string) error
}

// Handler receives inbound messages. Adapters call it once per message, in
// arrival order.
type Handler func(ctx context.Context, msg Inbound)
