package trigger_test

import (
	"testing"
	"unicode/utf8"

	"github.com/bdobrica/nunu/internal/nunu/channel"
	"github.com/bdobrica/nunu/internal/nunu/trigger"
)

func newDetector(anywhere ...string) *trigger.Detector {
	return trigger.New(trigger.Config{
		AllowedChannels: []channel.Kind{channel.KindSay, channel.KindParty},
		Callsign:        "!nunu",
		Anywhere:        anywhere,
	})
}

func say(sender, text string) channel.Inbound {
	return channel.Inbound{Kind: channel.KindSay, Sender: sender, Text: text}
}

func TestDetect_CallsignStrippedFromQuery(t *testing.T) {
	d := newDetector()
	got := d.Detect(say("Aria", "!nunu where am I"), nil)
	if !got.Triggered {
		t.Fatal("expected trigger")
	}
	if got.Matched != "!nunu" {
		t.Errorf("matched = %q, want !nunu", got.Matched)
	}
	if got.Query != "where am I" {
		t.Errorf("query = %q, want %q", got.Query, "where am I")
	}
	if got.Speaker != "Aria" {
		t.Errorf("speaker = %q, want Aria", got.Speaker)
	}
}

func TestDetect_NoTriggerWithoutConfiguredTokens(t *testing.T) {
	d := newDetector()
	if got := d.Detect(say("Aria", "hello there"), nil); got.Triggered {
		t.Fatalf("unexpected trigger: %+v", got)
	}
}

func TestDetect_DisallowedChannel(t *testing.T) {
	d := newDetector()
	msg := channel.Inbound{Kind: channel.KindShout, Sender: "Aria", Text: "!nunu help"}
	if got := d.Detect(msg, nil); got.Triggered {
		t.Fatal("shout is not an allowed channel")
	}
}

func TestDetect(t *testing.T) {
	d := newDetector("help", "guide")
	persona := []string{"nunubu", "soul weeper"}

	tests := []struct {
		name        string
		text        string
		wantTrigger bool
		wantMatched string
		wantQuery   string
	}{
		{"callsign case-insensitive", "!NUNU, sing for me", true, "!nunu", "sing for me"},
		{"callsign with colon", "  !nunu: hi  ", true, "!nunu", "hi"},
		{"anywhere token", "can someone HELP me", true, "help", "can someone HELP me"},
		{"persona trigger", "is that the Soul Weeper?", true, "soul weeper", "is that the Soul Weeper?"},
		{"bare callsign form stripped", "nunu, guide me home", true, "guide", "guide me home"},
		{"persona token leading is stripped", "Nunubu: a song please", true, "nunubu", "a song please"},
		{"callsign alone", "!nunu", true, "!nunu", ""},
		{"no-break space after callsign", "!nunu\u00a0where am I", true, "!nunu", "where am I"},
		{"ideographic space after callsign", "!nunu\u3000sing", true, "!nunu", "sing"},
		{"blank", "   ", false, "", ""},
		{"nothing", "lovely weather", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(say("Bram", tt.text), persona)
			if got.Triggered != tt.wantTrigger {
				t.Fatalf("Triggered = %v, want %v", got.Triggered, tt.wantTrigger)
			}
			if !tt.wantTrigger {
				return
			}
			if got.Matched != tt.wantMatched {
				t.Errorf("Matched = %q, want %q", got.Matched, tt.wantMatched)
			}
			if got.Query != tt.wantQuery {
				t.Errorf("Query = %q, want %q", got.Query, tt.wantQuery)
			}
			if !utf8.ValidString(got.Query) {
				t.Errorf("Query %q is not valid UTF-8", got.Query)
			}
		})
	}
}

func TestAllowed(t *testing.T) {
	d := newDetector()
	if !d.Allowed(channel.KindParty) || d.Allowed(channel.KindTell) {
		t.Fatal("Allowed does not reflect config")
	}
}
