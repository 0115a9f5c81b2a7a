package app

import (
	"time"

	"github.com/bdobrica/nunu/internal/nunu/channel"
	"github.com/bdobrica/nunu/internal/nunu/compose"
	"github.com/bdobrica/nunu/internal/nunu/conversation"
	"github.com/bdobrica/nunu/internal/nunu/llm"
	"github.com/bdobrica/nunu/internal/nunu/memory"
	"github.com/bdobrica/nunu/internal/nunu/outbound"
	"github.com/bdobrica/nunu/internal/nunu/persona"
	"github.com/bdobrica/nunu/internal/nunu/ratelimit"
)

// Notices printed on the reply channel.
const (
	BusyNotice     = "Still singing, one moment."
	ErrorNotice    = "[error] "
	DefaultBaseSys = "You are a helpful assistant inside Final Fantasy XIV. Keep replies short and in character."
)

// Config holds the Nunu application configuration. All values are plain
// settings loaded by cmd/nunu from the environment; the core never owns or
// persists them.
type Config struct {
	// Callsign must open a message to address Nunu, e.g. "!nunu".
	Callsign string
	// Triggers fire when found anywhere in a message.
	Triggers []string
	// AllowedChannels are the channel kinds Nunu listens on.
	AllowedChannels []channel.Kind
	// SelfName is Nunu's own display name; messages from it are ignored.
	SelfName string

	Cooldown            time.Duration
	MaxRepliesPerMinute int
	RateScope           ratelimit.Scope
	// PerSenderCooldown is an extra gap enforced per sender. Zero disables.
	PerSenderCooldown time.Duration

	// MentionOnly requires MentionToken in the message unless the sender is
	// whitelisted.
	MentionOnly  bool
	MentionToken string
	// Whitelist, when non-empty and MentionOnly is off, restricts listening
	// to these senders.
	Whitelist []string

	// MaxPromptChars truncates the query sent to the completion provider.
	MaxPromptChars int

	PersonaFile       string
	PersonaAutoReload bool
	PersonaDebounce   time.Duration

	ReplyChannel   channel.Kind
	TellTarget     string
	ChunkLen       int
	Broadcast      bool
	BroadcastDelay time.Duration
	EchoTTL        time.Duration

	// RecallK is how many memories are recalled for each reply.
	RecallK        int
	MemoryCapacity int

	// DBPath is the SQLite turn log. Empty disables it.
	DBPath string

	LLM LLMConfig
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	// Enabled delegates the core answer to the provider.
	Enabled      bool
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	MaxHistory   int
	Timeout      time.Duration
	SystemPrompt string
	// PersonaOnTop places the persona block above SystemPrompt.
	PersonaOnTop bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Callsign:            "!nunu",
		AllowedChannels:     []channel.Kind{channel.KindSay, channel.KindParty},
		SelfName:            persona.DefaultName,
		Cooldown:            ratelimit.DefaultCooldown,
		MaxRepliesPerMinute: ratelimit.DefaultMaxPerMinute,
		RateScope:           ratelimit.ScopeGlobal,
		MentionToken:        "@nunu",
		MaxPromptChars:      1200,
		PersonaAutoReload:   true,
		PersonaDebounce:     persona.DefaultDebounce,
		ReplyChannel:        channel.KindParty,
		ChunkLen:            outbound.DefaultMaxChunk,
		Broadcast:           true,
		BroadcastDelay:      outbound.DefaultBroadcastDelay,
		EchoTTL:             outbound.DefaultEchoTTL,
		RecallK:             compose.DefaultRecapItems,
		MemoryCapacity:      memory.DefaultCapacity,
		LLM: LLMConfig{
			BaseURL:      llm.DefaultBaseURL,
			Model:        "gpt-4o-mini",
			Temperature:  0.7,
			MaxTokens:    512,
			MaxHistory:   conversation.DefaultMaxHistoryPairs,
			Timeout:      llm.DefaultTimeout,
			SystemPrompt: DefaultBaseSys,
			PersonaOnTop: true,
		},
	}
}

// normalize replaces out-of-range values with defaults. Invalid settings
// never stop the bot.
func (c *Config) normalize() {
	d := DefaultConfig()
	if c.SelfName == "" {
		c.SelfName = d.SelfName
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.RateScope == "" {
		c.RateScope = ratelimit.ScopeGlobal
	}
	if c.MentionToken == "" {
		c.MentionToken = d.MentionToken
	}
	if c.MaxPromptChars < 1 {
		c.MaxPromptChars = d.MaxPromptChars
	}
	if c.ReplyChannel == "" {
		c.ReplyChannel = d.ReplyChannel
	}
	if c.ChunkLen < 1 {
		c.ChunkLen = d.ChunkLen
	}
	if c.RecallK < 0 {
		c.RecallK = d.RecallK
	}
	if c.MemoryCapacity < 1 {
		c.MemoryCapacity = d.MemoryCapacity
	}
	c.LLM.Temperature = min(max(c.LLM.Temperature, llm.MinTemperature), llm.MaxTemperature)
	if c.LLM.MaxTokens < 1 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if c.LLM.MaxHistory < 1 {
		c.LLM.MaxHistory = d.LLM.MaxHistory
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
}
