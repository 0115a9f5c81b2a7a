package main

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/nunu/common/environment"
	"github.com/bdobrica/nunu/internal/nunu/app"
	"github.com/bdobrica/nunu/internal/nunu/channel"
	"github.com/bdobrica/nunu/internal/nunu/ratelimit"
)

// loadConfig builds the application configuration from NUNU_*, LLM_* and
// the persistent flags. Unknown channel names and scopes are logged and
// replaced with defaults.
func loadConfig(cmd *cobra.Command) app.Config {
	d := app.DefaultConfig()
	cfg := app.Config{
		Callsign:            environment.StringOr("NUNU_CALLSIGN", d.Callsign),
		Triggers:            environment.StringSliceOr("NUNU_TRIGGERS", nil),
		AllowedChannels:     kindsOr("NUNU_ALLOWED_CHANNELS", d.AllowedChannels),
		SelfName:            environment.StringOr("NUNU_SELF_NAME", d.SelfName),
		Cooldown:            environment.DurationOr("NUNU_COOLDOWN", d.Cooldown),
		MaxRepliesPerMinute: environment.IntOr("NUNU_MAX_REPLIES_PER_MINUTE", d.MaxRepliesPerMinute),
		PerSenderCooldown:   environment.DurationOr("NUNU_PER_SENDER_COOLDOWN", d.PerSenderCooldown),
		MentionOnly:         environment.BoolOr("NUNU_MENTION_ONLY", d.MentionOnly),
		MentionToken:        environment.StringOr("NUNU_MENTION_TOKEN", d.MentionToken),
		Whitelist:           environment.StringSliceOr("NUNU_WHITELIST", nil),
		MaxPromptChars:      environment.PositiveIntOr("NUNU_MAX_PROMPT_CHARS", d.MaxPromptChars),
		PersonaFile:         environment.StringOr("NUNU_PERSONA_FILE", ""),
		PersonaAutoReload:   environment.BoolOr("NUNU_PERSONA_AUTO_RELOAD", d.PersonaAutoReload),
		PersonaDebounce:     environment.DurationOr("NUNU_PERSONA_DEBOUNCE", d.PersonaDebounce),
		TellTarget:          environment.StringOr("NUNU_TELL_TARGET", ""),
		ChunkLen:            environment.PositiveIntOr("NUNU_CHUNK_LEN", d.ChunkLen),
		Broadcast:           environment.BoolOr("NUNU_BROADCAST", d.Broadcast),
		BroadcastDelay:      environment.DurationOr("NUNU_BROADCAST_DELAY", d.BroadcastDelay),
		EchoTTL:             environment.DurationOr("NUNU_ECHO_TTL", d.EchoTTL),
		RecallK:             environment.IntOr("NUNU_RECALL_K", d.RecallK),
		MemoryCapacity:      environment.PositiveIntOr("NUNU_MEMORY_CAPACITY", d.MemoryCapacity),
		DBPath:              environment.StringOr("NUNU_DB_PATH", ""),
		LLM: app.LLMConfig{
			Enabled:      environment.BoolOr("LLM_ENABLED", false),
			BaseURL:      environment.StringOr("LLM_BASE_URL", d.LLM.BaseURL),
			APIKey:       environment.StringOr("LLM_API_KEY", ""),
			Model:        environment.StringOr("LLM_MODEL", d.LLM.Model),
			Temperature:  environment.FloatOr("LLM_TEMPERATURE", d.LLM.Temperature),
			MaxTokens:    environment.PositiveIntOr("LLM_MAX_TOKENS", d.LLM.MaxTokens),
			MaxHistory:   environment.PositiveIntOr("LLM_MAX_HISTORY", d.LLM.MaxHistory),
			Timeout:      environment.DurationOr("LLM_TIMEOUT", d.LLM.Timeout),
			SystemPrompt: environment.StringOr("LLM_SYSTEM_PROMPT", d.LLM.SystemPrompt),
			PersonaOnTop: environment.BoolOr("NUNU_PERSONA_ON_TOP", d.LLM.PersonaOnTop),
		},
	}

	scope, err := ratelimit.ParseScope(environment.StringOr("NUNU_RATE_SCOPE", string(d.RateScope)))
	if err != nil {
		slog.Warn("invalid NUNU_RATE_SCOPE; using global", "err", err)
		scope = ratelimit.ScopeGlobal
	}
	cfg.RateScope = scope

	cfg.ReplyChannel = d.ReplyChannel
	if raw := environment.StringOr("NUNU_REPLY_CHANNEL", ""); raw != "" {
		if k, err := channel.ParseKind(raw); err == nil {
			cfg.ReplyChannel = k
		} else {
			slog.Warn("invalid NUNU_REPLY_CHANNEL; using default", "value", raw, "default", d.ReplyChannel)
		}
	}

	if f := cmd.Flag("persona"); f != nil && f.Changed {
		cfg.PersonaFile = f.Value.String()
	}
	if f := cmd.Flag("llm"); f != nil && f.Changed {
		cfg.LLM.Enabled = f.Value.String() == "true"
	}
	return cfg
}

func kindsOr(name string, def []channel.Kind) []channel.Kind {
	raw := environment.StringSliceOr(name, nil)
	if len(raw) == 0 {
		return def
	}
	kinds, unknown := channel.ParseKinds(raw)
	if len(unknown) > 0 {
		slog.Warn("ignoring unknown channel kinds", "var", name, "unknown", strings.Join(unknown, ","))
	}
	if len(kinds) == 0 {
		return def
	}
	return kinds
}
