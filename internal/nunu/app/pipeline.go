package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/bdobrica/nunu/common/redact"
	"github.com/bdobrica/nunu/common/trace"
	"github.com/bdobrica/nunu/internal/nunu/channel"
	"github.com/bdobrica/nunu/internal/nunu/compose"
	"github.com/bdobrica/nunu/internal/nunu/conversation"
	"github.com/bdobrica/nunu/internal/nunu/memory"
	"github.com/bdobrica/nunu/internal/nunu/observability"
	"github.com/bdobrica/nunu/internal/nunu/store"
)

// turn carries one triggered message through the reply path.
type turn struct {
	logID    string
	started  time.Time
	origin   store.Trigger
	sender   string
	query    string
	matched  string
	memories []memory.Item
}

// HandleInbound is the channel.Handler for every transport. It never blocks
// on the completion provider: delegated replies run in the background and
// are tracked for Close.
func (a *App) HandleInbound(ctx context.Context, msg channel.Inbound) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := observability.WithTrace(ctx).With("channel", msg.Kind, "sender", msg.Sender)

	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return
	}
	if a.dispatcher.IsEcho(msg.Text) {
		log.Debug("ignoring own echo")
		return
	}
	if strings.EqualFold(strings.TrimSpace(msg.Sender), a.cfg.SelfName) {
		return
	}
	if !a.detector.Allowed(msg.Kind) {
		return
	}
	if !a.listening(msg) {
		log.Debug("filtered by listener settings")
		return
	}

	item, _ := a.memory.Remember(msg.Sender, msg.Text)

	p := a.personas.Current()
	res := a.detector.Detect(msg, p.Triggers)
	if !res.Triggered {
		return
	}

	t := &turn{
		started: a.now(),
		origin:  store.TriggerChat,
		sender:  res.Speaker,
		query:   res.Query,
		matched: res.Matched,
	}
	t.logID = a.logTurn(ctx, string(msg.Kind), msg.Text, t)

	switch a.admit(res.Speaker, res.Query != "") {
	case rateLimited:
		log.Debug("reply suppressed by rate limit", "matched", res.Matched)
		a.finishTurn(ctx, t, store.OutcomeSuppressed, "", "")
		return
	case completionBusy:
		log.Info("completion busy; reply dropped")
		if err := a.dispatcher.Notice(ctx, BusyNotice); err != nil {
			log.Warn("busy notice failed", "err", err)
		}
		a.finishTurn(ctx, t, store.OutcomeBusy, "", conversation.ErrBusy.Error())
		return
	}

	t.memories = a.recall(res.Query, item.ID)
	log.Info("triggered", "matched", res.Matched)

	if !a.useLLM() {
		a.reply(ctx, t, compose.Request{})
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		// Inbound callbacks may cancel their context on return; the
		// completion lives as long as the app does.
		runCtx := trace.WithTraceID(a.runCtx, trace.FromContext(ctx))
		a.delegate(runCtx, t)
	}()
}

// Ask answers text from sender directly, bypassing trigger detection and
// rate limiting. It blocks until the reply has been dispatched and returns
// the reply text.
func (a *App) Ask(ctx context.Context, sender, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("ask: empty question")
	}
	if sender == "" {
		sender = a.cfg.SelfName
	}
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	item, _ := a.memory.Remember(sender, text)
	t := &turn{
		started: a.now(),
		origin:  store.TriggerAsk,
		sender:  sender,
		query:   text,
	}
	t.logID = a.logTurn(ctx, "ask", text, t)
	t.memories = a.recall(text, item.ID)

	if !a.useLLM() {
		return a.reply(ctx, t, compose.Request{})
	}
	return a.delegate(ctx, t)
}

// listening applies mention-only mode and the whitelist.
func (a *App) listening(msg channel.Inbound) bool {
	whitelisted := slices.ContainsFunc(a.cfg.Whitelist, func(s string) bool {
		return strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(msg.Sender))
	})
	if a.cfg.MentionOnly {
		return whitelisted || strings.Contains(strings.ToLower(msg.Text), strings.ToLower(a.cfg.MentionToken))
	}
	if len(a.cfg.Whitelist) > 0 {
		return whitelisted
	}
	return true
}

type admission int

const (
	admitted admission = iota
	rateLimited
	completionBusy
)

// admit checks every limiter, and for replies that need the completion
// provider its gate, before marking any limiter. A reply that will not be
// sent never consumes cooldown or quota.
func (a *App) admit(sender string, needsCompletion bool) admission {
	now := a.now()
	a.gateMu.Lock()
	defer a.gateMu.Unlock()
	if !a.limiter.CanReplyNow(sender, now) {
		return rateLimited
	}
	if a.senderLim != nil && !a.senderLim.CanReplyNow(sender, now) {
		return rateLimited
	}
	if needsCompletion && a.llmEnabled && a.conv.Busy() {
		return completionBusy
	}
	a.limiter.MarkReply(sender, now)
	if a.senderLim != nil {
		a.senderLim.MarkReply(sender, now)
	}
	return admitted
}

// recall returns up to RecallK memories for query, leaving out the message
// being answered.
func (a *App) recall(query string, selfID int) []memory.Item {
	if a.cfg.RecallK == 0 {
		return nil
	}
	items := a.memory.Recall(query, a.cfg.RecallK+1)
	items = slices.DeleteFunc(items, func(it memory.Item) bool { return it.ID == selfID })
	if len(items) > a.cfg.RecallK {
		items = items[:a.cfg.RecallK]
	}
	return items
}

// delegate asks the completion provider for the core answer and dispatches
// the composed reply. Busy and error outcomes become short notices.
func (a *App) delegate(ctx context.Context, t *turn) (string, error) {
	log := observability.WithTrace(ctx).With("sender", t.sender)

	if t.query == "" {
		// A bare callsign is a greeting; nothing to ask the provider.
		return a.reply(ctx, t, compose.Request{})
	}
	query := truncateRunes(t.query, a.cfg.MaxPromptChars)
	if a.conv.EnsureSystem(a.systemPrompt(a.personas.Current())) {
		log.Debug("system prompt installed")
	}

	answer, err := a.conv.Send(ctx, query)
	switch {
	case err == nil:
		return a.reply(ctx, t, compose.Request{Core: answer})
	case errors.Is(err, conversation.ErrBusy):
		log.Info("completion busy; reply dropped")
		if nerr := a.dispatcher.Notice(ctx, BusyNotice); nerr != nil {
			log.Warn("busy notice failed", "err", nerr)
		}
		a.finishTurn(ctx, t, store.OutcomeBusy, "", err.Error())
		return "", err
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		log.Debug("completion cancelled")
		a.finishTurn(ctx, t, store.OutcomeError, "", "cancelled")
		return "", err
	default:
		msg := redact.Error(err, a.cfg.LLM.APIKey)
		log.Error("completion failed", "err", msg)
		a.conv.RecordFailure(query, errors.New(msg))
		if nerr := a.dispatcher.Notice(ctx, ErrorNotice+msg); nerr != nil {
			log.Warn("error notice failed", "err", nerr)
		}
		a.finishTurn(ctx, t, store.OutcomeError, "", msg)
		return "", err
	}
}

// reply composes the final text around req.Core and sends it.
func (a *App) reply(ctx context.Context, t *turn, req compose.Request) (string, error) {
	req.Speaker = t.sender
	req.Query = t.query
	req.Matched = t.matched
	req.Persona = a.personas.Current()
	req.Memories = t.memories

	text := a.composer.Compose(req)
	n, err := a.dispatcher.Send(ctx, text)
	if err != nil {
		observability.WithTrace(ctx).Warn("send failed", "sender", t.sender, "chunks_sent", n, "err", err)
		a.finishTurn(ctx, t, store.OutcomeError, text, err.Error())
		return text, err
	}
	a.finishTurn(ctx, t, store.OutcomeReplied, text, "")
	return text, nil
}

func (a *App) logTurn(ctx context.Context, ch, message string, t *turn) string {
	if a.db == nil {
		return ""
	}
	id, err := a.db.LogTurn(trace.FromContext(ctx), ch, t.sender, message, t.matched, t.origin)
	if err != nil {
		observability.WithTrace(ctx).Warn("turn log write failed", "err", err)
		return ""
	}
	return id
}

func (a *App) finishTurn(ctx context.Context, t *turn, outcome store.Outcome, reply, errMsg string) {
	if a.db == nil || t.logID == "" {
		return
	}
	if err := a.db.FinishTurn(t.logID, outcome, reply, errMsg, a.now().Sub(t.started)); err != nil {
		observability.WithTrace(ctx).Warn("turn log update failed", "err", err)
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit]))
}
