package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/nunu/internal/nunu/conversation"
	"github.com/bdobrica/nunu/internal/nunu/llm"
)

// echoProvider replies "re: <last user content>" and records requests.
type echoProvider struct {
	mu   sync.Mutex
	reqs []llm.Request
	err  error
}

func (p *echoProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return "", p.err
	}
	return "re: " + req.Messages[len(req.Messages)-1].Content, nil
}

func (p *echoProvider) last() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

// blockingProvider waits for release or cancellation.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) Complete(ctx context.Context, _ llm.Request) (string, error) {
	close(p.started)
	select {
	case <-p.release:
		return "late", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func cfg(pairs int) conversation.Config {
	return conversation.Config{Model: "m", Temperature: 0.7, MaxTokens: 64, MaxHistoryPairs: pairs}
}

func TestEnsureSystem(t *testing.T) {
	c := conversation.New(&echoProvider{}, cfg(2))
	if !c.EnsureSystem("first") {
		t.Fatal("EnsureSystem on empty history should insert")
	}
	if c.EnsureSystem("second") {
		t.Error("EnsureSystem must not overwrite an existing system turn")
	}
	h := c.History()
	if len(h) != 1 || h[0].Content != "first" {
		t.Errorf("History = %+v", h)
	}

	c.SetSystem("replaced")
	if h := c.History(); h[0].Content != "replaced" {
		t.Errorf("SetSystem did not replace: %+v", h)
	}
}

func TestSend_AppendsAndTrims(t *testing.T) {
	p := &echoProvider{}
	c := conversation.New(p, cfg(2))
	c.EnsureSystem("sys")

	for i := range 5 {
		got, err := c.Send(context.Background(), fmt.Sprintf("q%d", i))
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		if want := fmt.Sprintf("re: q%d", i); got != want {
			t.Errorf("Send %d = %q, want %q", i, got, want)
		}
	}

	want := []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "q3"},
		{Role: llm.RoleAssistant, Content: "re: q3"},
		{Role: llm.RoleUser, Content: "q4"},
		{Role: llm.RoleAssistant, Content: "re: q4"},
	}
	if diff := cmp.Diff(want, c.History()); diff != "" {
		t.Errorf("History (-want +got):\n%s", diff)
	}

	// The last request saw system + the newest 4 non-system turns.
	req := p.last()
	wantView := []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleAssistant, Content: "re: q2"},
		{Role: llm.RoleUser, Content: "q3"},
		{Role: llm.RoleAssistant, Content: "re: q3"},
		{Role: llm.RoleUser, Content: "q4"},
	}
	if diff := cmp.Diff(wantView, req.Messages); diff != "" {
		t.Errorf("request view (-want +got):\n%s", diff)
	}
	if req.Model != "m" || req.MaxTokens != 64 || req.Temperature != 0.7 {
		t.Errorf("request params = %+v", req)
	}
}

func TestSend_ErrorCommitsNothing(t *testing.T) {
	boom := errors.New("HTTP 500")
	c := conversation.New(&echoProvider{err: boom}, cfg(4))
	c.EnsureSystem("sys")

	if _, err := c.Send(context.Background(), "hello"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if h := c.History(); len(h) != 1 {
		t.Errorf("failed Send changed history: %+v", h)
	}

	c.RecordFailure("hello", boom)
	want := []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "[error] HTTP 500"},
	}
	if diff := cmp.Diff(want, c.History()); diff != "" {
		t.Errorf("History (-want +got):\n%s", diff)
	}
}

func TestSend_NoProvider(t *testing.T) {
	c := conversation.New(nil, cfg(1))
	if _, err := c.Send(context.Background(), "hi"); !errors.Is(err, conversation.ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
	c.SetProvider(&echoProvider{})
	if _, err := c.Send(context.Background(), "hi"); err != nil {
		t.Errorf("after SetProvider: %v", err)
	}
}

func TestSend_BusyWhileInFlight(t *testing.T) {
	bp := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	c := conversation.New(bp, cfg(4))

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "first")
		done <- err
	}()
	<-bp.started

	if !c.Busy() {
		t.Error("Busy should report an in-flight call")
	}
	if _, err := c.Send(context.Background(), "second"); !errors.Is(err, conversation.ErrBusy) {
		t.Errorf("second Send err = %v, want ErrBusy", err)
	}

	close(bp.release)
	if err := <-done; err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if c.Busy() {
		t.Error("gate should be released")
	}
	if h := c.History(); len(h) != 2 || h[1].Content != "late" {
		t.Errorf("History = %+v", h)
	}
}

func TestSend_CancellationLeavesHistoryAndReleasesGate(t *testing.T) {
	bp := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	c := conversation.New(bp, cfg(4))
	c.EnsureSystem("sys")
	before := c.History()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, "will be cancelled")
		done <- err
	}()
	<-bp.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after cancel")
	}
	if diff := cmp.Diff(before, c.History()); diff != "" {
		t.Errorf("cancellation changed history (-want +got):\n%s", diff)
	}

	c.SetProvider(&echoProvider{})
	if _, err := c.Send(context.Background(), "again"); err != nil {
		t.Errorf("gate not released after cancellation: %v", err)
	}
}

func TestReset(t *testing.T) {
	c := conversation.New(&echoProvider{}, cfg(4))
	c.EnsureSystem("old")
	_, _ = c.Send(context.Background(), "hi")

	c.Reset("new")
	want := []llm.Message{{Role: llm.RoleSystem, Content: "new"}}
	if diff := cmp.Diff(want, c.History()); diff != "" {
		t.Errorf("History (-want +got):\n%s", diff)
	}
	c.Reset("")
	if h := c.History(); len(h) != 0 {
		t.Errorf("Reset(\"\") left %+v", h)
	}
}
