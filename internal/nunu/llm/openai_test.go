package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/nunu/internal/nunu/llm"
)

func okBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

func request() llm.Request {
	return llm.Request{
		Temperature: 0.7,
		MaxTokens:   128,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are Nunu."},
			{Role: llm.RoleUser, Content: "where am I"},
		},
	}
}

func TestOpenAI_Success(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody struct {
			Model       string        `json:"model"`
			Messages    []llm.Message `json:"messages"`
			Temperature float64       `json:"temperature"`
			MaxTokens   int           `json:"max_tokens"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody("Limsa Lominsa, by the smell of it.")))
	}))
	defer srv.Close()

	p := llm.NewOpenAI(llm.OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "local-model"})
	got, err := p.Complete(context.Background(), request())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "Limsa Lominsa, by the smell of it." {
		t.Errorf("content = %q", got)
	}
	if gotPath != llm.CompletionsPath {
		t.Errorf("path = %q, want %q", gotPath, llm.CompletionsPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "local-model" || gotBody.MaxTokens != 128 || gotBody.Temperature != 0.7 {
		t.Errorf("request body = %+v", gotBody)
	}
	if diff := cmp.Diff(request().Messages, gotBody.Messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestOpenAI_NoKeyNoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := r.Header["Authorization"]; ok {
			t.Errorf("unexpected Authorization header %v", h)
		}
		_, _ = w.Write([]byte(okBody("ok")))
	}))
	defer srv.Close()

	p := llm.NewOpenAI(llm.OpenAIConfig{BaseURL: srv.URL})
	if _, err := p.Complete(context.Background(), request()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestOpenAI_StatusError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"structured", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"auth"}}`, "bad key"},
		{"plain", http.StatusBadGateway, "upstream down", "upstream down"},
		{"long", http.StatusInternalServerError, strings.Repeat("x", 2000), strings.Repeat("x", 512) + "..."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := llm.NewOpenAI(llm.OpenAIConfig{BaseURL: srv.URL}).Complete(context.Background(), request())
			var se *llm.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StatusError", err)
			}
			if se.StatusCode != tc.status || se.Message != tc.wantMsg {
				t.Errorf("StatusError = {%d, %q}", se.StatusCode, se.Message)
			}
		})
	}
}

func TestOpenAI_Malformed(t *testing.T) {
	bodies := map[string]string{
		"not json":        "<html>oops</html>",
		"no choices":      `{"choices":[]}`,
		"null content":    `{"choices":[{"message":{"role":"assistant","content":null}}]}`,
		"missing message": `{"choices":[{"finish_reason":"stop"}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := llm.NewOpenAI(llm.OpenAIConfig{BaseURL: srv.URL}).Complete(context.Background(), request())
			if !errors.Is(err, llm.ErrMalformedResponse) {
				t.Errorf("err = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestOpenAI_InvalidRequest(t *testing.T) {
	p := llm.NewOpenAI(llm.OpenAIConfig{BaseURL: "http://127.0.0.1:1"})
	tests := map[string]func(*llm.Request){
		"temperature high": func(r *llm.Request) { r.Temperature = 1.6 },
		"temperature low":  func(r *llm.Request) { r.Temperature = -0.1 },
		"zero tokens":      func(r *llm.Request) { r.MaxTokens = 0 },
		"no messages":      func(r *llm.Request) { r.Messages = nil },
		"bad role":         func(r *llm.Request) { r.Messages[0].Role = "tool" },
	}
	for name, mutate := range tests {
		req := request()
		mutate(&req)
		if _, err := p.Complete(context.Background(), req); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestOpenAI_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := llm.NewOpenAI(llm.OpenAIConfig{BaseURL: srv.URL}).Complete(ctx, request())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestOpenAI_Defaults(t *testing.T) {
	p := llm.NewOpenAI(llm.OpenAIConfig{})
	if got := p.Endpoint(); got != "http://localhost:1234/v1/chat/completions" {
		t.Errorf("Endpoint = %q", got)
	}
}
