// Package llm defines the completion provider contract and message types
// used by the conversation context.
//
// A provider receives the trimmed, role-tagged history plus generation
// parameters and returns the assistant's reply text. It is called at most
// once at a time and is never retried automatically.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the input to a single completion call.
type Request struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Messages    []Message
}

// Generation limits.
const (
	MinTemperature = 0.0
	MaxTemperature = 1.5
)

// Validate checks the request's generation parameters and roles.
func (r Request) Validate() error {
	if r.Temperature < MinTemperature || r.Temperature > MaxTemperature {
		return fmt.Errorf("temperature %.2f outside %.1f..%.1f", r.Temperature, MinTemperature, MaxTemperature)
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", r.MaxTokens)
	}
	if len(r.Messages) == 0 {
		return errors.New("no messages")
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
	}
	return nil
}

// Provider is the interface every completion backend implements.
type Provider interface {
	// Complete sends the conversation and returns the first choice's text.
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrMalformedResponse is returned when a 2xx response does not carry the
// first choice's message content.
var ErrMalformedResponse = errors.New("llm: malformed completion response")

// StatusError is returned for any non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	// Message is the provider's error message when the body carries one,
	// otherwise a truncated copy of the body.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("llm: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", e.StatusCode, e.Message)
}
