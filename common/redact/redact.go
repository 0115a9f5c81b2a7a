// Package redact strips credentials from text before it is logged or echoed
// back into a chat channel.
//
// Completion endpoints sometimes reflect the request (including the bearer
// token) in their error bodies, and those bodies end up in user-visible error
// notices. Every such string goes through String first.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Error returns err's message with the sensitive values removed. A nil error
// yields "".
func Error(err error, sensitiveValues ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), sensitiveValues...)
}
