// Package kya provides the core abstractions for the Know Your Animal chat client.
// This package defines the Streamer interface that chat transports implement and
// the message types that flow between the store, the controller and the transport.
package kya

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// FailureMessage is appended to the assistant reply when a turn cannot be completed.
const FailureMessage = "Sorry, I couldn't process your request. Please try again."

// ModelInfo represents information about a model offered by the upstream.
type ModelInfo struct {
	ID      string // Model identifier (e.g., "gemini-2.0-flash")
	OwnedBy string // Owner reported by the upstream, may be empty
}

// Streamer opens a streaming chat request.
//
// The returned body carries "data: " framed records and must be closed by the
// caller. Cancelling ctx aborts the transfer; subsequent reads on the body fail.
//
// Example usage:
//
//	body, err := client.Stream(ctx, messages)
//	if err != nil {
//		return err
//	}
//	defer body.Close()
//	dec := stream.NewDecoder(body)
type Streamer interface {
	Stream(ctx context.Context, messages []Message) (io.ReadCloser, error)
}

// ParseRole parses a role name as it appears on the wire.
//
// Example:
//
//	role, err := ParseRole(" Assistant ")
//	// role = RoleAssistant
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("invalid role: %q (expected user, assistant or system)", s)
	}
	return r, nil
}

// CountRole returns how many messages carry the given role.
func CountRole(messages []Message, role Role) int {
	n := 0
	for _, m := range messages {
		if m.Role == role {
			n++
		}
	}
	return n
}
