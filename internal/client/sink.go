package client

import (
	"encoding/json"

	"github.com/voxwire/voxwire/pkg/protocol"
	"github.com/voxwire/voxwire/pkg/transport"
)

// Sink receives the UI-bound side of the session: transcripts, tool events,
// profile payloads, and connection state. Implementations must not block;
// callbacks arrive on the network dispatch goroutine.
type Sink interface {
	// Transcript delivers user and assistant text, partial or final.
	Transcript(m protocol.Message)

	// ToolEvent delivers tool_start, tool_progress, and tool_end messages.
	ToolEvent(m protocol.Message)

	// Profile delivers the out-of-band session profile payload.
	Profile(p json.RawMessage)

	// ConnectionStatus reports transport state transitions.
	ConnectionStatus(s transport.Status)

	// SessionEnded reports that the backend terminated the session.
	SessionEnded(reason string)
}

// NopSink discards everything. Useful for headless runs and tests.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) Transcript(protocol.Message)       {}
func (NopSink) ToolEvent(protocol.Message)        {}
func (NopSink) Profile(json.RawMessage)           {}
func (NopSink) ConnectionStatus(transport.Status) {}
func (NopSink) SessionEnded(string)               {}
