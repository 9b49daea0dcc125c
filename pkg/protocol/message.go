// Package protocol defines the message model exchanged with the voice
// orchestration backend and the decoder that normalises the two wire shapes
// (the legacy flat shape and the enveloped {type, sender, payload, ts} shape)
// into a single Message form.
//
// Downstream components (playback, turn tracking, barge-in) depend on
// exactly one shape; Normalize is the only place wire-format variance is
// handled.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind discriminates the normalised message union.
type Kind string

const (
	// KindUser is a final user speech transcript.
	KindUser Kind = "user"

	// KindSTTPartial is a streaming (non-final) user transcript.
	KindSTTPartial Kind = "stt_partial"

	// KindAssistantStreaming is a delta of streamed assistant text.
	KindAssistantStreaming Kind = "assistant_streaming"

	// KindAssistant is the final assistant text for a turn.
	KindAssistant Kind = "assistant"

	// KindStatus is a system status line, rendered like final assistant text.
	KindStatus Kind = "status"

	KindToolStart    Kind = "tool_start"
	KindToolProgress Kind = "tool_progress"
	KindToolEnd      Kind = "tool_end"

	// KindControl carries backend control actions such as tts_cancelled and
	// audio_stop.
	KindControl Kind = "control"

	// KindSessionEnd signals the backend ended the session. Reason
	// HumanHandoff is terminal and must suppress reconnection.
	KindSessionEnd Kind = "session_end"

	// KindLiveAgentTransfer is a terminal handoff to a human agent.
	KindLiveAgentTransfer Kind = "live_agent_transfer"

	// KindSessionProfile is an out-of-band profile payload consumed by the UI.
	KindSessionProfile Kind = "session_profile"

	// KindAudioData is a JSON-framed audio chunk with base64 payload.
	KindAudioData Kind = "audio_data"

	// KindBinaryAudio marks a raw binary frame that bypassed JSON decoding.
	// The frame metadata is carried by the preceding audio_data header.
	KindBinaryAudio Kind = "binary_audio"
)

// ReasonHumanHandoff is the session_end reason that terminally hands the
// conversation to a human. It disables all further reconnection.
const ReasonHumanHandoff = "HUMAN_HANDOFF"

// Control actions understood by the client.
const (
	ActionTTSCancelled = "tts_cancelled"
	ActionAudioStop    = "audio_stop"
)

// AudioFrameMeta is the transport-level framing attached to inbound audio:
// the frame's position in the utterance, the utterance length, the source
// sample rate, and the finality flag.
type AudioFrameMeta struct {
	FrameIndex  int    `json:"frame_index"`
	TotalFrames int    `json:"total_frames,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	IsFinal     bool   `json:"is_final,omitempty"`
	Data        string `json:"data,omitempty"` // base64 PCM16
}

// Final reports whether this is the terminal frame of its utterance: either
// the server marked it explicitly, or the index reaches the declared total.
func (m AudioFrameMeta) Final() bool {
	return m.IsFinal || (m.TotalFrames > 0 && m.FrameIndex+1 >= m.TotalFrames)
}

// PCM decodes the base64 audio payload. Returns nil for an empty payload.
func (m AudioFrameMeta) PCM() ([]byte, error) {
	if m.Data == "" {
		return nil, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return nil, &DecodeError{Op: "audio payload", Cause: err}
	}
	return pcm, nil
}

// Message is the legacy flat wire shape and the internal normalised model.
// Only the fields relevant to a given Kind are populated.
type Message struct {
	Type    Kind   `json:"type,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Speaker string `json:"speaker,omitempty"`
	Message string `json:"message,omitempty"`
	Content string `json:"content,omitempty"`

	// stt_partial
	Sequence int    `json:"sequence,omitempty"`
	Language string `json:"language,omitempty"`

	// tool_start / tool_progress / tool_end
	Tool       string          `json:"tool,omitempty"`
	Percent    float64         `json:"percent,omitempty"`
	ToolResult json.RawMessage `json:"result,omitempty"`
	ToolStatus string          `json:"status,omitempty"`

	// control
	Action string `json:"action,omitempty"`

	// session_end
	Reason string `json:"reason,omitempty"`

	// session_profile
	Profile json.RawMessage `json:"profile,omitempty"`

	// audio_data framing, inlined in the flat shape.
	AudioFrameMeta

	// Binary holds the raw PCM payload of a binary frame. Never part of the
	// JSON encoding.
	Binary []byte `json:"-"`
}

// Text returns the display text of the message, preferring Message over
// Content.
func (m Message) Text() string {
	if m.Message != "" {
		return m.Message
	}
	return m.Content
}

// DecodeError reports a malformed wire frame. The caller logs and discards
// the frame; decode failures never cross the engine boundary as panics.
type DecodeError struct {
	Op    string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %s: %v", e.Op, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }
