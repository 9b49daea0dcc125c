package protocol

import "encoding/json"

// Envelope is the wrapper wire shape {type, sender, payload, ts} newer
// backend versions emit. Payload is either an object carrying the flat
// message fields or a bare JSON string.
type Envelope struct {
	Type      Kind            `json:"type"`
	Sender    string          `json:"sender,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TS        float64         `json:"ts,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// Normalize converts a raw wire frame into the internal Message model.
//
// Binary frames are audio and bypass JSON decoding entirely; they come back
// as KindBinaryAudio with the payload in Message.Binary, for the caller to
// pair with the framing of the preceding audio_data header.
//
// Text frames are decoded as JSON and reduced to the flat shape:
//
//   - An enveloped message {type, sender, payload, ts} is projected via
//     payload.message, then payload.content, then a bare payload string into the flat
//     fields, so normalising an already-flat message is the identity.
//   - A relay message {sender, message} with no type is treated as
//     assistant/system chat.
//
// Malformed JSON is returned as a *DecodeError, never a panic.
func Normalize(raw []byte, binary bool) (Message, error) {
	if binary {
		return Message{Type: KindBinaryAudio, Binary: raw}, nil
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, &DecodeError{Op: "frame", Cause: err}
	}
	if len(env.Payload) > 0 {
		return normalizeEnvelope(env)
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, &DecodeError{Op: "frame", Cause: err}
	}

	// Relay shape: {sender, message} without a type is assistant/system chat.
	if msg.Type == "" {
		msg.Type = KindAssistant
	}
	fillDefaults(&msg)
	return msg, nil
}

// normalizeEnvelope projects an Envelope into the flat Message shape.
func normalizeEnvelope(env Envelope) (Message, error) {
	msg := Message{
		Type:   env.Type,
		Sender: env.Sender,
	}

	// Payload is either an object holding the flat fields or a bare string.
	var text string
	if err := json.Unmarshal(env.Payload, &text); err == nil {
		msg.Message = text
	} else {
		var inner Message
		if err := json.Unmarshal(env.Payload, &inner); err != nil {
			return Message{}, &DecodeError{Op: "envelope payload", Cause: err}
		}
		inner.Type = env.Type
		if inner.Sender == "" {
			inner.Sender = env.Sender
		}
		msg = inner
	}

	if msg.Type == "" {
		msg.Type = KindAssistant
	}
	fillDefaults(&msg)
	return msg, nil
}

// fillDefaults mirrors speaker/sender and message/content so downstream
// consumers can rely on all four being present.
func fillDefaults(msg *Message) {
	if msg.Speaker == "" {
		msg.Speaker = msg.Sender
	}
	if msg.Sender == "" {
		msg.Sender = msg.Speaker
	}
	if msg.Content == "" {
		msg.Content = msg.Message
	}
	if msg.Message == "" {
		msg.Message = msg.Content
	}
}
