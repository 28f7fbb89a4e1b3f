// Package protocol defines the wire vocabulary exchanged between the
// coordinator and attached page contexts.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type tags a wire message. Payload shape is fully determined by the tag.
type Type string

const (
	// TypeTriggerCheckRequest asks a page context to inspect its local
	// selection and, if non-empty, send a TRIGGER_CHECK back.
	TypeTriggerCheckRequest Type = "TRIGGER_CHECK_REQUEST"
	// TypeTriggerCheck carries the selected text the user wants checked.
	TypeTriggerCheck Type = "TRIGGER_CHECK"
	// TypeCheckAccepted confirms a session was created for the request.
	// It is the first message of every session and resets overlay state.
	TypeCheckAccepted Type = "CHECK_ACCEPTED"
	// TypeSourceUpdate upserts one evidence source, keyed by URL.
	TypeSourceUpdate Type = "SOURCE_UPDATE"
	// TypeStreamStart marks the beginning of verdict synthesis.
	TypeStreamStart Type = "STREAM_START"
	// TypeStreamChunk appends one unit of verdict text.
	TypeStreamChunk Type = "STREAM_CHUNK"
	// TypeStreamEnd marks the verdict as complete.
	TypeStreamEnd Type = "STREAM_END"
	// TypeError reports a failed session with a user-visible diagnostic.
	TypeError Type = "ERROR"
)

// SourceStatus is the lifecycle stage of one source's analysis.
type SourceStatus string

const (
	StatusAnalyzing SourceStatus = "analyzing"
	StatusSupports  SourceStatus = "supports"
	StatusDebunks   SourceStatus = "debunks"
	StatusNeutral   SourceStatus = "neutral"
)

// Terminal reports whether the status is one a source never leaves.
func (s SourceStatus) Terminal() bool {
	return s == StatusSupports || s == StatusDebunks || s == StatusNeutral
}

// SourceUpdate is one piece of evidence. Verdict and Quote are populated
// once Status leaves analyzing.
type SourceUpdate struct {
	URL     string       `json:"url"`
	Domain  string       `json:"domain"`
	Status  SourceStatus `json:"status"`
	Verdict string       `json:"verdict,omitempty"`
	Quote   string       `json:"quote,omitempty"`
}

// Message is the wire envelope. Exactly one tag per message; which of the
// optional fields is meaningful depends on the tag.
type Message struct {
	Type    Type          `json:"type"`
	Text    string        `json:"text,omitempty"`
	Chunk   string        `json:"chunk,omitempty"`
	Error   string        `json:"error,omitempty"`
	Payload *SourceUpdate `json:"payload,omitempty"`
}

// Recognized reports whether the tag is part of the vocabulary. Consumers
// must skip unrecognized messages rather than treat them as errors, so new
// tags can be introduced without breaking old contexts.
func (m Message) Recognized() bool {
	switch m.Type {
	case TypeTriggerCheckRequest, TypeTriggerCheck, TypeCheckAccepted,
		TypeSourceUpdate, TypeStreamStart, TypeStreamChunk, TypeStreamEnd,
		TypeError:
		return true
	}
	return false
}

// Decode parses a wire message. Malformed JSON is an error; an unknown tag
// is not — it decodes to a message with Recognized() == false.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// TriggerCheckRequest builds the selection-inspection request.
func TriggerCheckRequest() Message {
	return Message{Type: TypeTriggerCheckRequest}
}

// TriggerCheck builds a check request for the given claim text.
func TriggerCheck(text string) Message {
	return Message{Type: TypeTriggerCheck, Text: text}
}

// CheckAccepted builds the session confirmation message.
func CheckAccepted() Message {
	return Message{Type: TypeCheckAccepted}
}

// NewSourceUpdate wraps one source payload.
func NewSourceUpdate(payload SourceUpdate) Message {
	return Message{Type: TypeSourceUpdate, Payload: &payload}
}

// StreamStart builds the synthesis-start marker.
func StreamStart() Message {
	return Message{Type: TypeStreamStart}
}

// StreamChunk builds one verdict text unit.
func StreamChunk(chunk string) Message {
	return Message{Type: TypeStreamChunk, Chunk: chunk}
}

// StreamEnd builds the synthesis-complete marker.
func StreamEnd() Message {
	return Message{Type: TypeStreamEnd}
}

// NewError builds a user-visible failure message.
func NewError(text string) Message {
	return Message{Type: TypeError, Error: text}
}
