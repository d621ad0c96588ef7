// Package protocol defines the Model Context Protocol messages exchanged with clients.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the message type discriminant carried in the "type" field.
type Kind string

// Message kinds
const (
	KindInit          Kind = "init"
	KindQuery         Kind = "query"
	KindResponse      Kind = "response"
	KindError         Kind = "error"
	KindContextUpdate Kind = "context_update"
)

// Valid reports whether k is one of the five protocol kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindInit, KindQuery, KindResponse, KindError, KindContextUpdate:
		return true
	}
	return false
}

// Role identifies the author of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultModelID is used when a client initializes without supplying a context.
const DefaultModelID = "default-model"

// Status values carried by init and context_update replies.
const (
	StatusInitialized = "initialized"
	StatusUpdated     = "updated"
	StatusUnchanged   = "unchanged"
)

// HistoryEntry is one side of a conversational turn.
type HistoryEntry struct {
	Role      Role    `json:"role"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"` // seconds
}

// ModelContext is the per-connection conversational state.
type ModelContext struct {
	ModelID    string         `json:"model_id"`
	Parameters map[string]any `json:"parameters"`
	History    []HistoryEntry `json:"history"`
}

// NewDefaultContext returns the context used for an init without one.
func NewDefaultContext() *ModelContext {
	return &ModelContext{
		ModelID:    DefaultModelID,
		Parameters: map[string]any{},
		History:    []HistoryEntry{},
	}
}

// Clone returns a deep copy of the context.
func (c *ModelContext) Clone() *ModelContext {
	if c == nil {
		return nil
	}
	out := &ModelContext{ModelID: c.ModelID}
	if c.Parameters != nil {
		out.Parameters = make(map[string]any, len(c.Parameters))
		for k, v := range c.Parameters {
			out.Parameters[k] = cloneValue(v)
		}
	}
	if c.History != nil {
		out.History = make([]HistoryEntry, len(c.History))
		copy(out.History, c.History)
	}
	return out
}

// LastTimestamp returns the timestamp of the newest history entry, or zero.
func (c *ModelContext) LastTimestamp() float64 {
	if c == nil || len(c.History) == 0 {
		return 0
	}
	return c.History[len(c.History)-1].Timestamp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// QueryOptions are optional generation settings; nil fields use backend defaults.
type QueryOptions struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// QueryPayload is the payload of a query message.
type QueryPayload struct {
	Prompt  string        `json:"prompt"`
	Options *QueryOptions `json:"options,omitempty"`
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	Tokens         int     `json:"tokens"`
	ProcessingTime float64 `json:"processing_time"`
	Model          string  `json:"model"`
}

// ResponsePayload is the payload of a response message.
type ResponsePayload struct {
	Text     string            `json:"text"`
	Metadata *ResponseMetadata `json:"metadata"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details"`
}

// StatusPayload is the payload of init and context_update replies.
type StatusPayload struct {
	Status  string        `json:"status"`
	Context *ModelContext `json:"context,omitempty"`
}

// Message is the envelope of every frame on the wire.
type Message struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Context *ModelContext   `json:"context"`
}

// NewMessage builds a message, encoding payload as JSON.
func NewMessage(kind Kind, payload any, mc *ModelContext) (*Message, error) {
	msg := &Message{Type: kind, Context: mc}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// NewErrorMessage builds an error message from a protocol error.
func NewErrorMessage(e *Error) *Message {
	msg, err := NewMessage(KindError, e.Payload(), nil)
	if err != nil {
		// Details did not encode; keep the code and message.
		msg, _ = NewMessage(KindError, ErrorPayload{Code: e.Code, Message: e.Message, Details: err.Error()}, nil)
	}
	return msg
}

// Parse decodes a raw frame into a message. Only the envelope and the
// attached context are validated here; payloads are validated on access.
func Parse(raw []byte) (*Message, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, InvalidMessage(err)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, InvalidMessage(fmt.Errorf("message must be a JSON object"))
	}
	if err := envelopeSchema.Validate(obj); err != nil {
		return nil, InvalidMessage(err)
	}

	var env struct {
		Type    Kind            `json:"type"`
		Payload json.RawMessage `json:"payload"`
		Context *ModelContext   `json:"context"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, InvalidMessage(err)
	}

	msg := &Message{Type: env.Type, Context: env.Context}
	if p := bytes.TrimSpace(env.Payload); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, p); err != nil {
			return nil, InvalidMessage(err)
		}
		msg.Payload = buf.Bytes()
	}
	if msg.Context != nil {
		if msg.Context.Parameters == nil {
			msg.Context.Parameters = map[string]any{}
		}
		if msg.Context.History == nil {
			msg.Context.History = []HistoryEntry{}
		}
	}
	return msg, nil
}

// Serialize encodes a message for the wire. It is the inverse of Parse.
func Serialize(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}
	return data, nil
}

// QueryPayload validates and decodes the payload of a query message.
func (m *Message) QueryPayload() (*QueryPayload, error) {
	var p QueryPayload
	if err := m.decodePayload(querySchema, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ResponsePayload validates and decodes the payload of a response message.
func (m *Message) ResponsePayload() (*ResponsePayload, error) {
	var p ResponsePayload
	if err := m.decodePayload(responseSchema, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ErrorPayload validates and decodes the payload of an error message.
func (m *Message) ErrorPayload() (*ErrorPayload, error) {
	var p ErrorPayload
	if err := m.decodePayload(errorSchema, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// StatusPayload validates and decodes the payload of an init or context_update reply.
func (m *Message) StatusPayload() (*StatusPayload, error) {
	var p StatusPayload
	if err := m.decodePayload(statusSchema, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *Message) decodePayload(schema validator, v any) error {
	if len(m.Payload) == 0 {
		return InvalidMessage(fmt.Errorf("%s payload is required", m.Type))
	}
	var instance any
	if err := json.Unmarshal(m.Payload, &instance); err != nil {
		return InvalidMessage(err)
	}
	if err := schema.Validate(instance); err != nil {
		return InvalidMessage(fmt.Errorf("%s payload: %w", m.Type, err))
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return InvalidMessage(fmt.Errorf("%s payload: %w", m.Type, err))
	}
	return nil
}
