package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestParseInitExample(t *testing.T) {
	raw := `{"type":"init","payload":{},"context":{"model_id":"example-model","parameters":{"temperature":0.7,"max_tokens":100},"history":[]}}`

	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, KindInit, msg.Type)
	require.NotNil(t, msg.Context)
	assert.Equal(t, "example-model", msg.Context.ModelID)
	assert.Equal(t, 0.7, msg.Context.Parameters["temperature"])
	assert.Equal(t, float64(100), msg.Context.Parameters["max_tokens"])
	assert.Empty(t, msg.Context.History)
}

func TestParseQueryExample(t *testing.T) {
	raw := `{"type":"query","payload":{"prompt":"What is the capital of France?","options":{"temperature":0.7,"max_tokens":50}},"context":null}`

	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, KindQuery, msg.Type)
	assert.Nil(t, msg.Context)

	q, err := msg.QueryPayload()
	require.NoError(t, err)
	assert.Equal(t, "What is the capital of France?", q.Prompt)
	require.NotNil(t, q.Options)
	assert.Equal(t, 0.7, *q.Options.Temperature)
	assert.Equal(t, 50, *q.Options.MaxTokens)
	assert.Nil(t, q.Options.StopSequences)
}

func TestParseNormalizesMissingContextFields(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"context_update","context":{"model_id":"m2"}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Context)
	assert.NotNil(t, msg.Context.Parameters)
	assert.NotNil(t, msg.Context.History)
	assert.Nil(t, msg.Payload)
}

func TestParseUnknownKindIsNotAnError(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"bogus","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, Kind("bogus"), msg.Type)
	assert.False(t, msg.Type.Valid())
}

func TestParseInvalidFrames(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"type":`,
		"not an object":     `["init"]`,
		"missing type":      `{"payload":{}}`,
		"type not a string": `{"type":7}`,
		"context without model_id": `{"type":"init","context":{"parameters":{}}}`,
		"bad history role":  `{"type":"init","context":{"model_id":"m","history":[{"role":"system","content":"x","timestamp":1}]}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, ErrorCodeInvalidMessage, perr.Code)
			assert.Equal(t, "Failed to process message", perr.Message)
			assert.NotEmpty(t, perr.Details)
		})
	}
}

func TestQueryPayloadValidation(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"empty prompt is legal", `{"type":"query","payload":{"prompt":""}}`, false},
		{"null options", `{"type":"query","payload":{"prompt":"hi","options":null}}`, false},
		{"stop sequences", `{"type":"query","payload":{"prompt":"hi","options":{"stop_sequences":["\n","END"]}}}`, false},
		{"missing payload", `{"type":"query"}`, true},
		{"missing prompt", `{"type":"query","payload":{}}`, true},
		{"prompt not a string", `{"type":"query","payload":{"prompt":42}}`, true},
		{"fractional max_tokens", `{"type":"query","payload":{"prompt":"hi","options":{"max_tokens":1.5}}}`, true},
		{"bad stop sequence", `{"type":"query","payload":{"prompt":"hi","options":{"stop_sequences":[1]}}}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Parse([]byte(tc.raw))
			require.NoError(t, err)

			_, err = msg.QueryPayload()
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			var perr *Error
			require.True(t, errors.As(err, &perr), "want protocol error, got %v", err)
			assert.Equal(t, ErrorCodeInvalidMessage, perr.Code)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	mc := &ModelContext{
		ModelID:    "m1",
		Parameters: map[string]any{"temperature": 0.2, "nested": map[string]any{"a": []any{"x", true}}},
		History: []HistoryEntry{
			{Role: RoleUser, Content: "hi", Timestamp: 10.5},
			{Role: RoleAssistant, Content: "hello", Timestamp: 10.75},
		},
	}

	query, err := NewMessage(KindQuery, QueryPayload{
		Prompt: "hi",
		Options: &QueryOptions{
			Temperature:   floatPtr(0.5),
			MaxTokens:     intPtr(20),
			StopSequences: []string{"END"},
		},
	}, nil)
	require.NoError(t, err)

	response, err := NewMessage(KindResponse, ResponsePayload{
		Text:     "hello",
		Metadata: &ResponseMetadata{Tokens: 10, ProcessingTime: 100, Model: "m1"},
	}, mc)
	require.NoError(t, err)

	initMsg, err := NewMessage(KindInit, StatusPayload{Status: StatusInitialized, Context: mc}, mc)
	require.NoError(t, err)

	noPayload := &Message{Type: KindContextUpdate, Context: mc}

	for _, m := range []*Message{
		query,
		response,
		initMsg,
		noPayload,
		NewErrorMessage(NoContext()),
		NewErrorMessage(InvalidMessage(errors.New("boom"))),
	} {
		t.Run(string(m.Type), func(t *testing.T) {
			data, err := Serialize(m)
			require.NoError(t, err)

			got, err := Parse(data)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestSerializeAbsentContextIsNull(t *testing.T) {
	data, err := Serialize(NewErrorMessage(NoContext()))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"error","payload":{"code":"NO_CONTEXT","message":"No active context found. Please initialize first.","details":null},"context":null}`,
		string(data))
}

func TestStatusAndErrorPayloads(t *testing.T) {
	msg, err := NewMessage(KindContextUpdate, StatusPayload{Status: StatusUpdated}, nil)
	require.NoError(t, err)
	st, err := msg.StatusPayload()
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, st.Status)
	assert.Nil(t, st.Context)

	em := NewErrorMessage(UnknownMessageType("bogus"))
	ep, err := em.ErrorPayload()
	require.NoError(t, err)
	assert.Equal(t, ErrorCodeUnknownMessageType, ep.Code)
	assert.Equal(t, "Unknown message type: bogus", ep.Message)
}

func TestCloneIsDeep(t *testing.T) {
	orig := &ModelContext{
		ModelID:    "m",
		Parameters: map[string]any{"list": []any{"a"}, "obj": map[string]any{"k": "v"}},
		History:    []HistoryEntry{{Role: RoleUser, Content: "q", Timestamp: 1}},
	}
	cp := orig.Clone()
	require.Equal(t, orig, cp)

	cp.Parameters["list"].([]any)[0] = "changed"
	cp.Parameters["obj"].(map[string]any)["k"] = "changed"
	cp.History[0].Content = "changed"
	cp.History = append(cp.History, HistoryEntry{Role: RoleAssistant})

	assert.Equal(t, "a", orig.Parameters["list"].([]any)[0])
	assert.Equal(t, "v", orig.Parameters["obj"].(map[string]any)["k"])
	assert.Equal(t, "q", orig.History[0].Content)
	assert.Len(t, orig.History, 1)
	assert.Nil(t, (*ModelContext)(nil).Clone())
}

func TestLastTimestamp(t *testing.T) {
	assert.Zero(t, NewDefaultContext().LastTimestamp())
	mc := &ModelContext{History: []HistoryEntry{{Timestamp: 1}, {Timestamp: 3}}}
	assert.Equal(t, float64(3), mc.LastTimestamp())
}
