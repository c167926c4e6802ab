package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJoinChatIsBareString(t *testing.T) {
	frame, err := Encode(JoinChat{ChatID: "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"join-chat","data":"c1"}`, string(frame))
}

func TestEncodeNewMessageShape(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	frame, err := Encode(NewMessage{
		ChatID: "c1",
		Message: Message{
			ID: "m1", Content: "hi", Sender: "u1", ChatID: "c1", CreatedAt: at,
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "new-message",
		"data": {
			"chatId": "c1",
			"message": {"id":"m1","content":"hi","sender":"u1","chatId":"c1","createdAt":"2024-05-01T12:00:00Z"}
		}
	}`, string(frame))
}

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{"join string", `{"event":"join-chat","data":"c1"}`, JoinChat{ChatID: "c1"}},
		{"join object", `{"event":"join-chat","data":{"chatId":"c2"}}`, JoinChat{ChatID: "c2"}},
		{"leave", `{"event":"leave-chat","data":"c1"}`, LeaveChat{ChatID: "c1"}},
		{"typing", `{"event":"typing","data":{"chatId":"c1"}}`, Typing{ChatID: "c1"}},
		{"stop typing", `{"event":"stop-typing","data":{"chatId":"c1"}}`, StopTyping{ChatID: "c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Kind().Inbound())
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"event":"explode","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"event":"join-chat","data":""}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"event":"typing"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNotificationPassesPayloadThrough(t *testing.T) {
	frame, err := Encode(Notification{Payload: json.RawMessage(`{"type":"added","chatId":"c1"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"notification","data":{"type":"added","chatId":"c1"}}`, string(frame))

	got, err := Decode(frame)
	require.NoError(t, err)
	n, ok := got.(Notification)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"added","chatId":"c1"}`, string(n.Payload))
}

type recordingInbound struct {
	calls []string
}

func (r *recordingInbound) JoinChat(e JoinChat) error {
	r.calls = append(r.calls, "join:"+e.ChatID)
	return nil
}
func (r *recordingInbound) LeaveChat(e LeaveChat) error {
	r.calls = append(r.calls, "leave:"+e.ChatID)
	return nil
}
func (r *recordingInbound) Typing(e Typing) error {
	r.calls = append(r.calls, "typing:"+e.ChatID)
	return nil
}
func (r *recordingInbound) StopTyping(e StopTyping) error {
	r.calls = append(r.calls, "stop:"+e.ChatID)
	return nil
}

func TestDispatchInbound(t *testing.T) {
	h := &recordingInbound{}
	for _, e := range []Event{JoinChat{"a"}, Typing{"a"}, StopTyping{"a"}, LeaveChat{"a"}} {
		require.NoError(t, DispatchInbound(h, e))
	}
	assert.Equal(t, []string{"join:a", "typing:a", "stop:a", "leave:a"}, h.calls)

	err := DispatchInbound(h, UserStatusChange{UserID: "u", Status: "online"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}
