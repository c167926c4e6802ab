package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/relay/internal/database"
	"github.com/nfrund/relay/internal/events"
)

func TestEnsureUser_CreatesThenReuses(t *testing.T) {
	store, err := database.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	defer store.Close(context.Background())
	ctx := context.Background()

	u, err := ensureUser(ctx, store, "alice=Alice Liddell")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.ID)
	assert.Equal(t, "Alice Liddell", u.Name)

	again, err := ensureUser(ctx, store, "alice=Someone Else")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.ID)
	assert.Equal(t, "Alice Liddell", again.Name)

	_, err = ensureUser(ctx, store, "=Nobody")
	assert.Error(t, err)
}

func TestEventPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &eventPrinter{w: &buf}

	p.NewMessage(events.NewMessage{ChatID: "c1", Message: events.Message{Sender: "bob", Content: "hi"}})
	p.UserStatusChange(events.UserStatusChange{UserID: "bob", Status: "offline"})

	out := buf.String()
	assert.Contains(t, out, `new-message        chat=c1 from=bob "hi"`)
	assert.Contains(t, out, "user-status-change user=bob status=offline")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "relay-cli vdev\n", buf.String())
}
