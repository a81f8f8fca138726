// ABOUTME: Tests for the mcp-chat REPL command handling
// ABOUTME: Exercises local commands that do not need a server round trip

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/client"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/logging"
)

func newTestREPL(t *testing.T) (*repl, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true

	cl := client.New(nil, client.Config{Identity: "alice", Secret: "s", Logger: logging.Discard()})
	var out bytes.Buffer
	return &repl{client: cl, out: &out}, &out
}

func TestREPL_Quit(t *testing.T) {
	r, _ := newTestREPL(t)

	quit, err := r.handle(context.Background(), "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestREPL_Context(t *testing.T) {
	r, out := newTestREPL(t)

	_, err := r.handle(context.Background(), "/context topic = weather")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"topic": "weather"}, r.ctxValues)

	out.Reset()
	_, err = r.handle(context.Background(), "/context nokey")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "usage")
}

func TestREPL_HistoryEmpty(t *testing.T) {
	r, out := newTestREPL(t)

	_, err := r.handle(context.Background(), "/history")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "No messages yet.")
}

func TestREPL_UnknownCommand(t *testing.T) {
	r, out := newTestREPL(t)

	quit, err := r.handle(context.Background(), "/bogus arg")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "Unknown command /bogus")
}

func TestREPL_SendWithoutSession(t *testing.T) {
	r, _ := newTestREPL(t)

	_, err := r.handle(context.Background(), "hello")
	assert.ErrorIs(t, err, client.ErrNotConnected)
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "[a=1 b=two]", formatContext(map[string]any{"b": "two", "a": 1}))
}
