// ABOUTME: Tests for logger construction and redaction
// ABOUTME: Verifies secrets never reach the output in either format

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), "level %q", name)
	}
}

func TestNew_JSONRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.With("auth_token", "abc.def.ghi").Info("issued",
		"identity", "alice",
		"secret", "hunter2",
		slog.Group("request", "Authorization", "Bearer xyz"),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "alice", entry["identity"])
	assert.Equal(t, RedactedValue, entry["secret"])
	assert.Equal(t, RedactedValue, entry["auth_token"])
	group, ok := entry["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, RedactedValue, group["Authorization"])
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestNew_TextHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("auth failure", "reason", "invalid_credential", "password", "pw")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN auth failure")
	assert.Contains(t, out, "reason=invalid_credential")
	assert.Contains(t, out, "password="+RedactedValue)
}

func TestColorHandler_Groups(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := slog.New(NewColorHandler(&buf, slog.LevelDebug)).WithGroup("session").With("id", "s1")

	logger.Debug("opened", "state", "unauthenticated")

	assert.Contains(t, buf.String(), "DBG opened")
	assert.Contains(t, buf.String(), "session.id=s1")
	assert.Contains(t, buf.String(), "session.state=unauthenticated")
}

func TestRedact_EmptyValueKept(t *testing.T) {
	a := Redact(slog.String("token", ""))
	assert.Equal(t, "", a.Value.String())
}
