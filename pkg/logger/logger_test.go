package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "raw=%s", buf.String())
	return entry
}

func TestErrorCarriesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Environment: "prod", Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithAccountID(ctx, "acct-1")
	ctx = log.WithFields(ctx, map[string]any{"withdrawal_id": "wd-9", "amount_cents": 2000})
	log.Error(ctx, "transfer failed", errors.New("boom"))

	entry := decode(t, buf)
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "prod", entry["env"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "acct-1", entry["account_id"])
	assert.Equal(t, "wd-9", entry["withdrawal_id"])
	assert.EqualValues(t, 2000, entry["amount_cents"])
	assert.Equal(t, "boom", entry["error"])
	assert.Contains(t, entry, "stack")
}

func TestDerivedContextDoesNotLeakIntoParent(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	parent := log.WithField(context.Background(), "order_id", "o-1")
	_ = log.WithField(parent, "score", 5)
	log.Info(parent, "order rated")

	entry := decode(t, buf)
	assert.Equal(t, "o-1", entry["order_id"])
	assert.NotContains(t, entry, "score")
	assert.NotContains(t, entry, "env")
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{Output: buf, WarnStack: true}).Warn(context.Background(), "stalled")
	assert.Contains(t, buf.String(), `"stack"`)

	buf.Reset()
	New(Options{Output: buf}).Warn(context.Background(), "stalled")
	assert.NotContains(t, buf.String(), `"stack"`)
}

func TestLevelFiltersEntries(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Level: zerolog.WarnLevel, Output: buf})
	log.Info(context.Background(), "hidden")
	log.Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())
}

func TestConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "cron-worker", Format: " Console ", Output: buf}).Info(context.Background(), "job finished")
	assert.True(t, strings.Contains(buf.String(), "job finished"))
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
}
