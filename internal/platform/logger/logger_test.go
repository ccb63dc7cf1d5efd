package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moderation/pkg/requestcontext"
)

func TestContextAttrsAreAdded(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info")

	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	ctx = requestcontext.WithActorID(ctx, "admin-7")
	log.InfoContext(ctx, "decision applied", "subject_id", "S101")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "admin-7", record["actor_id"])
	assert.Equal(t, "S101", record["subject_id"])
}

func TestExplicitRequestIDWins(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info")

	ctx := requestcontext.WithRequestID(context.Background(), "from-ctx")
	log.InfoContext(ctx, "msg", "request_id", "explicit")

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"request_id"`)))
	assert.Contains(t, buf.String(), `"request_id":"explicit"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn")

	log.Info("dropped")
	assert.Zero(t, buf.Len())
	log.Warn("kept")
	assert.NotZero(t, buf.Len())
}
