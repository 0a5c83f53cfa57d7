package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithEventID(context.Background(), "evt-1")
	ctx = ContextWithJob(ctx, "activation")
	l := WithContext(ctx, logger)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "evt-1", entry[FieldEventID])
	assert.Equal(t, "activation", entry[FieldJob])
}

func TestWithContextWithoutFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	l := WithContext(context.Background(), logger)
	l.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, FieldEventID)
	assert.NotContains(t, entry, FieldJob)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "test"})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponent("router")
	l.Debug().Msg("x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "router", entry[FieldComponent])
	assert.Equal(t, "test", entry[FieldService])
}
