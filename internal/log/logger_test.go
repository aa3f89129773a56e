// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Configure wins exactly once per process, so every logging assertion shares
// the same captured writer.
var captured bytes.Buffer

func configureForTest() {
	Configure(Config{Level: "debug", Output: &captured, Service: "heliolapse", Version: "test"})
}

func lastEntry(t *testing.T) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(captured.Bytes(), &entry))
	return entry
}

func TestWithComponentFields(t *testing.T) {
	configureForTest()
	captured.Reset()

	logger := WithComponent("fetch")
	logger.Info().Msg("hello")

	entry := lastEntry(t)
	assert.Equal(t, "heliolapse", entry["service"])
	assert.Equal(t, "test", entry["version"])
	assert.Equal(t, "fetch", entry["component"])
	assert.Equal(t, "hello", entry["message"])
}

func TestRunIDContext(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "ab12cd34")
	assert.Equal(t, "ab12cd34", RunIDFromContext(ctx))
	assert.Equal(t, "", RunIDFromContext(context.Background()))
}

func TestWithComponentFromContext(t *testing.T) {
	configureForTest()
	captured.Reset()

	ctx := ContextWithRunID(context.Background(), "run-1")
	logger := WithComponentFromContext(ctx, "scheduler")
	logger.Info().Msg("tick")

	entry := lastEntry(t)
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "scheduler", entry["component"])
}

func TestFromContextWithoutRunID(t *testing.T) {
	configureForTest()
	captured.Reset()

	logger := FromContext(context.Background())
	logger.Info().Msg("plain")

	entry := lastEntry(t)
	_, hasRunID := entry["run_id"]
	assert.False(t, hasRunID)
}
