package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	tlog "go.temporal.io/sdk/log"
)

var _ tlog.Logger = (*TemporalLogger)(nil)

func TestTemporalLoggerWritesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	l := NewTemporalLogger(NewLogger(&buf))
	l.Info("activity started", "ActivityType", "PreprocessActivity", "Attempt", 2, "dangling")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, "activity started", got["message"])
	require.Equal(t, "PreprocessActivity", got["ActivityType"])
	require.Equal(t, float64(2), got["Attempt"])
	require.Equal(t, "(MISSING)", got["dangling"])
}
