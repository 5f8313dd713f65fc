package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	SetupTo(&buf, "WARN", "json")
	t.Cleanup(func() { Setup("info", "text") })

	log.Info("hidden")
	log.WithField("business_day", "2024-03-15").Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "2024-03-15", entry["business_day"])
	assert.Equal(t, log.WarnLevel, log.GetLevel())
}

func TestSetupInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	SetupTo(&buf, "loud", "text")
	t.Cleanup(func() { Setup("info", "text") })

	assert.Equal(t, log.InfoLevel, log.GetLevel())
	assert.Contains(t, buf.String(), "Invalid log level")
}
