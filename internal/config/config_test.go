package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
watch:
  wait_ms: 250
retry:
  retries: 3
  factor: 2
  min_timeout_ms: 100
  max_timeout_ms: 2000
logging:
  level: debug
  format: json
metrics:
  enabled: true
task:
  initial_run: false
  command: echo
  args: ["hello"]
items:
  - name: one
    data: {path: "/tmp/one"}
  - name: two
`

func TestParseAppliesDefaultsOnlyWhenUnset(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.DebounceWait())
	assert.Equal(t, 3, cfg.Retry.Retries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.False(t, cfg.Task.InitialRunOrDefault())
	assert.True(t, cfg.Task.InterruptibleOrDefault())
	require.Len(t, cfg.Items, 2)
}

func TestParseMinimalDocumentGetsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("items: []\n"))
	require.NoError(t, err)

	assert.Equal(t, 300*time.Millisecond, cfg.DebounceWait())
	assert.Equal(t, 2.0, cfg.Retry.Factor)
	assert.Equal(t, 1000, cfg.Retry.MinTimeout)
	assert.Equal(t, 30000, cfg.Retry.MaxTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Task.InitialRunOrDefault())
}

func TestParseProcessDataDerivesOneEntryPerItem(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	data := ParseProcessData(cfg)
	require.Len(t, data, 2)

	item, ok := data[0].(Item)
	require.True(t, ok)
	assert.Equal(t, "one", item.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/eirenewatch.yaml")
	assert.Error(t, err)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("items: [this is: not valid"))
	assert.Error(t, err)
}
