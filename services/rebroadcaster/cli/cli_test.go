package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/delegate-rebroadcast/services/rebroadcaster/config"
)

func TestWriteDefaultConfig(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "rebroadcaster.yaml")

	require.NoError(t, writeDefaultConfig(dest, defaultRebroadcasterYAML, false))
	require.Error(t, writeDefaultConfig(dest, defaultRebroadcasterYAML, false), "refuses to overwrite")
	require.NoError(t, writeDefaultConfig(dest, defaultRebroadcasterYAML, true))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, defaultRebroadcasterYAML, string(data))
}

func TestDefaultConfigIsValid(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(defaultRebroadcasterYAML)))

	cfg := config.Load(v)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "@every 5s", cfg.TickSchedule)
	assert.Equal(t, "delegate.tasks.broadcast", cfg.BroadcastTopic)
}

func TestBuildLogger_WritesToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rebroadcaster.log")
	logger := buildLogger("debug", file, "rebroadcaster")
	logger.Debug("hello", "task_id", "t1")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"rebroadcaster"`)
	assert.Contains(t, string(data), `"task_id":"t1"`)
}
