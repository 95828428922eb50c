package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"rumcapture/internal/config"
)

func TestConfigCommandMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rum.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rum:\n  sample_rate: 0.25\n  max_events_per_session: 50\n"), 0o644))
	t.Setenv("RUM_RUM__MAX_EVENTS_PER_SESSION", "75")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "--config", path})
	t.Cleanup(func() { configPath = "" })
	require.NoError(t, rootCmd.Execute())

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, 0.25, cfg.RUM.SampleRate)
	assert.Equal(t, 75, cfg.RUM.MaxEventsPerSession)
	assert.True(t, cfg.RUM.CaptureClicks)
	assert.Equal(t, 1000, cfg.RUM.Thresholds.RageClickWindowMS)
}
