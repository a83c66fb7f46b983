package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrDefaultMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, exists, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, path, cfg.ConfigPath())
	assert.Equal(t, "127.0.0.1:1234", cfg.Stream.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.ReportIntervalDuration())

	_, err = Load(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qstream.toml")
	data := `
[stream]
addr = " 10.0.0.5:1234 "
report_interval = "1s"
reconnect = true

[log]
level = "DEBUG"
format = "json"

[output]
jsonl = "out/summaries.jsonl"

[http]
addr = "127.0.0.1:9100"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:1234", cfg.Stream.Addr)
	assert.Equal(t, time.Second, cfg.Stream.ReportIntervalDuration())
	assert.Equal(t, time.Millisecond, cfg.Stream.IdleSleepDuration())
	assert.True(t, cfg.Stream.Reconnect)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, filepath.Join(dir, "out", "summaries.jsonl"), cfg.Output.JSONL)
	assert.Equal(t, "127.0.0.1:9100", cfg.HTTP.Addr)
	assert.Equal(t, "qstream/summary", cfg.Foxglove.Topic)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad duration":    "[stream]\nreport_interval = \"soon\"\n",
		"zero interval":   "[stream]\nreport_interval = \"0s\"\n",
		"negative":        "[stream]\nidle_sleep = \"-1ms\"\n",
		"bad log format":  "[log]\nformat = \"xml\"\n",
		"negative buffer": "[stream]\nmax_payload = -5\n",
		"malformed toml":  "[stream\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "qstream.toml")
			require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "qstream.toml")
	cfg := Default()
	cfg.Stream.Addr = "192.168.1.20:1234"
	cfg.Foxglove.Enabled = true
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Stream, loaded.Stream)
	assert.True(t, loaded.Foxglove.Enabled)
}
