package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qstream/pkg/config"
	"qstream/pkg/protocol"
)

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "Commands:")

	stdout.Reset()
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"bogus"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown command: bogus")
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qstream.toml")
	var stdout, stderr bytes.Buffer

	require.Equal(t, 0, run([]string{"init", "--config", path}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), path)
	assert.Equal(t, 1, run([]string{"init", "--config", path}, &stdout, &stderr))
	assert.Equal(t, 0, run([]string{"init", "--config", path, "--force"}, &stdout, &stderr))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Stream.Addr, cfg.Stream.Addr)
}

func TestStreamFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qstream.toml")
	data := "[stream]\naddr = \"10.1.1.1:1234\"\nreport_interval = \"2s\"\n\n[http]\naddr = \"127.0.0.1:9100\"\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, f, err := loadStreamConfig([]string{
		"--config", path,
		"--addr", "10.2.2.2:1234",
		"--reconnect",
		"--duration", "5s",
	}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "10.2.2.2:1234", cfg.Stream.Addr)
	assert.Equal(t, 2*time.Second, cfg.Stream.ReportIntervalDuration())
	assert.True(t, cfg.Stream.Reconnect)
	assert.Equal(t, "127.0.0.1:9100", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, f.duration)

	cfg, _, err = loadStreamConfig([]string{"--config", path, "--report", "100ms"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.ReportIntervalDuration())
}

func TestStreamRejectsBadFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	_, _, err := loadStreamConfig([]string{"--config", path, "--log-format", "xml"}, io.Discard)
	assert.Error(t, err)

	var stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"stream", "--nope"}, io.Discard, &stderr))
}

func TestServeAgainstMock(t *testing.T) {
	addr := startMock(t, 200)
	out := filepath.Join(t.TempDir(), "summaries.jsonl")

	cfg := config.Default()
	cfg.Stream.Addr = addr
	cfg.Stream.ReportInterval = "50ms"
	cfg.Output.JSONL = out

	err := serve(context.Background(), cfg, &streamFlags{duration: 400 * time.Millisecond}, io.Discard, zerolog.Nop())
	require.NoError(t, err)

	file, err := os.Open(out)
	require.NoError(t, err)
	defer file.Close()

	lines, packets := 0, 0.0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		packets += rec["packets"].(float64)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.GreaterOrEqual(t, lines, 2)
	assert.Positive(t, packets)
}

func TestServeDialFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Stream.Addr = "127.0.0.1:1"
	cfg.Stream.DialTimeout = "200ms"

	err := serve(context.Background(), cfg, &streamFlags{}, io.Discard, zerolog.Nop())
	assert.Error(t, err)
}

// startOnePacketDevice accepts one connection, sends a single tacho packet
// and hangs up.
func startOnePacketDevice(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	payload, err := protocol.EncodePayload([]protocol.Record{
		protocol.NewRecord(3, 1.5, &protocol.TachoFrame{Timestamps: []float64{1.25, 1.75}}),
	})
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = protocol.EncodePacket(conn, protocol.PayloadTypeChannelData, 1.5, payload)
	}()
	return ln.Addr().String()
}

func TestServeWritesFinalSummaryWhenDeviceHangsUp(t *testing.T) {
	for i := 0; i < 20; i++ {
		out := filepath.Join(t.TempDir(), "summaries.jsonl")
		cfg := config.Default()
		cfg.Stream.Addr = startOnePacketDevice(t)
		cfg.Stream.ReportInterval = "1h"
		cfg.Output.JSONL = out

		require.NoError(t, serve(context.Background(), cfg, &streamFlags{}, io.Discard, zerolog.Nop()))

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
		require.Len(t, lines, 1, "run %d", i)

		var rec map[string]any
		require.NoError(t, json.Unmarshal(lines[0], &rec))
		assert.EqualValues(t, 1, rec["packets"])
		tacho := rec["channels"].(map[string]any)["tacho"].(map[string]any)
		assert.EqualValues(t, 2, tacho["entries"])
	}
}
