package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"qstream/pkg/observability"
	"qstream/pkg/protocol"
)

const (
	mockAnalogAmplitude = 5.0
	mockAnalogFreqHz    = 0.5
	mockTachoRPM        = 1200.0
	mockStatusEvery     = 5
	mockGpsEvery        = 10
	mockStatusPayload   = 1
	mockCanBaseID       = 0x100
	mockCanFdLength     = 32
)

// mockDevice synthesizes channel data the way a streaming instrument
// would: analog blocks, CAN FD traffic, tacho events and GPS sentences,
// plus periodic non channel data payloads.
type mockDevice struct {
	analogChannels int
	samples        int
	rate           int
	seq            uint64
}

func newMockDevice(analogChannels, samples, rate int) *mockDevice {
	if analogChannels <= 0 {
		analogChannels = 4
	}
	if samples <= 0 {
		samples = 50
	}
	if rate <= 0 {
		rate = 100
	}
	return &mockDevice{analogChannels: analogChannels, samples: samples, rate: rate}
}

// records builds the frames of one channel data packet at device time t.
func (d *mockDevice) records(t float64) []protocol.Record {
	period := 1.0 / float64(d.rate)
	step := period / float64(d.samples)

	records := make([]protocol.Record, 0, d.analogChannels+3)
	for ch := 0; ch < d.analogChannels; ch++ {
		samples := make([]float32, d.samples)
		phase := float64(ch) * math.Pi / 4
		for i := range samples {
			ts := t + float64(i)*step
			samples[i] = float32(mockAnalogAmplitude * math.Sin(2*math.Pi*mockAnalogFreqHz*ts+phase))
		}
		records = append(records, protocol.NewRecord(uint16(ch+1), t, &protocol.AnalogFrame{
			Header:  protocol.AnalogChannelHeader{Integrity: 1, Min: -mockAnalogAmplitude, Max: mockAnalogAmplitude},
			Samples: samples,
		}))
	}

	canCh := uint16(d.analogChannels + 1)
	fdDLC, _ := protocol.LengthToDLC(mockCanFdLength)
	messages := []protocol.CanFdMessage{
		{Timestamp: t, Identifier: mockCanBaseID, DLC: 8, Data: counterBytes(d.seq, 8)},
		{
			Timestamp:  t + period/2,
			Identifier: mockCanBaseID + 1,
			Flags:      protocol.CanFlagFD | protocol.CanFlagBitRateSwitch,
			DLC:        fdDLC,
			Data:       counterBytes(d.seq, mockCanFdLength),
		},
	}
	records = append(records, protocol.NewRecord(canCh, t, &protocol.CanFdFrame{Messages: messages}))

	tachoCh := canCh + 1
	revPeriod := 60.0 / mockTachoRPM
	events := make([]float64, 0, 2)
	first := math.Ceil(t/revPeriod) * revPeriod
	for ev := first; ev < t+period; ev += revPeriod {
		events = append(events, ev)
	}
	records = append(records, protocol.NewRecord(tachoCh, t, &protocol.TachoFrame{Timestamps: events}))

	if d.seq%mockGpsEvery == 0 {
		records = append(records, protocol.NewRecord(tachoCh+1, t, &protocol.GpsFrame{
			Header: protocol.GpsChannelHeader{
				Timestamp:        t,
				AccuracyNs:       40,
				LeapSeconds:      18,
				LeapSecondsValid: 1,
			},
			Message: []byte(nmeaSentence(t)),
		}))
	}
	return records
}

// writePacket emits the next channel data packet, preceded every few
// packets by a status payload readers must skip.
func (d *mockDevice) writePacket(w io.Writer, t float64) error {
	defer func() { d.seq++ }()

	if d.seq%mockStatusEvery == 0 {
		status := counterBytes(d.seq, 24)
		if err := protocol.EncodePacket(w, mockStatusPayload, t, status); err != nil {
			return err
		}
	}
	payload, err := protocol.EncodePayload(d.records(t))
	if err != nil {
		return err
	}
	return protocol.EncodePacket(w, protocol.PayloadTypeChannelData, t, payload)
}

func counterBytes(seq uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(seq + uint64(i))
	}
	return out
}

func nmeaSentence(t float64) string {
	secs := int(t) % 86400
	body := fmt.Sprintf("GPGGA,%02d%02d%02d.00,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
		secs/3600, (secs/60)%60, secs%60)
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", body, sum)
}

// serveMock accepts connections on ln and streams synthetic packets to each
// until ctx is done or the peer goes away.
func serveMock(ctx context.Context, ln net.Listener, newDevice func() *mockDevice, log zerolog.Logger) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			remote := conn.RemoteAddr().String()
			log.Info().Str("remote", remote).Msg("mock client connected")
			if err := streamMock(ctx, conn, newDevice()); err != nil {
				log.Info().Err(err).Str("remote", remote).Msg("mock client gone")
			}
		}()
	}
}

func streamMock(ctx context.Context, conn net.Conn, dev *mockDevice) error {
	interval := time.Second / time.Duration(dev.rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now())
		case <-stop:
		}
	}()

	start := time.Now()
	for {
		if err := dev.writePacket(conn, time.Since(start).Seconds()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runMock(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("mock", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "127.0.0.1:1234", "listen address")
	rate := fs.Int("rate", 100, "channel data packets per second")
	analog := fs.Int("analog", 4, "analog channel count")
	samples := fs.Int("samples", 50, "samples per analog block")
	logLevel := fs.String("log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := observability.InitLogger("qstreamd-mock", observability.LogOptions{Level: *logLevel, Out: stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Error().Err(err).Str("addr", *addr).Msg("listen")
		return 1
	}
	log.Info().Str("addr", ln.Addr().String()).Int("rate", *rate).Msg("mock device listening")

	newDevice := func() *mockDevice { return newMockDevice(*analog, *samples, *rate) }
	if err := serveMock(ctx, ln, newDevice, log); err != nil {
		log.Error().Err(err).Msg("mock device stopped")
		return 1
	}
	return 0
}
