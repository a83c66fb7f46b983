package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qstream/pkg/engine"
	"qstream/pkg/protocol"
	"qstream/pkg/transport"
)

func TestMockDeviceRecords(t *testing.T) {
	dev := newMockDevice(3, 20, 100)
	records := dev.records(1.0)

	// seq 0 carries a GPS frame.
	require.Len(t, records, 3+3)
	for i := 0; i < 3; i++ {
		analog := records[i].Frame.(*protocol.AnalogFrame)
		assert.Len(t, analog.Samples, 20)
		assert.Equal(t, uint16(i+1), records[i].Generic.ChannelID)
	}
	assert.Equal(t, protocol.ChannelCanFd, records[3].ChannelType())
	assert.Equal(t, protocol.ChannelTacho, records[4].ChannelType())
	gps := records[5].Frame.(*protocol.GpsFrame)
	assert.True(t, strings.HasPrefix(gps.Text(), "$GPGGA,000001.00"))

	payload, err := protocol.EncodePayload(records)
	require.NoError(t, err)
	decoded, err := protocol.DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, records, decoded)
}

func TestMockDeviceWritesStatusPackets(t *testing.T) {
	dev := newMockDevice(1, 4, 100)
	var buf bytes.Buffer
	require.NoError(t, dev.writePacket(&buf, 0))

	header, err := protocol.DecodePacketHeader(buf.Bytes()[:protocol.PacketHeaderSize])
	require.NoError(t, err)
	assert.Equal(t, uint32(mockStatusPayload), header.PayloadType)
	assert.Equal(t, uint32(24), header.PayloadSize)

	next := buf.Bytes()[protocol.PacketHeaderSize+24:]
	header, err = protocol.DecodePacketHeader(next[:protocol.PacketHeaderSize])
	require.NoError(t, err)
	assert.Equal(t, protocol.PayloadTypeChannelData, header.PayloadType)
	assert.Len(t, next, protocol.PacketHeaderSize+int(header.PayloadSize))
}

func TestNMEASentenceChecksum(t *testing.T) {
	s := nmeaSentence(3723)
	assert.True(t, strings.HasPrefix(s, "$GPGGA,010203.00,"))
	assert.True(t, strings.HasSuffix(s, "\r\n"))

	star := strings.LastIndexByte(s, '*')
	require.Positive(t, star)
	var sum byte
	for i := 1; i < star; i++ {
		sum ^= s[i]
	}
	assert.Equal(t, strings.ToUpper(s[star+1:star+3]), hexByte(sum))
}

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}

func startMock(t *testing.T, rate int) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveMock(ctx, ln, func() *mockDevice { return newMockDevice(2, 16, rate) }, zerolog.Nop())
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return ln.Addr().String()
}

func TestMockServesDecodableStream(t *testing.T) {
	addr := startMock(t, 200)

	conn, err := transport.Dial(context.Background(), addr)
	require.NoError(t, err)

	var summaries []engine.Summary
	stream := engine.NewStream(conn,
		engine.WithReportInterval(50*time.Millisecond),
		engine.WithCancelCheck(engine.CancelAfter(400*time.Millisecond)),
		engine.WithSink(func(s engine.Summary) { summaries = append(summaries, s) }),
	)
	require.NoError(t, stream.Run(context.Background()))
	require.NotEmpty(t, summaries)

	packets, discarded := 0, 0
	seen := map[protocol.ChannelType]bool{}
	var gps []engine.GpsFix
	for _, s := range summaries {
		packets += s.Packets
		discarded += s.Discarded
		for ct := range s.Channels {
			seen[ct] = true
		}
		gps = append(gps, s.GpsFixes...)
	}
	assert.Positive(t, packets)
	assert.Positive(t, discarded)
	assert.True(t, seen[protocol.ChannelAnalog])
	assert.True(t, seen[protocol.ChannelCanFd])
	assert.True(t, seen[protocol.ChannelTacho])
	require.NotEmpty(t, gps)
	assert.True(t, gps[0].LeapSecondsValid)
	assert.True(t, strings.HasPrefix(gps[0].Message, "$GPGGA"))
}
