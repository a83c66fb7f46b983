package protocol_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qstream/pkg/protocol"
)

func genericHeaderBytes(channelID uint16, channelType protocol.ChannelType, count uint32, ts float64) []byte {
	b := make([]byte, 0, protocol.GenericChannelHeaderSize)
	b = binary.LittleEndian.AppendUint16(b, channelID)
	b = binary.LittleEndian.AppendUint16(b, uint16(channelType))
	b = binary.LittleEndian.AppendUint32(b, count)
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(ts))
}

func analogFrameBytes(channelID uint16, samples []float32) []byte {
	b := genericHeaderBytes(channelID, protocol.ChannelAnalog, uint32(len(samples)), 1.5)
	b = binary.LittleEndian.AppendUint32(b, 1)
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(-10))
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(10))
	for _, s := range samples {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(s))
	}
	return b
}

func tachoFrameBytes(channelID uint16, events []float64) []byte {
	b := genericHeaderBytes(channelID, protocol.ChannelTacho, uint32(len(events)), 2.0)
	for _, e := range events {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(e))
	}
	return b
}

func TestDecodePayloadSingleAnalogFrame(t *testing.T) {
	samples := []float32{0.5, 1, 1.5, -2, 0, 0.25}
	payload := analogFrameBytes(3, samples)
	require.Len(t, payload, 52)

	records, err := protocol.DecodePayload(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, protocol.ChannelAnalog, rec.ChannelType())
	assert.Equal(t, uint16(3), rec.Generic.ChannelID)
	assert.Equal(t, 1.5, rec.Generic.Timestamp)
	assert.Equal(t, 52, rec.BinarySize())

	analog, ok := rec.Frame.(*protocol.AnalogFrame)
	require.True(t, ok, "unexpected frame type %T", rec.Frame)
	assert.True(t, analog.Header.Intact())
	assert.Equal(t, float32(-10), analog.Header.Min)
	assert.Equal(t, float32(10), analog.Header.Max)
	assert.Equal(t, samples, analog.Samples)

	top, ok := analog.MaxSample()
	require.True(t, ok)
	assert.Equal(t, float32(1.5), top)
}

func TestDecodePayloadOneByteShortIsDesync(t *testing.T) {
	payload := analogFrameBytes(3, []float32{0.5, 1, 1.5, -2, 0, 0.25})
	_, err := protocol.DecodePayload(payload[:51])
	require.ErrorIs(t, err, protocol.ErrDesync)
}

func TestDecodePayloadShorterThanGenericHeader(t *testing.T) {
	full := genericHeaderBytes(1, protocol.ChannelTacho, 0, 0)
	for n := 1; n < protocol.GenericChannelHeaderSize; n++ {
		_, err := protocol.DecodePayload(full[:n])
		require.ErrorIs(t, err, protocol.ErrDesync, "payload size %d", n)
	}
}

func TestDecodePayloadTrailingBytesAreDesync(t *testing.T) {
	payload := tachoFrameBytes(1, []float64{0.1})
	payload = append(payload, 0xAA, 0xBB)
	_, err := protocol.DecodePayload(payload)
	require.ErrorIs(t, err, protocol.ErrDesync)
}

func TestDecodePayloadTachoFrame(t *testing.T) {
	events := []float64{0.001, 0.002, 0.004, 0.008, 0.016}
	payload := tachoFrameBytes(7, events)
	require.Len(t, payload, protocol.GenericChannelHeaderSize+len(events)*8)

	records, err := protocol.DecodePayload(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)

	tacho, ok := records[0].Frame.(*protocol.TachoFrame)
	require.True(t, ok)
	assert.Equal(t, events, tacho.Timestamps)
	assert.Equal(t, len(payload), records[0].BinarySize())
}

func TestDecodePayloadTriggeredScopeIsUnsupported(t *testing.T) {
	// Body deliberately absent: the decoder must fail on the type alone.
	payload := genericHeaderBytes(9, protocol.ChannelTriggeredScope, 1000, 0)

	_, err := protocol.DecodePayload(payload)
	require.ErrorIs(t, err, protocol.ErrUnsupportedChannelType)
	assert.NotErrorIs(t, err, protocol.ErrDesync)
}

func TestDecodePayloadUnsupportedTypes(t *testing.T) {
	for _, ct := range []protocol.ChannelType{
		protocol.ChannelUnsupported,
		protocol.ChannelTriggeredData,
		protocol.ChannelTriggeredScope,
		protocol.ChannelType(42),
	} {
		payload := genericHeaderBytes(1, ct, 0, 0)
		_, err := protocol.DecodePayload(payload)
		require.ErrorIs(t, err, protocol.ErrUnsupportedChannelType, ct.String())
	}
}

func TestDecodePayloadNamesUnknownChannelType(t *testing.T) {
	_, err := protocol.DecodePayload(genericHeaderBytes(4, protocol.ChannelType(42), 0, 0))
	require.ErrorIs(t, err, protocol.ErrUnsupportedChannelType)
	assert.Contains(t, err.Error(), "unknown value 42 on channel 4")

	_, err = protocol.DecodePayload(genericHeaderBytes(4, protocol.ChannelTriggeredData, 0, 0))
	require.ErrorIs(t, err, protocol.ErrUnsupportedChannelType)
	assert.NotContains(t, err.Error(), "unknown value")
}

func TestDecodePayloadEmpty(t *testing.T) {
	records, err := protocol.DecodePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecodePayloadIsIdempotent(t *testing.T) {
	var payload []byte
	payload = append(payload, analogFrameBytes(1, []float32{1, 2, 3})...)
	payload = append(payload, tachoFrameBytes(2, []float64{0.5, 0.75})...)
	payload = append(payload, analogFrameBytes(3, nil)...)

	first, err := protocol.DecodePayload(payload)
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := protocol.DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, protocol.ChannelAnalog, first[0].ChannelType())
	assert.Equal(t, protocol.ChannelTacho, first[1].ChannelType())
	assert.Equal(t, protocol.ChannelAnalog, first[2].ChannelType())
}

func TestDecodePayloadInvalidDLC(t *testing.T) {
	payload := genericHeaderBytes(4, protocol.ChannelCanFd, 1, 0)
	payload = append(payload, make([]byte, protocol.CanFdChannelHeaderSize)...)
	msg := make([]byte, protocol.CanFdMessageHeaderSize)
	msg[13] = 16
	payload = append(payload, msg...)

	_, err := protocol.DecodePayload(payload)
	require.ErrorIs(t, err, protocol.ErrInvalidDLC)
	require.ErrorIs(t, err, protocol.ErrDesync)
}

func TestDecodePayloadCanFdCountOverrun(t *testing.T) {
	payload := genericHeaderBytes(4, protocol.ChannelCanFd, 3, 0)
	payload = append(payload, make([]byte, protocol.CanFdChannelHeaderSize+protocol.CanFdMessageHeaderSize)...)

	_, err := protocol.DecodePayload(payload)
	require.ErrorIs(t, err, protocol.ErrDesync)
}

func TestDecoderReusesRecordSlice(t *testing.T) {
	var d protocol.Decoder
	payload := tachoFrameBytes(1, []float64{1})

	first, err := d.Decode(payload)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := d.Decode(append(append([]byte(nil), payload...), payload...))
	require.NoError(t, err)
	require.Len(t, second, 2)

	_, err = d.Decode(payload[:4])
	require.ErrorIs(t, err, protocol.ErrDesync)
}
