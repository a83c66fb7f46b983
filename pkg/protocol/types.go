// Package protocol decodes the device telemetry stream: the 32-byte packet
// envelope and the channel frames packed back to back inside its payload.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ChannelType selects the specific header and body shape of a frame.
type ChannelType uint16

const (
	ChannelUnsupported ChannelType = iota
	ChannelAnalog
	ChannelCanFd
	ChannelTacho
	ChannelGps
	ChannelTriggeredData
	ChannelTriggeredScope
)

// DecodableChannelTypes lists the types with a body-length rule, in report order.
var DecodableChannelTypes = []ChannelType{ChannelAnalog, ChannelCanFd, ChannelTacho, ChannelGps}

func (t ChannelType) String() string {
	switch t {
	case ChannelUnsupported:
		return "unsupported"
	case ChannelAnalog:
		return "analog"
	case ChannelCanFd:
		return "canfd"
	case ChannelTacho:
		return "tacho"
	case ChannelGps:
		return "gps"
	case ChannelTriggeredData:
		return "triggered_data"
	case ChannelTriggeredScope:
		return "triggered_scope"
	default:
		return fmt.Sprintf("channel_type(%d)", uint16(t))
	}
}

func (t ChannelType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

const GenericChannelHeaderSize = 16

// GenericChannelHeader prefixes every frame in a payload.
type GenericChannelHeader struct {
	ChannelID   uint16      `json:"channel_id"`
	ChannelType ChannelType `json:"channel_type"`
	DataCount   uint32      `json:"data_count"`
	Timestamp   float64     `json:"timestamp"`
}

func decodeGenericHeader(b []byte) GenericChannelHeader {
	return GenericChannelHeader{
		ChannelID:   binary.LittleEndian.Uint16(b[0:2]),
		ChannelType: ChannelType(binary.LittleEndian.Uint16(b[2:4])),
		DataCount:   binary.LittleEndian.Uint32(b[4:8]),
		Timestamp:   math.Float64frombits(binary.LittleEndian.Uint64(b[8:16])),
	}
}

func appendGenericHeader(dst []byte, h GenericChannelHeader) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, h.ChannelID)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(h.ChannelType))
	dst = binary.LittleEndian.AppendUint32(dst, h.DataCount)
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(h.Timestamp))
}

// Frame is the type-specific part of a channel frame. The set of
// implementations is closed: AnalogFrame, CanFdFrame, TachoFrame, GpsFrame.
type Frame interface {
	ChannelType() ChannelType
	// EntryCount is the body entry count carried in the generic header.
	EntryCount() int
	// BinarySize is the exact number of bytes the specific header and body
	// occupy on the wire.
	BinarySize() int
	appendTo(dst []byte) []byte
}

// Record is one decoded frame.
type Record struct {
	Generic GenericChannelHeader
	Frame   Frame
}

func (r Record) ChannelType() ChannelType {
	if r.Frame == nil {
		return r.Generic.ChannelType
	}
	return r.Frame.ChannelType()
}

// BinarySize is the full on-wire length of the frame, generic header included.
func (r Record) BinarySize() int {
	if r.Frame == nil {
		return GenericChannelHeaderSize
	}
	return GenericChannelHeaderSize + r.Frame.BinarySize()
}
