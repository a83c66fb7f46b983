package protocol

import (
	"encoding/binary"
	"math"
)

const GpsChannelHeaderSize = 16

type GpsChannelHeader struct {
	Timestamp        float64 `json:"timestamp"`
	AccuracyNs       uint32  `json:"accuracy_ns"`
	LeapSeconds      int16   `json:"leap_seconds"`
	LeapSecondsValid uint8   `json:"leap_seconds_valid"`
}

func (h GpsChannelHeader) IsLeapSecondsValid() bool {
	return h.LeapSecondsValid == 1
}

// GpsFrame carries the raw receiver output, typically NMEA sentences.
type GpsFrame struct {
	Header  GpsChannelHeader `json:"header"`
	Message []byte           `json:"message"`
}

func (f *GpsFrame) ChannelType() ChannelType { return ChannelGps }

func (f *GpsFrame) EntryCount() int { return len(f.Message) }

func (f *GpsFrame) BinarySize() int { return GpsChannelHeaderSize + len(f.Message) }

func (f *GpsFrame) Text() string { return string(f.Message) }

func (f *GpsFrame) appendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(f.Header.Timestamp))
	dst = binary.LittleEndian.AppendUint32(dst, f.Header.AccuracyNs)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(f.Header.LeapSeconds))
	dst = append(dst, f.Header.LeapSecondsValid, 0)
	return append(dst, f.Message...)
}

func decodeGps(g GenericChannelHeader, b []byte) (Frame, error) {
	need := uint64(GpsChannelHeaderSize) + uint64(g.DataCount)
	if need > uint64(len(b)) {
		return nil, desyncf(ChannelGps, g.ChannelID, need, len(b))
	}
	f := &GpsFrame{
		Header: GpsChannelHeader{
			Timestamp:        math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
			AccuracyNs:       binary.LittleEndian.Uint32(b[8:12]),
			LeapSeconds:      int16(binary.LittleEndian.Uint16(b[12:14])),
			LeapSecondsValid: b[14],
		},
	}
	// copied: b aliases the reused frame buffer
	f.Message = append([]byte(nil), b[GpsChannelHeaderSize:need]...)
	return f, nil
}
