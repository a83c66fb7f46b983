package protocol

import (
	"encoding/binary"
	"math"
)

const tachoEventSize = 8

// TachoFrame has no specific header; the body is a list of event timestamps.
type TachoFrame struct {
	Timestamps []float64 `json:"timestamps"`
}

func (f *TachoFrame) ChannelType() ChannelType { return ChannelTacho }

func (f *TachoFrame) EntryCount() int { return len(f.Timestamps) }

func (f *TachoFrame) BinarySize() int { return len(f.Timestamps) * tachoEventSize }

func (f *TachoFrame) appendTo(dst []byte) []byte {
	for _, ts := range f.Timestamps {
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(ts))
	}
	return dst
}

func decodeTacho(g GenericChannelHeader, b []byte) (Frame, error) {
	need := uint64(g.DataCount) * tachoEventSize
	if need > uint64(len(b)) {
		return nil, desyncf(ChannelTacho, g.ChannelID, need, len(b))
	}
	f := &TachoFrame{Timestamps: make([]float64, g.DataCount)}
	for i := range f.Timestamps {
		off := i * tachoEventSize
		f.Timestamps[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+tachoEventSize]))
	}
	return f, nil
}
