package protocol

import (
	"encoding/binary"
	"math"
)

const (
	AnalogChannelHeaderSize = 12
	analogSampleSize        = 4
)

type AnalogChannelHeader struct {
	Integrity uint32  `json:"integrity"`
	Min       float32 `json:"min"`
	Max       float32 `json:"max"`
}

// Intact reports whether the device flagged the block as complete.
func (h AnalogChannelHeader) Intact() bool {
	return h.Integrity == 1
}

type AnalogFrame struct {
	Header  AnalogChannelHeader `json:"header"`
	Samples []float32           `json:"samples"`
}

func (f *AnalogFrame) ChannelType() ChannelType { return ChannelAnalog }

func (f *AnalogFrame) EntryCount() int { return len(f.Samples) }

func (f *AnalogFrame) BinarySize() int {
	return AnalogChannelHeaderSize + len(f.Samples)*analogSampleSize
}

// MaxSample returns the largest sample, or false for an empty block.
func (f *AnalogFrame) MaxSample() (float32, bool) {
	if len(f.Samples) == 0 {
		return 0, false
	}
	top := f.Samples[0]
	for _, s := range f.Samples[1:] {
		if s > top {
			top = s
		}
	}
	return top, true
}

func (f *AnalogFrame) appendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, f.Header.Integrity)
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f.Header.Min))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f.Header.Max))
	for _, s := range f.Samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

func decodeAnalog(g GenericChannelHeader, b []byte) (Frame, error) {
	need := uint64(AnalogChannelHeaderSize) + uint64(g.DataCount)*analogSampleSize
	if need > uint64(len(b)) {
		return nil, desyncf(ChannelAnalog, g.ChannelID, need, len(b))
	}
	f := &AnalogFrame{
		Header: AnalogChannelHeader{
			Integrity: binary.LittleEndian.Uint32(b[0:4]),
			Min:       math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
			Max:       math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
		},
		Samples: make([]float32, g.DataCount),
	}
	body := b[AnalogChannelHeaderSize:]
	for i := range f.Samples {
		off := i * analogSampleSize
		f.Samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[off : off+analogSampleSize]))
	}
	return f, nil
}
