package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	CanFdChannelHeaderSize = 8
	CanFdMessageHeaderSize = 16
)

// CAN FD message flag bits.
const (
	CanFlagExtendedID    uint8 = 0x01
	CanFlagFD            uint8 = 0x02
	CanFlagBitRateSwitch uint8 = 0x04
	CanFlagErrorState    uint8 = 0x08
	CanFlagRemote        uint8 = 0x10
)

var dlcLengths = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DLCToLength maps a CAN FD data length code to a payload byte count.
func DLCToLength(dlc uint8) (int, error) {
	if int(dlc) >= len(dlcLengths) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDLC, dlc)
	}
	return dlcLengths[dlc], nil
}

// LengthToDLC returns the smallest DLC able to carry n bytes.
func LengthToDLC(n int) (uint8, error) {
	for dlc, l := range dlcLengths {
		if l >= n {
			return uint8(dlc), nil
		}
	}
	return 0, fmt.Errorf("protocol: CAN FD payload too long: %d", n)
}

type CanFdChannelHeader struct {
	Status   uint32 `json:"status"`
	RxErrors uint16 `json:"rx_errors"`
	TxErrors uint16 `json:"tx_errors"`
}

type CanFdMessage struct {
	Timestamp  float64 `json:"timestamp"`
	Identifier uint32  `json:"identifier"`
	Flags      uint8   `json:"flags"`
	DLC        uint8   `json:"dlc"`
	Data       []byte  `json:"data"`
}

func (m CanFdMessage) Extended() bool { return m.Flags&CanFlagExtendedID != 0 }

func (m CanFdMessage) FD() bool { return m.Flags&CanFlagFD != 0 }

// BinarySize is the on-wire message length derived from the DLC.
func (m CanFdMessage) BinarySize() (int, error) {
	n, err := DLCToLength(m.DLC)
	if err != nil {
		return 0, err
	}
	return CanFdMessageHeaderSize + n, nil
}

type CanFdFrame struct {
	Header   CanFdChannelHeader `json:"header"`
	Messages []CanFdMessage     `json:"messages"`
}

func (f *CanFdFrame) ChannelType() ChannelType { return ChannelCanFd }

func (f *CanFdFrame) EntryCount() int { return len(f.Messages) }

func (f *CanFdFrame) BinarySize() int {
	size := CanFdChannelHeaderSize
	for _, m := range f.Messages {
		n, _ := DLCToLength(m.DLC)
		size += CanFdMessageHeaderSize + n
	}
	return size
}

func (f *CanFdFrame) appendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, f.Header.Status)
	dst = binary.LittleEndian.AppendUint16(dst, f.Header.RxErrors)
	dst = binary.LittleEndian.AppendUint16(dst, f.Header.TxErrors)
	for _, m := range f.Messages {
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(m.Timestamp))
		dst = binary.LittleEndian.AppendUint32(dst, m.Identifier)
		dst = append(dst, m.Flags, m.DLC, 0, 0)
		n, _ := DLCToLength(m.DLC)
		data := make([]byte, n)
		copy(data, m.Data)
		dst = append(dst, data...)
	}
	return dst
}

func decodeCanFd(g GenericChannelHeader, b []byte) (Frame, error) {
	if len(b) < CanFdChannelHeaderSize {
		return nil, desyncf(ChannelCanFd, g.ChannelID, CanFdChannelHeaderSize, len(b))
	}
	f := &CanFdFrame{
		Header: CanFdChannelHeader{
			Status:   binary.LittleEndian.Uint32(b[0:4]),
			RxErrors: binary.LittleEndian.Uint16(b[4:6]),
			TxErrors: binary.LittleEndian.Uint16(b[6:8]),
		},
	}
	// Messages are variable length, so the count cannot be checked up front.
	if uint64(g.DataCount)*CanFdMessageHeaderSize > uint64(len(b)-CanFdChannelHeaderSize) {
		return nil, desyncf(ChannelCanFd, g.ChannelID, uint64(CanFdChannelHeaderSize)+uint64(g.DataCount)*CanFdMessageHeaderSize, len(b))
	}
	f.Messages = make([]CanFdMessage, 0, g.DataCount)
	off := CanFdChannelHeaderSize
	for i := uint32(0); i < g.DataCount; i++ {
		if len(b)-off < CanFdMessageHeaderSize {
			return nil, desyncf(ChannelCanFd, g.ChannelID, uint64(off+CanFdMessageHeaderSize), len(b))
		}
		m := CanFdMessage{
			Timestamp:  math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8])),
			Identifier: binary.LittleEndian.Uint32(b[off+8 : off+12]),
			Flags:      b[off+12],
			DLC:        b[off+13],
		}
		n, err := DLCToLength(m.DLC)
		if err != nil {
			return nil, fmt.Errorf("canfd channel %d message %d: %w", g.ChannelID, i, err)
		}
		off += CanFdMessageHeaderSize
		if len(b)-off < n {
			return nil, desyncf(ChannelCanFd, g.ChannelID, uint64(off+n), len(b))
		}
		m.Data = append([]byte(nil), b[off:off+n]...)
		off += n
		f.Messages = append(f.Messages, m)
	}
	return f, nil
}
