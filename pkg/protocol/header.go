package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	PacketHeaderSize = 32

	// PayloadTypeChannelData is the only payload kind carrying channel frames.
	PayloadTypeChannelData uint32 = 0
)

// PacketHeader is the fixed envelope in front of every payload.
type PacketHeader struct {
	PayloadType       uint32  `json:"payload_type"`
	PayloadSize       uint32  `json:"payload_size"`
	TransmitTimestamp float64 `json:"transmit_timestamp"`
}

// ExactReader is satisfied by octet sources that never return partial reads.
type ExactReader interface {
	ReadFull(p []byte) error
}

// ReadPacketHeader reads and decodes one envelope from r.
func ReadPacketHeader(r ExactReader) (PacketHeader, error) {
	var buf [PacketHeaderSize]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return PacketHeader{}, err
	}
	return DecodePacketHeader(buf[:])
}

func DecodePacketHeader(b []byte) (PacketHeader, error) {
	if len(b) != PacketHeaderSize {
		return PacketHeader{}, fmt.Errorf("%w: %d", ErrInvalidHeaderLen, len(b))
	}
	return PacketHeader{
		PayloadType:       binary.LittleEndian.Uint32(b[0:4]),
		PayloadSize:       binary.LittleEndian.Uint32(b[4:8]),
		TransmitTimestamp: math.Float64frombits(binary.LittleEndian.Uint64(b[8:16])),
	}, nil
}

// PayloadLen returns PayloadSize as an int. Sizes the platform int cannot
// hold are reported as ErrBufferGrowth.
func (h PacketHeader) PayloadLen() (int, error) {
	return payloadLen(uint64(h.PayloadSize), math.MaxInt)
}

func payloadLen(size, limit uint64) (int, error) {
	if size > limit {
		return 0, fmt.Errorf("%w: payload of %d bytes exceeds addressable size %d", ErrBufferGrowth, size, limit)
	}
	return int(size), nil
}

func EncodePacketHeader(h PacketHeader) []byte {
	buf := make([]byte, PacketHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.PayloadType)
	binary.LittleEndian.PutUint32(buf[4:8], h.PayloadSize)
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(h.TransmitTimestamp))
	return buf
}

// EncodePacket writes a header for payload followed by the payload itself.
func EncodePacket(w io.Writer, payloadType uint32, transmitTimestamp float64, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("protocol: payload too large: %d", len(payload))
	}
	h := PacketHeader{
		PayloadType:       payloadType,
		PayloadSize:       uint32(len(payload)),
		TransmitTimestamp: transmitTimestamp,
	}
	if _, err := w.Write(EncodePacketHeader(h)); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}
