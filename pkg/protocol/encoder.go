package protocol

import (
	"fmt"
	"math"
)

// NewRecord builds a record whose generic header matches frame.
func NewRecord(channelID uint16, timestamp float64, frame Frame) Record {
	return Record{
		Generic: GenericChannelHeader{
			ChannelID:   channelID,
			ChannelType: frame.ChannelType(),
			DataCount:   uint32(frame.EntryCount()),
			Timestamp:   timestamp,
		},
		Frame: frame,
	}
}

// AppendRecord encodes rec onto dst. The generic header's channel type and
// data count are taken from the frame.
func AppendRecord(dst []byte, rec Record) ([]byte, error) {
	if rec.Frame == nil {
		return dst, fmt.Errorf("protocol: record on channel %d has no frame", rec.Generic.ChannelID)
	}
	if err := validateFrame(rec.Frame); err != nil {
		return dst, fmt.Errorf("channel %d: %w", rec.Generic.ChannelID, err)
	}
	g := rec.Generic
	g.ChannelType = rec.Frame.ChannelType()
	g.DataCount = uint32(rec.Frame.EntryCount())
	dst = appendGenericHeader(dst, g)
	return rec.Frame.appendTo(dst), nil
}

// EncodePayload concatenates records into one type 0 payload.
func EncodePayload(records []Record) ([]byte, error) {
	size := 0
	for _, rec := range records {
		size += rec.BinarySize()
	}
	out := make([]byte, 0, size)
	for _, rec := range records {
		var err error
		out, err = AppendRecord(out, rec)
		if err != nil {
			return nil, err
		}
	}
	if uint64(len(out)) > math.MaxUint32 {
		return nil, fmt.Errorf("protocol: payload too large: %d", len(out))
	}
	return out, nil
}

func validateFrame(f Frame) error {
	if uint64(f.EntryCount()) > math.MaxUint32 {
		return fmt.Errorf("protocol: %s frame has too many entries: %d", f.ChannelType(), f.EntryCount())
	}
	canfd, ok := f.(*CanFdFrame)
	if !ok {
		return nil
	}
	for i, m := range canfd.Messages {
		n, err := DLCToLength(m.DLC)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if len(m.Data) > n {
			return fmt.Errorf("protocol: message %d carries %d bytes, dlc %d allows %d", i, len(m.Data), m.DLC, n)
		}
	}
	return nil
}
