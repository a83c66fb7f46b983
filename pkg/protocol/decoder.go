package protocol

import "fmt"

// DecodePayload splits a type 0 payload into records. There is no per-frame
// length prefix: frame boundaries are rebuilt by subtracting each frame's
// exact size from the bytes remaining, so any inconsistency is fatal.
func DecodePayload(payload []byte) ([]Record, error) {
	return appendRecords(nil, payload)
}

// Decoder reuses its record slice between payloads. The returned records are
// valid until the next call to Decode.
type Decoder struct {
	records []Record
}

func (d *Decoder) Decode(payload []byte) ([]Record, error) {
	records, err := appendRecords(d.records[:0], payload)
	if err != nil {
		return nil, err
	}
	d.records = records
	return records, nil
}

func appendRecords(out []Record, payload []byte) ([]Record, error) {
	remaining := len(payload)
	offset := 0
	for remaining > 0 {
		if remaining < GenericChannelHeaderSize {
			return nil, fmt.Errorf("%w: %d bytes left at offset %d, generic header needs %d",
				ErrDesync, remaining, offset, GenericChannelHeaderSize)
		}
		generic := decodeGenericHeader(payload[offset : offset+GenericChannelHeaderSize])
		offset += GenericChannelHeaderSize
		remaining -= GenericChannelHeaderSize

		frame, err := decodeFrame(generic, payload[offset:])
		if err != nil {
			return nil, err
		}
		size := frame.BinarySize()
		if size > remaining {
			return nil, desyncf(generic.ChannelType, generic.ChannelID, uint64(size), remaining)
		}
		offset += size
		remaining -= size
		out = append(out, Record{Generic: generic, Frame: frame})
	}
	return out, nil
}

func decodeFrame(g GenericChannelHeader, b []byte) (Frame, error) {
	switch g.ChannelType {
	case ChannelAnalog:
		return decodeAnalog(g, b)
	case ChannelCanFd:
		return decodeCanFd(g, b)
	case ChannelTacho:
		return decodeTacho(g, b)
	case ChannelGps:
		return decodeGps(g, b)
	case ChannelTriggeredData, ChannelTriggeredScope, ChannelUnsupported:
		// No generic skip rule exists for these bodies.
		return nil, fmt.Errorf("%w: %s on channel %d", ErrUnsupportedChannelType, g.ChannelType, g.ChannelID)
	default:
		return nil, fmt.Errorf("%w: unknown value %d on channel %d", ErrUnsupportedChannelType, uint16(g.ChannelType), g.ChannelID)
	}
}
