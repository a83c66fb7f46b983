package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrDesync means the byte cursor lost alignment with frame boundaries.
	// The stream carries no resync marker, so the connection must be dropped.
	ErrDesync                 = errors.New("protocol: payload desync")
	ErrUnsupportedChannelType = errors.New("protocol: unsupported channel type")
	ErrBufferGrowth           = errors.New("protocol: frame buffer growth failed")
	ErrInvalidHeaderLen       = errors.New("protocol: invalid packet header length")

	// ErrInvalidDLC breaks the message length computation, so it is a desync.
	ErrInvalidDLC = fmt.Errorf("%w: invalid CAN FD data length code", ErrDesync)
)

// desyncf reports a frame whose computed size does not fit the bytes left.
func desyncf(t ChannelType, channelID uint16, need uint64, remaining int) error {
	return fmt.Errorf("%w: %s frame on channel %d needs %d bytes, %d remaining", ErrDesync, t, channelID, need, remaining)
}
