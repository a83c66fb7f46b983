package protocol

import "fmt"

// DefaultMaxPayload bounds frame buffer growth.
const DefaultMaxPayload = 64 * 1024 * 1024

// FrameBuffer stages one payload at a time. It grows to the largest payload
// seen and never shrinks, so steady-state streaming does not allocate.
type FrameBuffer struct {
	buf     []byte
	maxSize int
}

func NewFrameBuffer(maxSize int) *FrameBuffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxPayload
	}
	return &FrameBuffer{maxSize: maxSize}
}

// Ensure returns a slice of length n backed by the buffer, reallocating to
// exactly n when the current capacity is smaller.
func (fb *FrameBuffer) Ensure(n int) ([]byte, error) {
	if n < 0 || n > fb.maxSize {
		return nil, fmt.Errorf("%w: requested %d bytes, limit %d", ErrBufferGrowth, n, fb.maxSize)
	}
	if cap(fb.buf) < n {
		grown, err := allocate(n)
		if err != nil {
			return nil, err
		}
		fb.buf = grown
	}
	return fb.buf[:n], nil
}

func (fb *FrameBuffer) Cap() int {
	return cap(fb.buf)
}

func (fb *FrameBuffer) MaxSize() int {
	return fb.maxSize
}

func allocate(n int) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = fmt.Errorf("%w: allocate %d bytes: %v", ErrBufferGrowth, n, r)
		}
	}()
	return make([]byte, n), nil
}
