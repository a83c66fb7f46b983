package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qstream/pkg/protocol"
)

func TestFrameBufferGrowsToExactSize(t *testing.T) {
	fb := protocol.NewFrameBuffer(1024)
	assert.Equal(t, 0, fb.Cap())

	b, err := fb.Ensure(100)
	require.NoError(t, err)
	assert.Len(t, b, 100)
	assert.Equal(t, 100, fb.Cap())

	b, err = fb.Ensure(300)
	require.NoError(t, err)
	assert.Len(t, b, 300)
	assert.Equal(t, 300, fb.Cap())
}

func TestFrameBufferNeverShrinks(t *testing.T) {
	fb := protocol.NewFrameBuffer(1024)
	first, err := fb.Ensure(512)
	require.NoError(t, err)

	for _, n := range []int{0, 1, 64, 511, 512} {
		b, err := fb.Ensure(n)
		require.NoError(t, err)
		assert.Len(t, b, n)
		assert.Equal(t, 512, fb.Cap())
	}

	// same backing array is reused
	again, err := fb.Ensure(10)
	require.NoError(t, err)
	again[0] = 0x5A
	assert.Equal(t, byte(0x5A), first[0])
}

func TestFrameBufferLimit(t *testing.T) {
	fb := protocol.NewFrameBuffer(64)
	_, err := fb.Ensure(65)
	require.ErrorIs(t, err, protocol.ErrBufferGrowth)

	_, err = fb.Ensure(-1)
	require.ErrorIs(t, err, protocol.ErrBufferGrowth)
	assert.Equal(t, 0, fb.Cap())
}

func TestFrameBufferDefaultLimit(t *testing.T) {
	fb := protocol.NewFrameBuffer(0)
	assert.Equal(t, protocol.DefaultMaxPayload, fb.MaxSize())
}
