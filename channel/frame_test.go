package channel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, NewFrame(2, 3, 7, []byte("verdict")), DefaultLimits()))
	assert.Equal(t, HeaderLen+len("verdict"), buf.Len())

	f, err := ReadFrame(&buf, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), f.Header.From)
	assert.Equal(t, uint32(3), f.Header.To)
	assert.Equal(t, Tag(7), f.Header.Tag)
	assert.Equal(t, []byte("verdict"), f.Payload)
}

func TestHeaderLayout(t *testing.T) {
	h := Header{Magic: Magic, Version: Version, Tag: 2, From: 1, To: 3, PayloadLen: 5, Checksum: 0x0102030405060708}
	raw := appendHeader(nil, h)
	require.Len(t, raw, HeaderLen)
	assert.Equal(t, []byte("SATF"), raw[:4])
	var fixed [HeaderLen]byte
	copy(fixed[:], raw)
	assert.Equal(t, h, decodeHeader(&fixed))
}

func TestFrameErrors(t *testing.T) {
	encode := func(f Frame) []byte {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, f, DefaultLimits()))
		return buf.Bytes()
	}

	t.Run("short header", func(t *testing.T) {
		raw := encode(NewFrame(0, 1, 1, nil))
		_, err := ReadFrame(bytes.NewReader(raw[:HeaderLen-1]), DefaultLimits())
		assert.Equal(t, ErrShortHeader, err)
	})
	t.Run("invalid magic", func(t *testing.T) {
		raw := encode(NewFrame(0, 1, 1, nil))
		raw[0] ^= 0xff
		_, err := ReadFrame(bytes.NewReader(raw), DefaultLimits())
		assert.Equal(t, ErrInvalidMagic, err)
	})
	t.Run("unsupported version", func(t *testing.T) {
		f := NewFrame(0, 1, 1, nil)
		f.Header.Version = 9
		_, err := ReadFrame(bytes.NewReader(encode(f)), DefaultLimits())
		assert.Equal(t, ErrUnsupportedVersion, err)
	})
	t.Run("payload too large", func(t *testing.T) {
		raw := encode(NewFrame(0, 1, 1, []byte{1, 2, 3}))
		_, err := ReadFrame(bytes.NewReader(raw), Limits{MaxPayloadBytes: 2})
		assert.Equal(t, ErrPayloadTooLarge, err)
		assert.Equal(t, ErrPayloadTooLarge, WriteFrame(&bytes.Buffer{}, NewFrame(0, 1, 1, []byte{1, 2, 3}), Limits{MaxPayloadBytes: 2}))
	})
	t.Run("corrupted payload", func(t *testing.T) {
		raw := encode(NewFrame(0, 1, 1, []byte{10, 0, 0}))
		raw[len(raw)-1] ^= 0x01
		f, err := ReadFrame(bytes.NewReader(raw), DefaultLimits())
		assert.Equal(t, ErrChecksum, err)
		assert.Equal(t, uint32(0), f.Header.From, "header of a corrupted frame is still usable")
	})
}
