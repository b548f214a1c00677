package channel

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/cespare/xxhash/v2"
)

const (
	// Magic starts every frame ("SATF").
	Magic uint32 = 0x53415446
	// Version is the only frame version understood.
	Version uint16 = 1
	// HeaderLen is the size of the fixed frame header.
	HeaderLen = 28
)

// Frame errors. All but ErrChecksum leave the stream unusable.
var (
	// ErrShortHeader is returned when the stream ends in the middle of a header.
	ErrShortHeader = errors.New("channel: short frame header")
	// ErrInvalidMagic is returned when a header does not start with Magic.
	ErrInvalidMagic = errors.New("channel: invalid magic")
	// ErrUnsupportedVersion is returned for a header of another Version.
	ErrUnsupportedVersion = errors.New("channel: unsupported version")
	// ErrPayloadTooLarge is returned when a payload exceeds the Limits.
	ErrPayloadTooLarge = errors.New("channel: payload too large")
	// ErrChecksum is returned when a payload does not match the checksum of its header.
	ErrChecksum = errors.New("channel: payload checksum mismatch")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	Tag        Tag
	From       uint32
	To         uint32
	PayloadLen uint32
	Checksum   uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

// DefaultLimits allows models of up to 64M variables.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 64 * 1024 * 1024}
}

// NewFrame returns the frame carrying payload from one rank to another.
func NewFrame(from, to int, tag Tag, payload []byte) Frame {
	return Frame{
		Header: Header{
			Magic:   Magic,
			Version: Version,
			Tag:     tag,
			From:    uint32(from),
			To:      uint32(to),
		},
		Payload: payload,
	}
}

// ReadFrame reads one frame from r.
// An error on the header means the stream cannot be trusted anymore.
// ErrChecksum is returned along with the frame: its header is valid, only its payload is corrupted.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	h := decodeHeader(&fixed)
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Frame{}, ErrUnsupportedVersion
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	f := Frame{Header: h, Payload: payload}
	if xxhash.Sum64(payload) != h.Checksum {
		return f, ErrChecksum
	}
	return f, nil
}

// WriteFrame writes f to w, filling its length and checksum.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	h := f.Header
	h.PayloadLen = uint32(len(f.Payload))
	h.Checksum = xxhash.Sum64(f.Payload)
	buf := make([]byte, 0, HeaderLen+len(f.Payload))
	buf = appendHeader(buf, h)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func appendHeader(buf []byte, h Header) []byte {
	buf = binary.BigEndian.AppendUint32(buf, h.Magic)
	buf = binary.BigEndian.AppendUint16(buf, h.Version)
	buf = binary.BigEndian.AppendUint16(buf, uint16(h.Tag))
	buf = binary.BigEndian.AppendUint32(buf, h.From)
	buf = binary.BigEndian.AppendUint32(buf, h.To)
	buf = binary.BigEndian.AppendUint32(buf, h.PayloadLen)
	return binary.BigEndian.AppendUint64(buf, h.Checksum)
}

func decodeHeader(b *[HeaderLen]byte) Header {
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Tag:        Tag(binary.BigEndian.Uint16(b[6:8])),
		From:       binary.BigEndian.Uint32(b[8:12]),
		To:         binary.BigEndian.Uint32(b[12:16]),
		PayloadLen: binary.BigEndian.Uint32(b[16:20]),
		Checksum:   binary.BigEndian.Uint64(b[20:28]),
	}
}
