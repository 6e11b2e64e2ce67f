package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Framing errors. ErrFrameTooLarge and ErrEmptyFrame are connection-fatal:
// once the length prefix lies, the stream position is unrecoverable.
// ErrMalformedPayload is not; the frame boundary is intact and the next
// frame can still be read.
var (
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrEmptyFrame       = errors.New("frame has zero length")
	ErrMalformedPayload = errors.New("malformed frame payload")
)

// DefaultMaxFrameBytes caps the declared payload length of a single frame.
// The prefix is attacker-controlled, so reads are never sized from it
// beyond this limit.
const DefaultMaxFrameBytes = 1024 * 1024

const prefixSize = 4

// Codec encodes envelopes into length-prefixed frames and reads them back.
// A frame is a big-endian uint32 payload length followed by exactly that
// many bytes of compact JSON.
type Codec struct {
	// MaxFrameBytes limits the payload size in both directions.
	// Zero means DefaultMaxFrameBytes.
	MaxFrameBytes int
}

func (c Codec) maxFrameBytes() int {
	if c.MaxFrameBytes <= 0 {
		return DefaultMaxFrameBytes
	}
	return c.MaxFrameBytes
}

// Encode serializes an envelope into a single frame ready for the socket.
func (c Codec) Encode(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	if len(payload) > c.maxFrameBytes() {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, prefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[prefixSize:], payload)
	return frame, nil
}

// Decode reads exactly one frame from r and unmarshals its payload.
//
// It blocks until a full frame is available, so frames split across any
// number of reads reassemble transparently and multiple frames queued in r
// decode on successive calls. io.ReadFull never consumes past the frame
// boundary, which keeps the stream positioned for the next Decode even
// when the payload turns out to be garbage.
func (c Codec) Decode(r io.Reader) (Envelope, error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Envelope{}, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return Envelope{}, ErrEmptyFrame
	}
	if int(length) > c.maxFrameBytes() {
		return Envelope{}, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, errors.Wrapf(ErrMalformedPayload, "%v", err)
	}
	return env, nil
}
