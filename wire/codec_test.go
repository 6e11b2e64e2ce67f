package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
	"testing/iotest"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := Codec{}

	env := Chat(NewMessage("alice", "bob", "hi there"))
	frame, err := codec.Encode(env)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := codec.Decode(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !reflect.DeepEqual(got, env) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, env)
	}
}

func TestCodec_SplitAcrossReads(t *testing.T) {
	codec := Codec{}

	env := Register("alice")
	frame, err := codec.Encode(env)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// One byte per read is the worst possible fragmentation.
	got, err := codec.Decode(iotest.OneByteReader(bytes.NewReader(frame)))
	if err != nil {
		t.Fatalf("Decode failed on fragmented input: %v", err)
	}

	if got.Type != TypeRegister || got.Username != "alice" {
		t.Errorf("unexpected envelope: %+v", got)
	}
}

func TestCodec_MultipleFramesInOneRead(t *testing.T) {
	codec := Codec{}

	var stream bytes.Buffer
	envs := []Envelope{
		Register("alice"),
		Chat(NewMessage("alice", "bob", "first")),
		RequestHistory("alice", "bob"),
	}
	for _, env := range envs {
		frame, err := codec.Encode(env)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		stream.Write(frame)
	}

	for i, want := range envs {
		got, err := codec.Decode(&stream)
		if err != nil {
			t.Fatalf("Decode %d failed: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("frame %d: got %+v, want %+v", i, got, want)
		}
	}
	if stream.Len() != 0 {
		t.Errorf("expected stream fully consumed, %d bytes left", stream.Len())
	}
}

func TestCodec_FrameTooLarge(t *testing.T) {
	codec := Codec{MaxFrameBytes: 64}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 65)

	_, err := codec.Decode(bytes.NewReader(prefix[:]))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestCodec_EncodeTooLarge(t *testing.T) {
	codec := Codec{MaxFrameBytes: 8}

	_, err := codec.Encode(Error("this payload does not fit in eight bytes"))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestCodec_EmptyFrame(t *testing.T) {
	codec := Codec{}

	_, err := codec.Decode(bytes.NewReader(make([]byte, 4)))
	if !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestCodec_MalformedPayloadKeepsStreamUsable(t *testing.T) {
	codec := Codec{}

	var stream bytes.Buffer
	garbage := []byte("not json at all")
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(garbage)))
	stream.Write(prefix[:])
	stream.Write(garbage)

	valid, err := codec.Encode(Kick("bye"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	stream.Write(valid)

	_, err = codec.Decode(&stream)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}

	// The frame boundary survived; the next frame decodes cleanly.
	got, err := codec.Decode(&stream)
	if err != nil {
		t.Fatalf("Decode after malformed frame failed: %v", err)
	}
	if got.Type != TypeKick || got.Reason != "bye" {
		t.Errorf("unexpected envelope after malformed frame: %+v", got)
	}
}

func TestCodec_UnknownTypeDecodes(t *testing.T) {
	codec := Codec{}

	payload := []byte(`{"type":"typing_indicator","from":"alice"}`)
	var stream bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	stream.Write(prefix[:])
	stream.Write(payload)

	got, err := codec.Decode(&stream)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Type != "typing_indicator" {
		t.Errorf("expected unknown type preserved, got %q", got.Type)
	}
}

func TestCodec_PrefixIsBigEndian(t *testing.T) {
	codec := Codec{}

	frame, err := codec.Encode(Register("a"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	length := binary.BigEndian.Uint32(frame[:4])
	if int(length) != len(frame)-4 {
		t.Errorf("prefix %d does not match payload length %d", length, len(frame)-4)
	}
}
