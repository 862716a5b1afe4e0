package zwave

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: FrameTypeREQ, CommandID: 0x13, Parameters: nil},
		{Type: FrameTypeRES, CommandID: 0x02, Parameters: []byte{0x01}},
		{Type: FrameTypeREQ, CommandID: 0x49, Parameters: []byte{0x02, 0x02, 0x03, 0x02, 0x25, 0x01, 0x05, 0x01}},
	}

	for _, f := range cases {
		encoded := EncodeFrame(f)
		decoded, err := DecodeFrame(encoded)
		if err != nil {
			t.Fatalf("decode(encode(%+v)): %v", f, err)
		}
		if decoded.Type != f.Type || decoded.CommandID != f.CommandID || !bytes.Equal(decoded.Parameters, f.Parameters) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, f)
		}

		reencoded := EncodeFrame(decoded)
		if !bytes.Equal(reencoded, encoded) {
			t.Fatalf("encode(decode(B)) != B: got % X, want % X", reencoded, encoded)
		}
	}
}

func TestEncodeByteExact(t *testing.T) {
	// SendDataMulti-shaped frame per the round-trip law seed vector.
	f := Frame{
		Type:       FrameTypeREQ,
		CommandID:  0x3D,
		Parameters: []byte{0x02, 0x02, 0x03, 0x02, 0x25, 0x01, 0x05, 0x01},
	}
	got := EncodeFrame(f)

	// SOF, LEN=TYPE+CMD+PARAMS+CKSUM=11, TYPE, CMD, PARAMS..., CKSUM
	body := []byte{0x0B, 0x00, 0x3D, 0x02, 0x02, 0x03, 0x02, 0x25, 0x01, 0x05, 0x01}
	want := append([]byte{frameSOF}, body...)
	want = append(want, xorChecksum(body))

	if !bytes.Equal(got, want) {
		t.Fatalf("got % X, want % X", got, want)
	}
}

func TestDecodeTruncated(t *testing.T) {
	f := Frame{Type: FrameTypeRES, CommandID: 0x02, Parameters: []byte{0xAB, 0xCD}}
	full := EncodeFrame(f)

	if _, err := DecodeFrame(full[:len(full)-2]); err != ErrTruncated {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
	if _, err := DecodeFrame(nil); err != ErrTruncated {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestDecodeBadChecksum(t *testing.T) {
	f := Frame{Type: FrameTypeREQ, CommandID: 0x13, Parameters: []byte{0x01, 0x02}}
	full := EncodeFrame(f)
	full[len(full)-1] ^= 0xFF

	if _, err := DecodeFrame(full); err != ErrBadChecksum {
		t.Fatalf("got %v, want ErrBadChecksum", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	f := Frame{Type: FrameTypeREQ, CommandID: 0x13, Parameters: []byte{0x01}}
	full := EncodeFrame(f)

	// Corrupt TYPE to an invalid value and fix the checksum so BadChecksum
	// doesn't mask UnknownType.
	body := full[1 : len(full)-1]
	body[1] = 0x7F
	full[len(full)-1] = xorChecksum(body)

	if _, err := DecodeFrame(full); err != ErrUnknownType {
		t.Fatalf("got %v, want ErrUnknownType", err)
	}
}

func TestDecodeExtraTrailingBytesTruncated(t *testing.T) {
	f := Frame{Type: FrameTypeRES, CommandID: 0x02, Parameters: []byte{0x01}}
	full := EncodeFrame(f)
	full = append(full, 0x00)

	if _, err := DecodeFrame(full); err != ErrTruncated {
		t.Fatalf("got %v, want ErrTruncated for trailing garbage", err)
	}
}
