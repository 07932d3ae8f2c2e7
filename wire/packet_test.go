package wire

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		version uint32
		id      uint64
		typ     Type
	}{
		{1, 0, Req},
		{1, 1, Resp},
		{7, 1<<63 - 1, Req},
	}

	for _, c := range cases {
		buf := Encode(c.version, c.id, c.typ)
		if len(buf) != Size {
			t.Fatalf("encode produced %d bytes, want %d", len(buf), Size)
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Version != c.version || got.ID != c.id || got.Type != c.typ {
			t.Fatalf("round trip mismatch: got %+v, want {%d %d %d}", got, c.version, c.id, c.typ)
		}
	}
}

func TestDecodeInvalidSize(t *testing.T) {
	_, err := Decode(make([]byte, Size-1))
	if err != ErrInvalidSize {
		t.Fatalf("got %v, want ErrInvalidSize", err)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	buf := Encode(1, 1, Req)
	buf[0] ^= 0xFF
	_, err := Decode(buf)
	if err != ErrInvalidMagic {
		t.Fatalf("got %v, want ErrInvalidMagic", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	buf := Encode(1, 1, Req)
	buf[16] = 0
	buf[17] = 99
	_, err := Decode(buf)
	if err != ErrUnknownType {
		t.Fatalf("got %v, want ErrUnknownType", err)
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	buf := append(Encode(1, 1, Req), 0xDE, 0xAD, 0xBE, 0xEF)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("got id %d, want 1", got.ID)
	}
}
