package varint

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 37, 63, 64, 16383, 16384, 1073741823, 1073741824, Max}
	for _, n := range cases {
		buf, err := Encode(nil, n)
		if err != nil {
			t.Fatalf("Encode(%d): %v", n, err)
		}
		if len(buf) != int(Size(n)) {
			t.Fatalf("Size(%d)=%d but Encode produced %d bytes", n, Size(n), len(buf))
		}
		got, consumed, err := Decode(buf, 0)
		if err != nil {
			t.Fatalf("Decode(%d): %v", n, err)
		}
		if consumed != len(buf) {
			t.Fatalf("Decode(%d) consumed %d, want %d", n, consumed, len(buf))
		}
		if got != n {
			t.Fatalf("Decode(Encode(%d)) = %d", n, got)
		}
	}
}

func TestOutOfRange(t *testing.T) {
	if _, err := Encode(nil, Max+1); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestTruncated(t *testing.T) {
	buf, _ := Encode(nil, 1<<20)
	if _, _, err := Decode(buf[:1], 0); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if _, _, err := Decode(nil, 0); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated on empty buf, got %v", err)
	}
}
