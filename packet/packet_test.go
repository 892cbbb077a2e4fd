package packet_test

import (
	"testing"

	"github.com/banyan-group/groupcast/packet"
	"github.com/google/go-cmp/cmp"
)

func TestBuilder(t *testing.T) {
	var b packet.Builder
	b.Grow(8)
	b.Bool(true)
	b.Put(5, 9, 100)
	b.Uint16(5000)
	b.Uint32(0xfc009a01)

	const want = "\x01\x05\x09\x64\x13\x88\xfc\x00\x9a\x01"
	//             ^   ^---^---^-- ^-----  ^--------------
	//          bool  byte*3        uint16  uint32

	if string(b.Bytes()) != want {
		t.Errorf("Bytes = %q, want %q", b.Bytes(), want)
	}

	s := packet.NewScanner(b.Bytes())
	check(t, "Bool", s.Bool, true)
	check(t, "Byte 1", s.Byte, 5)
	check(t, "Byte 2", s.Byte, 9)
	check(t, "Byte 3", s.Byte, 100)
	check(t, "Uint16", s.Uint16, 5000)
	check(t, "Uint32", s.Uint32, 0xfc009a01)

	if rest := s.Rest(); len(rest) != 0 {
		t.Errorf("Extra data at EOF (%d bytes): %q", len(rest), rest)
	}
}

func TestScannerTruncated(t *testing.T) {
	s := packet.NewScanner([]byte{0x01})
	if _, err := s.Uint16(); err == nil {
		t.Error("Uint16 on a 1-byte input: got nil error, want truncation error")
	}

	s2 := packet.NewScanner([]byte{0x01, 0x02, 0x03})
	if _, err := s2.Uint32(); err == nil {
		t.Error("Uint32 on a 3-byte input: got nil error, want truncation error")
	}

	s3 := packet.NewScanner[[]byte](nil)
	if _, err := s3.Byte(); err == nil {
		t.Error("Byte on empty input: got nil error, want io.ErrUnexpectedEOF")
	}
}

func check[T any](t *testing.T, label string, f func() (T, error), want T) {
	t.Helper()

	got, err := f()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", label, err)
	} else if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("%s result (-got, +want):\n%s", label, diff)
	}
}
