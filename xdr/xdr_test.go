package xdr_test

import (
	"bytes"
	"testing"

	"github.com/bdube/bode/xdr"
)

func TestU32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x7fffffff, 0x80000000, 0xffffffff} {
		e := xdr.NewEncoder(4)
		e.PutU32(v)
		got, err := xdr.NewDecoder(e.Bytes()).GetU32()
		if err != nil {
			t.Fatalf("GetU32(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d got %d", v, got)
		}
	}
}

func TestBoolRoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		e := xdr.NewEncoder(4)
		e.PutBool(v)
		got, err := xdr.NewDecoder(e.Bytes()).GetBool()
		if err != nil {
			t.Fatalf("GetBool(%v): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %v got %v", v, got)
		}
	}
}

func TestOpaquePadding(t *testing.T) {
	e := xdr.NewEncoder(16)
	e.PutOpaque([]byte("abc")) // length 3 -> 1 byte padding
	if len(e.Bytes()) != 4+4 {
		t.Fatalf("expected 8 bytes (4 length + 4 padded data), got %d", len(e.Bytes()))
	}
	got, err := xdr.NewDecoder(e.Bytes()).GetOpaque()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("abc")) {
		t.Errorf("got %q", got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	e := xdr.NewEncoder(32)
	e.PutString("inst0")
	got, err := xdr.NewDecoder(e.Bytes()).GetString()
	if err != nil {
		t.Fatal(err)
	}
	if got != "inst0" {
		t.Errorf("got %q", got)
	}
}

func TestGetU32Truncated(t *testing.T) {
	_, err := xdr.NewDecoder([]byte{0x00, 0x01}).GetU32()
	if err == nil {
		t.Fatal("expected error on truncated input")
	}
}

func TestGetOpaqueLengthOverflow(t *testing.T) {
	e := xdr.NewEncoder(4)
	e.PutU32(0xffffff00) // absurd length, no data follows
	_, err := xdr.NewDecoder(e.Bytes()).GetOpaque()
	if err == nil {
		t.Fatal("expected error on length overflowing remaining buffer")
	}
}

func TestMultipleValuesSequentially(t *testing.T) {
	e := xdr.NewEncoder(64)
	e.PutU32(42)
	e.PutString("hello")
	e.PutBool(true)
	e.PutFixedOpaque([]byte{1, 2, 3, 4})

	d := xdr.NewDecoder(e.Bytes())
	if v, err := d.GetU32(); err != nil || v != 42 {
		t.Fatalf("GetU32: %v, %v", v, err)
	}
	if s, err := d.GetString(); err != nil || s != "hello" {
		t.Fatalf("GetString: %v, %v", s, err)
	}
	if b, err := d.GetBool(); err != nil || !b {
		t.Fatalf("GetBool: %v, %v", b, err)
	}
	fo, err := d.GetFixedOpaque(4)
	if err != nil || !bytes.Equal(fo, []byte{1, 2, 3, 4}) {
		t.Fatalf("GetFixedOpaque: %v, %v", fo, err)
	}
	if d.Remaining() != 0 {
		t.Errorf("expected 0 remaining, got %d", d.Remaining())
	}
}
