package rpcframe_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/bdube/bode/rpcframe"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello vxi-11")
	if err := rpcframe.WriteFragment(&buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := rpcframe.ReadFragmented(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q want %q", got, payload)
	}
}

func TestReadMultipleFragments(t *testing.T) {
	var buf bytes.Buffer
	part1 := []byte("abc")
	part2 := []byte("defg")

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(part1))) // not last
	buf.Write(hdr[:])
	buf.Write(part1)

	binary.BigEndian.PutUint32(hdr[:], uint32(len(part2))|0x80000000) // last
	buf.Write(hdr[:])
	buf.Write(part2)

	got, err := rpcframe.ReadFragmented(&buf)
	if err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte{}, part1...), part2...)
	if !bytes.Equal(got, want) {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestReadEOFBeforeAnyBytes(t *testing.T) {
	_, err := rpcframe.ReadFragmented(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadTruncatedMidFragment(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(10)|0x80000000)
	buf := bytes.NewBuffer(hdr[:])
	buf.WriteString("ab") // claims 10 bytes, only 2 present
	_, err := rpcframe.ReadFragmented(buf)
	if err == nil {
		t.Fatal("expected error on truncated fragment body")
	}
}

func TestReadFragmentExceedingSanityBound(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(rpcframe.MaxFragmentBytes+1)|0x80000000)
	buf := bytes.NewBuffer(hdr[:])
	_, err := rpcframe.ReadFragmented(buf)
	if err != rpcframe.ErrFragmentTooLarge {
		t.Fatalf("expected ErrFragmentTooLarge, got %v", err)
	}
}
