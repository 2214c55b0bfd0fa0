package portmap_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bdube/bode/oncrpc"
	"github.com/bdube/bode/portmap"
	"github.com/bdube/bode/vxi11"
	"github.com/bdube/bode/xdr"
)

func buildGetPortCall(xid, prog, vers, prot uint32) []byte {
	e := xdr.NewEncoder(64)
	e.PutU32(xid)
	e.PutU32(oncrpc.Call)
	e.PutU32(oncrpc.RPCVers2)
	e.PutU32(portmap.ProgramPortmap)
	e.PutU32(2)
	e.PutU32(portmap.ProcGetPort)
	e.PutU32(oncrpc.AuthNone)
	e.PutU32(0)
	e.PutU32(oncrpc.AuthNone)
	e.PutU32(0)
	e.PutU32(prog)
	e.PutU32(vers)
	e.PutU32(prot)
	e.PutU32(0)
	return e.Bytes()
}

func decodeReplyPort(t *testing.T, body []byte) uint32 {
	t.Helper()
	d := xdr.NewDecoder(body)
	d.GetU32() // xid
	d.GetU32() // msg type
	d.GetU32() // reply stat
	d.GetU32() // verf flavor
	d.GetU32() // verf len
	stat, _ := d.GetU32()
	if stat != oncrpc.Success {
		t.Fatalf("accept status %d, want Success", stat)
	}
	port, _ := d.GetU32()
	return port
}

func TestGetPortOverTCP(t *testing.T) {
	ports := vxi11.NewPortCycle(9009, 9010)
	r := portmap.New(ports, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.ServeTCP(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	call := buildGetPortCall(1, portmap.ProgramVXI11, portmap.VersionVXI11, portmap.ProtoTCP)
	var hdr [4]byte
	size := uint32(len(call)) | 0x80000000
	hdr[0], hdr[1], hdr[2], hdr[3] = byte(size>>24), byte(size>>16), byte(size>>8), byte(size)
	conn.Write(append(hdr[:], call...))

	buf := make([]byte, 1500)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	port := decodeReplyPort(t, buf[4:n])
	if port != uint32(ports.Current()) {
		t.Fatalf("got port %d, want %d", port, ports.Current())
	}
}

func TestGetPortOverUDP(t *testing.T) {
	ports := vxi11.NewPortCycle(9009, 9010)
	r := portmap.New(ports, nil)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.ServeUDP(ctx, conn)

	client, err := net.Dial("udp", conn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	call := buildGetPortCall(1, portmap.ProgramVXI11, portmap.VersionVXI11, portmap.ProtoTCP)
	client.Write(call)

	buf := make([]byte, 1500)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	port := decodeReplyPort(t, buf[:n])
	if port != uint32(ports.Current()) {
		t.Fatalf("got port %d, want %d", port, ports.Current())
	}
}

func TestGetPortForUnknownProgramReturnsZero(t *testing.T) {
	ports := vxi11.NewPortCycle(9009, 9010)
	r := portmap.New(ports, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.ServeTCP(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	call := buildGetPortCall(1, 999999, 1, portmap.ProtoTCP)
	var hdr [4]byte
	size := uint32(len(call)) | 0x80000000
	hdr[0], hdr[1], hdr[2], hdr[3] = byte(size>>24), byte(size>>16), byte(size>>8), byte(size)
	conn.Write(append(hdr[:], call...))

	buf := make([]byte, 1500)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	port := decodeReplyPort(t, buf[4:n])
	if port != 0 {
		t.Fatalf("got port %d, want 0 for unknown program", port)
	}
}
