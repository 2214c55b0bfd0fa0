package vxi11_test

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/bdube/bode/oncrpc"
	"github.com/bdube/bode/rpcframe"
	"github.com/bdube/bode/vxi11"
	"github.com/bdube/bode/xdr"
)

// recordingDispatcher implements vxi11.Dispatcher and queues a canned
// response for the next query-bearing write, recording everything it saw.
type recordingDispatcher struct {
	writes []string
	next   []byte
}

func (d *recordingDispatcher) Handle(raw []byte) []byte {
	d.writes = append(d.writes, string(raw))
	if bytes.Contains(raw, []byte("?")) {
		resp := d.next
		d.next = nil
		return resp
	}
	return nil
}

func startServer(t *testing.T, disp vxi11.Dispatcher) (*vxi11.PortState, context.CancelFunc) {
	t.Helper()
	ports := vxi11.NewPortCycle(findFreePort(t), findFreePort(t))
	srv := vxi11.New(ports, "127.0.0.1", disp, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	// give the listener a moment to bind
	time.Sleep(20 * time.Millisecond)
	return ports, cancel
}

func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("could not dial port %d: %v", port, err)
	return nil
}

// buildCall encodes a full ONC RPC call (header + AUTH_NONE cred/verf +
// procedure args) ready to be framed and sent.
func buildCall(xid, proc uint32, args func(e *xdr.Encoder)) []byte {
	e := xdr.NewEncoder(64)
	e.PutU32(xid)
	e.PutU32(oncrpc.Call)
	e.PutU32(oncrpc.RPCVers2)
	e.PutU32(vxi11.ProgramVXI11)
	e.PutU32(vxi11.VersionVXI11)
	e.PutU32(proc)
	e.PutU32(oncrpc.AuthNone)
	e.PutU32(0) // zero-length cred opaque
	e.PutU32(oncrpc.AuthNone)
	e.PutU32(0) // zero-length verf opaque
	if args != nil {
		args(e)
	}
	return e.Bytes()
}

// sendCall frames and sends a call, then reads and decodes the reply's
// header (xid, accept status), returning a decoder positioned at the
// procedure-specific result.
func sendCall(t *testing.T, conn net.Conn, xid, proc uint32, args func(e *xdr.Encoder)) (*xdr.Decoder, uint32) {
	t.Helper()
	if err := rpcframe.WriteFragment(conn, buildCall(xid, proc, args)); err != nil {
		t.Fatal(err)
	}
	body, err := rpcframe.ReadFragmented(conn)
	if err != nil {
		t.Fatal(err)
	}
	d := xdr.NewDecoder(body)
	gotXID, err := d.GetU32()
	if err != nil || gotXID != xid {
		t.Fatalf("reply xid mismatch: got %d err %v", gotXID, err)
	}
	if mtype, _ := d.GetU32(); mtype != oncrpc.Reply {
		t.Fatalf("expected Reply, got msg type %d", mtype)
	}
	if stat, _ := d.GetU32(); stat != oncrpc.MsgAccepted {
		t.Fatalf("expected MsgAccepted, got %d", stat)
	}
	d.GetU32() // verf flavor
	d.GetU32() // verf opaque length (0)
	acceptStat, _ := d.GetU32()
	return d, acceptStat
}

func createLink(t *testing.T, conn net.Conn, name string) int32 {
	t.Helper()
	d, stat := sendCall(t, conn, 1, vxi11.ProcCreateLink, func(e *xdr.Encoder) {
		e.PutI32(0)         // client id
		e.PutBool(false)    // lock device
		e.PutU32(1000)      // lock timeout ms
		e.PutString(name)   // device name
	})
	if stat != oncrpc.Success {
		t.Fatalf("CREATE_LINK accept status %d", stat)
	}
	errCode, _ := d.GetI32()
	if errCode != 0 {
		t.Fatalf("CREATE_LINK error %d", errCode)
	}
	linkID, _ := d.GetI32()
	return linkID
}

func deviceWrite(t *testing.T, conn net.Conn, linkID int32, payload string) {
	t.Helper()
	d, stat := sendCall(t, conn, 2, vxi11.ProcDeviceWrite, func(e *xdr.Encoder) {
		e.PutI32(linkID)
		e.PutU32(1000)
		e.PutU32(1000)
		e.PutU32(0)
		e.PutOpaque([]byte(payload))
	})
	if stat != oncrpc.Success {
		t.Fatalf("DEVICE_WRITE accept status %d", stat)
	}
	errCode, _ := d.GetI32()
	if errCode != 0 {
		t.Fatalf("DEVICE_WRITE error %d", errCode)
	}
}

func deviceRead(t *testing.T, conn net.Conn, linkID int32) []byte {
	t.Helper()
	d, stat := sendCall(t, conn, 3, vxi11.ProcDeviceRead, func(e *xdr.Encoder) {
		e.PutI32(linkID)
		e.PutU32(512)
		e.PutU32(1000)
		e.PutU32(1000)
		e.PutU32(0)
		e.PutU32(0)
	})
	if stat != oncrpc.Success {
		t.Fatalf("DEVICE_READ accept status %d", stat)
	}
	errCode, _ := d.GetI32()
	if errCode != 0 {
		t.Fatalf("DEVICE_READ error %d", errCode)
	}
	reason, _ := d.GetU32()
	if reason != vxi11.ReasonEnd {
		t.Fatalf("DEVICE_READ reason %d, want END", reason)
	}
	data, _ := d.GetOpaque()
	return data
}

func destroyLink(t *testing.T, conn net.Conn, linkID int32) {
	t.Helper()
	d, stat := sendCall(t, conn, 4, vxi11.ProcDestroyLink, func(e *xdr.Encoder) {
		e.PutI32(linkID)
	})
	if stat != oncrpc.Success {
		t.Fatalf("DESTROY_LINK accept status %d", stat)
	}
	errCode, _ := d.GetI32()
	if errCode != 0 {
		t.Fatalf("DESTROY_LINK error %d", errCode)
	}
}

func TestIDNHandshake(t *testing.T) {
	disp := &recordingDispatcher{next: []byte("IDN-SGLT-PRI,SDG1062X,SDG00000000000,1.01.01.33R1")}
	ports, cancel := startServer(t, disp)
	defer cancel()

	conn := dial(t, ports.Current())
	defer conn.Close()

	linkID := createLink(t, conn, "inst0")
	deviceWrite(t, conn, linkID, "IDN-SGLT-PRI?")
	data := deviceRead(t, conn, linkID)
	if !bytes.HasPrefix(data, []byte("IDN-SGLT-PRI,")) {
		t.Fatalf("unexpected IDN reply %q", data)
	}
	destroyLink(t, conn, linkID)
}

func TestDeviceReadWithoutPendingQueryIsEmpty(t *testing.T) {
	disp := &recordingDispatcher{}
	ports, cancel := startServer(t, disp)
	defer cancel()

	conn := dial(t, ports.Current())
	defer conn.Close()

	linkID := createLink(t, conn, "inst0")
	deviceWrite(t, conn, linkID, "C1:OUTP ON")
	data := deviceRead(t, conn, linkID)
	if len(data) != 0 {
		t.Fatalf("expected empty read with no pending query, got %q", data)
	}
	destroyLink(t, conn, linkID)
}

func TestPortRotatesAcrossSessions(t *testing.T) {
	disp := &recordingDispatcher{}
	ports, cancel := startServer(t, disp)
	defer cancel()

	first := ports.Current()
	conn := dial(t, first)
	linkID := createLink(t, conn, "inst0")
	destroyLink(t, conn, linkID)
	conn.Close()

	// give the server a moment to close the listener and rebind
	time.Sleep(30 * time.Millisecond)
	second := ports.Current()
	if second == first {
		t.Fatalf("expected port to rotate away from %d", first)
	}

	conn2 := dial(t, second)
	linkID2 := createLink(t, conn2, "inst0")
	destroyLink(t, conn2, linkID2)
	conn2.Close()

	time.Sleep(30 * time.Millisecond)
	third := ports.Current()
	if third != first {
		t.Fatalf("expected rotation back to %d, got %d", first, third)
	}
}
