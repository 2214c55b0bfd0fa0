/*Package vxi11 implements the Core Channel procedures (TCG VXI-11 Rev 1.0,
program 395183, version 1) that a Siglent oscilloscope issues during a
Bode-plot sweep: CREATE_LINK, DEVICE_WRITE, DEVICE_READ, DESTROY_LINK, and
safe stand-ins for the handful of Core Channel procedures (DEVICE_TRIGGER,
DEVICE_CLEAR, ...) the scope is not observed to use but may probe.
DEVICE_ABORT is not answered: it belongs to the Abort Channel, which is not
served here, and CREATE_LINK reports abort port 0.

The wire-level byte shuffling here is a direct generalization of
_examples/original_source/sds1004x_bode/awg_server.py's AwgServer
(parse_lxi_request / generate_lxi_*_response), rebuilt on top of the xdr and
rpcframe packages instead of hand-sliced byte offsets.
*/
package vxi11

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	"github.com/bdube/bode/oncrpc"
	"github.com/bdube/bode/rpcframe"
	"github.com/bdube/bode/xdr"
)

// Program identity the scope expects to find on the port Portmap advertises.
const (
	ProgramVXI11 = uint32(395183)
	VersionVXI11 = uint32(1)
)

// Core Channel procedure numbers (TCG VXI-11 Rev 1.0).
const (
	ProcNull        = uint32(0)
	ProcCreateLink  = uint32(10)
	ProcDeviceWrite = uint32(11)
	ProcDeviceRead  = uint32(12)
	ProcDestroyLink = uint32(23)
)

// toleratedLo and toleratedHi bound the procedure numbers (13-22, inclusive)
// this responder answers with an inert success reply rather than
// PROC_UNAVAIL: DEVICE_READSTB, DEVICE_TRIGGER, DEVICE_CLEAR, DEVICE_REMOTE,
// DEVICE_LOCAL, DEVICE_LOCK, DEVICE_UNLOCK, DEVICE_ENABLE_SRQ, and
// DEVICE_DOCMD. None of these are issued during an observed Bode sweep, but
// answering them harmlessly avoids derailing a scope that probes for them.
const (
	toleratedLo = uint32(13)
	toleratedHi = uint32(22)
)

// ReasonEnd marks the end of a DEVICE_READ response (the scope never
// chunks reads in this use case, so every read reply carries this reason).
const ReasonEnd = uint32(0x04)

// MaxReceiveSize is reported to the scope in the CREATE_LINK reply.
const MaxReceiveSize = uint32(1048576)

const maxRequestBytes = 4096

// Dispatcher applies a DEVICE_WRITE payload (one or more ';'-joined SCPI
// commands) to the AWG driver and returns the response produced by any
// query in that payload, or nil if the payload contained no query.
type Dispatcher interface {
	Handle(raw []byte) (response []byte)
}

// link is a short-lived VXI-11 session handle. At most one is alive at a
// time in this implementation (one connection served at a time), but no
// particular link ID is enforced against the caller.
type link struct {
	id       int32
	clientID int32
	name     string
	pending  []byte // queued query response, consumed by the next DEVICE_READ
}

// Server accepts one VXI-11 connection at a time on the port named by Ports,
// serving it to completion before moving on to the next port in rotation.
type Server struct {
	Ports      *PortState
	Host       string
	Dispatcher Dispatcher
	Log        *log.Logger

	nextLinkID int32
}

// New creates a Server. If logger is nil, log.Default() is used.
func New(ports *PortState, host string, dispatcher Dispatcher, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{Ports: ports, Host: host, Dispatcher: dispatcher, Log: logger}
}

// Serve runs the accept-handle-rotate loop until ctx is canceled. Every
// session — from bind to the close that follows DESTROY_LINK — happens on
// a fresh port: the listener is rebound to the other port in Ports' rotation
// between sessions, which is what lets the scope reconnect.
func (s *Server) Serve(ctx context.Context) error {
	for {
		port := s.Ports.Current()
		addr := net.JoinHostPort(s.Host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("vxi11: bind %s: %w", addr, err)
		}
		s.Log.Printf("vxi11: listening on %s", addr)

		conn, err := acceptOne(ctx, ln)
		ln.Close()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if conn == nil {
			return ctx.Err()
		}
		s.Log.Printf("vxi11: incoming connection from %s", conn.RemoteAddr())
		s.handleConnection(conn)

		next := s.Ports.Advance()
		s.Log.Printf("vxi11: moving to TCP port %d", next)
	}
}

// acceptOne accepts a single connection, or returns nil, nil if ctx is
// canceled first.
func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		ln.Close()
		<-ch
		return nil, nil
	case r := <-ch:
		return r.conn, r.err
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	var lk *link
	for {
		body, err := rpcframe.ReadFragmented(conn)
		if err != nil {
			return
		}
		d := xdr.NewDecoder(body)
		hdr, err := oncrpc.DecodeCallHeader(d)
		if err != nil {
			s.Log.Printf("vxi11: malformed call header: %v", err)
			return
		}
		if hdr.Prog != ProgramVXI11 {
			s.reply(conn, hdr.XID, oncrpc.ProgUnavail, nil)
			continue
		}

		reply, closeAfter, acceptStat := s.dispatch(hdr, d, &lk)
		s.reply(conn, hdr.XID, acceptStat, reply)
		if acceptStat == oncrpc.GarbageArgs {
			// A malformed body made it past the RPC header but failed to
			// decode as this procedure's arguments: drop the connection
			// per spec's DecodeError policy.
			return
		}
		if closeAfter {
			return
		}
	}
}

// dispatch handles one decoded call against the current link state.
// acceptStat is GarbageArgs only when the procedure's own arguments failed
// to decode, and ProcUnavail for a procedure number outside both the
// implemented set and the tolerated range (13-22); the link is left open in
// the ProcUnavail case, per spec §4.4.
func (s *Server) dispatch(hdr oncrpc.CallHeader, d *xdr.Decoder, lk **link) (reply []byte, closeAfter bool, acceptStat uint32) {
	switch {
	case hdr.Proc == ProcNull:
		return nil, false, oncrpc.Success

	case hdr.Proc == ProcCreateLink:
		reply, closeAfter, ok := s.handleCreateLink(d, lk)
		return acceptStatFromOK(reply, closeAfter, ok)

	case hdr.Proc == ProcDeviceWrite:
		reply, closeAfter, ok := s.handleDeviceWrite(d, *lk)
		return acceptStatFromOK(reply, closeAfter, ok)

	case hdr.Proc == ProcDeviceRead:
		reply, closeAfter, ok := s.handleDeviceRead(d, *lk)
		return acceptStatFromOK(reply, closeAfter, ok)

	case hdr.Proc == ProcDestroyLink:
		reply, ok := s.handleDestroyLink(d, lk)
		return acceptStatFromOK(reply, true, ok)

	case hdr.Proc >= toleratedLo && hdr.Proc <= toleratedHi:
		e := xdr.NewEncoder(4)
		e.PutI32(0)
		return e.Bytes(), false, oncrpc.Success

	default:
		return nil, false, oncrpc.ProcUnavail
	}
}

// acceptStatFromOK translates a sub-handler's decode-success bool into the
// accept status dispatch returns, preserving its reply and closeAfter.
func acceptStatFromOK(reply []byte, closeAfter bool, ok bool) ([]byte, bool, uint32) {
	if !ok {
		return nil, false, oncrpc.GarbageArgs
	}
	return reply, closeAfter, oncrpc.Success
}

func (s *Server) handleCreateLink(d *xdr.Decoder, lk **link) (reply []byte, closeAfter bool, ok bool) {
	clientID, err1 := d.GetI32()
	_, err2 := d.GetBool() // lock-device, accepted but not enforced
	_, err3 := d.GetU32()  // lock timeout ms, accepted but not enforced
	name, err4 := d.GetString()
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil, false, false
	}

	s.nextLinkID++
	*lk = &link{id: s.nextLinkID, clientID: clientID, name: name}
	s.Log.Printf("vxi11: CREATE_LINK device=%q link=%d", name, (*lk).id)

	e := xdr.NewEncoder(16)
	e.PutI32(0) // error: no error
	e.PutI32((*lk).id)
	e.PutU32(0) // abort port: never used
	e.PutU32(MaxReceiveSize)
	return e.Bytes(), false, true
}

func (s *Server) handleDeviceWrite(d *xdr.Decoder, lk *link) (reply []byte, closeAfter bool, ok bool) {
	_, err1 := d.GetI32()  // link id: accepted, not enforced (§3: "any id the client presents is accepted")
	_, err2 := d.GetU32()  // io timeout ms
	_, err3 := d.GetU32()  // lock timeout ms
	_, err4 := d.GetU32()  // flags
	data, err5 := d.GetOpaque()
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return nil, false, false
	}

	payload := trimSCPIPayload(data)
	s.Log.Printf("vxi11: DEVICE_WRITE %q", payload)

	if lk != nil {
		resp := s.Dispatcher.Handle(payload)
		if resp != nil {
			lk.pending = resp
		}
	}

	e := xdr.NewEncoder(8)
	e.PutI32(0) // error: no error, even on a SCPI parse failure (spec §4.4/§4.5)
	e.PutU32(uint32(len(data)))
	return e.Bytes(), false, true
}

func (s *Server) handleDeviceRead(d *xdr.Decoder, lk *link) (reply []byte, closeAfter bool, ok bool) {
	_, err1 := d.GetI32() // link id
	_, err2 := d.GetU32() // request size
	_, err3 := d.GetU32() // io timeout ms
	_, err4 := d.GetU32() // lock timeout ms
	_, err5 := d.GetU32() // flags
	_, err6 := d.GetU32() // term char
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
		return nil, false, false
	}

	var data []byte
	if lk != nil {
		data = lk.pending
		lk.pending = nil
	}

	e := xdr.NewEncoder(16 + len(data))
	e.PutI32(0) // error: no error
	e.PutU32(ReasonEnd)
	e.PutOpaque(data)
	return e.Bytes(), false, true
}

func (s *Server) handleDestroyLink(d *xdr.Decoder, lk **link) (reply []byte, ok bool) {
	_, err := d.GetI32() // link id, accepted unconditionally
	if err != nil {
		return nil, false
	}
	if *lk != nil {
		s.Log.Printf("vxi11: DESTROY_LINK link=%d", (*lk).id)
	}
	*lk = nil

	e := xdr.NewEncoder(4)
	e.PutI32(0)
	return e.Bytes(), true
}

// reply frames and sends an accepted-reply with the given accept status and
// procedure-specific result body (nil for an error reply with no body).
func (s *Server) reply(conn net.Conn, xid uint32, acceptStat uint32, result []byte) {
	e := xdr.NewEncoder(24 + len(result))
	oncrpc.EncodeAcceptedReply(e, xid, acceptStat)
	body := e.Bytes()
	if result != nil {
		body = append(body, result...)
	}
	if err := rpcframe.WriteFragment(conn, body); err != nil {
		s.Log.Printf("vxi11: write reply: %v", err)
	}
}

// trimSCPIPayload strips the trailing whitespace and newline the scope
// appends to its SCPI writes, per spec §4.4.
func trimSCPIPayload(data []byte) []byte {
	end := len(data)
	for end > 0 && isTrailingPad(data[end-1]) {
		end--
	}
	return data[:end]
}

func isTrailingPad(b byte) bool {
	switch b {
	case '\n', '\r', ' ', '\t', 0:
		return true
	default:
		return false
	}
}
