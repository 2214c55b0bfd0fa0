/*Package portmap implements just enough of the ONC RPC Portmap/Rpcbind
program (RFC 1833, program 100000) for a Siglent oscilloscope to discover
the port the VXI-11 responder is currently listening on.

The scope only ever issues GETPORT for the VXI-11 Core Channel program
(395183); every other request is answered minimally or with PROC_UNAVAIL, in
the spirit of the teacher's "answer what's asked, touch nothing else"
Communicator types.
*/
package portmap

import (
	"context"
	"log"
	"net"

	"github.com/bdube/bode/oncrpc"
	"github.com/bdube/bode/vxi11"
	"github.com/bdube/bode/xdr"
)

// Program numbers and protocol identifiers relevant to the one mapping this
// responder ever produces.
const (
	ProgramPortmap = uint32(100000)
	ProgramVXI11   = uint32(395183)
	VersionVXI11   = uint32(1)

	ProtoTCP = uint32(6)
	ProtoUDP = uint32(17)
)

// PortmapPort is the well-known Portmap/Rpcbind port (RFC 1833), bound on
// TCP and, when -udp is given, UDP as well.
const PortmapPort = 111

// Procedure numbers (program 100000, versions 2/3/4 — the scope only issues
// the version-2-shaped GETPORT call, so all versions are answered the same
// way).
const (
	ProcNull    = uint32(0)
	ProcGetPort = uint32(3)
)

const maxRequestBytes = 1500

// Responder answers Portmap GETPORT queries for the VXI-11 program by
// consulting a shared vxi11.PortState, the same value the VXI-11 listener
// itself is bound to.
type Responder struct {
	Ports *vxi11.PortState
	Log   *log.Logger
}

// New creates a Responder that always answers with ports.Current() for a
// matching GETPORT query.
func New(ports *vxi11.PortState, logger *log.Logger) *Responder {
	if logger == nil {
		logger = log.Default()
	}
	return &Responder{Ports: ports, Log: logger}
}

// ServeTCP accepts one connection at a time on ln, serving GETPORT requests
// until ctx is canceled.
func (r *Responder) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		r.Log.Printf("portmap(tcp): incoming connection from %s", conn.RemoteAddr())
		r.handleTCP(conn)
	}
}

func (r *Responder) handleTCP(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil || n < 4 {
		return
	}
	// The fragment header precedes the RPC call body on TCP; the call body
	// itself starts right after the 4-byte record-marking word.
	reply, ok := r.handleCall(buf[4:n])
	if !ok {
		return
	}
	var hdr [4]byte
	size := uint32(len(reply)) | 0x80000000
	hdr[0] = byte(size >> 24)
	hdr[1] = byte(size >> 16)
	hdr[2] = byte(size >> 8)
	hdr[3] = byte(size)
	conn.Write(append(hdr[:], reply...))
}

// ServeUDP receives one datagram at a time on conn, serving GETPORT requests
// until ctx is canceled.
func (r *Responder) ServeUDP(ctx context.Context, conn net.PacketConn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	buf := make([]byte, maxRequestBytes)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		r.Log.Printf("portmap(udp): incoming connection from %s", addr)
		reply, ok := r.handleCall(buf[:n])
		if ok {
			conn.WriteTo(reply, addr)
		}
	}
}

// handleCall decodes a Portmap call body and returns the full reply
// (header + result), or ok=false if the call could not even be parsed
// enough to answer with an error.
func (r *Responder) handleCall(body []byte) ([]byte, bool) {
	d := xdr.NewDecoder(body)
	hdr, err := oncrpc.DecodeCallHeader(d)
	if err != nil {
		r.Log.Printf("portmap: malformed call: %v", err)
		return nil, false
	}
	if hdr.Prog != ProgramPortmap {
		return r.acceptError(hdr.XID, oncrpc.ProgUnavail), true
	}

	e := xdr.NewEncoder(64)
	switch hdr.Proc {
	case ProcNull:
		oncrpc.EncodeAcceptedReply(e, hdr.XID, oncrpc.Success)
		return e.Bytes(), true
	case ProcGetPort:
		return r.handleGetPort(e, hdr, d), true
	default:
		return r.acceptError(hdr.XID, oncrpc.ProcUnavail), true
	}
}

func (r *Responder) handleGetPort(e *xdr.Encoder, hdr oncrpc.CallHeader, d *xdr.Decoder) []byte {
	prog, _ := d.GetU32()
	_, _ = d.GetU32() // vers, unused: the scope always asks for VersionVXI11
	prot, _ := d.GetU32()
	_, _ = d.GetU32() // port, always 0 in a query and ignored

	var port uint32
	if prog == ProgramVXI11 && prot == ProtoTCP {
		port = uint32(r.Ports.Current())
	}
	r.Log.Printf("portmap: GETPORT prog=%d prot=%d -> port=%d", prog, prot, port)

	oncrpc.EncodeAcceptedReply(e, hdr.XID, oncrpc.Success)
	e.PutU32(port)
	return e.Bytes()
}

func (r *Responder) acceptError(xid, acceptStat uint32) []byte {
	e := xdr.NewEncoder(32)
	oncrpc.EncodeAcceptedReply(e, xid, acceptStat)
	return e.Bytes()
}
