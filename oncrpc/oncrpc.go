/*Package oncrpc encodes and decodes the ONC RPC (RFC 1831) message envelope
shared by the Portmap and VXI-11 responders: the call header, credentials and
verifier, and the handful of accepted-reply shapes this system ever sends.

Only what the scope actually issues is modeled: AUTH_NONE credentials, RPC
version 2, and the MSG_ACCEPTED reply path. Authentication failures and
version mismatches are out of scope per spec (the scope never triggers them).
*/
package oncrpc

import (
	"errors"
	"fmt"

	"github.com/bdube/bode/xdr"
)

// Message types (enum msg_type).
const (
	Call  uint32 = 0
	Reply uint32 = 1
)

// RPCVers2 is the only RPC version the scope speaks.
const RPCVers2 uint32 = 2

// Reply status (enum reply_stat).
const (
	MsgAccepted uint32 = 0
	MsgDenied   uint32 = 1
)

// Accept status (enum accept_stat).
const (
	Success      uint32 = 0
	ProgUnavail  uint32 = 1
	ProgMismatch uint32 = 2
	ProcUnavail  uint32 = 3
	GarbageArgs  uint32 = 4
	SystemErr    uint32 = 5
)

// AuthNone is the only auth flavor the scope uses.
const AuthNone uint32 = 0

// ErrNotACall is returned when a decoded message claims to be something
// other than an RPC call.
var ErrNotACall = errors.New("oncrpc: message is not a CALL")

// CallHeader is the decoded header of an RPC call, through the credentials
// and verifier; procedure-specific arguments follow immediately after it in
// the original buffer.
type CallHeader struct {
	XID  uint32
	Prog uint32
	Vers uint32
	Proc uint32
}

// DecodeCallHeader reads XID, message type (must be Call), RPC version,
// program/version/procedure numbers, and the credential and verifier
// opaque-auth pairs, leaving d positioned at the start of the
// procedure-specific arguments.
func DecodeCallHeader(d *xdr.Decoder) (CallHeader, error) {
	var h CallHeader
	xid, err := d.GetU32()
	if err != nil {
		return h, fmt.Errorf("oncrpc: xid: %w", err)
	}
	mtype, err := d.GetU32()
	if err != nil {
		return h, fmt.Errorf("oncrpc: msg type: %w", err)
	}
	if mtype != Call {
		return h, ErrNotACall
	}
	vers, err := d.GetU32()
	if err != nil {
		return h, fmt.Errorf("oncrpc: rpcvers: %w", err)
	}
	prog, err := d.GetU32()
	if err != nil {
		return h, fmt.Errorf("oncrpc: prog: %w", err)
	}
	progVers, err := d.GetU32()
	if err != nil {
		return h, fmt.Errorf("oncrpc: vers: %w", err)
	}
	proc, err := d.GetU32()
	if err != nil {
		return h, fmt.Errorf("oncrpc: proc: %w", err)
	}
	if _, err := decodeOpaqueAuth(d); err != nil {
		return h, fmt.Errorf("oncrpc: cred: %w", err)
	}
	if _, err := decodeOpaqueAuth(d); err != nil {
		return h, fmt.Errorf("oncrpc: verf: %w", err)
	}
	_ = vers // RPC version itself; the scope always sends 2 and callers don't branch on it
	h = CallHeader{XID: xid, Prog: prog, Vers: progVers, Proc: proc}
	return h, nil
}

// opaqueAuth is a flavor + opaque body pair, used for both credentials and
// verifier fields of a call or reply.
type opaqueAuth struct {
	Flavor uint32
	Body   []byte
}

func decodeOpaqueAuth(d *xdr.Decoder) (opaqueAuth, error) {
	var a opaqueAuth
	flavor, err := d.GetU32()
	if err != nil {
		return a, err
	}
	body, err := d.GetOpaque()
	if err != nil {
		return a, err
	}
	return opaqueAuth{Flavor: flavor, Body: body}, nil
}

// EncodeAcceptedReply writes the reply header for a MSG_ACCEPTED reply: XID,
// Reply message type, MsgAccepted, an AUTH_NONE verifier, and the given
// accept status. Procedure-specific results, if any, follow.
func EncodeAcceptedReply(e *xdr.Encoder, xid uint32, acceptStat uint32) {
	e.PutU32(xid)
	e.PutU32(Reply)
	e.PutU32(MsgAccepted)
	e.PutU32(AuthNone)
	e.PutU32(0) // zero-length verifier opaque body
	e.PutU32(acceptStat)
}
