/*Package diagsrv serves a small read-only HTTP diagnostics surface: the
current Portmap/VXI-11 port in rotation, and the state of the AWG channels
touched so far. It has no bearing on the VXI-11/Portmap wire protocol
itself — it exists purely so an operator can see what the responder and
dispatcher currently believe, without needing a VXI-11 client of their own.

Grounded on the teacher's server.RouteTable/HTTPBinder pattern
(server/server.go) and generichttp's GetFloat-style "call a getter, wrap the
result as JSON" handlers (generichttp/generichttp.go), rebuilt on
github.com/go-chi/chi's router instead of the default ServeMux so that
dependency earns a real place in this tree.
*/
package diagsrv

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/bdube/bode/awg"
	"github.com/bdube/bode/vxi11"
)

// Server answers /status and /channels with a snapshot of the responder's
// live state.
type Server struct {
	Ports *vxi11.PortState
	Bank  *awg.ChannelBank
	Log   *log.Logger

	router chi.Router
}

// New builds a Server and binds its routes. If logger is nil, log.Default()
// is used.
func New(ports *vxi11.PortState, bank *awg.ChannelBank, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{Ports: ports, Bank: bank, Log: logger}
	s.router = s.bindRoutes()
	return s
}

// bindRoutes builds the chi.Router serving this diagnostics surface,
// mirroring the teacher's Server.BindRoutes in shape (a route table handed
// to the multiplexer) but targeting a chi.Router instead of the stdlib
// DefaultServeMux.
func (s *Server) bindRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Get("/channels", s.handleChannels)
	r.Get("/channels/{n}", s.handleChannel)
	return r
}

// ServeHTTP lets Server be mounted directly with http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// statusPayload is the /status response shape.
type statusPayload struct {
	ListeningPort int `json:"listening_port"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusPayload{ListeningPort: s.Ports.Current()})
}

// channelPayload is one channel's state, JSON-shaped for operator
// consumption rather than for anything the scope parses.
type channelPayload struct {
	Channel     int     `json:"channel"`
	Waveform    string  `json:"waveform"`
	FrequencyHz float64 `json:"frequency_hz"`
	AmplitudeVpp float64 `json:"amplitude_vpp"`
	OffsetV     float64 `json:"offset_v"`
	PhaseDeg    float64 `json:"phase_deg"`
	HighZ       bool    `json:"high_z"`
	OutputOn    bool    `json:"output_on"`
}

func toPayload(ch int, c awg.Channel) channelPayload {
	return channelPayload{
		Channel:      ch,
		Waveform:     c.Waveform.String(),
		FrequencyHz:  c.FrequencyHz,
		AmplitudeVpp: c.AmplitudeVpp,
		OffsetV:      c.OffsetV,
		PhaseDeg:     c.PhaseDeg,
		HighZ:        c.Load == awg.LoadHighZ,
		OutputOn:     c.OutputOn,
	}
}

// handleChannels lists the channels among 1-4 that the dispatcher has
// actually touched; a touched channel above 4 is not listed here, though
// /channels/{n} still reports it. It reads via Snapshot rather than Channel so that hitting this endpoint
// can never race the dispatcher into creating a channel mid-sweep.
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	var out []channelPayload
	for ch := 1; ch <= 4; ch++ {
		if c, ok := s.Bank.Snapshot(ch); ok {
			out = append(out, toPayload(ch, c))
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	n := chi.URLParam(r, "n")
	ch, err := parsePositiveInt(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, ok := s.Bank.Snapshot(ch)
	if !ok {
		http.Error(w, "diagsrv: channel not yet referenced", http.StatusNotFound)
		return
	}
	writeJSON(w, toPayload(ch, c))
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, errInvalidChannel
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errInvalidChannel
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

var errInvalidChannel = &diagError{"diagsrv: invalid channel number"}

type diagError struct{ msg string }

func (e *diagError) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
