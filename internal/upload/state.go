package upload

import (
	"fmt"
	"net/http"

	drive "google.golang.org/api/drive/v2"
)

// maxStalls is how many consecutive 308 answers without progress are
// tolerated before the session is considered broken.
const maxStalls = 3

// Phase is the position of a resumable upload in its protocol.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseTransmitting
	PhaseResuming
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseTransmitting:
		return "transmitting"
	case PhaseResuming:
		return "resuming"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the transfer state of one resumable session. It is a value:
// Advance returns the next state and never mutates its input.
type State struct {
	Phase      Phase
	Offset     int64
	Total      int64
	ChunkSize  int64
	SessionURI string
	Method     string

	// Transient holds the cause of the last transient failure. While it is
	// set the next request has to wait for a retry slot.
	Transient error

	File   *drive.File
	stalls int
}

// NewState returns the initial state of a resumable upload for job.
func NewState(job Job) State {
	return State{
		Phase:     PhaseInit,
		Total:     job.Content.Size(),
		ChunkSize: job.ChunkSize,
		Method:    job.Kind.Method(),
	}
}

// RequestKind identifies the exchange a state asks for.
type RequestKind int

const (
	RequestNone RequestKind = iota
	RequestStart
	RequestChunk
	RequestFinalize
	RequestProbe
)

func (k RequestKind) String() string {
	switch k {
	case RequestStart:
		return "start session"
	case RequestChunk:
		return "upload chunk"
	case RequestFinalize:
		return "finalize session"
	case RequestProbe:
		return "probe session"
	default:
		return "none"
	}
}

// Request is the next exchange derived from a State. URL is empty for
// RequestStart, which goes to the upload target instead of the session.
// Start and End are inclusive byte bounds of a chunk.
type Request struct {
	Kind   RequestKind
	Method string
	URL    string
	Start  int64
	End    int64
	Total  int64
}

// Length is the number of content bytes the request carries.
func (r Request) Length() int64 {
	if r.Kind != RequestChunk {
		return 0
	}
	return r.End - r.Start + 1
}

// ContentRange is the Content-Range header of a session request.
func (r Request) ContentRange() string {
	switch r.Kind {
	case RequestChunk:
		return contentRange(r.Start, r.End, r.Total)
	case RequestFinalize, RequestProbe:
		return statusRange(r.Total)
	default:
		return ""
	}
}

// Response is what the transport returned for a Request. Err is set when no
// response arrived at all.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Err    error
}

// Next returns the request the state calls for. Terminal states return a
// request of kind RequestNone.
func (s State) Next() Request {
	switch s.Phase {
	case PhaseInit:
		return Request{Kind: RequestStart, Method: s.Method, Total: s.Total}
	case PhaseTransmitting:
		if s.Offset >= s.Total {
			return Request{Kind: RequestFinalize, Method: s.Method, URL: s.SessionURI, Total: s.Total}
		}
		end := s.Offset + s.ChunkSize
		if end > s.Total {
			end = s.Total
		}
		return Request{
			Kind:   RequestChunk,
			Method: s.Method,
			URL:    s.SessionURI,
			Start:  s.Offset,
			End:    end - 1,
			Total:  s.Total,
		}
	case PhaseResuming:
		return Request{Kind: RequestProbe, Method: http.MethodPut, URL: s.SessionURI, Total: s.Total}
	default:
		return Request{Kind: RequestNone}
	}
}

// Done reports whether s is terminal.
func (s State) Done() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseFailed
}

// Advance applies the response to the request s.Next() asked for and
// returns the following state. A non-nil error always comes with a Failed
// state.
func Advance(s State, resp Response) (State, error) {
	switch s.Phase {
	case PhaseInit:
		return advanceInit(s, resp)
	case PhaseTransmitting:
		return advanceTransmit(s, resp)
	case PhaseResuming:
		return advanceProbe(s, resp)
	default:
		return s, fmt.Errorf("%w: no transition from %s", ErrProtocol, s.Phase)
	}
}

// advanceInit handles the answer to the session start request. Anything but
// 200 with a Location fails the upload without a retry.
func advanceInit(s State, resp Response) (State, error) {
	s.Transient = nil
	if resp.Err != nil {
		return fail(s, fmt.Errorf("%s: %w", RequestStart, resp.Err))
	}
	if resp.Status != http.StatusOK {
		return fail(s, statusError(RequestStart.String(), resp))
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return fail(s, fmt.Errorf("%w: session start returned no Location", ErrProtocol))
	}

	s.SessionURI = location
	s.Method = http.MethodPut
	s.Offset = 0
	s.Phase = PhaseTransmitting
	return s, nil
}

func advanceTransmit(s State, resp Response) (State, error) {
	kind := s.Next().Kind
	if transient(resp) {
		s.Transient = transientCause(kind, resp)
		s.Phase = PhaseResuming
		return s, nil
	}
	s.Transient = nil

	switch resp.Status {
	case http.StatusOK, http.StatusCreated:
		return complete(s, resp)
	case http.StatusPermanentRedirect:
		return persisted(s, resp)
	default:
		return fail(s, statusError(kind.String(), resp))
	}
}

// persisted moves the offset to what a 308 says the server holds.
func persisted(s State, resp Response) (State, error) {
	offset, err := persistedOffset(resp.Header)
	if err != nil {
		return fail(s, err)
	}
	if offset > s.Total {
		return fail(s, fmt.Errorf("%w: server reports %d bytes of %d", ErrProtocol, offset, s.Total))
	}

	if offset > s.Offset {
		s.stalls = 0
	} else {
		s.stalls++
		if s.stalls > maxStalls {
			return fail(s, fmt.Errorf("%w: no progress at offset %d after %d attempts", ErrProtocol, offset, s.stalls))
		}
	}
	s.Offset = offset
	s.Phase = PhaseTransmitting
	return s, nil
}

func persistedOffset(h http.Header) (int64, error) {
	upper, ok, err := parseRange(h.Get("Range"))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return upper + 1, nil
}

func complete(s State, resp Response) (State, error) {
	f, err := decodeFile(resp.Body)
	if err != nil {
		return fail(s, err)
	}
	s.File = f
	s.Offset = s.Total
	s.Phase = PhaseCompleted
	return s, nil
}

func fail(s State, err error) (State, error) {
	s.Phase = PhaseFailed
	return s, err
}

func transient(resp Response) bool {
	return resp.Err != nil || resp.Status >= http.StatusInternalServerError
}

func transientCause(kind RequestKind, resp Response) error {
	if resp.Err != nil {
		return fmt.Errorf("%s: %w", kind, resp.Err)
	}
	return statusError(kind.String(), resp)
}
