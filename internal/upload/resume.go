package upload

import (
	"fmt"
	"net/http"
)

// advanceProbe handles the answer to a status probe sent after a transient
// failure. Only 308 keeps the session alive; a 200 or 201 means the server
// had already finalized the upload.
func advanceProbe(s State, resp Response) (State, error) {
	if resp.Err != nil {
		s.Transient = transientCause(RequestProbe, resp)
		return s, nil
	}
	s.Transient = nil

	switch resp.Status {
	case http.StatusPermanentRedirect:
		offset, err := persistedOffset(resp.Header)
		if err != nil {
			return fail(s, err)
		}
		if offset > s.Total {
			return fail(s, fmt.Errorf("%w: server reports %d bytes of %d", ErrProtocol, offset, s.Total))
		}
		s.Offset = offset
		s.stalls = 0
		s.Phase = PhaseTransmitting
		return s, nil
	case http.StatusOK, http.StatusCreated:
		return complete(s, resp)
	default:
		s.SessionURI = ""
		return fail(s, fmt.Errorf("%w: %w", ErrSessionExpired, statusError(RequestProbe.String(), resp)))
	}
}
