package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	// ErrProtocol reports a response that breaks the upload protocol, such as a
	// session start without Location or an unparsable Range header.
	ErrProtocol = errors.New("upload protocol violation")

	// ErrSessionExpired reports that the resume probe did not answer 308. The
	// session URI is unusable and the upload has to start over from Init.
	ErrSessionExpired = errors.New("resumable session is no longer valid")

	// ErrRetriesExhausted reports that transient failures exceeded the retry policy.
	ErrRetriesExhausted = errors.New("transient failures exceeded retry limit")
)

// statusError converts an unexpected response into a *googleapi.Error carrying
// the status, headers and raw body, wrapped with the step that failed.
func statusError(step string, r Response) error {
	res := &http.Response{
		StatusCode: r.Status,
		Header:     r.Header,
		Body:       io.NopCloser(bytes.NewReader(r.Body)),
	}
	err := googleapi.CheckResponse(res)
	if err == nil {
		err = &googleapi.Error{
			Code:    r.Status,
			Message: fmt.Sprintf("unexpected status %d", r.Status),
			Body:    string(r.Body),
			Header:  r.Header,
		}
	}
	return fmt.Errorf("%s: %w", step, err)
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}
