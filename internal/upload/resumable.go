package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	drive "google.golang.org/api/drive/v2"

	"github.com/FranLegon/drive-upload/internal/retry"
)

// session drives one resumable session from its start to a terminal state.
func (u *Uploader) session(ctx context.Context, job Job, target Target, meta Metadata, res *Result) (*drive.File, error) {
	b := u.policy.NewBackOff()
	s := NewState(job)

	for !s.Done() {
		if s.Transient != nil {
			u.log.Warning("Transient failure at offset %d/%d: %v", s.Offset, s.Total, s.Transient)
			if err := retry.Wait(ctx, b); err != nil {
				if errors.Is(err, retry.ErrExhausted) {
					return nil, fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, res.Retries, s.Transient)
				}
				return nil, fmt.Errorf("upload cancelled: %w", err)
			}
			res.Retries++
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("upload cancelled at offset %d: %w", s.Offset, err)
		}

		next := s.Next()
		req, err := u.sessionRequest(ctx, next, job, target, meta)
		if err != nil {
			return nil, err
		}
		if next.Kind == RequestChunk {
			u.log.Debug("Sending bytes %d-%d/%d", next.Start, next.End, next.Total)
			res.Chunks++
			res.BytesSent += next.Length()
		}

		prev := s.Offset
		s, err = Advance(s, u.exchange(req))
		if s.SessionURI != "" {
			res.SessionURI = s.SessionURI
		}
		if err != nil {
			return nil, err
		}
		if s.Offset != prev {
			u.reportProgress(s.Offset, s.Total)
		}
	}
	return s.File, nil
}

// sessionRequest builds the HTTP request for r. Every call creates a new
// request with a fresh body reader, so resent chunks never share state.
func (u *Uploader) sessionRequest(ctx context.Context, r Request, job Job, target Target, meta Metadata) (*http.Request, error) {
	switch r.Kind {
	case RequestStart:
		endpoint, err := target.endpoint(ModeResumable)
		if err != nil {
			return nil, err
		}
		var body []byte
		if len(modifiedFields(meta)) > 0 {
			if body, err = meta.PartialJSON(); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, r.Method, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		}
		req.Header.Set("X-Upload-Content-Type", job.Content.MimeType())
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(r.Total, 10))
		return req, nil

	case RequestChunk:
		req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, job.Content.Range(r.Start, r.Length()))
		if err != nil {
			return nil, err
		}
		req.ContentLength = r.Length()
		req.Header.Set("Content-Type", job.Content.MimeType())
		req.Header.Set("Content-Range", r.ContentRange())
		return req, nil

	case RequestFinalize, RequestProbe:
		req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.ContentLength = 0
		req.Header.Set("Content-Range", r.ContentRange())
		return req, nil

	default:
		return nil, fmt.Errorf("%w: no request for %s", ErrProtocol, r.Kind)
	}
}
