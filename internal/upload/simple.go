package upload

import (
	"context"
	"fmt"
	"net/http"

	drive "google.golang.org/api/drive/v2"
)

// sendSimple sends the raw content in one request.
func (u *Uploader) sendSimple(ctx context.Context, job Job, target Target, res *Result) (*drive.File, error) {
	endpoint, err := target.endpoint(ModeSimple)
	if err != nil {
		return nil, err
	}

	size := job.Content.Size()
	req, err := http.NewRequestWithContext(ctx, job.Kind.Method(), endpoint, sizedBody(job.Content, size))
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", job.Content.MimeType())

	return u.single(req, job, size, res)
}

// single sends a request carrying the whole content and expects the
// success status of the job kind. Failures are never retried.
func (u *Uploader) single(req *http.Request, job Job, size int64, res *Result) (*drive.File, error) {
	step := res.Mode.String() + " upload"

	resp := u.exchange(req)
	res.Chunks = 1
	res.BytesSent = size
	if resp.Err != nil {
		return nil, fmt.Errorf("%s: %w", step, resp.Err)
	}
	if resp.Status != job.Kind.SuccessStatus() {
		return nil, statusError(step, resp)
	}

	f, err := decodeFile(resp.Body)
	if err != nil {
		return nil, err
	}
	u.reportProgress(job.Content.Size(), job.Content.Size())
	return f, nil
}
