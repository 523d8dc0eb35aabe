// Package upload transmits file content to the Drive upload endpoint using
// simple, multipart or resumable requests.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	drive "google.golang.org/api/drive/v2"

	"github.com/FranLegon/drive-upload/internal/content"
	"github.com/FranLegon/drive-upload/internal/retry"
)

// Doer sends HTTP requests. *http.Client satisfies it, including the
// authenticated client built by oauth2.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Logger receives progress and retry messages.
type Logger interface {
	Debug(format string, v ...interface{})
	Warning(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})   {}
func (nopLogger) Warning(string, ...interface{}) {}

// ProgressFunc is called whenever the number of bytes the server holds changes.
type ProgressFunc func(sent, total int64)

// Target is the upload endpoint. Params are added to every request sent to
// it, next to uploadType.
type Target struct {
	URL    string
	Params url.Values
}

func (t Target) endpoint(mode Mode) (string, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return "", fmt.Errorf("invalid upload target %q: %w", t.URL, err)
	}
	q := u.Query()
	for key, values := range t.Params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	q.Set("uploadType", mode.UploadType())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Result summarizes how an upload went, whether or not it succeeded.
type Result struct {
	Mode       Mode
	BytesSent  int64
	Chunks     int
	Retries    int
	Restarts   int
	SessionURI string
}

// Uploader sends content with the strategy its size and metadata call for.
// It is safe for concurrent use; every Upload call owns its own session.
type Uploader struct {
	client    Doer
	chunkSize int64
	threshold int64
	policy    retry.Policy
	restarts  int
	log       Logger
	progress  ProgressFunc
}

type Option func(*Uploader)

func WithChunkSize(n int64) Option {
	return func(u *Uploader) { u.chunkSize = n }
}

func WithResumableThreshold(n int64) Option {
	return func(u *Uploader) { u.threshold = n }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(u *Uploader) { u.policy = p }
}

// WithSessionRestarts allows starting a new session up to n times after the
// current one expired.
func WithSessionRestarts(n int) Option {
	return func(u *Uploader) { u.restarts = n }
}

func WithLogger(l Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.log = l
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(u *Uploader) { u.progress = fn }
}

// New returns an Uploader sending requests through client.
func New(client Doer, opts ...Option) *Uploader {
	u := &Uploader{
		client:    client,
		chunkSize: DefaultChunkSize,
		threshold: DefaultResumableThreshold,
		policy:    retry.DefaultPolicy(),
		log:       nopLogger{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload sends the content of job to target together with the modified
// fields of meta, which may be nil. Unset job sizes take the uploader's values.
func (u *Uploader) Upload(ctx context.Context, job Job, target Target, meta Metadata) (*drive.File, Result, error) {
	if job.ChunkSize == 0 {
		job.ChunkSize = u.chunkSize
	}
	if job.ResumableThreshold == 0 {
		job.ResumableThreshold = u.threshold
	}
	if err := job.Validate(); err != nil {
		return nil, Result{}, err
	}

	res := Result{Mode: job.Mode(meta)}
	if err := ctx.Err(); err != nil {
		return nil, res, fmt.Errorf("upload cancelled: %w", err)
	}
	u.log.Debug("Uploading %d bytes (%s, %s)", job.Content.Size(), res.Mode, job.Kind)

	var (
		f   *drive.File
		err error
	)
	switch res.Mode {
	case ModeSimple:
		f, err = u.sendSimple(ctx, job, target, &res)
	case ModeMultipart:
		f, err = u.sendMultipart(ctx, job, target, meta, &res)
	default:
		f, err = u.sendResumable(ctx, job, target, meta, &res)
	}
	return f, res, err
}

// sendResumable runs sessions until one finishes, starting over from a new
// session while expired sessions stay within the restart budget.
func (u *Uploader) sendResumable(ctx context.Context, job Job, target Target, meta Metadata, res *Result) (*drive.File, error) {
	for {
		f, err := u.session(ctx, job, target, meta, res)
		if err == nil || !errors.Is(err, ErrSessionExpired) || res.Restarts >= u.restarts {
			return f, err
		}
		res.Restarts++
		u.log.Warning("Session expired, starting a new one (%d/%d): %v", res.Restarts, u.restarts, err)
	}
}

// exchange sends req and reads the whole response.
func (u *Uploader) exchange(req *http.Request) Response {
	resp, err := u.client.Do(req)
	if err != nil {
		return Response{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{Status: resp.StatusCode, Header: resp.Header, Err: fmt.Errorf("reading response: %w", err)}
	}
	return Response{Status: resp.StatusCode, Header: resp.Header, Body: body}
}

func (u *Uploader) reportProgress(sent, total int64) {
	if u.progress != nil {
		u.progress(sent, total)
	}
}

func decodeFile(body []byte) (*drive.File, error) {
	f := &drive.File{}
	if len(body) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(body, f); err != nil {
		return nil, fmt.Errorf("%w: decoding uploaded resource: %v", ErrProtocol, err)
	}
	return f, nil
}

// sizedBody returns a request body of exactly n bytes from src.
func sizedBody(src content.Source, n int64) io.Reader {
	if n == 0 {
		return http.NoBody
	}
	return src.Range(0, n)
}
