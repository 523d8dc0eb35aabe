package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/FranLegon/drive-upload/internal/content"
	"github.com/FranLegon/drive-upload/internal/model"
	"github.com/FranLegon/drive-upload/internal/retry"
)

const testTarget = "https://upload.test/upload/drive/v2/files"

func newTestUploader(d Doer, opts ...Option) *Uploader {
	base := []Option{
		WithChunkSize(256),
		WithResumableThreshold(4096),
		WithRetryPolicy(retry.Policy{MaxAttempts: 3}),
	}
	return New(d, append(base, opts...)...)
}

func resumableJob(data []byte) Job {
	return Job{Content: content.NewBytes(data, "application/octet-stream"), ForceResumable: true}
}

func TestResumableChunksPartitionContent(t *testing.T) {
	for _, size := range []int{1, 255, 256, 257, 1000, 1024} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			data := payload(size)
			srv := &sessionServer{}

			f, res, err := newTestUploader(srv).Upload(context.Background(), resumableJob(data), Target{URL: testTarget}, nil)
			require.NoError(t, err)
			assert.Equal(t, "file-1", f.Id)
			assert.Equal(t, data, srv.persisted)

			var next int64
			for _, cr := range chunkRanges(srv.requests) {
				var start, end, total int64
				_, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &total)
				require.NoError(t, err)
				assert.Equal(t, next, start, "gap or overlap at %s", cr)
				assert.Equal(t, int64(size), total)
				next = end + 1
			}
			assert.Equal(t, int64(size), next)
			assert.Equal(t, (size+255)/256, res.Chunks)
			assert.Equal(t, ModeResumable, res.Mode)
			assert.Zero(t, res.Retries)
		})
	}
}

func TestResumableSingleChunk(t *testing.T) {
	data := payload(100000)
	srv := &sessionServer{}
	u := New(srv, WithChunkSize(262144))

	_, res, err := u.Upload(context.Background(), resumableJob(data), Target{URL: testTarget}, nil)
	require.NoError(t, err)

	require.Len(t, srv.requests, 2)
	chunk := srv.requests[1]
	assert.Equal(t, http.MethodPut, chunk.Method)
	assert.Equal(t, "bytes 0-99999/100000", chunk.Header.Get("Content-Range"))
	assert.Equal(t, int64(100000), chunk.ContentLength)
	assert.Equal(t, "application/octet-stream", chunk.Header.Get("Content-Type"))
	assert.Equal(t, 1, res.Chunks)
}

func TestResumableFollowsPartialPersistence(t *testing.T) {
	data := payload(1000)
	srv := &sessionServer{persistCap: 100}

	_, _, err := newTestUploader(srv).Upload(context.Background(), resumableJob(data), Target{URL: testTarget}, nil)
	require.NoError(t, err)

	ranges := chunkRanges(srv.requests)
	require.GreaterOrEqual(t, len(ranges), 2)
	assert.Equal(t, "bytes 0-255/1000", ranges[0])
	assert.Equal(t, "bytes 100-355/1000", ranges[1])
	assert.Equal(t, data, srv.persisted)
}

func TestResumableStartRequest(t *testing.T) {
	data := payload(1000)
	meta := model.NewResource()
	meta.SetTitle("report.bin")
	srv := &sessionServer{}

	target := Target{URL: testTarget, Params: url.Values{"convert": {"false"}}}
	_, _, err := newTestUploader(srv).Upload(context.Background(), resumableJob(data), target, meta)
	require.NoError(t, err)

	start := srv.requests[0]
	assert.Equal(t, http.MethodPost, start.Method)
	assert.Equal(t, "resumable", start.URL.Query().Get("uploadType"))
	assert.Equal(t, "false", start.URL.Query().Get("convert"))
	assert.Equal(t, "application/octet-stream", start.Header.Get("X-Upload-Content-Type"))
	assert.Equal(t, "1000", start.Header.Get("X-Upload-Content-Length"))
	assert.Equal(t, "application/json; charset=UTF-8", start.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"title":"report.bin"}`, string(start.Body))

	for _, r := range srv.requests[1:] {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/session/1", r.URL.Path)
	}
}

func TestResumableStartWithoutMetadataHasEmptyBody(t *testing.T) {
	srv := &sessionServer{}

	job := resumableJob(payload(10))
	job.Kind = Update
	_, _, err := newTestUploader(srv).Upload(context.Background(), job, Target{URL: testTarget + "/abc"}, model.NewResource())
	require.NoError(t, err)

	start := srv.requests[0]
	assert.Equal(t, http.MethodPut, start.Method)
	assert.Zero(t, start.ContentLength)
	assert.Empty(t, start.Body)
	assert.Empty(t, start.Header.Get("Content-Type"))
}

func TestResumableEmptyContentIsFinalized(t *testing.T) {
	srv := &sessionServer{}

	f, res, err := newTestUploader(srv).Upload(context.Background(), resumableJob(nil), Target{URL: testTarget}, nil)
	require.NoError(t, err)
	assert.Equal(t, "file-1", f.Id)
	assert.Zero(t, res.Chunks)

	require.Len(t, srv.requests, 2)
	assert.Equal(t, "bytes */0", srv.requests[1].Header.Get("Content-Range"))
	assert.Zero(t, srv.requests[1].ContentLength)
}

func TestResumableResumesAfterServerError(t *testing.T) {
	data := payload(1000)
	srv := &sessionServer{chunkStatus: map[int]int{1: http.StatusServiceUnavailable}}

	f, res, err := newTestUploader(srv).Upload(context.Background(), resumableJob(data), Target{URL: testTarget}, nil)
	require.NoError(t, err)
	assert.Equal(t, "file-1", f.Id)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, data, srv.persisted)

	// start, chunk 0, failed chunk 1, probe, chunk 1 again
	probe := srv.requests[3]
	assert.Equal(t, http.MethodPut, probe.Method)
	assert.Equal(t, "bytes */1000", probe.Header.Get("Content-Range"))
	assert.Zero(t, probe.ContentLength)
	assert.Equal(t, "bytes 256-511/1000", srv.requests[4].Header.Get("Content-Range"))
}

func TestResumableResumesAfterTransportError(t *testing.T) {
	data := payload(600)
	srv := &sessionServer{chunkErr: map[int]error{0: errors.New("connection reset by peer")}}

	_, res, err := newTestUploader(srv).Upload(context.Background(), resumableJob(data), Target{URL: testTarget}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retries)

	ranges := chunkRanges(srv.requests)
	assert.Equal(t, []string{"bytes 0-255/600", "bytes 0-255/600", "bytes 256-511/600", "bytes 512-599/600"}, ranges)
}

func TestResumableProbeFailureFails(t *testing.T) {
	data := payload(1000)
	srv := &sessionServer{
		chunkStatus: map[int]int{1: http.StatusInternalServerError},
		probeStatus: []int{http.StatusNotFound},
	}

	f, res, err := newTestUploader(srv).Upload(context.Background(), resumableJob(data), Target{URL: testTarget}, nil)
	require.Error(t, err)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Zero(t, res.Restarts)

	// Nothing is sent after the failed probe.
	require.Len(t, srv.requests, 4)
	assert.Equal(t, "bytes */1000", srv.requests[3].Header.Get("Content-Range"))
}

func TestResumableRestartsExpiredSession(t *testing.T) {
	data := payload(1000)
	srv := &sessionServer{
		chunkStatus: map[int]int{1: http.StatusInternalServerError},
		probeStatus: []int{http.StatusNotFound},
	}

	f, res, err := newTestUploader(srv, WithSessionRestarts(1)).Upload(context.Background(), resumableJob(data), Target{URL: testTarget}, nil)
	require.NoError(t, err)
	assert.Equal(t, "file-2", f.Id)
	assert.Equal(t, 1, res.Restarts)
	assert.Equal(t, data, srv.persisted)

	for _, r := range srv.requests[4:] {
		assert.NotEqual(t, "/session/1", r.URL.Path, "stale session reused")
	}
}

func TestResumableRetriesAreBounded(t *testing.T) {
	data := payload(1000)
	failing := map[int]int{}
	for i := 0; i < 10; i++ {
		failing[i] = http.StatusServiceUnavailable
	}
	srv := &sessionServer{chunkStatus: failing}
	u := newTestUploader(srv, WithRetryPolicy(retry.Policy{MaxAttempts: 2}))

	_, res, err := u.Upload(context.Background(), resumableJob(data), Target{URL: testTarget}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, 3, srv.chunks)
}

func TestResumableStopsWhenCancelled(t *testing.T) {
	data := payload(1000)
	srv := &sessionServer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u := newTestUploader(srv, WithProgress(func(sent, total int64) { cancel() }))
	_, _, err := u.Upload(ctx, resumableJob(data), Target{URL: testTarget}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// start and the first chunk only
	assert.Len(t, srv.requests, 2)
}

func TestResumableStartErrors(t *testing.T) {
	t.Run("missing location", func(t *testing.T) {
		d := &funcDoer{fn: func(recorded) (*http.Response, error) {
			return reply(http.StatusOK, nil, ""), nil
		}}
		_, _, err := newTestUploader(d).Upload(context.Background(), resumableJob(payload(10)), Target{URL: testTarget}, nil)
		assert.ErrorIs(t, err, ErrProtocol)
		assert.Len(t, d.requests, 1)
	})

	t.Run("forbidden", func(t *testing.T) {
		d := &funcDoer{fn: func(recorded) (*http.Response, error) {
			return reply(http.StatusForbidden, nil, `{"error":{"code":403,"message":"insufficient permissions"}}`), nil
		}}
		_, _, err := newTestUploader(d).Upload(context.Background(), resumableJob(payload(10)), Target{URL: testTarget}, nil)
		require.Error(t, err)

		var gErr *googleapi.Error
		require.ErrorAs(t, err, &gErr)
		assert.Equal(t, http.StatusForbidden, gErr.Code)
		assert.Equal(t, "insufficient permissions", gErr.Message)
		assert.Len(t, d.requests, 1)
	})

	t.Run("server error is not retried", func(t *testing.T) {
		starts := 0
		d := &funcDoer{fn: func(r recorded) (*http.Response, error) {
			if r.URL.Path == "/session/1" {
				return reply(http.StatusOK, nil, `{"id":"file-1"}`), nil
			}
			starts++
			if starts == 1 {
				return reply(http.StatusServiceUnavailable, nil, "backend unavailable"), nil
			}
			return reply(http.StatusOK, http.Header{"Location": {"https://upload.test/session/1"}}, ""), nil
		}}
		_, res, err := newTestUploader(d).Upload(context.Background(), resumableJob(payload(10)), Target{URL: testTarget}, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
		assert.Zero(t, res.Retries)
		assert.Len(t, d.requests, 1)
	})

	t.Run("transport error is not retried", func(t *testing.T) {
		cause := errors.New("connection refused")
		d := &funcDoer{fn: func(recorded) (*http.Response, error) {
			return nil, cause
		}}
		_, res, err := newTestUploader(d).Upload(context.Background(), resumableJob(payload(10)), Target{URL: testTarget}, nil)
		assert.ErrorIs(t, err, cause)
		assert.Zero(t, res.Retries)
		assert.Len(t, d.requests, 1)
	})
}

func TestSimpleUpload(t *testing.T) {
	data := []byte("hello world")
	d := &funcDoer{fn: func(recorded) (*http.Response, error) {
		return reply(http.StatusOK, nil, `{"id":"simple-1"}`), nil
	}}

	var progressed int64
	u := newTestUploader(d, WithProgress(func(sent, total int64) { progressed = sent }))
	f, res, err := u.Upload(context.Background(), Job{Content: content.NewBytes(data, "text/plain")}, Target{URL: testTarget}, nil)
	require.NoError(t, err)
	assert.Equal(t, "simple-1", f.Id)
	assert.Equal(t, ModeSimple, res.Mode)
	assert.Equal(t, int64(11), progressed)

	require.Len(t, d.requests, 1)
	r := d.requests[0]
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "media", r.URL.Query().Get("uploadType"))
	assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
	assert.Equal(t, int64(11), r.ContentLength)
	assert.Equal(t, data, r.Body)
}

func TestSimpleUploadSuccessStatusDependsOnKind(t *testing.T) {
	statuses := []int{http.StatusOK, http.StatusCreated}
	for _, kind := range []Kind{Create, Update} {
		for _, status := range statuses {
			status := status
			d := &funcDoer{fn: func(recorded) (*http.Response, error) {
				return reply(status, nil, `{"id":"x"}`), nil
			}}
			job := Job{Content: content.NewBytes([]byte("abc"), "text/plain"), Kind: kind}
			_, _, err := newTestUploader(d).Upload(context.Background(), job, Target{URL: testTarget}, nil)

			if status == kind.SuccessStatus() {
				assert.NoError(t, err, "%s with %d", kind, status)
			} else {
				assert.Error(t, err, "%s with %d", kind, status)
				assert.Equal(t, status, StatusCode(err))
			}
			assert.Equal(t, kind.Method(), d.requests[0].Method)
		}
	}
}

func TestSimpleUploadIsNotRetried(t *testing.T) {
	d := &funcDoer{fn: func(recorded) (*http.Response, error) {
		return reply(http.StatusInternalServerError, nil, "backend error"), nil
	}}

	_, _, err := newTestUploader(d).Upload(context.Background(), Job{Content: content.NewBytes([]byte("abc"), "text/plain")}, Target{URL: testTarget}, nil)
	require.Error(t, err)

	var gErr *googleapi.Error
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, http.StatusInternalServerError, gErr.Code)
	assert.Equal(t, "backend error", gErr.Body)
	assert.Len(t, d.requests, 1)
}

func TestMultipartUpload(t *testing.T) {
	data := []byte("some file content")
	meta := model.NewResource()
	meta.SetTitle("notes.txt")
	meta.AddParent("folder-1")

	d := &funcDoer{fn: func(recorded) (*http.Response, error) {
		return reply(http.StatusOK, nil, `{"id":"multi-1","title":"notes.txt"}`), nil
	}}

	f, res, err := newTestUploader(d).Upload(context.Background(), Job{Content: content.NewBytes(data, "text/plain")}, Target{URL: testTarget}, meta)
	require.NoError(t, err)
	assert.Equal(t, "multi-1", f.Id)
	assert.Equal(t, ModeMultipart, res.Mode)

	require.Len(t, d.requests, 1)
	r := d.requests[0]
	assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
	assert.Equal(t, int64(len(r.Body)), r.ContentLength)

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/related", mediaType)
	require.NotEmpty(t, params["boundary"])

	mr := multipart.NewReader(bytes.NewReader(r.Body), params["boundary"])

	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "application/json; charset=UTF-8", part.Header.Get("Content-Type"))
	var sent map[string]interface{}
	require.NoError(t, json.NewDecoder(part).Decode(&sent))
	assert.Len(t, sent, 2)
	assert.Equal(t, "notes.txt", sent["title"])

	part, err = mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "text/plain", part.Header.Get("Content-Type"))
	got, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultipartBoundaryIsUnique(t *testing.T) {
	src := content.NewBytes([]byte("x"), "text/plain")
	_, _, first, err := multipartBody([]byte(`{}`), src)
	require.NoError(t, err)
	_, _, second, err := multipartBody([]byte(`{}`), src)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestUploadRejectsInvalidJob(t *testing.T) {
	u := New(&funcDoer{})

	_, _, err := u.Upload(context.Background(), Job{}, Target{URL: testTarget}, nil)
	assert.Error(t, err)

	_, _, err = u.Upload(context.Background(), Job{Content: content.NewBytes([]byte("a"), ""), ChunkSize: -1}, Target{URL: testTarget}, nil)
	assert.Error(t, err)
}
