package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/google/uuid"
	drive "google.golang.org/api/drive/v2"

	"github.com/FranLegon/drive-upload/internal/content"
)

// sendMultipart sends the metadata and the content in one multipart/related request.
func (u *Uploader) sendMultipart(ctx context.Context, job Job, target Target, meta Metadata, res *Result) (*drive.File, error) {
	endpoint, err := target.endpoint(ModeMultipart)
	if err != nil {
		return nil, err
	}
	metadata, err := meta.PartialJSON()
	if err != nil {
		return nil, err
	}

	body, length, contentType, err := multipartBody(metadata, job.Content)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, job.Kind.Method(), endpoint, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", contentType)

	return u.single(req, job, length, res)
}

// multipartBody streams a two-part related body: the JSON metadata followed
// by the content. Only the part framing is buffered.
func multipartBody(metadata []byte, src content.Source) (io.Reader, int64, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(uuid.NewString()); err != nil {
		return nil, 0, "", fmt.Errorf("failed to set boundary: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, 0, "", err
	}
	if _, err := part.Write(metadata); err != nil {
		return nil, 0, "", err
	}

	h = make(textproto.MIMEHeader)
	h.Set("Content-Type", src.MimeType())
	if _, err := w.CreatePart(h); err != nil {
		return nil, 0, "", err
	}
	head := bytes.Clone(buf.Bytes())

	buf.Reset()
	if err := w.Close(); err != nil {
		return nil, 0, "", err
	}
	tail := bytes.Clone(buf.Bytes())

	size := src.Size()
	body := io.MultiReader(bytes.NewReader(head), src.Range(0, size), bytes.NewReader(tail))
	length := int64(len(head)) + size + int64(len(tail))
	contentType := fmt.Sprintf("multipart/related; boundary=%q", w.Boundary())
	return body, length, contentType, nil
}
