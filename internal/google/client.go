package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v2"

	"github.com/FranLegon/drive-upload/internal/api"
	"github.com/FranLegon/drive-upload/internal/auth"
	"github.com/FranLegon/drive-upload/internal/content"
	"github.com/FranLegon/drive-upload/internal/logger"
	"github.com/FranLegon/drive-upload/internal/model"
	"github.com/FranLegon/drive-upload/internal/upload"
)

const (
	// DefaultUploadURL is the Drive v2 media upload endpoint
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v2/files"

	defaultFields = "id,title,mimeType,fileSize,md5Checksum,parents"
)

// ErrChecksumMismatch reports that the server stored different bytes than were sent
var ErrChecksumMismatch = errors.New("uploaded content checksum mismatch")

// Client uploads content to Google Drive for one account
type Client struct {
	account   *model.Account
	uploadURL string
	uploader  *upload.Uploader
	log       *logger.Tagger
}

var _ api.CloudClient = (*Client)(nil)

// NewClient creates a client authorized with the account's refresh token
func NewClient(ctx context.Context, account *model.Account, config *oauth2.Config, opts ...upload.Option) (*Client, error) {
	tokenSource := auth.NewTokenSource(config, account.RefreshToken)
	// Ensure token is valid and refreshed if needed
	if _, err := tokenSource.Token(); err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return NewClientWithHTTP(account, auth.HTTPClient(ctx, tokenSource), DefaultUploadURL, opts...), nil
}

// NewClientWithHTTP creates a client sending requests through httpClient to uploadURL
func NewClientWithHTTP(account *model.Account, httpClient upload.Doer, uploadURL string, opts ...upload.Option) *Client {
	log := logger.Tagged("Google", account.Email)
	opts = append([]upload.Option{upload.WithLogger(log)}, opts...)

	return &Client{
		account:   account,
		uploadURL: strings.TrimSuffix(uploadURL, "/"),
		uploader:  upload.New(httpClient, opts...),
		log:       log,
	}
}

// GetUserEmail returns the user's email
func (c *Client) GetUserEmail() string {
	return c.account.Email
}

// Insert uploads src as a new file. The title defaults to the source's file name.
func (c *Client) Insert(ctx context.Context, src content.Source, res *model.Resource, opts api.UploadOptions) (*drive.File, upload.Result, error) {
	if res == nil {
		res = model.NewResource()
	}
	if res.Title() == "" {
		if named, ok := src.(interface{ Name() string }); ok {
			res.SetTitle(named.Name())
		}
	}

	if len(opts.AddParents) > 0 || len(opts.RemoveParents) > 0 {
		c.log.Warning("Ignoring parent moves on a new file, set its parents instead")
		opts.AddParents, opts.RemoveParents = nil, nil
	}

	job := upload.Job{Content: src, ForceResumable: opts.ForceResumable, Kind: upload.Create}
	f, result, err := c.upload(ctx, c.uploadURL, job, res, opts)
	if err != nil {
		return nil, result, fmt.Errorf("failed to upload file: %w", err)
	}

	c.log.Info("Uploaded %s (ID: %s, %d bytes, %s)", f.Title, f.Id, src.Size(), result.Mode)
	return f, result, nil
}

// Update replaces the content of an existing file, and any modified metadata.
// opts.AddParents and opts.RemoveParents move it between folders.
func (c *Client) Update(ctx context.Context, fileID string, src content.Source, res *model.Resource, opts api.UploadOptions) (*drive.File, upload.Result, error) {
	if fileID == "" {
		return nil, upload.Result{}, errors.New("file ID is required")
	}
	if res == nil {
		res = model.NewResource()
	}

	job := upload.Job{Content: src, ForceResumable: opts.ForceResumable, Kind: upload.Update}
	target := c.uploadURL + "/" + url.PathEscape(fileID)
	f, result, err := c.upload(ctx, target, job, res, opts)
	if err != nil {
		return nil, result, fmt.Errorf("failed to update file content: %w", err)
	}

	c.log.Info("Updated %s (ID: %s, %d bytes, %s)", f.Title, f.Id, src.Size(), result.Mode)
	return f, result, nil
}

func (c *Client) upload(ctx context.Context, targetURL string, job upload.Job, res *model.Resource, opts api.UploadOptions) (*drive.File, upload.Result, error) {
	if opts.Fields == "" {
		opts.Fields = defaultFields
	}
	target := upload.Target{URL: targetURL, Params: opts.Params()}

	f, result, err := c.uploader.Upload(ctx, job, target, res)
	if err != nil {
		if upload.StatusCode(err) == http.StatusUnauthorized {
			c.log.Warning("Authorization rejected, the account may need to be added again")
		}
		return nil, result, err
	}

	if err := verifyChecksum(job.Content, f); err != nil {
		return f, result, err
	}
	return f, result, nil
}

// verifyChecksum compares the server's md5Checksum with the source, when
// both are available. Converted files carry no checksum.
func verifyChecksum(src content.Source, f *drive.File) error {
	hasher, ok := src.(content.Hasher)
	if !ok || f.Md5Checksum == "" {
		return nil
	}

	local, err := hasher.MD5()
	if err != nil {
		return fmt.Errorf("failed to hash local content: %w", err)
	}
	if !strings.EqualFold(local, f.Md5Checksum) {
		return fmt.Errorf("%w: local %s, remote %s (ID: %s)", ErrChecksumMismatch, local, f.Md5Checksum, f.Id)
	}
	return nil
}
