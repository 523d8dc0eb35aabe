package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	drive "google.golang.org/api/drive/v2"

	"github.com/FranLegon/drive-upload/internal/api"
	"github.com/FranLegon/drive-upload/internal/content"
	"github.com/FranLegon/drive-upload/internal/logger"
	"github.com/FranLegon/drive-upload/internal/model"
	"github.com/FranLegon/drive-upload/internal/upload"
)

// Journal stores upload outcomes
type Journal interface {
	RecordUpload(ctx context.Context, rec *model.UploadRecord) error
}

// Item is one local file to upload
type Item struct {
	Path        string
	Title       string
	Description string
	MimeType    string
	ParentID    string
	// FileID replaces the content of an existing file instead of creating one
	FileID string
}

// Runner handles task orchestration
type Runner struct {
	client      api.CloudClient
	journal     Journal
	safeMode    bool
	concurrency int
	options     api.UploadOptions
	log         *logger.Tagger
}

// NewRunner creates a new task runner. In safe mode nothing is uploaded; the
// runner only logs what it would do.
func NewRunner(client api.CloudClient, journal Journal, safeMode bool) *Runner {
	return &Runner{
		client:      client,
		journal:     journal,
		safeMode:    safeMode,
		concurrency: 1,
		log:         logger.Tagged("Upload", client.GetUserEmail()),
	}
}

// SetConcurrency bounds how many files are uploaded at the same time
func (r *Runner) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	r.concurrency = n
}

// SetOptions sets the upload options used for every item
func (r *Runner) SetOptions(opts api.UploadOptions) {
	r.options = opts
}

// UploadAll uploads every item and journals each outcome. A failed item does
// not stop the others; all failures are returned together.
func (r *Runner) UploadAll(ctx context.Context, items []Item) ([]*model.UploadRecord, error) {
	r.log.Info("Uploading %d file(s) with concurrency %d...", len(items), r.concurrency)

	var (
		mu      sync.Mutex
		records []*model.UploadRecord
		errs    []error
	)

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for _, item := range items {
		item := item
		g.Go(func() error {
			rec, err := r.uploadOne(ctx, item)

			mu.Lock()
			defer mu.Unlock()
			if rec != nil {
				records = append(records, rec)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", item.Path, err))
			}
			return nil
		})
	}
	g.Wait()

	if len(errs) > 0 {
		r.log.Error("%d of %d upload(s) failed", len(errs), len(items))
		return records, errors.Join(errs...)
	}
	if !r.safeMode {
		r.log.Info("All uploads completed")
	}
	return records, nil
}

func (r *Runner) uploadOne(ctx context.Context, item Item) (*model.UploadRecord, error) {
	log := r.log.With(filepath.Base(item.Path))

	if r.safeMode {
		info, err := os.Stat(item.Path)
		if err != nil {
			return nil, err
		}
		if item.FileID != "" {
			log.DryRun("Would update file %s with %s (%d bytes)", item.FileID, item.Path, info.Size())
		} else {
			log.DryRun("Would upload %s (%d bytes)", item.Path, info.Size())
		}
		return nil, nil
	}

	src, err := content.Open(item.Path, item.MimeType)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	res := resourceFor(item)
	rec := &model.UploadRecord{
		Path:       item.Path,
		Title:      res.Title(),
		Size:       src.Size(),
		StartedAt:  time.Now(),
		AccountKey: r.client.GetUserEmail(),
	}
	if rec.Title == "" {
		rec.Title = src.Name()
	}

	var (
		f      *drive.File
		result upload.Result
	)
	if item.FileID != "" {
		f, result, err = r.client.Update(ctx, item.FileID, src, res, r.options)
	} else {
		f, result, err = r.client.Insert(ctx, src, res, r.options)
	}

	rec.Mode = result.Mode.String()
	rec.BytesSent = result.BytesSent
	rec.Retries = result.Retries
	rec.Duration = time.Since(rec.StartedAt)
	if err != nil {
		rec.Status = model.UploadFailed
		rec.Error = err.Error()
		log.Error("Upload failed after %d retries: %v", result.Retries, err)
	} else {
		rec.Status = model.UploadCompleted
		rec.FileID = f.Id
	}

	if r.journal != nil {
		// recorded even when ctx was cancelled
		if jErr := r.journal.RecordUpload(context.Background(), rec); jErr != nil {
			log.Warning("Failed to journal upload: %v", jErr)
		}
	}
	return rec, err
}

// resourceFor builds the metadata changes an item asks for
func resourceFor(item Item) *model.Resource {
	res := model.NewResource()
	if item.Title != "" {
		res.SetTitle(item.Title)
	}
	if item.Description != "" {
		res.SetDescription(item.Description)
	}
	if item.MimeType != "" {
		res.SetMimeType(item.MimeType)
	}
	if item.ParentID != "" {
		res.AddParent(item.ParentID)
	}
	return res
}
