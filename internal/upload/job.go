package upload

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/FranLegon/drive-upload/internal/content"
)

const (
	// DefaultChunkSize is the resumable chunk size, 256 KiB.
	DefaultChunkSize int64 = 256 * 1024
	// DefaultResumableThreshold is the size from which uploads become resumable, 5 MiB.
	DefaultResumableThreshold int64 = 5 * 1024 * 1024
)

// Kind tells whether an upload creates a new file or replaces the content of
// an existing one.
type Kind int

const (
	Create Kind = iota
	Update
)

func (k Kind) String() string {
	if k == Update {
		return "update"
	}
	return "create"
}

// Method is the HTTP method of the single request or the session start.
func (k Kind) Method() string {
	if k == Update {
		return http.MethodPut
	}
	return http.MethodPost
}

// SuccessStatus is the status a simple or multipart upload answers with.
func (k Kind) SuccessStatus() int {
	if k == Update {
		return http.StatusCreated
	}
	return http.StatusOK
}

// Job describes a single upload call.
type Job struct {
	Content            content.Source
	ChunkSize          int64
	ResumableThreshold int64
	ForceResumable     bool
	Kind               Kind
}

// Validate checks the invariants of the job.
func (j Job) Validate() error {
	if j.Content == nil {
		return errors.New("upload job has no content")
	}
	if j.Content.Size() < 0 {
		return fmt.Errorf("invalid content length %d", j.Content.Size())
	}
	if j.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", j.ChunkSize)
	}
	return nil
}

// Mode returns the strategy the job will be sent with.
func (j Job) Mode(meta Metadata) Mode {
	return SelectMode(j.Content.Size(), len(modifiedFields(meta)) == 0, j.ForceResumable, j.ResumableThreshold)
}

// Metadata is the resource description sent alongside the content. Only the
// modified fields are encoded.
type Metadata interface {
	ModifiedFields() []string
	PartialJSON() ([]byte, error)
}

func modifiedFields(meta Metadata) []string {
	if meta == nil {
		return nil
	}
	return meta.ModifiedFields()
}
