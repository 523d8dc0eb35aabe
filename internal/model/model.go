package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	drive "google.golang.org/api/drive/v2"
)

// Account represents an authorized Google Drive account
type Account struct {
	Email        string `json:"email"`
	RefreshToken string `json:"refresh_token"`
	IsDefault    bool   `json:"is_default"`
}

// Resource is the metadata of a remote file together with the set of fields
// the caller changed. Only changed fields are sent to the server. The zero
// value is an empty resource.
type Resource struct {
	File     *drive.File
	modified map[string]struct{}
}

// NewResource returns an empty resource with no modified fields.
func NewResource() *Resource {
	return &Resource{
		File:     &drive.File{},
		modified: make(map[string]struct{}),
	}
}

func (r *Resource) file() *drive.File {
	if r.File == nil {
		r.File = &drive.File{}
	}
	return r.File
}

func (r *Resource) mark(jsonName, goName string) {
	if r.modified == nil {
		r.modified = make(map[string]struct{})
	}
	r.modified[jsonName] = struct{}{}
	file := r.file()
	for _, f := range file.ForceSendFields {
		if f == goName {
			return
		}
	}
	file.ForceSendFields = append(file.ForceSendFields, goName)
}

func (r *Resource) SetTitle(title string) {
	r.file().Title = title
	r.mark("title", "Title")
}

func (r *Resource) SetDescription(description string) {
	r.file().Description = description
	r.mark("description", "Description")
}

func (r *Resource) SetMimeType(mimeType string) {
	r.file().MimeType = mimeType
	r.mark("mimeType", "MimeType")
}

// AddParent appends a parent folder reference.
func (r *Resource) AddParent(folderID string) {
	f := r.file()
	f.Parents = append(f.Parents, &drive.ParentReference{Id: folderID})
	r.mark("parents", "Parents")
}

func (r *Resource) SetModifiedDate(t time.Time) {
	r.file().ModifiedDate = t.UTC().Format(time.RFC3339Nano)
	r.mark("modifiedDate", "ModifiedDate")
}

// SetProperty stores a custom key/value property on the file.
func (r *Resource) SetProperty(key, value string) {
	f := r.file()
	f.Properties = append(f.Properties, &drive.Property{Key: key, Value: value, Visibility: "PRIVATE"})
	r.mark("properties", "Properties")
}

// Title returns the title currently set on the resource.
func (r *Resource) Title() string {
	if r.File == nil {
		return ""
	}
	return r.File.Title
}

// ModifiedFields returns the JSON names of the changed fields, sorted.
func (r *Resource) ModifiedFields() []string {
	fields := make([]string, 0, len(r.modified))
	for f := range r.modified {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// PartialJSON encodes only the modified fields of the resource.
func (r *Resource) PartialJSON() ([]byte, error) {
	full, err := json.Marshal(r.file())
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(full, &all); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}

	partial := make(map[string]json.RawMessage, len(r.modified))
	for field := range r.modified {
		if v, ok := all[field]; ok {
			partial[field] = v
		}
	}
	return json.Marshal(partial)
}

// UploadStatus is the final state of a journaled upload
type UploadStatus string

const (
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

// UploadRecord is one entry of the local upload journal
type UploadRecord struct {
	ID         string        `json:"id"`
	Path       string        `json:"path"`
	Title      string        `json:"title"`
	FileID     string        `json:"file_id"`
	Mode       string        `json:"mode"`
	Size       int64         `json:"size"`
	BytesSent  int64         `json:"bytes_sent"`
	Retries    int           `json:"retries"`
	Status     UploadStatus  `json:"status"`
	Error      string        `json:"error"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	AccountKey string        `json:"account"`
}
