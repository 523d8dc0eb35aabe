package api

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	drive "google.golang.org/api/drive/v2"

	"github.com/FranLegon/drive-upload/internal/content"
	"github.com/FranLegon/drive-upload/internal/model"
	"github.com/FranLegon/drive-upload/internal/upload"
)

// CloudClient defines the upload operations of a storage account
type CloudClient interface {
	// Account
	GetUserEmail() string

	// Content upload
	Insert(ctx context.Context, src content.Source, res *model.Resource, opts UploadOptions) (*drive.File, upload.Result, error)
	Update(ctx context.Context, fileID string, src content.Source, res *model.Resource, opts UploadOptions) (*drive.File, upload.Result, error)
}

// UploadOptions are the optional parameters of an insert or update
type UploadOptions struct {
	Convert                   bool
	OCR                       bool
	OCRLanguage               string
	Pinned                    bool
	UseContentAsIndexableText bool
	ForceResumable            bool
	// AddParents and RemoveParents move the file between folders. Only an
	// update honors them.
	AddParents    []string
	RemoveParents []string
	// Fields selects the parts of the resource returned by the server
	Fields string
}

// Params renders the options as upload query parameters. Unset options are omitted.
func (o UploadOptions) Params() url.Values {
	params := url.Values{}
	setBool := func(key string, v bool) {
		if v {
			params.Set(key, strconv.FormatBool(v))
		}
	}
	setBool("convert", o.Convert)
	setBool("ocr", o.OCR)
	setBool("pinned", o.Pinned)
	setBool("useContentAsIndexableText", o.UseContentAsIndexableText)
	if o.OCR && o.OCRLanguage != "" {
		params.Set("ocrLanguage", o.OCRLanguage)
	}
	if len(o.AddParents) > 0 {
		params.Set("addParents", strings.Join(o.AddParents, ","))
	}
	if len(o.RemoveParents) > 0 {
		params.Set("removeParents", strings.Join(o.RemoveParents, ","))
	}
	if o.Fields != "" {
		params.Set("fields", o.Fields)
	}
	return params
}
