// Package content provides the byte sources an upload reads from.
package content

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/FranLegon/drive-upload/internal/crypto"
)

// Source exposes the total length, MIME type and range reads over file bytes.
// Range returns an independent reader for [off, off+n), so a range can be
// read again when a chunk has to be resent.
type Source interface {
	Size() int64
	MimeType() string
	Range(off, n int64) io.Reader
}

// Hasher is implemented by sources that can compute their MD5 digest.
type Hasher interface {
	MD5() (string, error)
}

// File is a Source backed by a local file.
type File struct {
	f        *os.File
	name     string
	size     int64
	mimeType string
}

// Open opens path for uploading. An empty mimeType is detected from the
// file contents.
func Open(path, mimeType string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	if mimeType == "" {
		mtype, err := mimetype.DetectReader(io.NewSectionReader(f, 0, info.Size()))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to detect content type of %s: %w", path, err)
		}
		mimeType = mtype.String()
	}

	return &File{
		f:        f,
		name:     filepath.Base(path),
		size:     info.Size(),
		mimeType: mimeType,
	}, nil
}

func (s *File) Size() int64      { return s.size }
func (s *File) MimeType() string { return s.mimeType }

// Name returns the base name of the file.
func (s *File) Name() string { return s.name }

func (s *File) Range(off, n int64) io.Reader {
	return io.NewSectionReader(s.f, off, n)
}

func (s *File) MD5() (string, error) {
	return crypto.HashMD5(io.NewSectionReader(s.f, 0, s.size))
}

func (s *File) Close() error {
	return s.f.Close()
}

// Bytes is an in-memory Source.
type Bytes struct {
	data     []byte
	mimeType string
}

// NewBytes wraps data. An empty mimeType is detected from data.
func NewBytes(data []byte, mimeType string) *Bytes {
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return &Bytes{data: data, mimeType: mimeType}
}

func (s *Bytes) Size() int64      { return int64(len(s.data)) }
func (s *Bytes) MimeType() string { return s.mimeType }

func (s *Bytes) Range(off, n int64) io.Reader {
	return io.NewSectionReader(bytes.NewReader(s.data), off, n)
}

func (s *Bytes) MD5() (string, error) {
	return crypto.HashMD5(bytes.NewReader(s.data))
}
