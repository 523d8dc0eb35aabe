// Package drivetest runs an in-process fake of the Drive v2 upload endpoint.
// It understands simple, multipart and resumable uploads and can inject
// the failures a real server produces.
package drivetest

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	drive "google.golang.org/api/drive/v2"
)

const uploadPath = "/upload/drive/v2/files"

// Request is one request the server received
type Request struct {
	Method       string
	Path         string
	UploadType   string
	ContentRange string
	Query        map[string]string
	BodySize     int
}

type storedFile struct {
	meta *drive.File
	data []byte
}

type session struct {
	meta      *drive.File
	fileID    string
	move      parentMove
	total     int64
	persisted []byte
}

// parentMove holds the addParents and removeParents of an update
type parentMove struct {
	add, remove []string
}

func readParentMove(r *http.Request) parentMove {
	split := func(v string) []string {
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	q := r.URL.Query()
	return parentMove{add: split(q.Get("addParents")), remove: split(q.Get("removeParents"))}
}

func (m parentMove) apply(parents []*drive.ParentReference) []*drive.ParentReference {
	var kept []*drive.ParentReference
	for _, p := range parents {
		if !slices.Contains(m.remove, p.Id) {
			kept = append(kept, p)
		}
	}
	for _, id := range m.add {
		kept = append(kept, &drive.ParentReference{Id: id})
	}
	return kept
}

// Server is a fake Drive upload endpoint
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string]*storedFile
	sessions map[string]*session
	requests []Request

	chunkFailures []int
	persistLimit  int64
	expired       bool
	badChecksum   bool
}

// New starts a server. Close it when done.
func New() *Server {
	s := &Server{
		files:    make(map[string]*storedFile),
		sessions: make(map[string]*session),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Post(uploadPath, s.handleInsert)
	r.Put(uploadPath+"/{fileID}", s.handleUpdate)
	r.Put("/upload/sessions/{sessionID}", s.handleSession)

	s.Server = httptest.NewServer(r)
	return s
}

// UploadURL is the base upload URL clients should target
func (s *Server) UploadURL() string {
	return s.URL + uploadPath
}

// FailNextChunks answers the next chunk requests with statuses, in order,
// without persisting anything.
func (s *Server) FailNextChunks(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkFailures = append(s.chunkFailures, statuses...)
}

// SetPersistLimit keeps at most n bytes of every chunk
func (s *Server) SetPersistLimit(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLimit = n
}

// ExpireSessions makes status probes of every session fail with 404
func (s *Server) ExpireSessions(expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = expired
}

// CorruptChecksums reports a wrong md5Checksum for finished uploads
func (s *Server) CorruptChecksums() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badChecksum = true
}

// AddFile stores a file so it can be updated
func (s *Server) AddFile(title string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.files[id] = &storedFile{meta: &drive.File{Id: id, Title: title}, data: data}
	return id
}

// File returns the metadata and content of a stored file
func (s *Server) File(id string) (*drive.File, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, nil, false
	}
	return f.meta, f.data, true
}

// Requests returns what the server received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		query := make(map[string]string)
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:       r.Method,
			Path:         r.URL.Path,
			UploadType:   r.URL.Query().Get("uploadType"),
			ContentRange: r.Header.Get("Content-Range"),
			Query:        query,
			BodySize:     len(body),
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, "")
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	s.mu.Lock()
	_, ok := s.files[fileID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "File not found: "+fileID)
		return
	}
	s.handleUpload(w, r, fileID)
}

// handleUpload serves a create when fileID is empty, an update otherwise
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, fileID string) {
	success := http.StatusOK
	var move parentMove
	if fileID != "" {
		success = http.StatusCreated
		move = readParentMove(r)
	}

	switch uploadType := r.URL.Query().Get("uploadType"); uploadType {
	case "media":
		data, _ := io.ReadAll(r.Body)
		meta := &drive.File{MimeType: r.Header.Get("Content-Type")}
		s.writeFile(w, success, s.store(fileID, meta, data, move))

	case "multipart":
		meta, data, err := readMultipart(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeFile(w, success, s.store(fileID, meta, data, move))

	case "resumable":
		s.startSession(w, r, fileID, move)

	default:
		writeError(w, http.StatusBadRequest, "Invalid uploadType: "+uploadType)
	}
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, fileID string, move parentMove) {
	total, err := strconv.ParseInt(r.Header.Get("X-Upload-Content-Length"), 10, 64)
	if err != nil || total < 0 {
		writeError(w, http.StatusBadRequest, "Missing X-Upload-Content-Length")
		return
	}

	meta := &drive.File{}
	body, _ := io.ReadAll(r.Body)
	if len(body) > 0 {
		if err := json.Unmarshal(body, meta); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid metadata: "+err.Error())
			return
		}
	}
	if meta.MimeType == "" {
		meta.MimeType = r.Header.Get("X-Upload-Content-Type")
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &session{meta: meta, fileID: fileID, move: move, total: total}
	s.mu.Unlock()

	w.Header().Set("Location", s.URL+"/upload/sessions/"+id)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	contentRange := r.Header.Get("Content-Range")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Upload session not found")
		return
	}

	if strings.HasPrefix(contentRange, "bytes */") {
		expired := s.expired
		s.mu.Unlock()
		if expired {
			writeError(w, http.StatusNotFound, "Upload session expired")
			return
		}
		s.writeSessionState(w, id, sess)
		return
	}

	if len(s.chunkFailures) > 0 {
		status := s.chunkFailures[0]
		s.chunkFailures = s.chunkFailures[1:]
		s.mu.Unlock()
		writeError(w, status, "Backend Error")
		return
	}

	var start, end, total int64
	if _, err := fmt.Sscanf(contentRange, "bytes %d-%d/%d", &start, &end, &total); err != nil ||
		total != sess.total || start != int64(len(sess.persisted)) {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Invalid Content-Range: "+contentRange)
		return
	}

	data, _ := io.ReadAll(r.Body)
	if s.persistLimit > 0 && int64(len(data)) > s.persistLimit {
		data = data[:s.persistLimit]
	}
	sess.persisted = append(sess.persisted, data...)
	s.mu.Unlock()

	s.writeSessionState(w, id, sess)
}

// writeSessionState answers 308 with the persisted range, or finishes the
// upload once every byte arrived.
func (s *Server) writeSessionState(w http.ResponseWriter, id string, sess *session) {
	s.mu.Lock()
	persisted := int64(len(sess.persisted))
	if persisted < sess.total {
		s.mu.Unlock()
		if persisted > 0 {
			w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", persisted-1))
		}
		w.WriteHeader(http.StatusPermanentRedirect)
		return
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	s.writeFile(w, http.StatusOK, s.store(sess.fileID, sess.meta, sess.persisted, sess.move))
}

// store creates or updates a file and returns its metadata
func (s *Server) store(fileID string, meta *drive.File, data []byte, move parentMove) *drive.File {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		fileID = uuid.NewString()
		f = &storedFile{meta: &drive.File{Id: fileID, Title: "Untitled"}}
		s.files[fileID] = f
	}

	if meta.Title != "" {
		f.meta.Title = meta.Title
	}
	if meta.Description != "" {
		f.meta.Description = meta.Description
	}
	if meta.MimeType != "" {
		f.meta.MimeType = meta.MimeType
	}
	if len(meta.Parents) > 0 {
		f.meta.Parents = meta.Parents
	}
	f.meta.Parents = move.apply(f.meta.Parents)
	f.data = append([]byte(nil), data...)

	sum := md5.Sum(data)
	f.meta.Md5Checksum = hex.EncodeToString(sum[:])
	if s.badChecksum {
		f.meta.Md5Checksum = strings.Repeat("0", 32)
	}
	f.meta.FileSize = int64(len(data))

	copied := *f.meta
	return &copied
}

func (s *Server) writeFile(w http.ResponseWriter, status int, f *drive.File) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(f)
}

func readMultipart(r *http.Request) (*drive.File, []byte, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" {
		return nil, nil, fmt.Errorf("expected multipart/related body, got %q", r.Header.Get("Content-Type"))
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		return nil, nil, fmt.Errorf("missing metadata part: %w", err)
	}
	meta := &drive.File{}
	if err := json.NewDecoder(part).Decode(meta); err != nil {
		return nil, nil, fmt.Errorf("invalid metadata part: %w", err)
	}

	part, err = mr.NextPart()
	if err != nil {
		return nil, nil, fmt.Errorf("missing media part: %w", err)
	}
	data, err := io.ReadAll(part)
	if err != nil {
		return nil, nil, err
	}
	if meta.MimeType == "" {
		meta.MimeType = part.Header.Get("Content-Type")
	}

	if _, err := mr.NextPart(); err != io.EOF {
		return nil, nil, fmt.Errorf("unexpected extra part")
	}
	return meta, data, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, status, message)
}
