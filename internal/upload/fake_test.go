package upload

import (
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

type recorded struct {
	Method        string
	URL           *url.URL
	Header        http.Header
	ContentLength int64
	Body          []byte
}

func record(req *http.Request) recorded {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	return recorded{
		Method:        req.Method,
		URL:           req.URL,
		Header:        req.Header.Clone(),
		ContentLength: req.ContentLength,
		Body:          body,
	}
}

func reply(status int, h http.Header, body string) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// funcDoer answers every request with fn and keeps what it was sent.
type funcDoer struct {
	fn       func(r recorded) (*http.Response, error)
	requests []recorded
}

func (d *funcDoer) Do(req *http.Request) (*http.Response, error) {
	r := record(req)
	d.requests = append(d.requests, r)
	return d.fn(r)
}

// sessionServer emulates the resumable upload endpoint. Faults are keyed by
// the index of the chunk request, counted across sessions.
type sessionServer struct {
	mu sync.Mutex

	persistCap  int64
	chunkStatus map[int]int
	chunkErr    map[int]error
	probeStatus []int

	total     int64
	persisted []byte
	sessions  int
	chunks    int
	probes    int
	requests  []recorded
}

func (s *sessionServer) Do(req *http.Request) (*http.Response, error) {
	r := record(req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r)

	if r.URL.Query().Get("uploadType") == "resumable" {
		s.sessions++
		s.persisted = nil
		s.total, _ = strconv.ParseInt(r.Header.Get("X-Upload-Content-Length"), 10, 64)
		h := http.Header{}
		h.Set("Location", fmt.Sprintf("https://upload.test/session/%d", s.sessions))
		return reply(http.StatusOK, h, ""), nil
	}
	if r.URL.Path != fmt.Sprintf("/session/%d", s.sessions) {
		return reply(http.StatusNotFound, nil, "unknown session"), nil
	}

	contentRange := r.Header.Get("Content-Range")
	if strings.HasPrefix(contentRange, "bytes */") {
		idx := s.probes
		s.probes++
		if idx < len(s.probeStatus) && s.probeStatus[idx] != 0 {
			return reply(s.probeStatus[idx], nil, `{"error":{"code":404,"message":"session not found"}}`), nil
		}
		return s.state(), nil
	}

	idx := s.chunks
	s.chunks++
	if err := s.chunkErr[idx]; err != nil {
		return nil, err
	}
	if status := s.chunkStatus[idx]; status != 0 {
		return reply(status, nil, "backend error"), nil
	}

	var start int64
	if _, err := fmt.Sscanf(contentRange, "bytes %d-", &start); err != nil || start != int64(len(s.persisted)) {
		return reply(http.StatusBadRequest, nil, "unexpected range "+contentRange), nil
	}
	keep := r.Body
	if s.persistCap > 0 && int64(len(keep)) > s.persistCap {
		keep = keep[:s.persistCap]
	}
	s.persisted = append(s.persisted, keep...)
	return s.state(), nil
}

func (s *sessionServer) state() *http.Response {
	if int64(len(s.persisted)) == s.total {
		body := fmt.Sprintf(`{"id":"file-%d","md5Checksum":"%x"}`, s.sessions, md5.Sum(s.persisted))
		return reply(http.StatusOK, nil, body)
	}
	h := http.Header{}
	if len(s.persisted) > 0 {
		h.Set("Range", fmt.Sprintf("bytes 0-%d", len(s.persisted)-1))
	}
	return reply(http.StatusPermanentRedirect, h, "")
}

// chunkRanges lists the Content-Range of every chunk request, in order.
func chunkRanges(requests []recorded) []string {
	var ranges []string
	for _, r := range requests {
		cr := r.Header.Get("Content-Range")
		if cr != "" && !strings.HasPrefix(cr, "bytes */") {
			ranges = append(ranges, cr)
		}
	}
	return ranges
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	return data
}
