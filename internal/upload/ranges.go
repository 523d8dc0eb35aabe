package upload

import (
	"fmt"
	"strconv"
	"strings"
)

// contentRange formats the Content-Range of a chunk covering [start, end].
func contentRange(start, end, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}

// statusRange formats the zero-length Content-Range asking for the persisted offset.
func statusRange(total int64) string {
	return fmt.Sprintf("bytes */%d", total)
}

// parseRange reads the upper bound from a "bytes 0-U" Range header. ok is
// false when the header is absent, meaning the server holds no bytes yet.
func parseRange(header string) (upper int64, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false, nil
	}

	rng, found := strings.CutPrefix(header, "bytes")
	if !found {
		return 0, false, fmt.Errorf("%w: range %q has no bytes unit", ErrProtocol, header)
	}
	rng = strings.TrimLeft(rng, " =")

	lo, hi, found := strings.Cut(rng, "-")
	if !found {
		return 0, false, fmt.Errorf("%w: malformed range %q", ErrProtocol, header)
	}
	start, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: malformed range %q", ErrProtocol, header)
	}
	upper, err = strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
	if err != nil || upper < start {
		return 0, false, fmt.Errorf("%w: malformed range %q", ErrProtocol, header)
	}
	return upper, true, nil
}
