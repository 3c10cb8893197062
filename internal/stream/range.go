// Package stream implements the range streaming engine: HTTP range parsing,
// chunk alignment against the upstream's fixed 1 MiB frames, and the
// mid-stream failover loop.
package stream

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/arclight-labs/streamgate/internal/errdefs"
)

// ChunkSize is the fixed frame size of the upstream streaming primitive.
// All byte-range translation is performed relative to this granularity.
const ChunkSize int64 = 1 << 20

var rangeRegex = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// ByteRange is an inclusive byte window within a file.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the window.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange renders the Content-Range header value for a 206 response.
func (r ByteRange) ContentRange(fileSize int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, fileSize)
}

// UnsatisfiableContentRange renders the Content-Range value for a 416.
func UnsatisfiableContentRange(fileSize int64) string {
	return fmt.Sprintf("bytes */%d", fileSize)
}

// ParseRange resolves a Range header against a file size.
//
// The returned status is 200 for a full-file window (including an explicit
// range that resolves to [0, size-1]) and 206 otherwise. Errors are
// errdefs.ErrInvalidRange for malformed syntax and
// errdefs.ErrUnsatisfiableRange for well-formed ranges outside the file.
func ParseRange(header string, fileSize int64) (ByteRange, int, error) {
	if header == "" {
		return ByteRange{0, fileSize - 1}, http.StatusOK, nil
	}

	m := rangeRegex.FindStringSubmatch(header)
	if m == nil {
		return ByteRange{}, 0, errdefs.ErrInvalidRange
	}
	startStr, endStr := m[1], m[2]

	var start, end int64
	switch {
	case startStr != "":
		start, _ = strconv.ParseInt(startStr, 10, 64)
		if endStr != "" {
			end, _ = strconv.ParseInt(endStr, 10, 64)
		} else {
			end = fileSize - 1
		}
	case endStr != "":
		// Suffix form: the last N bytes.
		suffix, _ := strconv.ParseInt(endStr, 10, 64)
		if suffix <= 0 {
			return ByteRange{}, 0, errdefs.ErrUnsatisfiableRange
		}
		start = fileSize - suffix
		if start < 0 {
			start = 0
		}
		end = fileSize - 1
	default:
		// "bytes=-"
		return ByteRange{}, 0, errdefs.ErrInvalidRange
	}

	if start > end || end >= fileSize {
		return ByteRange{}, 0, errdefs.ErrUnsatisfiableRange
	}

	rng := ByteRange{start, end}
	if start == 0 && end == fileSize-1 {
		// Full-range promotion: serve as a plain 200.
		return rng, http.StatusOK, nil
	}
	return rng, http.StatusPartialContent, nil
}

// AlignChunks translates a byte window into the upstream's chunk-counted
// coordinates.
//
// chunkOffset is counted in chunks, not bytes. chunkLimit overshoots by one
// chunk so the last requested byte is covered across chunk boundaries; the
// engine stops on byte count, so the extra frame is never fully consumed.
// headSkip is the number of leading bytes of the first chunk that fall before
// the window.
func AlignChunks(start, length, chunkSize int64) (chunkOffset, chunkLimit, headSkip int64) {
	chunkOffset = start / chunkSize
	chunkLimit = (length+chunkSize-1)/chunkSize + 1
	headSkip = start % chunkSize
	return chunkOffset, chunkLimit, headSkip
}
