package stream

import (
	"net/http"
	"testing"

	"github.com/arclight-labs/streamgate/internal/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fiveMiB = int64(5 * 1024 * 1024)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		size       int64
		want       ByteRange
		wantStatus int
		wantErr    error
	}{
		{name: "no header", header: "", size: fiveMiB, want: ByteRange{0, fiveMiB - 1}, wantStatus: http.StatusOK},
		{name: "both bounds", header: "bytes=100-199", size: fiveMiB, want: ByteRange{100, 199}, wantStatus: http.StatusPartialContent},
		{name: "open ended", header: "bytes=100-", size: fiveMiB, want: ByteRange{100, fiveMiB - 1}, wantStatus: http.StatusPartialContent},
		{name: "suffix", header: "bytes=-524288", size: fiveMiB, want: ByteRange{fiveMiB - 524288, fiveMiB - 1}, wantStatus: http.StatusPartialContent},
		{name: "suffix larger than file", header: "bytes=-9999999999", size: fiveMiB, want: ByteRange{0, fiveMiB - 1}, wantStatus: http.StatusOK},
		{name: "suffix single byte", header: "bytes=-1", size: fiveMiB, want: ByteRange{fiveMiB - 1, fiveMiB - 1}, wantStatus: http.StatusPartialContent},
		{name: "full range promoted to 200", header: "bytes=0-", size: fiveMiB, want: ByteRange{0, fiveMiB - 1}, wantStatus: http.StatusOK},
		{name: "explicit full range promoted", header: "bytes=0-5242879", size: fiveMiB, want: ByteRange{0, fiveMiB - 1}, wantStatus: http.StatusOK},
		{name: "zero suffix", header: "bytes=-0", size: fiveMiB, wantErr: errdefs.ErrUnsatisfiableRange},
		{name: "start past eof", header: "bytes=5242880-", size: fiveMiB, wantErr: errdefs.ErrUnsatisfiableRange},
		{name: "start way past eof", header: "bytes=9999999-", size: fiveMiB, wantErr: errdefs.ErrUnsatisfiableRange},
		{name: "end past eof", header: "bytes=0-5242880", size: fiveMiB, wantErr: errdefs.ErrUnsatisfiableRange},
		{name: "inverted", header: "bytes=200-100", size: fiveMiB, wantErr: errdefs.ErrUnsatisfiableRange},
		{name: "garbage", header: "bytes=abc", size: fiveMiB, wantErr: errdefs.ErrInvalidRange},
		{name: "empty spec", header: "bytes=-", size: fiveMiB, wantErr: errdefs.ErrInvalidRange},
		{name: "multiple ranges unsupported", header: "bytes=0-1,5-6", size: fiveMiB, wantErr: errdefs.ErrInvalidRange},
		{name: "wrong unit", header: "items=0-1", size: fiveMiB, wantErr: errdefs.ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, status, err := ParseRange(tt.header, tt.size)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestParseRangeIdempotent(t *testing.T) {
	first, status1, err1 := ParseRange("bytes=100-199", fiveMiB)
	second, status2, err2 := ParseRange("bytes=100-199", fiveMiB)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
	assert.Equal(t, status1, status2)
}

func TestContentRangeRoundTrip(t *testing.T) {
	rng, _, err := ParseRange("bytes=-524288", fiveMiB)
	require.NoError(t, err)
	assert.Equal(t, "bytes 4718592-5242879/5242880", rng.ContentRange(fiveMiB))
	assert.Equal(t, int64(524288), rng.Length())
}

func TestUnsatisfiableContentRange(t *testing.T) {
	assert.Equal(t, "bytes */5242880", UnsatisfiableContentRange(fiveMiB))
}

func TestAlignChunks(t *testing.T) {
	tests := []struct {
		name                        string
		start, length               int64
		wantOffset, wantLimit, skip int64
	}{
		{"from zero single chunk", 0, 1000, 0, 2, 0},
		{"from zero exact chunk", 0, ChunkSize, 0, 2, 0},
		{"mid first chunk", 1000, 1000, 0, 2, 1000},
		{"second chunk aligned", ChunkSize, ChunkSize, 1, 2, 0},
		{"straddles boundary", ChunkSize - 1, 2, 0, 2, ChunkSize - 1},
		{"large window", 3*ChunkSize + 5, 10 * ChunkSize, 3, 12, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, limit, skip := AlignChunks(tt.start, tt.length, ChunkSize)
			assert.Equal(t, tt.wantOffset, off, "chunkOffset")
			assert.Equal(t, tt.wantLimit, limit, "chunkLimit")
			assert.Equal(t, tt.skip, skip, "headSkip")
		})
	}
}

func TestAlignChunksCoversWindow(t *testing.T) {
	// The translated chunk window must always cover the requested bytes.
	for _, start := range []int64{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 7*ChunkSize + 123} {
		for _, length := range []int64{1, 2, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3 * ChunkSize} {
			off, limit, skip := AlignChunks(start, length, ChunkSize)
			firstByte := off*ChunkSize + skip
			lastCovered := (off+limit)*ChunkSize - 1
			assert.Equal(t, start, firstByte)
			assert.GreaterOrEqual(t, lastCovered, start+length-1)
		}
	}
}
