package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-labs/streamgate/internal/config"
	"github.com/arclight-labs/streamgate/internal/errdefs"
	"github.com/arclight-labs/streamgate/internal/ledger"
	"github.com/arclight-labs/streamgate/internal/logger"
	"github.com/arclight-labs/streamgate/internal/metadata"
	"github.com/arclight-labs/streamgate/internal/metrics"
	"github.com/arclight-labs/streamgate/internal/routing"
	"github.com/arclight-labs/streamgate/internal/stream"
)

type fakeResolver struct {
	descs map[int]*metadata.Descriptor
}

func (f *fakeResolver) Resolve(ctx context.Context, messageID int) (*metadata.Descriptor, error) {
	if d, ok := f.descs[messageID]; ok {
		return d, nil
	}
	return nil, errdefs.ErrNotFound
}

type memSource struct {
	data []byte
}

func (m *memSource) OpenChunks(ctx context.Context, messageID int, chunkOffset, chunkLimit int64) (stream.Chunks, error) {
	return &memChunks{data: m.data, pos: chunkOffset * stream.ChunkSize, remaining: chunkLimit}, nil
}

type memChunks struct {
	data      []byte
	pos       int64
	remaining int64
}

func (m *memChunks) Next(ctx context.Context) ([]byte, error) {
	if m.remaining == 0 || m.pos >= int64(len(m.data)) {
		return nil, io.EOF
	}
	end := m.pos + stream.ChunkSize
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	chunk := m.data[m.pos:end]
	m.pos = end
	m.remaining--
	return chunk, nil
}

func (m *memChunks) Close() error { return nil }

type memDir map[int]stream.Source

func (d memDir) Source(id int) (stream.Source, bool) {
	s, ok := d[id]
	return s, ok
}

type fakePool struct{}

func (fakePool) Size() int           { return 2 }
func (fakePool) BotUsername() string { return "streamgate_bot" }

func fileContent(n int64) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*131 + 17)
	}
	return data
}

const fiveMiB = int64(5 * 1024 * 1024)

// newTestServer wires a server whose session 0 serves one 5 MiB file as
// message 188.
func newTestServer(t *testing.T) (*Server, *ledger.Ledger, []byte) {
	t.Helper()

	data := fileContent(fiveMiB)
	log := logger.New(logger.Config{Format: "text"})
	l := ledger.New()
	l.Register(0)

	desc := &metadata.Descriptor{
		MessageID: 188,
		FileSize:  fiveMiB,
		FileName:  "video.mp4",
		MimeType:  "video/mp4",
		UniqueID:  "AgADBAADq6cxG",
		MediaKind: metadata.KindVideo,
	}

	cfg := &config.Config{
		GinMode: gin.TestMode,
		DocURL:  "https://example.com/docs",
	}

	engine := stream.NewEngine(memDir{0: &memSource{data: data}}, routing.New(l, 0, log), l, log)
	srv := NewServer(cfg, log, l, fakePool{},
		routing.New(l, 0, log),
		&fakeResolver{descs: map[int]*metadata.Descriptor{188: desc}},
		engine,
		metrics.New(),
	)
	return srv, l, data
}

func do(srv *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestParseFilePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		queryHash string
		wantID    int
		wantHash  string
		wantErr   bool
	}{
		{name: "combined shape", path: "/abcdef188", wantID: 188, wantHash: "abcdef"},
		{name: "combined with suffix", path: "/abcdef188/movie.mp4", wantID: 188, wantHash: "abcdef"},
		{name: "combined digits in hash", path: "/1234567", wantID: 7, wantHash: "123456"},
		{name: "query shape", path: "/188", queryHash: "abcdef", wantID: 188, wantHash: "abcdef"},
		{name: "query with suffix", path: "/188/movie.mp4", queryHash: "Zz9_-a", wantID: 188, wantHash: "Zz9_-a"},
		{name: "empty path", path: "/", wantErr: true},
		{name: "hash too short", path: "/abc12", wantErr: true},
		{name: "bad hash alphabet", path: "/188", queryHash: "ab!def", wantErr: true},
		{name: "no digits after hash", path: "/abcdef", wantErr: true},
		{name: "non numeric id with query hash", path: "/18a8", queryHash: "abcdef", wantErr: true},
		{name: "zero id", path: "/abcdef0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, hash, err := ParseFilePath(tt.path, tt.queryHash)
			if tt.wantErr {
				assert.ErrorIs(t, err, errdefs.ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantHash, hash)
		})
	}
}

func TestLinkParseRoundTrip(t *testing.T) {
	const base = "https://gate.example.com"

	for _, messageID := range []int{1, 188, 999999} {
		for _, hash := range []string{"abcdef", "A1b2_-", "000000"} {
			u := BuildURL(base, messageID, hash)
			id, h, err := ParseFilePath(pathOf(t, u), "")
			require.NoError(t, err)
			assert.Equal(t, messageID, id)
			assert.Equal(t, hash, h)

			q := BuildQueryURL(base, messageID, hash)
			id, h, err = ParseFilePath(pathOf(t, q), hash)
			require.NoError(t, err)
			assert.Equal(t, messageID, id)
			assert.Equal(t, hash, h)
		}
	}
}

func pathOf(t *testing.T, rawURL string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, rawURL, nil)
	return req.URL.Path
}

func TestRootRedirect(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := do(srv, http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/docs", w.Header().Get("Location"))
}

func TestOptionsPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, target := range []string{"/status", "/abcdef188"} {
		w := do(srv, http.MethodOptions, target, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, HEAD, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Empty(t, w.Body.String())
	}
}

func TestStatusShape(t *testing.T) {
	srv, l, _ := newTestServer(t)
	l.Acquire(0)
	defer l.Release(0)

	w := do(srv, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var res statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "operational", res.Server.Status)
	assert.Equal(t, Version, res.Server.Version)
	assert.NotEmpty(t, res.Server.Uptime)
	assert.Equal(t, "streamgate_bot", res.TelegramBot.Username)
	assert.Equal(t, 2, res.TelegramBot.ActiveClients)
	assert.Equal(t, 1, res.Resources.TotalWorkload)
	assert.Equal(t, map[string]int{"0": 1}, res.Resources.WorkloadDistribution)
}

func TestStreamFullFile(t *testing.T) {
	srv, l, data := newTestServer(t)

	w := do(srv, http.MethodGet, "/abcdef188", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Equal(t, "5242880", w.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `inline; filename="video.mp4"`)
	assert.Empty(t, w.Header().Get("Content-Range"))
	assert.Equal(t, data, w.Body.Bytes())
	assert.Zero(t, l.Load(0), "workload must return to zero after the response")
}

func TestStreamRangeSuffix(t *testing.T) {
	srv, _, data := newTestServer(t)

	w := do(srv, http.MethodGet, "/188?hash=abcdef", map[string]string{"Range": "bytes=-524288"})
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 4718592-5242879/5242880", w.Header().Get("Content-Range"))
	assert.Equal(t, "524288", w.Header().Get("Content-Length"))
	assert.Equal(t, data[fiveMiB-524288:], w.Body.Bytes())
}

func TestStreamFullRangePromotion(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(srv, http.MethodGet, "/abcdef188", map[string]string{"Range": "bytes=0-"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Range"))
}

func TestStreamUnsatisfiableRange(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(srv, http.MethodGet, "/abcdef188", map[string]string{"Range": "bytes=9999999-"})
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	assert.Equal(t, "bytes */5242880", w.Header().Get("Content-Range"))
	assert.Empty(t, w.Body.Bytes())
}

func TestStreamInvalidRange(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(srv, http.MethodGet, "/abcdef188", map[string]string{"Range": "bytes=abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/abcdef999", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/!!bad!!", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodPost, "/abcdef188", nil).Code)
}

func TestStreamOpenFailureErrorResponse(t *testing.T) {
	log := logger.New(logger.Config{Format: "text"})
	l := ledger.New()
	l.Register(0)

	desc := &metadata.Descriptor{
		MessageID: 188,
		FileSize:  fiveMiB,
		FileName:  "video.mp4",
		MimeType:  "video/mp4",
		UniqueID:  "AgADBAADq6cxG",
		MediaKind: metadata.KindVideo,
	}
	cfg := &config.Config{GinMode: gin.TestMode, DocURL: "https://example.com/docs"}

	// The source directory is empty, so no session can open the stream.
	engine := stream.NewEngine(memDir{}, routing.New(l, 0, log), l, log)
	srv := NewServer(cfg, log, l, fakePool{},
		routing.New(l, 0, log),
		&fakeResolver{descs: map[int]*metadata.Descriptor{188: desc}},
		engine,
		metrics.New(),
	)

	// A real connection is needed here: only net/http enforces agreement
	// between the Content-Length header and the body actually written.
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/abcdef188")
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err, "error body must be readable to the last byte")

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, int64(len(body)), res.ContentLength)
	assert.Empty(t, res.Header.Get("Content-Disposition"))
	assert.Empty(t, res.Header.Get("Content-Range"))
	assert.Empty(t, res.Header.Get("Accept-Ranges"))

	var payload struct {
		Error   string `json:"error"`
		ErrorID string `json:"error_id"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "internal server error", payload.Error)
	assert.Len(t, payload.ErrorID, 12)
	assert.Zero(t, l.Load(0), "failed open must not leak workload")
}

func TestHeadBalancesLedger(t *testing.T) {
	srv, l, _ := newTestServer(t)

	w := do(srv, http.MethodHead, "/abcdef188", map[string]string{"Range": "bytes=-524288"})
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "524288", w.Header().Get("Content-Length"))
	assert.Empty(t, w.Body.Bytes())
	assert.Zero(t, l.Load(0))
}

func TestWatchPage(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(srv, http.MethodGet, "/watch/abcdef188", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-cache")
	assert.Contains(t, w.Body.String(), "/abcdef188")
	assert.Contains(t, w.Body.String(), "<video")

	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/watch/abcdef999", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/watch/garbage!", nil).Code)
}

func TestReadableUptime(t *testing.T) {
	assert.Equal(t, "0s", readableUptime(0))
	assert.Equal(t, "42s", readableUptime(42*time.Second))
	assert.Equal(t, "2m 5s", readableUptime(125*time.Second))
	assert.Equal(t, "1d 0h 0m 1s", readableUptime(86401*time.Second))
}
