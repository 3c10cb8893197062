package tgc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-labs/streamgate/internal/errdefs"
	"github.com/arclight-labs/streamgate/internal/metadata"
)

func TestBareChannelID(t *testing.T) {
	assert.Equal(t, int64(1234567890), bareChannelID(-1001234567890))
	assert.Equal(t, int64(1234567890), bareChannelID(1234567890))
	assert.Equal(t, int64(987), bareChannelID(-987))
}

func documentMessage(attrs ...tg.DocumentAttributeClass) *tg.Message {
	return &tg.Message{
		ID: 188,
		Media: &tg.MessageMediaDocument{
			Document: &tg.Document{
				ID:         111222333,
				AccessHash: 444555666,
				Size:       5 << 20,
				MimeType:   "application/octet-stream",
				Attributes: attrs,
			},
		},
	}
}

func TestDescribeMessageDocumentKinds(t *testing.T) {
	tests := []struct {
		name  string
		attrs []tg.DocumentAttributeClass
		want  metadata.MediaKind
	}{
		{"plain document", nil, metadata.KindDocument},
		{"video", []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}}, metadata.KindVideo},
		{"video note", []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{RoundMessage: true}}, metadata.KindVideoNote},
		{"animation", []tg.DocumentAttributeClass{
			&tg.DocumentAttributeVideo{},
			&tg.DocumentAttributeAnimated{},
		}, metadata.KindAnimation},
		{"audio", []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{}}, metadata.KindAudio},
		{"voice", []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}}, metadata.KindVoice},
		{"sticker", []tg.DocumentAttributeClass{&tg.DocumentAttributeSticker{}}, metadata.KindSticker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := describeMessage(documentMessage(tt.attrs...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, desc.MediaKind)
			assert.Equal(t, int64(5<<20), desc.FileSize)
			assert.NotEmpty(t, desc.UniqueID)
			assert.NotEmpty(t, desc.FileName, "missing names must be synthesized")
		})
	}
}

func TestDescribeMessageKeepsFilename(t *testing.T) {
	msg := documentMessage(&tg.DocumentAttributeFilename{FileName: "movie.mkv"})
	desc, err := describeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "movie.mkv", desc.FileName)
}

func TestDescribeMessagePhoto(t *testing.T) {
	msg := &tg.Message{
		ID: 7,
		Media: &tg.MessageMediaPhoto{
			Photo: &tg.Photo{
				ID:         42,
				AccessHash: 43,
				Sizes: []tg.PhotoSizeClass{
					&tg.PhotoSize{Type: "m", Size: 1024},
					&tg.PhotoSize{Type: "y", Size: 4096},
				},
			},
		},
	}

	desc, err := describeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, metadata.KindPhoto, desc.MediaKind)
	assert.Equal(t, int64(4096), desc.FileSize)
	assert.Equal(t, "image/jpeg", desc.MimeType)
}

func TestDescribeMessageNoMedia(t *testing.T) {
	_, err := describeMessage(&tg.Message{ID: 1})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestOpaqueFileIDStable(t *testing.T) {
	a := opaqueFileID(111, 222)
	b := opaqueFileID(111, 222)
	c := opaqueFileID(111, 223)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.GreaterOrEqual(t, len(a), 6, "must be long enough to carry a URL hash prefix")
}

func TestLargestPhotoSizeProgressive(t *testing.T) {
	photo := &tg.Photo{
		Sizes: []tg.PhotoSizeClass{
			&tg.PhotoSize{Type: "m", Size: 1000},
			&tg.PhotoSizeProgressive{Type: "y", Sizes: []int{100, 5000, 2000}},
		},
	}
	typ, size := largestPhotoSize(photo)
	assert.Equal(t, "y", typ)
	assert.Equal(t, 5000, size)
}

func TestClassifyFloodWait(t *testing.T) {
	s := &Session{id: 3}
	err := s.classify(context.Background(), tgerr.New(420, "FLOOD_WAIT_5"))

	var rateLimited *errdefs.RateLimitedError
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, 3, rateLimited.SessionID)
	assert.Equal(t, 5*time.Second, rateLimited.RetryAfter)
}

func TestClassifyTransport(t *testing.T) {
	s := &Session{id: 2}
	err := s.classify(context.Background(), errors.New("connection reset"))

	var transport *errdefs.TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, 2, transport.SessionID)
}

func TestClassifyCallerCancellation(t *testing.T) {
	s := &Session{id: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.classify(ctx, errors.New("rpc aborted"))
	assert.ErrorIs(t, err, context.Canceled)
}
