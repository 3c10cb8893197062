package tgc

import (
	"context"
	"fmt"
	"io"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/arclight-labs/streamgate/internal/stream"
)

// chunkStream pulls fixed 1 MiB frames for one message over one session.
// Each frame is a separate upload.getFile call; the offset is tracked in
// chunks to match the upstream API's alignment requirement.
type chunkStream struct {
	session   *Session
	messageID int
	location  tg.InputFileLocationClass

	offset    int64 // next chunk to fetch, counted in chunks
	remaining int64
	refetched bool
}

// OpenChunks prepares a chunk sequence starting at chunkOffset. The message
// is fetched eagerly so that a missing or not-yet-visible message fails here,
// before any response bytes are committed.
func (s *Session) OpenChunks(ctx context.Context, messageID int, chunkOffset, chunkLimit int64) (stream.Chunks, error) {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	location, err := fileLocation(msg)
	if err != nil {
		return nil, err
	}
	return &chunkStream{
		session:   s,
		messageID: messageID,
		location:  location,
		offset:    chunkOffset,
		remaining: chunkLimit,
	}, nil
}

func (c *chunkStream) Next(ctx context.Context) ([]byte, error) {
	if c.remaining <= 0 {
		return nil, io.EOF
	}

	res, err := c.session.api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: c.location,
		Offset:   c.offset * stream.ChunkSize,
		Limit:    int(stream.ChunkSize),
		Precise:  true,
	})
	if err != nil {
		// File references go stale while a long stream is in flight. One
		// refetch of the message restores a fresh reference; a second
		// expiry means something else is wrong.
		if tgerr.Is(err, "FILE_REFERENCE_EXPIRED") && !c.refetched {
			c.refetched = true
			if rerr := c.refreshLocation(ctx); rerr == nil {
				return c.Next(ctx)
			}
		}
		return nil, c.session.classify(ctx, err)
	}

	file, ok := res.(*tg.UploadFile)
	if !ok {
		return nil, c.session.classify(ctx, fmt.Errorf("unexpected upload response %T", res))
	}

	chunk := file.Bytes
	if len(chunk) == 0 {
		return nil, io.EOF
	}

	c.offset++
	c.remaining--
	if int64(len(chunk)) < stream.ChunkSize {
		// Short frame: end of file. Everything after it is EOF.
		c.remaining = 0
	}
	return chunk, nil
}

func (c *chunkStream) refreshLocation(ctx context.Context) error {
	msg, err := c.session.GetMessage(ctx, c.messageID)
	if err != nil {
		return err
	}
	location, err := fileLocation(msg)
	if err != nil {
		return err
	}
	c.location = location
	return nil
}

func (c *chunkStream) Close() error {
	return nil
}
