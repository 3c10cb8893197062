package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arclight-labs/streamgate/internal/errdefs"
	"github.com/arclight-labs/streamgate/internal/logger"
	"github.com/arclight-labs/streamgate/internal/metadata"
	"github.com/arclight-labs/streamgate/internal/stream"
)

// handleFile serves the byte-range file endpoint for both URL shapes.
func (s *Server) handleFile(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	messageID, _, err := ParseFilePath(c.Request.URL.Path, c.Query("hash"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	ctx := logger.WithMessageID(c.Request.Context(), messageID)
	c.Request = c.Request.WithContext(ctx)
	log := s.logger.WithContext(ctx)

	desc, err := s.resolver.Resolve(ctx, messageID)
	if err != nil {
		if metadata.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		s.internalError(c, err, "descriptor resolution failed")
		return
	}

	rng, status, err := stream.ParseRange(c.GetHeader("Range"), desc.FileSize)
	if err != nil {
		switch {
		case errors.Is(err, errdefs.ErrUnsatisfiableRange):
			c.Header("Content-Range", stream.UnsatisfiableContentRange(desc.FileSize))
			c.Status(http.StatusRequestedRangeNotSatisfiable)
		case errors.Is(err, errdefs.ErrInvalidRange):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid range header"})
		default:
			s.internalError(c, err, "range parsing failed")
		}
		return
	}

	sessionID := s.selector.Select(messageID)

	if c.Request.Method == http.MethodHead {
		// Header derivation counts as a streaming operation for balance
		// purposes, just a zero-length one.
		s.ledger.Acquire(sessionID)
		defer s.ledger.Release(sessionID)
		writeStreamingHeaders(c, desc, rng, status)
		c.Status(status)
		return
	}

	run, err := s.streamer.Open(ctx, messageID, sessionID, rng)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.internalError(c, err, "no session could start the stream")
		return
	}
	defer run.Close()

	// Headers are committed only once the stream is known to open, so an
	// Open failure still gets a clean error response.
	writeStreamingHeaders(c, desc, rng, status)
	c.Status(status)
	s.metrics.StreamsStarted.Inc()

	copyErr := run.Copy(ctx, c.Writer)

	s.metrics.BytesSent.Add(float64(run.BytesSent()))
	s.metrics.Failovers.Add(float64(run.Recoveries()))

	if copyErr != nil {
		if ctx.Err() != nil {
			// Client went away; the ledger decrement in Close is all the
			// cleanup this needs.
			log.Debug("client disconnected mid-stream",
				slog.Int64("bytes_sent", run.BytesSent()),
				slog.Int64("content_length", rng.Length()))
			return
		}
		s.metrics.StreamFailures.Inc()
		id := errdefs.ErrorID()
		log.Error("stream aborted before completion",
			slog.String("error_id", id),
			slog.Int("session_id", run.SessionID()),
			slog.Int64("bytes_sent", run.BytesSent()),
			slog.Int64("content_length", rng.Length()),
			slog.String("error", copyErr.Error()))
		// The short body makes the server close the connection, which is
		// the only honest signal left after headers have been sent.
		return
	}

	s.metrics.StreamsCompleted.Inc()
}

// writeStreamingHeaders derives the response header set shared by GET and
// HEAD. Content-Range is only present on partial responses.
func writeStreamingHeaders(c *gin.Context, desc *metadata.Descriptor, rng stream.ByteRange, status int) {
	c.Header("Content-Type", desc.MimeType)
	c.Header("Content-Length", strconv.FormatInt(rng.Length(), 10))
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, url.PathEscape(desc.FileName)))
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("X-Content-Type-Options", "nosniff")
	if status == http.StatusPartialContent {
		c.Header("Content-Range", rng.ContentRange(desc.FileSize))
	}
}
