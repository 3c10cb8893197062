package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/arclight-labs/streamgate/internal/errdefs"
	"github.com/arclight-labs/streamgate/internal/ledger"
	"github.com/arclight-labs/streamgate/internal/logger"
)

const (
	// defaultCooloff is how long a session rests after a transport error
	// when the upstream gave no retry-after hint.
	defaultCooloff = 60 * time.Second

	// blindTTLBase and blindTTLJitter bound the per-message blindness
	// window after a "not yet visible" failure.
	blindTTLBase   = 30 * time.Second
	blindTTLJitter = 15 * time.Second

	// propagationPause absorbs upstream propagation delay before failing
	// over from a blind session.
	propagationPause = 2 * time.Second
)

// Chunks is a lazy sequence of fixed-size byte frames. Next returns io.EOF
// after the last frame. A sequence is restartable only by opening a new one.
type Chunks interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Source opens chunk sequences for archived messages. chunkOffset is counted
// in chunks, not bytes.
type Source interface {
	OpenChunks(ctx context.Context, messageID int, chunkOffset, chunkLimit int64) (Chunks, error)
}

// SourceDirectory resolves a session ID to its live Source. The binding must
// be re-read on every call; pool entries are replaced by restarts.
type SourceDirectory interface {
	Source(sessionID int) (Source, bool)
}

// Selector picks a replacement session during failover.
type Selector interface {
	Select(messageID int) int
}

// Engine turns byte windows into exact response bodies, failing over to
// another session mid-stream when the current one errors.
type Engine struct {
	dir      SourceDirectory
	selector Selector
	ledger   *ledger.Ledger
	logger   *logger.Logger

	// pause is a seam for tests; defaults to propagationPause.
	pause time.Duration
}

func NewEngine(dir SourceDirectory, selector Selector, l *ledger.Ledger, log *logger.Logger) *Engine {
	return &Engine{
		dir:      dir,
		selector: selector,
		ledger:   l,
		logger:   log.WithComponent("stream"),
		pause:    propagationPause,
	}
}

// Run is one streaming request in flight. It owns the upstream chunk
// sequence and the ledger slots of every session it has borrowed; Close
// releases both exactly once on every exit path.
type Run struct {
	engine    *Engine
	messageID int
	rng       ByteRange

	sessionID int
	touched   []int
	chunks    Chunks

	skip   int64 // head bytes of the next chunk falling before the window
	sent   int64
	primed []byte // first payload, produced while opening
	closed bool
}

// Open starts a run on the selected session. It suspends until the first
// frame arrives, failing over as needed, so that a request for which no
// session can produce bytes fails here rather than mid-response.
//
// The caller must Close the run on every path, including after errors from
// Copy and client disconnects.
func (e *Engine) Open(ctx context.Context, messageID, sessionID int, rng ByteRange) (*Run, error) {
	r := &Run{
		engine:    e,
		messageID: messageID,
		rng:       rng,
		sessionID: sessionID,
	}
	r.touch(sessionID)

	if err := r.prime(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// SessionID returns the session currently serving the run.
func (r *Run) SessionID() int { return r.sessionID }

// BytesSent returns how many payload bytes have been produced so far.
func (r *Run) BytesSent() int64 { return r.sent }

// Recoveries returns how many times the run has failed over.
func (r *Run) Recoveries() int { return len(r.touched) - 1 }

// Copy writes the remaining window to w. Upstream errors trigger failover;
// write errors (client disconnect) abort immediately. On success exactly
// rng.Length() bytes have been written in total.
func (r *Run) Copy(ctx context.Context, w io.Writer) error {
	if r.primed != nil {
		chunk := r.primed
		r.primed = nil
		if err := r.write(w, chunk); err != nil {
			return err
		}
	}

	for r.sent < r.rng.Length() {
		chunk, err := r.next(ctx)
		if err != nil {
			return err
		}
		if err := r.write(w, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the chunk sequence and decrements the work load of every
// touched session exactly once. Safe to call multiple times.
func (r *Run) Close() {
	if r.closed {
		return
	}
	r.closed = true

	if r.chunks != nil {
		r.chunks.Close()
		r.chunks = nil
	}
	for _, id := range r.touched {
		r.engine.ledger.Release(id)
	}
}

// touch borrows a session: counts it in the ledger and records it for the
// terminal decrement.
func (r *Run) touch(sessionID int) {
	r.engine.ledger.Acquire(sessionID)
	r.touched = append(r.touched, sessionID)
}

// prime opens a chunk sequence at the current resume offset and pulls frames
// until the first payload byte survives the head skip, failing over on error.
func (r *Run) prime(ctx context.Context) error {
	for {
		err := r.openChunks(ctx)
		if err == nil {
			var chunk []byte
			chunk, err = r.pull(ctx)
			if err == nil {
				r.primed = chunk
				return nil
			}
		}
		// Terminality is decided by the request's own context, not by the
		// error value: upstream call timeouts wrap DeadlineExceeded too and
		// those must fail over, not abort.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ferr := r.failover(ctx, err); ferr != nil {
			return ferr
		}
	}
}

// next returns the next trimmed payload, failing over and resuming from the
// last forwarded offset when the upstream errors mid-sequence.
func (r *Run) next(ctx context.Context) ([]byte, error) {
	for {
		chunk, err := r.pull(ctx)
		if err == nil {
			return chunk, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if ferr := r.failover(ctx, err); ferr != nil {
			return nil, ferr
		}
		if err := r.prime(ctx); err != nil {
			return nil, err
		}
		chunk = r.primed
		r.primed = nil
		return chunk, nil
	}
}

// pull reads raw frames from the current sequence and applies the head skip
// and tail trim so only window bytes remain. It never returns an empty
// payload without an error.
func (r *Run) pull(ctx context.Context) ([]byte, error) {
	for {
		chunk, err := r.chunks.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) && r.sent+r.headless() >= r.rng.Length() {
				// Upstream ended exactly at the window; nothing to do.
				return nil, io.EOF
			}
			return nil, err
		}

		if r.skip > 0 {
			if int64(len(chunk)) <= r.skip {
				r.skip -= int64(len(chunk))
				continue
			}
			chunk = chunk[r.skip:]
			r.skip = 0
		}

		if remaining := r.rng.Length() - r.sent - r.headless(); int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		if len(chunk) == 0 {
			continue
		}
		return chunk, nil
	}
}

// headless is the primed payload length not yet counted in sent.
func (r *Run) headless() int64 {
	return int64(len(r.primed))
}

func (r *Run) write(w io.Writer, chunk []byte) error {
	n, err := w.Write(chunk)
	r.sent += int64(n)
	return err
}

// openChunks re-resolves the session binding from the directory and opens a
// sequence at the resume offset.
func (r *Run) openChunks(ctx context.Context) error {
	if r.chunks != nil {
		r.chunks.Close()
		r.chunks = nil
	}

	src, ok := r.engine.dir.Source(r.sessionID)
	if !ok {
		return &errdefs.TransportError{SessionID: r.sessionID, Err: errors.New("session not in pool")}
	}

	resumeAt := r.rng.Start + r.sent
	length := r.rng.Length() - r.sent
	chunkOffset, chunkLimit, headSkip := AlignChunks(resumeAt, length, ChunkSize)

	chunks, err := src.OpenChunks(ctx, r.messageID, chunkOffset, chunkLimit)
	if err != nil {
		return err
	}
	r.chunks = chunks
	r.skip = headSkip
	return nil
}

// failover classifies the upstream error, updates the ledger, and borrows a
// replacement session. When the router has nothing new to offer, the
// original error is surfaced; the touched set bounds recoveries to the
// session count.
func (r *Run) failover(ctx context.Context, cause error) error {
	e := r.engine

	var notVisible *errdefs.NotYetVisibleError
	var rateLimited *errdefs.RateLimitedError
	switch {
	case errors.As(cause, &notVisible):
		ttl := blindTTLBase + time.Duration(rand.Int63n(int64(blindTTLJitter)))
		e.ledger.MarkBlind(r.messageID, r.sessionID, ttl)
		e.logger.Debug("session blind to message, failing over",
			slog.Int("session_id", r.sessionID),
			slog.Int("message_id", r.messageID),
			slog.Duration("blind_ttl", ttl))
		// Give upstream propagation a moment before the next attempt.
		select {
		case <-time.After(e.pause):
		case <-ctx.Done():
			return ctx.Err()
		}
	case errors.As(cause, &rateLimited):
		cooloff := rateLimited.RetryAfter
		if cooloff <= 0 {
			cooloff = defaultCooloff
		}
		e.ledger.Blacklist(r.sessionID, cooloff)
		e.logger.Warn("session rate limited, failing over",
			slog.Int("session_id", r.sessionID),
			slog.Duration("cooloff", cooloff))
	default:
		e.ledger.Blacklist(r.sessionID, defaultCooloff)
		e.logger.Warn("session transport error, failing over",
			slog.Int("session_id", r.sessionID),
			slog.String("error", cause.Error()))
	}

	next := e.selector.Select(r.messageID)
	if next == r.sessionID {
		return cause
	}
	for _, id := range r.touched {
		if id == next {
			return cause
		}
	}

	e.logger.Info("resuming stream on replacement session",
		slog.Int("message_id", r.messageID),
		slog.Int("from_session", r.sessionID),
		slog.Int("to_session", next),
		slog.Int64("bytes_sent", r.sent))

	r.sessionID = next
	r.touch(next)
	return nil
}
