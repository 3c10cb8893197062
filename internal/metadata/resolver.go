// Package metadata resolves archived message IDs to file descriptors, with a
// TTL'd LRU cache and single-flight deduplication of concurrent lookups.
package metadata

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arclight-labs/streamgate/internal/config"
	"github.com/arclight-labs/streamgate/internal/errdefs"
	"github.com/arclight-labs/streamgate/internal/logger"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// cacheSize caps the descriptor cache; eviction is LRU.
	cacheSize = 10_000

	// cacheTTL bounds how long a descriptor is trusted without refetching.
	cacheTTL = 6 * time.Hour

	// inflightGrace is how long a finished resolution lingers in the
	// single-flight table. Long enough that a burst of concurrent requests
	// shares one upstream fetch even after it fails, short enough that a
	// genuine retry is not stuck behind a stale negative result.
	inflightGrace = 5 * time.Second

	preferredDeadline = 10 * time.Second
	routedDeadline    = 8 * time.Second
)

// Describer is the single upstream capability the resolver needs from a
// session.
type Describer interface {
	Describe(ctx context.Context, messageID int) (*Descriptor, error)
}

// Directory resolves a session ID to its live Describer. Implemented by the
// session pool; the binding is re-read on every call because pool entries may
// be replaced by restart.
type Directory interface {
	Lookup(sessionID int) (Describer, bool)
}

// Selector picks a session for the last-resort fetch attempt.
type Selector interface {
	Select(messageID int) int
}

type call struct {
	done chan struct{}
	desc *Descriptor
	err  error
}

// Resolver deduplicates and caches descriptor lookups.
type Resolver struct {
	cache    *lru.LRU[int, *Descriptor]
	dir      Directory
	selector Selector
	logger   *logger.Logger

	mu       sync.Mutex
	inflight map[int]*call
}

func NewResolver(dir Directory, selector Selector, log *logger.Logger) *Resolver {
	return &Resolver{
		cache:    lru.NewLRU[int, *Descriptor](cacheSize, nil, cacheTTL),
		dir:      dir,
		selector: selector,
		logger:   log.WithComponent("metadata"),
		inflight: make(map[int]*call),
	}
}

// join returns the in-flight call for messageID, creating one when absent.
// The second return value is true for the caller that must perform the fetch.
func (r *Resolver) join(messageID int) (*call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.inflight[messageID]; ok {
		return c, false
	}
	c := &call{done: make(chan struct{})}
	r.inflight[messageID] = c
	return c, true
}

// forget removes the entry only if it still maps to the same call, so a
// newer resolution started after the grace period is never evicted.
func (r *Resolver) forget(messageID int, c *call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.inflight[messageID]; ok && cur == c {
		delete(r.inflight, messageID)
	}
}

// Resolve returns the descriptor for messageID.
//
// Behavior:
//   - cached descriptor: returned immediately
//   - a resolution already in flight: its result is awaited and shared
//   - otherwise one upstream fetch is performed and published
//
// Only descriptors with a non-empty unique ID and a positive size are ever
// cached or returned; anything else resolves to ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, messageID int) (*Descriptor, error) {
	if desc, ok := r.cache.Get(messageID); ok {
		return desc, nil
	}

	c, leader := r.join(messageID)
	if !leader {
		select {
		case <-c.done:
			return c.desc, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.desc, c.err = r.fetch(ctx, messageID)
	if c.err == nil {
		r.cache.Add(messageID, c.desc)
	}
	close(c.done)

	// Keep the entry around briefly so late joiners of this burst share the
	// result, then allow a fresh attempt.
	time.AfterFunc(inflightGrace, func() { r.forget(messageID, c) })

	return c.desc, c.err
}

// Cached reports whether a descriptor is present without touching upstream.
func (r *Resolver) Cached(messageID int) bool {
	_, ok := r.cache.Get(messageID)
	return ok
}

// fetch tries the power session first, then the primary, then whatever the
// router offers. The power session never suffers message-visibility
// propagation delay, which is why it goes first.
func (r *Resolver) fetch(ctx context.Context, messageID int) (*Descriptor, error) {
	tried := map[int]bool{}
	var lastErr error

	attempt := func(sessionID int, deadline time.Duration) (*Descriptor, bool) {
		if tried[sessionID] {
			return nil, false
		}
		tried[sessionID] = true

		sess, ok := r.dir.Lookup(sessionID)
		if !ok {
			return nil, false
		}

		fetchCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		desc, err := sess.Describe(fetchCtx, messageID)
		if err != nil {
			lastErr = err
			r.logger.Debug("descriptor fetch failed",
				slog.Int("message_id", messageID),
				slog.Int("session_id", sessionID),
				slog.String("error", err.Error()))
			return nil, false
		}
		return desc, true
	}

	for _, sessionID := range []int{config.PowerSessionID, 0} {
		if desc, ok := attempt(sessionID, preferredDeadline); ok {
			return r.validated(desc)
		}
	}
	if desc, ok := attempt(r.selector.Select(messageID), routedDeadline); ok {
		return r.validated(desc)
	}

	if lastErr != nil {
		r.logger.Warn("descriptor resolution exhausted all sessions",
			slog.Int("message_id", messageID),
			slog.String("last_error", lastErr.Error()))
	}
	return nil, errdefs.ErrNotFound
}

func (r *Resolver) validated(desc *Descriptor) (*Descriptor, error) {
	if desc.UniqueID == "" || desc.FileSize <= 0 {
		return nil, errdefs.ErrNotFound
	}
	return desc, nil
}

// IsNotFound reports whether err maps to a 404 for the client.
func IsNotFound(err error) bool {
	return errors.Is(err, errdefs.ErrNotFound)
}
