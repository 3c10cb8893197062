// Package routing picks the upstream session that serves a request, based on
// the load and health ledger.
package routing

import (
	"log/slog"
	"sort"

	"github.com/arclight-labs/streamgate/internal/ledger"
	"github.com/arclight-labs/streamgate/internal/logger"
)

// NoMessage is passed to Select when the request has no message identity yet,
// e.g. when picking a session for a metadata fetch fallback. Archived message
// IDs are always positive.
const NoMessage = 0

// Router selects sessions with the least-loaded policy: blacklisted sessions
// are skipped, sessions blind to the requested message are skipped, sessions
// at their advisory capacity are deprioritized, ties break toward the lowest
// ID. There is no session pinning.
type Router struct {
	ledger *ledger.Ledger
	logger *logger.Logger

	// maxLoad is the advisory per-session capacity; zero disables the check.
	maxLoad int
}

func New(l *ledger.Ledger, maxLoad int, log *logger.Logger) *Router {
	return &Router{
		ledger:  l,
		logger:  log.WithComponent("router"),
		maxLoad: maxLoad,
	}
}

// atCapacity reports whether a session has exhausted its advisory headroom.
func (r *Router) atCapacity(load int) bool {
	return r.maxLoad > 0 && load >= r.maxLoad
}

// Select returns the session ID that should serve a request for messageID.
//
// Selection procedure:
//  1. candidates = every ID present in the work-load table
//  2. drop IDs in active cool-off
//  3. drop IDs blind to messageID (when given)
//  4. drop IDs at their advisory capacity
//  5. least-loaded of the remainder, lowest ID on ties
//  6. fall back to least-loaded non-blacklisted ID regardless of blindness
//     and capacity; if every ID is blacklisted, return 0 unconditionally
func (r *Router) Select(messageID int) int {
	loads := r.ledger.Loads()
	if len(loads) == 0 {
		return 0
	}

	ids := make([]int, 0, len(loads))
	for id := range loads {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	best, bestLoad := -1, 0
	fallback, fallbackLoad := -1, 0
	for _, id := range ids {
		if r.ledger.Blacklisted(id) {
			continue
		}
		if fallback == -1 || loads[id] < fallbackLoad {
			fallback, fallbackLoad = id, loads[id]
		}
		if messageID != NoMessage && r.ledger.Blind(messageID, id) {
			continue
		}
		if r.atCapacity(loads[id]) {
			continue
		}
		if best == -1 || loads[id] < bestLoad {
			best, bestLoad = id, loads[id]
		}
	}

	if best != -1 {
		return best
	}
	if fallback != -1 {
		r.logger.Debug("no eligible session, using least-loaded non-blacklisted fallback",
			slog.Int("message_id", messageID),
			slog.Int("session_id", fallback))
		return fallback
	}

	r.logger.Warn("every session is cooling off, falling back to primary",
		slog.Int("message_id", messageID))
	return 0
}
