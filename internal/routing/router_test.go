package routing

import (
	"testing"
	"time"

	"github.com/arclight-labs/streamgate/internal/ledger"
	"github.com/arclight-labs/streamgate/internal/logger"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(sessionIDs ...int) (*Router, *ledger.Ledger) {
	l := ledger.New()
	for _, id := range sessionIDs {
		l.Register(id)
	}
	log := logger.New(logger.Config{Format: "text"})
	return New(l, 0, log), l
}

func TestSelectLeastLoaded(t *testing.T) {
	r, l := newTestRouter(0, 1, 2)

	l.Acquire(0)
	l.Acquire(0)
	l.Acquire(1)

	assert.Equal(t, 2, r.Select(NoMessage))
}

func TestSelectTieBreaksLowestID(t *testing.T) {
	r, l := newTestRouter(0, 1, 2)

	l.Acquire(0)
	l.Acquire(1)
	l.Acquire(2)

	assert.Equal(t, 0, r.Select(NoMessage))
}

func TestSelectSkipsBlacklisted(t *testing.T) {
	r, l := newTestRouter(0, 1)

	l.Blacklist(0, time.Minute)
	assert.Equal(t, 1, r.Select(NoMessage))
}

func TestSelectSkipsBlindForThatMessageOnly(t *testing.T) {
	r, l := newTestRouter(0, 1)

	// Session 1 is idle and would normally win.
	l.Acquire(0)
	l.MarkBlind(777, 1, 30*time.Second)

	assert.Equal(t, 0, r.Select(777))
	assert.Equal(t, 1, r.Select(778))
}

func TestSelectBlindFallbackIgnoresBlindness(t *testing.T) {
	r, l := newTestRouter(0, 1)

	l.MarkBlind(777, 0, 30*time.Second)
	l.MarkBlind(777, 1, 30*time.Second)
	l.Acquire(0)

	// Everyone is blind: least-loaded non-blacklisted wins regardless.
	assert.Equal(t, 1, r.Select(777))
}

func TestSelectSkipsSessionsAtCapacity(t *testing.T) {
	l := ledger.New()
	l.Register(0)
	l.Register(1)
	log := logger.New(logger.Config{Format: "text"})
	r := New(l, 2, log)

	// Session 0 is less loaded but has exhausted its headroom.
	l.Acquire(0)
	l.Acquire(0)
	l.Acquire(1)
	l.Acquire(1)
	l.Acquire(1)

	assert.Equal(t, 1, r.Select(NoMessage))
}

func TestSelectAllAtCapacityFallsBackLeastLoaded(t *testing.T) {
	l := ledger.New()
	l.Register(0)
	l.Register(1)
	log := logger.New(logger.Config{Format: "text"})
	r := New(l, 1, log)

	l.Acquire(0)
	l.Acquire(0)
	l.Acquire(1)

	// The cap is advisory: when every session is full, least-loaded wins.
	assert.Equal(t, 1, r.Select(NoMessage))
}

func TestSelectAllBlacklistedReturnsPrimary(t *testing.T) {
	r, l := newTestRouter(0, 1, 2)

	for _, id := range []int{0, 1, 2} {
		l.Blacklist(id, time.Minute)
	}

	assert.Equal(t, 0, r.Select(NoMessage))
}

func TestSelectEmptyLedgerReturnsPrimary(t *testing.T) {
	r, _ := newTestRouter()
	assert.Equal(t, 0, r.Select(NoMessage))
}
