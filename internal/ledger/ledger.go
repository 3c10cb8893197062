// Package ledger tracks per-session load and health state consulted by the
// router: in-flight streaming counts, global cool-off entries, and
// per-(message, session) blindness entries.
package ledger

import (
	"sync"
	"time"
)

type blindKey struct {
	messageID int
	sessionID int
}

// Ledger is the composite of the work-load, blacklist, and blind tables.
//
// Each table has its own mutex; none of the methods call each other while
// holding a lock, so there is no lock ordering to get wrong. Expiry entries
// are advisory and removed lazily by the readers.
type Ledger struct {
	loadMu sync.Mutex
	loads  map[int]int

	banMu     sync.Mutex
	blacklist map[int]time.Time

	blindMu sync.Mutex
	blind   map[blindKey]time.Time

	// now is a seam for tests.
	now func() time.Time
}

func New() *Ledger {
	return &Ledger{
		loads:     make(map[int]int),
		blacklist: make(map[int]time.Time),
		blind:     make(map[blindKey]time.Time),
		now:       time.Now,
	}
}

// Register ensures a zeroed work-load entry exists for the session. Called
// when a session enters the pool; an existing non-zero count is preserved so
// a restart during live streams does not lose attribution.
func (l *Ledger) Register(sessionID int) {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	if _, ok := l.loads[sessionID]; !ok {
		l.loads[sessionID] = 0
	}
}

// Acquire counts one in-flight streaming operation against the session.
// Every Acquire must be paired with exactly one Release on a terminal path.
func (l *Ledger) Acquire(sessionID int) {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	l.loads[sessionID]++
}

// Release undoes one Acquire. The count never goes below zero.
func (l *Ledger) Release(sessionID int) {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	if l.loads[sessionID] > 0 {
		l.loads[sessionID]--
	}
}

// Load returns the in-flight count for one session.
func (l *Ledger) Load(sessionID int) int {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	return l.loads[sessionID]
}

// Loads returns a copy of the work-load table.
func (l *Ledger) Loads() map[int]int {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	out := make(map[int]int, len(l.loads))
	for id, load := range l.loads {
		out[id] = load
	}
	return out
}

// TotalLoad returns the sum of all in-flight counts.
func (l *Ledger) TotalLoad() int {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	total := 0
	for _, load := range l.loads {
		total += load
	}
	return total
}

// Blacklist puts the session in cool-off for the given duration.
func (l *Ledger) Blacklist(sessionID int, d time.Duration) {
	l.banMu.Lock()
	defer l.banMu.Unlock()
	l.blacklist[sessionID] = l.now().Add(d)
}

// Blacklisted reports whether the session is currently cooling off.
// Expired entries are removed in place.
func (l *Ledger) Blacklisted(sessionID int) bool {
	l.banMu.Lock()
	defer l.banMu.Unlock()
	expiry, ok := l.blacklist[sessionID]
	if !ok {
		return false
	}
	if l.now().After(expiry) {
		delete(l.blacklist, sessionID)
		return false
	}
	return true
}

// BlacklistedUntil returns the expiry of a session's cool-off entry, or the
// zero time when there is none. Used by tests and the status endpoint.
func (l *Ledger) BlacklistedUntil(sessionID int) time.Time {
	l.banMu.Lock()
	defer l.banMu.Unlock()
	return l.blacklist[sessionID]
}

// MarkBlind records that the session cannot observe the message yet.
func (l *Ledger) MarkBlind(messageID, sessionID int, d time.Duration) {
	l.blindMu.Lock()
	defer l.blindMu.Unlock()
	l.blind[blindKey{messageID, sessionID}] = l.now().Add(d)
}

// Blind reports whether the session is still blind to the message.
// Expired entries are removed in place.
func (l *Ledger) Blind(messageID, sessionID int) bool {
	l.blindMu.Lock()
	defer l.blindMu.Unlock()
	key := blindKey{messageID, sessionID}
	expiry, ok := l.blind[key]
	if !ok {
		return false
	}
	if l.now().After(expiry) {
		delete(l.blind, key)
		return false
	}
	return true
}
