package tgc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"golang.org/x/sync/errgroup"

	"github.com/arclight-labs/streamgate/internal/config"
	"github.com/arclight-labs/streamgate/internal/ledger"
	"github.com/arclight-labs/streamgate/internal/logger"
	"github.com/arclight-labs/streamgate/internal/metadata"
	"github.com/arclight-labs/streamgate/internal/stream"
)

const (
	primaryStartTimeout   = 15 * time.Second
	secondaryStartTimeout = 20 * time.Second

	// startStagger spaces out secondary logins so a burst of fresh sessions
	// does not trip upstream anti-abuse limits.
	startStagger = 2 * time.Second
)

// Pool owns every live session and indexes them by ID. Entries are replaced
// wholesale on restart; callers must re-look-up a session on every use rather
// than hold on to one.
type Pool struct {
	cfg    *config.Config
	ledger *ledger.Ledger
	logger *logger.Logger

	// updates receives the primary account's updates; set before Start.
	updates telegram.UpdateHandler

	mu       sync.RWMutex
	sessions map[int]*Session
}

func NewPool(cfg *config.Config, l *ledger.Ledger, log *logger.Logger) *Pool {
	return &Pool{
		cfg:      cfg,
		ledger:   l,
		logger:   log.WithComponent("pool"),
		sessions: make(map[int]*Session),
	}
}

// Start brings the pool up. The primary session is mandatory and its failure
// is returned to the caller; secondaries and the power session start
// concurrently with staggered logins, and their failures are logged only.
// The maintenance pass retries anything that did not come up.
func (p *Pool) Start(ctx context.Context) error {
	primary, err := p.startSession(ctx, 0, p.cfg.BotToken, "", primaryStartTimeout)
	if err != nil {
		return fmt.Errorf("primary session: %w", err)
	}
	p.put(primary)

	var g errgroup.Group

	if p.cfg.StringSession != "" {
		g.Go(func() error {
			s, err := p.startSession(ctx, config.PowerSessionID, "", p.cfg.StringSession, secondaryStartTimeout)
			if err != nil {
				p.logger.Error("power session failed to start", slog.String("error", err.Error()))
				return nil
			}
			p.put(s)
			return nil
		})
	}

	ids := make([]int, 0, len(p.cfg.MultiTokens))
	for id := range p.cfg.MultiTokens {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for i, id := range ids {
		id := id
		token := p.cfg.MultiTokens[id]
		delay := time.Duration(i) * startStagger
		g.Go(func() error {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			s, err := p.startSession(ctx, id, token, "", secondaryStartTimeout)
			if err != nil {
				p.logger.Error("secondary session failed to start",
					slog.Int("session_id", id),
					slog.String("error", err.Error()))
				return nil
			}
			p.put(s)
			return nil
		})
	}

	g.Wait()

	p.logger.Info("session pool started",
		slog.Int("sessions", p.Size()),
		slog.Int("configured", 1+len(p.cfg.MultiTokens)))
	return nil
}

// SetUpdateHandler installs the handler for the primary account's updates.
// Must be called before Start.
func (p *Pool) SetUpdateHandler(h telegram.UpdateHandler) {
	p.updates = h
}

// startSession builds a session and waits for it to authorize within the
// timeout. On success the session is registered in the ledger so the router
// can see it.
func (p *Pool) startSession(ctx context.Context, id int, botToken, userSession string, timeout time.Duration) (*Session, error) {
	var handler telegram.UpdateHandler
	if id == 0 {
		handler = p.updates
	}
	s, err := newSession(id, p.cfg, p.logger, botToken, userSession, handler)
	if err != nil {
		return nil, err
	}
	if err := s.awaitReady(ctx, timeout); err != nil {
		return nil, err
	}
	p.ledger.Register(id)
	return s, nil
}

func (p *Pool) put(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.id] = s
}

func (p *Pool) remove(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, id)
}

// Get returns the live session for id.
func (p *Pool) Get(id int) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[id]
	return s, ok
}

// Lookup adapts Get to the metadata resolver's directory interface.
func (p *Pool) Lookup(id int) (metadata.Describer, bool) {
	s, ok := p.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// Source adapts Get to the streaming engine's directory interface.
func (p *Pool) Source(id int) (stream.Source, bool) {
	s, ok := p.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// Primary returns the mandatory session 0.
func (p *Pool) Primary() (*Session, bool) {
	return p.Get(0)
}

// BotUsername returns the primary session's account name, or "" before the
// primary has authorized.
func (p *Pool) BotUsername() string {
	primary, ok := p.Primary()
	if !ok {
		return ""
	}
	self := primary.Self()
	if self == nil {
		return ""
	}
	return self.Username
}

// HasSecondaries reports whether any session beyond the primary is live.
func (p *Pool) HasSecondaries() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for id := range p.sessions {
		if id != 0 {
			return true
		}
	}
	return false
}

// IDs returns the live session IDs in ascending order.
func (p *Pool) IDs() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]int, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Size returns the number of live sessions.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Shutdown closes every session and empties the pool.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[int]*Session)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
	p.logger.Info("session pool stopped")
}
