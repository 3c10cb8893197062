package tgc

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/arclight-labs/streamgate/internal/config"
	"github.com/arclight-labs/streamgate/internal/logger"
)

// Maintenance converges the pool toward its configured session set: absent
// sessions are restarted and unresponsive ones are recycled. One Pass runs
// per tick; a pass never removes the primary before its replacement is live,
// so requests always have a session 0 to fall back to.
type Maintenance struct {
	pool   *Pool
	cfg    *config.Config
	logger *logger.Logger
}

func NewMaintenance(pool *Pool, cfg *config.Config, log *logger.Logger) *Maintenance {
	return &Maintenance{
		pool:   pool,
		cfg:    cfg,
		logger: log.WithComponent("maintenance"),
	}
}

// credential is one configured session slot.
type credential struct {
	id          int
	botToken    string
	userSession string
}

func (m *Maintenance) configured() []credential {
	creds := []credential{{id: 0, botToken: m.cfg.BotToken}}
	ids := make([]int, 0, len(m.cfg.MultiTokens))
	for id := range m.cfg.MultiTokens {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		creds = append(creds, credential{id: id, botToken: m.cfg.MultiTokens[id]})
	}
	if m.cfg.StringSession != "" {
		creds = append(creds, credential{id: config.PowerSessionID, userSession: m.cfg.StringSession})
	}
	return creds
}

// Pass checks every configured session once.
func (m *Maintenance) Pass(ctx context.Context) {
	start := time.Now()
	restarted := 0

	for _, cred := range m.configured() {
		if ctx.Err() != nil {
			return
		}
		if m.check(ctx, cred) {
			restarted++
		}
	}

	if restarted > 0 {
		m.logger.Info("maintenance pass complete",
			slog.Int("restarted", restarted),
			slog.Duration("took", time.Since(start)))
	}
}

// check probes one slot and heals it if needed. Returns true when the slot
// was restarted or recycled.
func (m *Maintenance) check(ctx context.Context, cred credential) bool {
	timeout := secondaryStartTimeout
	if cred.id == 0 {
		timeout = primaryStartTimeout
	}

	s, ok := m.pool.Get(cred.id)
	if !ok {
		m.logger.Warn("session absent from pool, restarting", slog.Int("session_id", cred.id))
		ns, err := m.pool.startSession(ctx, cred.id, cred.botToken, cred.userSession, timeout)
		if err != nil {
			m.logger.Error("session restart failed",
				slog.Int("session_id", cred.id),
				slog.String("error", err.Error()))
			return false
		}
		m.pool.put(ns)
		return true
	}

	if err := s.Probe(ctx); err == nil {
		return false
	} else {
		m.logger.Warn("session failed health probe",
			slog.Int("session_id", cred.id),
			slog.String("error", err.Error()))
	}

	if cred.id == 0 {
		// The primary must always be present, so the replacement is built
		// before the old entry is touched.
		ns, err := m.pool.startSession(ctx, 0, cred.botToken, "", timeout)
		if err != nil {
			m.logger.Error("primary restart failed, keeping old session",
				slog.String("error", err.Error()))
			return false
		}
		old, _ := m.pool.Get(0)
		m.pool.put(ns)
		if old != nil {
			old.Close()
		}
		return true
	}

	// Secondaries are simply dropped; the absent-slot branch of the next
	// pass brings a replacement up.
	m.pool.remove(cred.id)
	s.Close()
	return true
}
