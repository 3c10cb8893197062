// Package tgc owns the MTProto side of the gateway: the long-lived client
// sessions, the pool that starts and indexes them, and the maintenance pass
// that keeps the pool converged with configuration.
package tgc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/arclight-labs/streamgate/internal/config"
	"github.com/arclight-labs/streamgate/internal/logger"
)

const (
	// probeTimeout bounds the self-identify round trip used to decide
	// whether a session is still usable.
	probeTimeout = 5 * time.Second

	// messageTimeout bounds a single archived-message fetch.
	messageTimeout = 15 * time.Second
)

// Session is one authorized MTProto client bound to the archive channel.
// The primary session has ID 0, numbered secondaries come from extra bot
// tokens, and the user-account power session has config.PowerSessionID.
type Session struct {
	id     int
	cfg    *config.Config
	logger *logger.Logger

	client *telegram.Client
	api    *tg.Client

	connected atomic.Bool
	self      atomic.Pointer[tg.User]

	peerMu sync.Mutex
	peer   *tg.InputChannel

	ready     chan struct{}
	readyOnce sync.Once
	stop      context.CancelFunc
	done      chan struct{}
	runErr    error
}

// newSession builds an unstarted session. Exactly one of botToken and
// userSession must be set; userSession is a Telethon-format string session.
// handler, when non-nil, receives the account's updates; only the primary
// session carries one.
func newSession(id int, cfg *config.Config, log *logger.Logger, botToken, userSession string, handler telegram.UpdateHandler) (*Session, error) {
	storage := new(session.StorageMemory)
	if userSession != "" {
		data, err := session.TelethonSession(userSession)
		if err != nil {
			return nil, fmt.Errorf("decode string session: %w", err)
		}
		loader := session.Loader{Storage: storage}
		if err := loader.Save(context.Background(), data); err != nil {
			return nil, fmt.Errorf("seed session storage: %w", err)
		}
	}

	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  handler,
	})

	s := &Session{
		id:     id,
		cfg:    cfg,
		logger: &logger.Logger{Logger: log.WithComponent("session").With(slog.Int("session_id", id))},
		client: client,
		api:    client.API(),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.startRun(botToken)
	return s, nil
}

// startRun drives the client connection in the background. The run callback
// authorizes, records the self user, and then parks until the session is
// stopped; gotd tears the connection down when the callback returns.
func (s *Session) startRun(botToken string) {
	runCtx, cancel := context.WithCancel(context.Background())
	s.stop = cancel

	go func() {
		defer close(s.done)

		err := s.client.Run(runCtx, func(ctx context.Context) error {
			status, err := s.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				if botToken == "" {
					return errors.New("session storage holds no authorization")
				}
				if _, err := s.client.Auth().Bot(ctx, botToken); err != nil {
					return fmt.Errorf("bot login: %w", err)
				}
			}

			self, err := s.client.Self(ctx)
			if err != nil {
				return fmt.Errorf("self: %w", err)
			}
			s.self.Store(self)
			s.connected.Store(true)
			s.logger.Info("session connected",
				slog.String("username", self.Username),
				slog.Bool("bot", self.Bot))
			s.signalReady()

			<-ctx.Done()
			return ctx.Err()
		})

		s.connected.Store(false)
		s.runErr = err
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("session terminated", slog.String("error", err.Error()))
		}
		s.signalReady()
	}()
}

func (s *Session) signalReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// awaitReady blocks until the session is authorized, its run loop has died,
// or the timeout expires. A timeout stops the session so the run goroutine
// does not linger.
func (s *Session) awaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		if !s.connected.Load() {
			if s.runErr != nil {
				return s.runErr
			}
			return errors.New("session failed to connect")
		}
		return nil
	case <-timer.C:
		s.Close()
		return fmt.Errorf("session %d did not become ready within %s", s.id, timeout)
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// ID returns the session's pool identifier.
func (s *Session) ID() int { return s.id }

// API exposes the raw RPC client for callers with needs beyond streaming,
// like the upload intake.
func (s *Session) API() *tg.Client { return s.api }

// ArchivePeer resolves the archive channel as an input peer.
func (s *Session) ArchivePeer(ctx context.Context) (*tg.InputChannel, error) {
	return s.channelPeer(ctx)
}

// Connected reports whether the run loop is live and authorized.
func (s *Session) Connected() bool { return s.connected.Load() }

// Self returns the account behind the session, or nil before authorization.
func (s *Session) Self() *tg.User { return s.self.Load() }

// Probe performs a bounded self-identify round trip. It is the health check
// used by the maintenance pass; any error means the session needs a restart.
func (s *Session) Probe(ctx context.Context) error {
	if !s.connected.Load() {
		return errors.New("session disconnected")
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := s.client.Self(ctx)
	return err
}

// Close stops the run loop and waits for the connection to tear down.
// Safe to call multiple times.
func (s *Session) Close() {
	s.stop()
	<-s.done
}
