package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arclight-labs/streamgate/internal/config"
	"github.com/arclight-labs/streamgate/internal/errdefs"
	"github.com/arclight-labs/streamgate/internal/ledger"
	"github.com/arclight-labs/streamgate/internal/logger"
	"github.com/arclight-labs/streamgate/internal/metadata"
	"github.com/arclight-labs/streamgate/internal/metrics"
	"github.com/arclight-labs/streamgate/internal/stream"
)

// Version is reported by the status endpoint.
const Version = "1.2.0"

// Resolver yields file descriptors for archived messages.
type Resolver interface {
	Resolve(ctx context.Context, messageID int) (*metadata.Descriptor, error)
}

// Streamer opens failover-capable streaming runs.
type Streamer interface {
	Open(ctx context.Context, messageID, sessionID int, rng stream.ByteRange) (*stream.Run, error)
}

// Selector picks the session that serves a request.
type Selector interface {
	Select(messageID int) int
}

// PoolStatus is the read-only pool view the status endpoint needs.
type PoolStatus interface {
	Size() int
	BotUsername() string
}

// Server wires the HTTP routes to the streaming core.
type Server struct {
	cfg      *config.Config
	logger   *logger.Logger
	ledger   *ledger.Ledger
	pool     PoolStatus
	selector Selector
	resolver Resolver
	streamer Streamer
	metrics  *metrics.Metrics

	started time.Time
	engine  *gin.Engine
}

func NewServer(
	cfg *config.Config,
	log *logger.Logger,
	l *ledger.Ledger,
	pool PoolStatus,
	selector Selector,
	resolver Resolver,
	streamer Streamer,
	m *metrics.Metrics,
) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   log.WithComponent("api"),
		ledger:   l,
		pool:     pool,
		selector: selector,
		resolver: resolver,
		streamer: streamer,
		metrics:  m,
		started:  time.Now(),
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(log))
	r.Use(CORSMiddleware())

	r.GET("/", s.handleRoot)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/watch/*path", s.handleWatch)
	r.HEAD("/watch/*path", s.handleWatch)

	// The file endpoint owns the rest of the URL space; gin cannot register
	// a root catch-all next to fixed routes, so it hangs off NoRoute.
	r.NoRoute(s.handleFile)

	s.engine = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleRoot(c *gin.Context) {
	c.Redirect(http.StatusFound, s.cfg.DocURL)
}

// internalError emits a 500 whose body carries only a short error id; the id
// is logged together with the real error so operators can correlate.
func (s *Server) internalError(c *gin.Context, err error, msg string) {
	id := errdefs.ErrorID()
	s.logger.WithContext(c.Request.Context()).Error(msg,
		slog.String("error_id", id),
		slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":    "internal server error",
		"error_id": id,
	})
}
