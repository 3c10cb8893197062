// Package keepalive pings the gateway's own public URL so free-tier hosts do
// not idle the process out.
package keepalive

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/arclight-labs/streamgate/internal/logger"
)

const requestTimeout = 45 * time.Second

type Pinger struct {
	url    string
	client *http.Client
	logger *logger.Logger
}

func New(url string, log *logger.Logger) *Pinger {
	return &Pinger{
		url:    url,
		client: &http.Client{Timeout: requestTimeout},
		logger: log.WithComponent("keepalive"),
	}
}

// Ping performs one self-request. Failures are logged and otherwise ignored;
// the next tick tries again.
func (p *Pinger) Ping(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn("keepalive request build failed", slog.String("error", err.Error()))
		return
	}

	res, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("keepalive ping failed", slog.String("error", err.Error()))
		return
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	p.logger.Debug("keepalive ping", slog.Int("status", res.StatusCode))
}
