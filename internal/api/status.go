package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type serverStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

type botStatus struct {
	Username      string `json:"username"`
	ActiveClients int    `json:"active_clients"`
}

type resourceStatus struct {
	TotalWorkload        int            `json:"total_workload"`
	WorkloadDistribution map[string]int `json:"workload_distribution"`
}

type statusResponse struct {
	Server      serverStatus   `json:"server"`
	TelegramBot botStatus      `json:"telegram_bot"`
	Resources   resourceStatus `json:"resources"`
}

func (s *Server) handleStatus(c *gin.Context) {
	loads := s.ledger.Loads()
	distribution := make(map[string]int, len(loads))
	total := 0
	for id, load := range loads {
		distribution[strconv.Itoa(id)] = load
		total += load
	}
	s.metrics.ObserveLoads(loads)

	c.JSON(http.StatusOK, statusResponse{
		Server: serverStatus{
			Status:  "operational",
			Version: Version,
			Uptime:  readableUptime(time.Since(s.started)),
		},
		TelegramBot: botStatus{
			Username:      s.pool.BotUsername(),
			ActiveClients: s.pool.Size(),
		},
		Resources: resourceStatus{
			TotalWorkload:        total,
			WorkloadDistribution: distribution,
		},
	})
}

// readableUptime renders a duration as "2d 5h 3m 12s", dropping leading zero
// units but always keeping the seconds.
func readableUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := d - minutes*time.Minute

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd ", days)
	}
	if hours > 0 || b.Len() > 0 {
		fmt.Fprintf(&b, "%dh ", hours)
	}
	if minutes > 0 || b.Len() > 0 {
		fmt.Fprintf(&b, "%dm ", minutes)
	}
	fmt.Fprintf(&b, "%ds", seconds/time.Second)
	return b.String()
}
