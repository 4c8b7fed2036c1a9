package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// formatUptime renders uptime the way humanize renders relative times,
// without the "ago" label.
func formatUptime(uptime time.Duration) string {
	var start time.Time
	return strings.TrimSpace(humanize.RelTime(start, start.Add(uptime), "", ""))
}

func (s *RESTServer) handleHealth(c *gin.Context) {
	uptime := s.uptime.Elapsed(s.clock)
	st := s.sampling.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        s.version,
		"state":          st.State,
		"uptime":         formatUptime(uptime),
		"uptime_seconds": uptime.Seconds(),
		"ws_clients":     s.hub.ClientCount(),
	})
}

func (s *RESTServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sampling.Status())
}

func (s *RESTServer) handleLatestSample(c *gin.Context) {
	report, ok := s.sampling.Latest()
	if !ok {
		respondNotFound(c, "Sample")
		return
	}
	c.JSON(http.StatusOK, report)
}
