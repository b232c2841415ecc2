package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunrised/internal/command"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Response bodies.
const (
	MsgMissingValue   = "Missing value"
	MsgMissingHourMin = "Hour or minute parameter missing"
	MsgSunriseUpdated = "Sunrise settings updated"
	MsgLedgerDisabled = "ledger disabled"
	MsgControllerGone = "controller unavailable"
)

type errorResponse struct {
	Error string `json:"error"`
}

type initialValues struct {
	CurrentBrightness int `json:"currentBrightness"`
	MaxBrightness     int `json:"maxBrightness"`
	SunriseDuration   int `json:"sunriseDuration"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// handleSlider maps ?value=N onto "<keyword> N".
func (s *Server) handleSlider(keyword string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok := c.GetQuery("value")
		if !ok || value == "" {
			c.String(http.StatusBadRequest, MsgMissingValue)
			return
		}

		reply, ok := s.submit(c, keyword+" "+value)
		if !ok {
			return
		}
		s.respond(c, reply, reply.Text())
	}
}

func (s *Server) handleSetSunrise(c *gin.Context) {
	hour, okHour := c.GetQuery("hour")
	minute, okMinute := c.GetQuery("minute")
	if !okHour || !okMinute || hour == "" || minute == "" {
		c.String(http.StatusBadRequest, MsgMissingHourMin)
		return
	}

	reply, ok := s.submit(c, command.KeywordSetTime+" "+hour+":"+minute)
	if !ok {
		return
	}
	s.respond(c, reply, MsgSunriseUpdated)
}

func (s *Server) handleReboot(c *gin.Context) {
	reply, ok := s.submit(c, command.KeywordReboot)
	if !ok {
		return
	}
	s.respond(c, reply, reply.Text())
}

func (s *Server) handleInitialValues(c *gin.Context) {
	st, err := s.device.State(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, initialValues{
		CurrentBrightness: st.Brightness,
		MaxBrightness:     st.MaxBrightness,
		SunriseDuration:   st.DurationMinutes,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.device.State(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: MsgLedgerDisabled})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.GetRecent(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read history")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// submit runs raw on the control loop. On failure it writes the response and reports false.
func (s *Server) submit(c *gin.Context, raw string) (command.Reply, bool) {
	reply, err := s.device.Submit(c.Request.Context(), Source, raw)
	if err != nil {
		log.Warn().Err(err).Str("command", raw).Msg("Failed to submit web command")
		c.String(http.StatusServiceUnavailable, MsgControllerGone)
		return command.Reply{}, false
	}
	return reply, true
}

// respond writes the user message for a failed command, or okText.
func (s *Server) respond(c *gin.Context, reply command.Reply, okText string) {
	if reply.Err != nil {
		status := http.StatusInternalServerError
		if command.IsUserError(reply.Err) {
			status = http.StatusBadRequest
		}
		c.String(status, reply.Text())
		return
	}
	c.String(http.StatusOK, okText)
}
