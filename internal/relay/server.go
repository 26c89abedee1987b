package relay

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"waypoint/internal/domain"
)

// deliverRequest is the body of POST /inbox/:user.
type deliverRequest struct {
	Delivery domain.Delivery     `json:"delivery" binding:"required"`
	Hint     domain.DeliveryHint `json:"hint"`
}

// ackRequest is the body of POST /inbox/:user/ack.
type ackRequest struct {
	Count int `json:"count" binding:"min=0"`
}

// Server exposes a Hub over HTTP.
type Server struct {
	hub      *Hub
	log      *zap.Logger
	gatherer prometheus.Gatherer
}

// NewServer wraps hub. gatherer backs GET /metrics and may be nil.
func NewServer(hub *Hub, log *zap.Logger, gatherer prometheus.Gatherer) *Server {
	return &Server{hub: hub, log: log, gatherer: gatherer}
}

// Router builds the gin engine with every relay route.
func (s *Server) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.logRequests())

	engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.POST("/bundles", s.publishBundle)
	engine.GET("/bundles/:user", s.fetchBundle)
	engine.GET("/prekeys/:user/status", s.preKeyStatus)
	engine.POST("/inbox/:user", s.deliver)
	engine.GET("/inbox/:user", s.fetchInbox)
	engine.POST("/inbox/:user/ack", s.ack)
	if s.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return engine
}

func (s *Server) publishBundle(c *gin.Context) {
	var b domain.PublicKeyBundle
	if err := c.ShouldBindJSON(&b); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.hub.PublishBundle(c.Request.Context(), b); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) fetchBundle(c *gin.Context) {
	b, err := s.hub.TakeBundle(c.Request.Context(), domain.UserID(c.Param("user")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) preKeyStatus(c *gin.Context) {
	st, err := s.hub.Status(domain.UserID(c.Param("user")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) deliver(c *gin.Context) {
	var req deliverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Delivery.To = domain.UserID(c.Param("user"))
	if err := s.hub.Enqueue(req.Delivery, req.Hint); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) fetchInbox(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	c.JSON(http.StatusOK, s.hub.Fetch(domain.UserID(c.Param("user")), limit))
}

func (s *Server) ack(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.hub.Ack(domain.UserID(c.Param("user")), req.Count)
	c.Status(http.StatusNoContent)
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownUser):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidBundle):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("relay request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("remote", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("duration", time.Since(start)))
	}
}
