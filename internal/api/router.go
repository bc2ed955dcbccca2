// Package api is the thin ops surface described in SPEC_FULL.md §4: health,
// command dispatch, and read-model queries. It is not the excluded
// client-facing transport — just the minimal surface the teacher exposes
// beside its own real transport (router.GET("/health", ...) in
// cmd/tarsy/main.go).
package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/podsync/syncd/internal/aggregate"
	"github.com/podsync/syncd/internal/dispatcher"
	"github.com/podsync/syncd/internal/events"
	"github.com/podsync/syncd/internal/eventlog"
	"github.com/podsync/syncd/internal/projection"
)

// Server wires the gin router to the running components.
type Server struct {
	db          *sql.DB
	dispatcher  *dispatcher.Dispatcher
	pipeline    *projection.Pipeline
	connManager *events.ConnectionManager
}

// NewServer builds the ops surface. connManager may be nil to disable /ws.
func NewServer(db *sql.DB, d *dispatcher.Dispatcher, pipeline *projection.Pipeline, connManager *events.ConnectionManager) *Server {
	return &Server{db: db, dispatcher: d, pipeline: pipeline, connManager: connManager}
}

// Router builds the gin engine without binding a port; cmd/syncd serves it
// from its own http.Server.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.GET("/health", s.handleHealth)
	r.POST("/commands", s.handleCommand)
	r.GET("/query/subscriptions", s.handleQuerySubscriptions)
	r.GET("/query/play_statuses", s.handleQueryPlayStatuses)
	r.GET("/query/playlists", s.handleQueryPlaylists)
	r.GET("/query/collections", s.handleQueryCollections)
	r.GET("/query/popularity/feeds", s.handleQueryFeedPopularity)
	r.GET("/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	projectors := gin.H{}
	if s.pipeline != nil {
		for name, h := range s.pipeline.Health() {
			entry := gin.H{"checkpoint": h.Checkpoint}
			if h.Halted != nil {
				entry["halted"] = h.Halted.Error()
			}
			projectors[name] = entry
		}
	}

	connections := 0
	if s.connManager != nil {
		connections = s.connManager.ActiveConnections()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"projectors":  projectors,
		"connections": connections,
	})
}

func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	cmd, err := decodeCommand(req.Type, req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := s.dispatcher.Dispatch(c.Request.Context(), req.UserID, cmd, aggregate.EventInfos{
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		writeCommandError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events_appended": len(records)})
}

func writeCommandError(c *gin.Context, err error) {
	var domainErr *aggregate.DomainError
	if errors.As(err, &domainErr) {
		c.JSON(http.StatusConflict, gin.H{"error": domainErr.Error(), "kind": string(domainErr.Kind)})
		return
	}
	var infraErr *dispatcher.InfrastructureError
	if errors.As(err, &infraErr) {
		status := http.StatusInternalServerError
		switch infraErr.Kind {
		case dispatcher.InfraConflict:
			status = http.StatusConflict
		case dispatcher.InfraTimeout:
			status = http.StatusGatewayTimeout
		case dispatcher.InfraBusy:
			status = http.StatusTooManyRequests
		case dispatcher.InfraUnavailable:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": infraErr.Error(), "kind": string(infraErr.Kind)})
		return
	}
	var conflictErr *eventlog.ConflictError
	if errors.As(err, &conflictErr) {
		c.JSON(http.StatusConflict, gin.H{"error": conflictErr.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	if s.connManager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "websocket not available"})
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Origin validation is deferred to the excluded client-transport
		// layer; this ops surface trusts its callers.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	s.connManager.HandleConnection(c.Request.Context(), conn)
}
