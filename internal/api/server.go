// Package api exposes the HTTP ingress: the alert webhook, the remote
// command endpoint and a small set of read endpoints for operators.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"signal-trader/internal/model"
	"signal-trader/pkg/db"
)

// SignalService is the manager surface the HTTP layer needs.
type SignalService interface {
	Execute(ctx context.Context, n *model.Notification) error
	ExecuteRemoteCommand(ctx context.Context, cmd *model.RemoteCommand) error
	OpenPositions() []string
	PositionDetails(ctx context.Context) string
}

// TradeStore reads journaled trades for the history endpoint.
type TradeStore interface {
	RecentTrades(ctx context.Context, limit int) ([]db.TradeRecord, error)
}

// Server wires HTTP endpoints around the signal manager.
type Server struct {
	Router    *gin.Engine
	Service   SignalService
	Trades    TradeStore
	JWTSecret string
}

// NewServer builds the router with the full middleware stack.
func NewServer(service SignalService, trades TradeStore, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())        // Panic recovery (first)
	r.Use(RequestIDMiddleware()) // Request ID tracking
	r.Use(RequestLogger())       // Request logging (after ID is set)
	r.Use(RateLimitMiddleware()) // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware()) // CORS (last before routes)

	s := &Server{
		Router:    r,
		Service:   service,
		Trades:    trades,
		JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		// Ingress endpoints are unauthenticated: alert providers cannot
		// attach bearer tokens to webhooks.
		api.POST("/notification/listen", s.listen)
		api.POST("/remotecommand/execute", s.executeRemoteCommand)

		// Read endpoints require a token when a secret is configured.
		protected := api.Group("")
		if s.JWTSecret != "" {
			protected.Use(AuthMiddleware(s.JWTSecret))
		}
		{
			protected.GET("/positions", s.getPositions)
			protected.GET("/positions/details", s.getPositionDetails)
			protected.GET("/trades", s.getTrades)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
