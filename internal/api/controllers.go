package api

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"signal-trader/internal/model"
)

// listen receives one alert webhook. The provider is answered immediately;
// admission and order placement run in the background so a slow venue never
// stalls the webhook and never leaks an error to the provider.
func (s *Server) listen(c *gin.Context) {
	var alert model.Alert
	if err := c.BindJSON(&alert); err != nil {
		log.Printf("[API] invalid alert payload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload",
		})
		return
	}

	n := model.NewNotification(&alert)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Printf("[API] notification handler panic for %s: %v", n.SymbolName, p)
			}
		}()
		if err := s.Service.Execute(context.Background(), n); err != nil {
			log.Printf("[API] notification for %s failed: %v", n.SymbolName, err)
		}
	}()

	c.Status(http.StatusOK)
}

// executeRemoteCommand applies an operator mutation synchronously.
func (s *Server) executeRemoteCommand(c *gin.Context) {
	var cmd model.RemoteCommand
	if err := c.BindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload",
		})
		return
	}

	if err := s.Service.ExecuteRemoteCommand(c.Request.Context(), &cmd); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
		})
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"positions": s.Service.OpenPositions(),
	})
}

func (s *Server) getPositionDetails(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"details": s.Service.PositionDetails(c.Request.Context()),
	})
}

func (s *Server) getTrades(c *gin.Context) {
	if s.Trades == nil {
		c.JSON(http.StatusOK, gin.H{"trades": []any{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trades, err := s.Trades.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}
