// Package httpapi is the control surface: bot CRUD and lifecycle over
// REST, plus health and Prometheus metrics. It holds no trading state of
// its own; everything delegates to the engine and the store.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dcafleet/internal/engine"
	"dcafleet/internal/models"
	"dcafleet/internal/store"
)

const requestTimeout = 10 * time.Second

type Handler struct {
	engine *engine.Engine
	repo   store.Repository
}

type createBotRequest struct {
	Name   string           `json:"name"`
	Config models.BotConfig `json:"config"`
}

func NewRouter(eng *engine.Engine, repo store.Repository) *gin.Engine {
	router := gin.Default()

	h := &Handler{engine: eng, repo: repo}

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/bots", h.listBots)
		v1.POST("/bots", h.createBot)
		v1.GET("/bots/:id", h.getBot)
		v1.DELETE("/bots/:id", h.deleteBot)
		v1.POST("/bots/:id/start", h.startBot)
		v1.POST("/bots/:id/stop", h.stopBot)
		v1.POST("/bots/:id/pause", h.pauseBot)
		v1.GET("/bots/:id/deals", h.listDeals)
	}

	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
		"bots":   len(h.engine.ListBots()),
	})
}

func (h *Handler) listBots(c *gin.Context) {
	bots := h.engine.ListBots()
	c.JSON(http.StatusOK, gin.H{
		"total": len(bots),
		"bots":  bots,
	})
}

func (h *Handler) createBot(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bot, err := h.engine.CreateBot(strings.TrimSpace(req.Name), req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, bot)
}

func (h *Handler) getBot(c *gin.Context) {
	botID := strings.TrimSpace(c.Param("id"))

	bot, err := h.engine.GetBotStatus(botID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	deal, err := h.engine.ActiveDeal(botID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bot":         bot,
		"active_deal": deal,
	})
}

func (h *Handler) deleteBot(c *gin.Context) {
	botID := strings.TrimSpace(c.Param("id"))

	if err := h.engine.DeleteBot(botID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "bot deleted"})
}

func (h *Handler) startBot(c *gin.Context) {
	botID := strings.TrimSpace(c.Param("id"))

	if err := h.engine.StartBot(c.Request.Context(), botID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	bot, _ := h.engine.GetBotStatus(botID)
	c.JSON(http.StatusOK, bot)
}

func (h *Handler) stopBot(c *gin.Context) {
	botID := strings.TrimSpace(c.Param("id"))

	if err := h.engine.StopBot(botID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	bot, _ := h.engine.GetBotStatus(botID)
	c.JSON(http.StatusOK, bot)
}

func (h *Handler) pauseBot(c *gin.Context) {
	botID := strings.TrimSpace(c.Param("id"))

	if err := h.engine.PauseBot(botID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	bot, _ := h.engine.GetBotStatus(botID)
	c.JSON(http.StatusOK, bot)
}

func (h *Handler) listDeals(c *gin.Context) {
	botID := strings.TrimSpace(c.Param("id"))
	if _, err := h.engine.GetBotStatus(botID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if h.repo == nil {
		c.JSON(http.StatusOK, gin.H{"total": 0, "deals": []models.Deal{}})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	deals, err := h.repo.ListDeals(ctx, botID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total": len(deals),
		"deals": deals,
	})
}
