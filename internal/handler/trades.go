package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"updown/internal/oracle"
	"updown/internal/repository"
	"updown/internal/service"
)

type TradesHandler struct {
	Repo      repository.Repository
	Placement *service.PlacementService
	Engine    *service.SettlementEngine
}

func (h *TradesHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/trades")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/settle", h.settle)
}

type createTradeRequest struct {
	UserID          string `json:"user_id"`
	Symbol          string `json:"symbol"`
	Direction       string `json:"direction"`
	Stake           string `json:"stake"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (h *TradesHandler) create(c *gin.Context) {
	if h.Placement == nil {
		Error(c, http.StatusInternalServerError, "placement service unavailable", nil)
		return
	}
	var req createTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	stake, ok := decimalField(req.Stake)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid stake", nil)
		return
	}
	trade, err := h.Placement.PlaceTrade(c.Request.Context(), service.PlaceTradeParams{
		UserID:          req.UserID,
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		Stake:           stake,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTradingDisabled):
			Error(c, http.StatusForbidden, err.Error(), nil)
		case errors.Is(err, repository.ErrInsufficientFunds):
			Error(c, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, oracle.ErrUnavailable):
			Error(c, http.StatusBadGateway, err.Error(), nil)
		default:
			Error(c, http.StatusBadRequest, err.Error(), nil)
		}
		return
	}
	Ok(c, trade, nil)
}

func (h *TradesHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListTradesParams{
		Limit:   limit,
		Offset:  offset,
		UserID:  strQueryPtr(c, "user_id"),
		Symbol:  strQueryPtr(c, "symbol"),
		Status:  strQueryPtr(c, "status"),
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"created_at": "created_at",
			"expires_at": "expires_at",
			"settled_at": "settled_at",
		}),
		Asc:     boolPtr(false),
	}
	items, err := h.Repo.ListTrades(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountTrades(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *TradesHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid trade id", nil)
		return
	}
	trade, err := h.Repo.GetTradeByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		Error(c, http.StatusNotFound, "trade not found", nil)
		return
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, trade, nil)
}

// settle triggers settlement for one trade on demand. Only expired trades
// qualify; retrying an already-settled trade returns its stored resolution.
func (h *TradesHandler) settle(c *gin.Context) {
	if h.Repo == nil || h.Engine == nil {
		Error(c, http.StatusInternalServerError, "settlement unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid trade id", nil)
		return
	}
	trade, err := h.Repo.GetTradeByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		Error(c, http.StatusNotFound, "trade not found", nil)
		return
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if !trade.Resolved() && trade.ExpiresAt.After(nowUTC()) {
		Error(c, http.StatusConflict, "trade has not expired", nil)
		return
	}
	settled, err := h.Engine.SettleTrade(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, oracle.ErrUnavailable) {
			Error(c, http.StatusBadGateway, "price oracle unavailable, trade remains pending", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, settled, nil)
}
