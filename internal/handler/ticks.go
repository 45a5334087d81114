package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"updown/internal/repository"
)

type TicksHandler struct {
	Repo repository.Repository
}

func (h *TicksHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/ticks", h.list)
}

func (h *TicksHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListPriceTicksParams{
		Limit:  intQuery(c, "limit", 100),
		Offset: intQuery(c, "offset", 0),
		Symbol: strQueryPtr(c, "symbol"),
		Since:  timeQueryPtr(c, "since"),
	}
	items, err := h.Repo.ListPriceTicks(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
