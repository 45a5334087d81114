package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"updown/internal/models"
	"updown/internal/repository"
	"updown/internal/service"
)

type AdminHandler struct {
	Repo     repository.Repository
	Settings *service.SystemSettingsService
}

func (h *AdminHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/admin")
	g.GET("/users/:user_id/override", h.getOverride)
	g.PUT("/users/:user_id/override", h.putOverride)
	g.GET("/settings", h.listSettings)
	g.GET("/settings/switches/:name", h.getSwitch)
	g.PUT("/settings/switches/:name", h.putSwitch)
	g.PUT("/settings/:key", h.putSetting)
}

func (h *AdminHandler) getOverride(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		Error(c, http.StatusBadRequest, "invalid user id", nil)
		return
	}
	item, err := h.Repo.GetOutcomeOverride(c.Request.Context(), userID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		// Unset means normal mode; report that rather than 404.
		Ok(c, map[string]any{
			"user_id": userID,
			"mode":    models.OverrideModeNormal,
		}, nil)
		return
	}
	Ok(c, item, nil)
}

type putOverrideRequest struct {
	Mode      string `json:"mode"`
	UpdatedBy string `json:"updated_by"`
}

func (h *AdminHandler) putOverride(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		Error(c, http.StatusBadRequest, "invalid user id", nil)
		return
	}
	var req putOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if !models.ValidOverrideMode(mode) {
		Error(c, http.StatusBadRequest, "invalid mode", nil)
		return
	}
	item := &models.OutcomeOverride{
		UserID:    userID,
		Mode:      mode,
		UpdatedBy: strings.TrimSpace(req.UpdatedBy),
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.Repo.UpsertOutcomeOverride(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	next, _ := h.Repo.GetOutcomeOverride(c.Request.Context(), userID)
	Ok(c, next, nil)
}

func (h *AdminHandler) listSettings(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListSystemSettingsParams{
		Limit:   intQuery(c, "limit", 200),
		Offset:  intQuery(c, "offset", 0),
		Prefix:  strQueryPtr(c, "prefix"),
		OrderBy: "key",
		Asc:     boolPtr(true),
	}
	items, err := h.Repo.ListSystemSettings(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type putSettingRequest struct {
	Value       any    `json:"value"`
	Description string `json:"description"`
}

func (h *AdminHandler) putSetting(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		Error(c, http.StatusBadRequest, "invalid key", nil)
		return
	}
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	raw, err := json.Marshal(req.Value)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid value", nil)
		return
	}
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: strings.TrimSpace(req.Description),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := h.Repo.UpsertSystemSetting(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	next, _ := h.Repo.GetSystemSettingByKey(c.Request.Context(), key)
	Ok(c, next, nil)
}

func (h *AdminHandler) getSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		Error(c, http.StatusBadRequest, "invalid switch name", nil)
		return
	}
	key := "feature." + name
	enabled := h.Settings.IsEnabled(c.Request.Context(), key, false)
	Ok(c, map[string]any{
		"name":    name,
		"key":     key,
		"enabled": enabled,
	}, nil)
}

type putSwitchRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *AdminHandler) putSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		Error(c, http.StatusBadRequest, "invalid switch name", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	key := "feature." + name
	if err := h.Settings.SetEnabled(c.Request.Context(), key, req.Enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{
		"name":    name,
		"key":     key,
		"enabled": req.Enabled,
	}, nil)
}
