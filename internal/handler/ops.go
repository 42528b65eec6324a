package handler

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"fundflow/internal/repository"
	"fundflow/internal/service"
)

// OpsHandler exposes feature switches and the dead-letter store.
type OpsHandler struct {
	Repo     repository.OpsRepository
	Settings *service.SystemSettingsService
}

func (h *OpsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/ops")
	g.GET("/switches", h.listSwitches)
	g.PUT("/switches/:name", h.putSwitch)
	g.GET("/dead-letters", h.listDeadLetters)
}

// @Summary List feature switches
// @Tags ops
// @Produce json
// @Router /api/v1/ops/switches [get]
func (h *OpsHandler) listSwitches(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	switches := h.Settings.Switches(c.Request.Context())
	out := make([]map[string]any, 0, len(switches))
	for key, enabled := range switches {
		out = append(out, map[string]any{
			"name":    strings.TrimPrefix(key, "feature."),
			"key":     key,
			"enabled": enabled,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["name"].(string) < out[j]["name"].(string) })
	Ok(c, out, nil)
}

type putSwitchRequest struct {
	Enabled   *bool  `json:"enabled" binding:"required"`
	UpdatedBy string `json:"updatedBy"`
}

// @Summary Turn a feature switch on or off
// @Tags ops
// @Accept json
// @Produce json
// @Param name path string true "switch name, e.g. cooling_off_sweep"
// @Param body body putSwitchRequest true "switch"
// @Router /api/v1/ops/switches/{name} [put]
func (h *OpsHandler) putSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	key := "feature." + name
	if _, known := service.DefaultFeatureSwitches()[key]; !known {
		Error(c, http.StatusNotFound, "unknown switch", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, bindError(err), nil)
		return
	}
	by := strings.TrimSpace(req.UpdatedBy)
	if by == "" {
		by = "api"
	}
	if err := h.Settings.SetEnabled(c.Request.Context(), key, *req.Enabled, by); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{
		"name":    name,
		"key":     key,
		"enabled": h.Settings.IsEnabled(c.Request.Context(), key, *req.Enabled),
	}, nil)
}

// @Summary List dead-lettered events
// @Tags ops
// @Produce json
// @Param topic query string false "original topic"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Router /api/v1/ops/dead-letters [get]
func (h *OpsHandler) listDeadLetters(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit, offset := pageQuery(c, 50)
	params := repository.ListDeadLettersParams{
		Limit:   limit,
		Offset:  offset,
		Topic:   strQueryPtr(c, "topic"),
		OrderBy: "created_at",
		Asc:     boolPtr(false),
	}
	items, err := h.Repo.ListDeadLetters(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountDeadLetters(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
