package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cinechat/cinechat/internal/store"
)

// ConfigsHandler manages the per-user model configuration used by chat
// sessions. Saving a new configuration supersedes earlier ones; the latest
// wins.
type ConfigsHandler struct {
	Store *store.Store
}

func (h *ConfigsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(authMiddleware(secret))
	g.GET("", h.get)
	g.PUT("", h.put)
}

func (h *ConfigsHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	mc, ok, err := h.Store.LatestModelConfig(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no model configuration")
	}
	return c.JSON(http.StatusOK, ModelConfigResponse{ID: mc.ID, Provider: mc.Provider, Model: mc.Model})
}

func (h *ConfigsHandler) put(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req ModelConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider != "openai" && provider != "anthropic" {
		return echo.NewHTTPError(http.StatusBadRequest, "provider must be openai or anthropic")
	}
	if req.Model == "" || req.APIKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model and api_key are required")
	}
	id, err := h.Store.SaveModelConfig(c.Request().Context(), userID, provider, req.Model, req.APIKey)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ModelConfigResponse{ID: id, Provider: provider, Model: req.Model})
}
