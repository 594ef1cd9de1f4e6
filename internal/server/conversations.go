package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cinechat/cinechat/internal/store"
)

// ConversationsHandler lets a user end their own conversation explicitly
// instead of waiting for the idle janitor. The next chat turn then starts a
// fresh conversation.
type ConversationsHandler struct {
	Store *store.Store
}

func (h *ConversationsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(authMiddleware(secret))
	g.POST("/:id/close", h.close)
}

func (h *ConversationsHandler) close(c echo.Context) error {
	userID := c.Get("user_id").(string)
	id := c.Param("id")
	closed, err := h.Store.CloseConversationForUser(c.Request().Context(), id, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !closed {
		return echo.NewHTTPError(http.StatusNotFound, "no open conversation")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "closed"})
}
