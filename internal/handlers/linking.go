// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/oxidelink/oxidelink/internal/linking"
)

type issueRequest struct {
	ChatID string `json:"chat_id"`
	GameID string `json:"game_id"`
}

// IssueCode handles POST /api/link: the chat-side collaborator requests a
// verification code for a user.
func (h *Handlers) IssueCode(c echo.Context) error {
	var req issueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request"))
	}
	if req.ChatID == "" || req.GameID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("chat_id and game_id are required"))
	}

	issued, err := h.service.IssueCode(c.Request().Context(), req.ChatID, req.GameID)
	switch {
	case errors.Is(err, linking.ErrInvalidIdentity):
		return c.JSON(http.StatusBadRequest, errorBody("invalid_identity"))
	case errors.Is(err, linking.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, errorBody("rate_limited"))
	case err != nil:
		return err
	}

	return c.JSON(http.StatusOK, issued)
}

type verifyRequest struct {
	Code   string `json:"code"`
	GameID string `json:"game_id"`
}

type verifyResponse struct {
	State  linking.State `json:"state"`
	ChatID string        `json:"chat_id,omitempty"`
	GameID string        `json:"game_id"`
	Error  string        `json:"error,omitempty"`
}

// Verify handles POST /api/verify: the game side submits a code together
// with its own identity. Status codes mirror the protocol outcomes; a
// partial success (link committed, grant failed) is still a 200 with its own
// state so callers can tell it from full success.
func (h *Handlers) Verify(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request"))
	}
	if req.Code == "" || req.GameID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("code and game_id are required"))
	}

	result, err := h.service.VerifyAndLink(c.Request().Context(), req.Code, req.GameID)
	if err != nil {
		return err
	}

	resp := verifyResponse{State: result.State, ChatID: result.ChatID, GameID: result.GameID}
	if result.Reason != nil {
		resp.Error = reasonCode(result.Reason)
	}

	switch {
	case errors.Is(result.Reason, linking.ErrCodeNotFound):
		return c.JSON(http.StatusNotFound, resp)
	case errors.Is(result.Reason, linking.ErrCodeExpired):
		return c.JSON(http.StatusGone, resp)
	case errors.Is(result.Reason, linking.ErrChatAlreadyLinked),
		errors.Is(result.Reason, linking.ErrGameAlreadyLinked):
		return c.JSON(http.StatusConflict, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// CheckGame handles GET /api/check/:gameID: link status by game identity.
func (h *Handlers) CheckGame(c echo.Context) error {
	gameID := c.Param("gameID")
	linked, err := h.service.LinkStatusByGame(c.Request().Context(), gameID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"linked": linked, "game_id": gameID})
}

// CheckChat handles GET /api/status/:chatID: link status by chat identity.
func (h *Handlers) CheckChat(c echo.Context) error {
	chatID := c.Param("chatID")
	linked, err := h.service.LinkStatusByChat(c.Request().Context(), chatID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"linked": linked, "chat_id": chatID})
}

// RetryGrant handles POST /api/grant/:gameID: re-attempt the permission
// grant for a committed link.
func (h *Handlers) RetryGrant(c echo.Context) error {
	gameID := c.Param("gameID")
	err := h.service.RetryGrant(c.Request().Context(), gameID)
	switch {
	case errors.Is(err, linking.ErrLinkNotFound):
		return c.JSON(http.StatusNotFound, errorBody("link_not_found"))
	case errors.Is(err, linking.ErrPermissionGrantFailed):
		return c.JSON(http.StatusBadGateway, errorBody("permission_grant_failed"))
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "granted"})
}

// RevokeAccess handles DELETE /api/access/:gameID: revoke the permission but
// keep the link.
func (h *Handlers) RevokeAccess(c echo.Context) error {
	gameID := c.Param("gameID")
	err := h.service.RevokeAccess(c.Request().Context(), gameID)
	switch {
	case errors.Is(err, linking.ErrLinkNotFound):
		return c.JSON(http.StatusNotFound, errorBody("link_not_found"))
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked"})
}

// Unlink handles DELETE /api/link/:chatID: revoke and remove the link.
func (h *Handlers) Unlink(c echo.Context) error {
	chatID := c.Param("chatID")
	err := h.service.Unlink(c.Request().Context(), chatID)
	switch {
	case errors.Is(err, linking.ErrLinkNotFound):
		return c.JSON(http.StatusNotFound, errorBody("link_not_found"))
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "unlinked"})
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// reasonCode maps protocol errors to stable strings for API clients.
func reasonCode(reason error) string {
	switch {
	case errors.Is(reason, linking.ErrCodeNotFound):
		return "code_not_found"
	case errors.Is(reason, linking.ErrCodeExpired):
		return "code_expired"
	case errors.Is(reason, linking.ErrChatAlreadyLinked):
		return "chat_already_linked"
	case errors.Is(reason, linking.ErrGameAlreadyLinked):
		return "game_already_linked"
	case errors.Is(reason, linking.ErrPermissionGrantFailed):
		return "permission_grant_failed"
	default:
		return "internal_error"
	}
}
