// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers exposes the linking protocol over HTTP. The boundary is a
// trusted internal call from the chat-side and game-side collaborators.
package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/oxidelink/oxidelink/internal/linking"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	service *linking.Service
}

// New creates a new Handlers instance.
func New(service *linking.Service) *Handlers {
	return &Handlers{service: service}
}

// Health returns the health status.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
