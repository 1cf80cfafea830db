// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"

	"github.com/oxidelink/oxidelink/internal/database"
	"github.com/oxidelink/oxidelink/internal/models"
	"github.com/oxidelink/oxidelink/internal/permissions"
	"github.com/oxidelink/oxidelink/internal/repository"
)

// NewTestDB creates an in-memory SQLite database for tests. Returns both the
// database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	repo := repository.New(db)
	return db, repo
}

// NewTestLink creates a link in the database.
func NewTestLink(t *testing.T, repo *repository.Repository, chatID, gameID string) *models.AccountLink {
	t.Helper()
	link, err := repo.CreateLink(context.Background(), chatID, gameID)
	require.NoError(t, err)
	return link
}

// NewTestPermissionStore creates a file store under a per-test temp dir.
func NewTestPermissionStore(t *testing.T) *permissions.FileStore {
	t.Helper()
	return permissions.NewFileStore(filepath.Join(t.TempDir(), "users.json"))
}

// NewEchoContext creates an Echo context for handler tests.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}
