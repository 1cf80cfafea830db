// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oxidelink/oxidelink/internal/models"
)

// CreateLink persists a new chat/game association. Both uniqueness checks and
// the insert run in one write transaction, so two concurrent calls cannot
// both pass validation against a stale snapshot. The unique indexes back the
// same invariant at the schema level.
func (r *Repository) CreateLink(ctx context.Context, chatID, gameID string) (*models.AccountLink, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM account_links WHERE chat_id = ?)`, chatID); err != nil {
		return nil, fmt.Errorf("failed to check chat identity: %w", err)
	}
	if exists {
		return nil, ErrChatAlreadyLinked
	}

	if err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM account_links WHERE game_id = ?)`, gameID); err != nil {
		return nil, fmt.Errorf("failed to check game identity: %w", err)
	}
	if exists {
		return nil, ErrGameAlreadyLinked
	}

	linkedAt := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO account_links (chat_id, game_id, linked_at) VALUES (?, ?, ?)`,
		chatID, gameID, linkedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert link: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit link: %w", err)
	}

	return &models.AccountLink{
		ID:       id,
		ChatID:   chatID,
		GameID:   gameID,
		LinkedAt: linkedAt,
	}, nil
}

// GetLinkByChatID retrieves a link by chat identity.
func (r *Repository) GetLinkByChatID(ctx context.Context, chatID string) (*models.AccountLink, error) {
	var link models.AccountLink
	err := r.db.GetContext(ctx, &link, `SELECT * FROM account_links WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, wrapError(err)
	}
	return &link, nil
}

// GetLinkByGameID retrieves a link by game identity.
func (r *Repository) GetLinkByGameID(ctx context.Context, gameID string) (*models.AccountLink, error) {
	var link models.AccountLink
	err := r.db.GetContext(ctx, &link, `SELECT * FROM account_links WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, wrapError(err)
	}
	return &link, nil
}

// IsLinkedByChatID reports whether the chat identity has a link.
func (r *Repository) IsLinkedByChatID(ctx context.Context, chatID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM account_links WHERE chat_id = ?)`, chatID)
	return exists, err
}

// IsLinkedByGameID reports whether the game identity has a link.
func (r *Repository) IsLinkedByGameID(ctx context.Context, gameID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM account_links WHERE game_id = ?)`, gameID)
	return exists, err
}

// MarkPermissionGranted records that the permission is present in the
// external store. Calling it again for an already-granted link keeps the
// original timestamp and succeeds.
func (r *Repository) MarkPermissionGranted(ctx context.Context, gameID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE account_links SET permission_granted = 1, permission_granted_at = ?
		 WHERE game_id = ? AND permission_granted = 0`,
		time.Now().UTC(), gameID)
	if err != nil {
		return fmt.Errorf("failed to mark permission granted: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// Either the link does not exist or the flag was already set.
	exists, err := r.IsLinkedByGameID(ctx, gameID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// ClearPermissionGranted resets the granted flag after an external revoke.
func (r *Repository) ClearPermissionGranted(ctx context.Context, gameID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE account_links SET permission_granted = 0, permission_granted_at = NULL WHERE game_id = ?`,
		gameID)
	if err != nil {
		return fmt.Errorf("failed to clear permission granted: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLink removes the link for the chat identity.
func (r *Repository) DeleteLink(ctx context.Context, chatID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM account_links WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountLinks returns the total number of links.
func (r *Repository) CountLinks(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM account_links`)
	return count, err
}

// wrapError converts database errors to repository errors.
func wrapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
