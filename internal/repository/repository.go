// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package repository provides database access for account links.
package repository

import (
	"errors"

	"github.com/vinovest/sqlx"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// ErrChatAlreadyLinked is returned when the chat identity already has a link.
var ErrChatAlreadyLinked = errors.New("chat identity already linked")

// ErrGameAlreadyLinked is returned when the game identity already has a link.
var ErrGameAlreadyLinked = errors.New("game identity already linked")

// Repository wraps the database connection for link operations.
type Repository struct {
	db *sqlx.DB
}

// New creates a new Repository instance.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}
