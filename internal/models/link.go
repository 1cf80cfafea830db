// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// AccountLink is the durable association between one chat account and one
// game identity. Both sides are unique across the whole table.
type AccountLink struct { //nolint:govet // fieldalignment not critical for models
	ID                  int64      `db:"id" json:"id"`
	ChatID              string     `db:"chat_id" json:"chat_id"`
	GameID              string     `db:"game_id" json:"game_id"`
	LinkedAt            time.Time  `db:"linked_at" json:"linked_at"`
	PermissionGranted   bool       `db:"permission_granted" json:"permission_granted"`
	PermissionGrantedAt *time.Time `db:"permission_granted_at" json:"permission_granted_at,omitempty"`
}
