// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package registry issues and consumes short-lived one-time verification
// codes. Codes live in process memory only; the durable state of a completed
// link belongs to the repository.
package registry

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidIdentity reports a game identity that is not a 17-digit number.
	ErrInvalidIdentity = errors.New("invalid game identity")
	// ErrNotFound reports a code that does not match any live entry. Callers
	// get the same error for a wrong code and for a wrong game identity, so
	// the response does not leak which part was wrong.
	ErrNotFound = errors.New("verification code not found")
	// ErrExpired reports a code that matched but whose validity window passed.
	ErrExpired = errors.New("verification code expired")
)

var gameIDPattern = regexp.MustCompile(`^\d{17}$`)

// ValidGameID reports whether s is a well-formed 17-digit game identity.
func ValidGameID(s string) bool {
	return gameIDPattern.MatchString(s)
}

// codeAlphabet matches the original 8-character uppercase base36 codes.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 8

// Entry is a single outstanding verification code.
type Entry struct {
	ChatID    string
	GameID    string
	Code      string // stored uppercase
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Registry holds the outstanding codes, at most one per chat identity.
// Expiry is enforced lazily at lookup time; Sweep can additionally reclaim
// stale entries in the background.
type Registry struct {
	mu     sync.Mutex
	ttl    time.Duration
	byChat map[string]Entry
	byCode map[string]string // code -> chat identity
	clock  func() time.Time
}

// New creates a registry whose codes are valid for ttl after issuance.
func New(ttl time.Duration) *Registry {
	return &Registry{
		ttl:    ttl,
		byChat: make(map[string]Entry),
		byCode: make(map[string]string),
		clock:  time.Now,
	}
}

// Issue creates a new code for the chat identity, replacing any outstanding
// one. The replaced code becomes invalid immediately.
func (r *Registry) Issue(chatID, gameID string) (Entry, error) {
	if chatID == "" {
		return Entry{}, errors.New("chat identity required")
	}
	if !ValidGameID(gameID) {
		return Entry{}, ErrInvalidIdentity
	}

	code, err := generateCode()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to generate code: %w", err)
	}

	now := r.clock()
	entry := Entry{
		ChatID:    chatID,
		GameID:    gameID,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(r.ttl),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byChat[chatID]; ok {
		delete(r.byCode, old.Code)
	}
	r.byChat[chatID] = entry
	r.byCode[code] = chatID

	return entry, nil
}

// Consume looks up the live entry matching code (case-insensitive) and the
// exact game identity, removes it and returns it. A matched but stale entry
// is removed and reported as ErrExpired. The match-and-delete is atomic, so
// concurrent submissions of the same code cannot both succeed.
func (r *Registry) Consume(code, gameID string) (Entry, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return Entry{}, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chatID, ok := r.byCode[normalized]
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry := r.byChat[chatID]
	if entry.GameID != gameID {
		return Entry{}, ErrNotFound
	}

	delete(r.byChat, chatID)
	delete(r.byCode, normalized)

	if r.clock().After(entry.ExpiresAt) || r.clock().Equal(entry.ExpiresAt) {
		return Entry{}, ErrExpired
	}
	return entry, nil
}

// Sweep removes all expired entries and returns how many were reclaimed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	removed := 0
	for chatID, entry := range r.byChat {
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(r.byChat, chatID)
		delete(r.byCode, entry.Code)
		removed++
	}
	return removed
}

// Len returns the number of outstanding codes, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byChat)
}

// RunSweeper sweeps expired entries every interval until done is closed.
func (r *Registry) RunSweeper(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				slog.Debug("codes_swept", "removed", removed)
			}
		}
	}
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
