// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package linking orchestrates the verification-and-linking protocol: a code
// issued to a chat identity is submitted back from the game side together
// with its own identity, the link is committed, and the configured permission
// is granted in the external store.
package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oxidelink/oxidelink/internal/notify"
	"github.com/oxidelink/oxidelink/internal/permissions"
	"github.com/oxidelink/oxidelink/internal/ratelimit"
	"github.com/oxidelink/oxidelink/internal/registry"
	"github.com/oxidelink/oxidelink/internal/repository"
)

var (
	// ErrInvalidIdentity rejects a malformed game identity before any state change.
	ErrInvalidIdentity = errors.New("invalid game identity")
	// ErrRateLimited rejects code issuance when the chat identity asks too often.
	ErrRateLimited = errors.New("too many code requests")
	// ErrCodeNotFound rejects a submission whose code and identity match no live entry.
	ErrCodeNotFound = errors.New("verification code not found")
	// ErrCodeExpired rejects a submission whose code matched but was stale.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrChatAlreadyLinked rejects a link whose chat identity is taken.
	ErrChatAlreadyLinked = errors.New("chat identity already linked")
	// ErrGameAlreadyLinked rejects a link whose game identity is taken.
	ErrGameAlreadyLinked = errors.New("game identity already linked")
	// ErrPermissionGrantFailed marks a committed link whose grant did not go
	// through. The grant can be retried without re-running the protocol.
	ErrPermissionGrantFailed = errors.New("permission grant failed")
	// ErrLinkNotFound is returned by operations on a link that does not exist.
	ErrLinkNotFound = errors.New("link not found")
)

// State names a linking attempt's position in the protocol.
type State string

const (
	// StateRequested: a code has been issued to the chat identity.
	StateRequested State = "requested"
	// StateSubmitted: the code was consumed but the link is not yet committed.
	StateSubmitted State = "submitted"
	// StateLinked: the link is persisted but the permission grant failed.
	StateLinked State = "linked"
	// StatePermissionGranted: terminal success.
	StatePermissionGranted State = "permission_granted"
	// StateRejected: terminal failure, see Result.Reason.
	StateRejected State = "rejected"
)

// PermissionStore is the external permission system driven by the protocol.
type PermissionStore interface {
	Grant(ctx context.Context, gameID, name string) (alreadyExists bool, err error)
	Revoke(ctx context.Context, gameID, name string) error
	Has(ctx context.Context, gameID, name string) (bool, error)
}

// IssuedCode is handed back to the chat-side collaborator for display.
type IssuedCode struct {
	Code      string    `json:"code"`
	GameID    string    `json:"game_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Result is the terminal outcome of one VerifyAndLink call. Reason is nil on
// full success, one of the sentinel errors on rejection, and
// ErrPermissionGrantFailed on partial success (State StateLinked).
type Result struct {
	State  State
	ChatID string
	GameID string
	Reason error
}

// Service drives the protocol against the code registry, the link store and
// the permission store.
type Service struct {
	codes      *registry.Registry
	repo       *repository.Repository
	perms      PermissionStore
	notifier   notify.Notifier
	limiter    ratelimit.Limiter
	permission string
}

// NewService wires the protocol dependencies. permission is the name granted
// to every successfully linked game identity.
func NewService(codes *registry.Registry, repo *repository.Repository, perms PermissionStore, notifier notify.Notifier, limiter ratelimit.Limiter, permission string) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Service{
		codes:      codes,
		repo:       repo,
		perms:      perms,
		notifier:   notifier,
		limiter:    limiter,
		permission: permission,
	}
}

// IssueCode creates a one-time code for the chat identity claiming the game
// identity. A prior outstanding code for the same chat identity is replaced.
func (s *Service) IssueCode(ctx context.Context, chatID, gameID string) (IssuedCode, error) {
	if !s.limiter.Allow(ctx, chatID) {
		return IssuedCode{}, ErrRateLimited
	}

	entry, err := s.codes.Issue(chatID, gameID)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidIdentity) {
			return IssuedCode{}, ErrInvalidIdentity
		}
		return IssuedCode{}, fmt.Errorf("failed to issue code: %w", err)
	}

	slog.Info("code_issued",
		"state", StateRequested,
		"chat_id", chatID,
		"game_id", gameID,
		"expires_at", entry.ExpiresAt,
	)

	return IssuedCode{Code: entry.Code, GameID: gameID, ExpiresAt: entry.ExpiresAt}, nil
}

// VerifyAndLink consumes the submitted code, commits the link and grants the
// permission. The code is spent even when the link is rejected afterwards;
// the caller must request a new one. A failed grant leaves the link in place
// and is reported as partial success, retryable via RetryGrant.
func (s *Service) VerifyAndLink(ctx context.Context, code, gameID string) (Result, error) {
	entry, err := s.codes.Consume(code, gameID)
	if err != nil {
		reason := ErrCodeNotFound
		if errors.Is(err, registry.ErrExpired) {
			reason = ErrCodeExpired
		}
		slog.Info("link_rejected", "game_id", gameID, "reason", reason)
		return Result{State: StateRejected, GameID: gameID, Reason: reason}, nil
	}

	slog.Debug("code_consumed", "state", StateSubmitted, "chat_id", entry.ChatID, "game_id", gameID)

	result := Result{ChatID: entry.ChatID, GameID: gameID}

	if _, err := s.repo.CreateLink(ctx, entry.ChatID, gameID); err != nil {
		switch {
		case errors.Is(err, repository.ErrChatAlreadyLinked):
			result.State = StateRejected
			result.Reason = ErrChatAlreadyLinked
		case errors.Is(err, repository.ErrGameAlreadyLinked):
			result.State = StateRejected
			result.Reason = ErrGameAlreadyLinked
		default:
			return Result{}, fmt.Errorf("failed to create link: %w", err)
		}
		slog.Info("link_rejected", "chat_id", entry.ChatID, "game_id", gameID, "reason", result.Reason)
		return result, nil
	}

	slog.Info("link_created", "chat_id", entry.ChatID, "game_id", gameID)

	if err := s.grantAndMark(ctx, gameID); err != nil {
		slog.Warn("grant_failed", "game_id", gameID, "error", err)
		result.State = StateLinked
		result.Reason = ErrPermissionGrantFailed
		return result, nil
	}

	result.State = StatePermissionGranted
	s.notifyLinked(ctx, entry.ChatID, gameID)
	return result, nil
}

// RetryGrant re-attempts the permission grant for an already-committed link.
func (s *Service) RetryGrant(ctx context.Context, gameID string) error {
	if _, err := s.repo.GetLinkByGameID(ctx, gameID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrLinkNotFound
		}
		return fmt.Errorf("failed to load link: %w", err)
	}
	if err := s.grantAndMark(ctx, gameID); err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionGrantFailed, err)
	}
	return nil
}

// LinkStatusByChat reports whether the chat identity is linked.
func (s *Service) LinkStatusByChat(ctx context.Context, chatID string) (bool, error) {
	return s.repo.IsLinkedByChatID(ctx, chatID)
}

// LinkStatusByGame reports whether the game identity is linked.
func (s *Service) LinkStatusByGame(ctx context.Context, gameID string) (bool, error) {
	return s.repo.IsLinkedByGameID(ctx, gameID)
}

// RevokeAccess removes the granted permission but keeps the link, clearing
// the granted flag so the pair can be re-granted later. Revoking and
// unlinking are deliberately independent operations.
func (s *Service) RevokeAccess(ctx context.Context, gameID string) error {
	link, err := s.repo.GetLinkByGameID(ctx, gameID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrLinkNotFound
		}
		return fmt.Errorf("failed to load link: %w", err)
	}

	if err := s.perms.Revoke(ctx, gameID, s.permission); err != nil && !errors.Is(err, permissions.ErrNotFound) {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	if err := s.repo.ClearPermissionGranted(ctx, gameID); err != nil {
		return fmt.Errorf("failed to clear granted flag: %w", err)
	}

	slog.Info("access_revoked", "chat_id", link.ChatID, "game_id", gameID, "permission", s.permission)
	return nil
}

// Unlink revokes the permission and deletes the link for the chat identity.
func (s *Service) Unlink(ctx context.Context, chatID string) error {
	link, err := s.repo.GetLinkByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrLinkNotFound
		}
		return fmt.Errorf("failed to load link: %w", err)
	}

	if err := s.perms.Revoke(ctx, link.GameID, s.permission); err != nil && !errors.Is(err, permissions.ErrNotFound) {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	if err := s.repo.DeleteLink(ctx, chatID); err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	slog.Info("account_unlinked", "chat_id", chatID, "game_id", link.GameID)
	return nil
}

// grantAndMark grants the permission and records it on the link. A grant that
// was already present still counts as success.
func (s *Service) grantAndMark(ctx context.Context, gameID string) error {
	alreadyExists, err := s.perms.Grant(ctx, gameID, s.permission)
	if err != nil {
		return err
	}
	if alreadyExists {
		slog.Debug("permission_already_present", "game_id", gameID, "permission", s.permission)
	}

	// The grant is the externally visible truth; a failed flag update is
	// logged but does not undo it.
	if err := s.repo.MarkPermissionGranted(ctx, gameID); err != nil {
		slog.Error("mark_granted_failed", "game_id", gameID, "error", err)
	}

	slog.Info("permission_granted",
		"state", StatePermissionGranted,
		"game_id", gameID,
		"permission", s.permission,
		"already_present", alreadyExists,
	)
	return nil
}

// notifyLinked fires the outbound notification without blocking the caller.
// Failures are logged and swallowed.
func (s *Service) notifyLinked(ctx context.Context, chatID, gameID string) {
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, 10*time.Second)
		defer cancel()
		if err := s.notifier.NotifyLinked(ctx, chatID, gameID, s.permission); err != nil {
			slog.Warn("notify_failed", "chat_id", chatID, "game_id", gameID, "error", err)
		}
	}()
}
