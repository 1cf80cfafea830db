// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package linking_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxidelink/oxidelink/internal/linking"
	"github.com/oxidelink/oxidelink/internal/registry"
	"github.com/oxidelink/oxidelink/internal/repository"
	"github.com/oxidelink/oxidelink/internal/testutil"
)

const (
	testGameID     = "76561198000000000"
	testPermission = "kits.linkdiscord"
)

// failingPermissionStore simulates an unreachable external store.
type failingPermissionStore struct{}

func (failingPermissionStore) Grant(context.Context, string, string) (bool, error) {
	return false, errors.New("permission store unavailable")
}

func (failingPermissionStore) Revoke(context.Context, string, string) error {
	return errors.New("permission store unavailable")
}

func (failingPermissionStore) Has(context.Context, string, string) (bool, error) {
	return false, errors.New("permission store unavailable")
}

// captureNotifier records delivered notifications.
type captureNotifier struct {
	mu     sync.Mutex
	events []string
	done   chan struct{}
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{done: make(chan struct{}, 1)}
}

func (n *captureNotifier) NotifyLinked(_ context.Context, chatID, gameID, permission string) error {
	n.mu.Lock()
	n.events = append(n.events, chatID+"/"+gameID+"/"+permission)
	n.mu.Unlock()
	select {
	case n.done <- struct{}{}:
	default:
	}
	return nil
}

func (n *captureNotifier) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// denyLimiter rejects every request.
type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) bool { return false }

func newService(t *testing.T) (*linking.Service, *registry.Registry, *repository.Repository) {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	codes := registry.New(10 * time.Minute)
	perms := testutil.NewTestPermissionStore(t)
	service := linking.NewService(codes, repo, perms, nil, nil, testPermission)
	return service, codes, repo
}

func TestIssueCode(t *testing.T) {
	service, _, _ := newService(t)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)

	require.NoError(t, err)
	assert.Len(t, issued.Code, 8)
	assert.Equal(t, testGameID, issued.GameID)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), issued.ExpiresAt, time.Second)
}

func TestIssueCode_InvalidIdentity(t *testing.T) {
	service, codes, _ := newService(t)

	_, err := service.IssueCode(context.Background(), "chat123", "123")

	assert.ErrorIs(t, err, linking.ErrInvalidIdentity)
	assert.Zero(t, codes.Len())
}

func TestIssueCode_RateLimited(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	codes := registry.New(10 * time.Minute)
	perms := testutil.NewTestPermissionStore(t)
	service := linking.NewService(codes, repo, perms, nil, denyLimiter{}, testPermission)

	_, err := service.IssueCode(context.Background(), "chat123", testGameID)

	assert.ErrorIs(t, err, linking.ErrRateLimited)
}

func TestVerifyAndLink(t *testing.T) {
	service, _, repo := newService(t)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)

	result, err := service.VerifyAndLink(ctx, issued.Code, testGameID)

	require.NoError(t, err)
	assert.Equal(t, linking.StatePermissionGranted, result.State)
	assert.Equal(t, "chat123", result.ChatID)
	assert.Equal(t, testGameID, result.GameID)
	assert.NoError(t, result.Reason)

	linked, err := service.LinkStatusByChat(ctx, "chat123")
	require.NoError(t, err)
	assert.True(t, linked)

	linked, err = service.LinkStatusByGame(ctx, testGameID)
	require.NoError(t, err)
	assert.True(t, linked)

	link, err := repo.GetLinkByChatID(ctx, "chat123")
	require.NoError(t, err)
	assert.True(t, link.PermissionGranted)
	assert.NotNil(t, link.PermissionGrantedAt)
}

func TestVerifyAndLink_CaseInsensitiveCode(t *testing.T) {
	service, _, _ := newService(t)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)

	result, err := service.VerifyAndLink(ctx, strings.ToLower(issued.Code), testGameID)

	require.NoError(t, err)
	assert.Equal(t, linking.StatePermissionGranted, result.State)
}

func TestVerifyAndLink_UnknownCode(t *testing.T) {
	service, _, _ := newService(t)

	result, err := service.VerifyAndLink(context.Background(), "NOPE1234", testGameID)

	require.NoError(t, err)
	assert.Equal(t, linking.StateRejected, result.State)
	assert.ErrorIs(t, result.Reason, linking.ErrCodeNotFound)
}

func TestVerifyAndLink_WrongGameID(t *testing.T) {
	service, _, _ := newService(t)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)

	// A wrong identity is indistinguishable from a wrong code.
	result, err := service.VerifyAndLink(ctx, issued.Code, "76561198999999999")

	require.NoError(t, err)
	assert.Equal(t, linking.StateRejected, result.State)
	assert.ErrorIs(t, result.Reason, linking.ErrCodeNotFound)
}

func TestVerifyAndLink_Expired(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	codes := registry.New(time.Millisecond)
	perms := testutil.NewTestPermissionStore(t)
	service := linking.NewService(codes, repo, perms, nil, nil, testPermission)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	result, err := service.VerifyAndLink(ctx, issued.Code, testGameID)

	require.NoError(t, err)
	assert.Equal(t, linking.StateRejected, result.State)
	assert.ErrorIs(t, result.Reason, linking.ErrCodeExpired)

	// The stale code is gone; a repeat attempt is a plain miss.
	result, err = service.VerifyAndLink(ctx, issued.Code, testGameID)
	require.NoError(t, err)
	assert.ErrorIs(t, result.Reason, linking.ErrCodeNotFound)
}

func TestVerifyAndLink_OneTimeUse(t *testing.T) {
	service, _, _ := newService(t)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)

	result, err := service.VerifyAndLink(ctx, issued.Code, testGameID)
	require.NoError(t, err)
	require.Equal(t, linking.StatePermissionGranted, result.State)

	result, err = service.VerifyAndLink(ctx, issued.Code, testGameID)
	require.NoError(t, err)
	assert.Equal(t, linking.StateRejected, result.State)
	assert.ErrorIs(t, result.Reason, linking.ErrCodeNotFound)
}

func TestVerifyAndLink_ChatAlreadyLinked(t *testing.T) {
	service, _, repo := newService(t)
	ctx := context.Background()

	testutil.NewTestLink(t, repo, "chat123", testGameID)

	issued, err := service.IssueCode(ctx, "chat123", "76561198000000001")
	require.NoError(t, err)

	result, err := service.VerifyAndLink(ctx, issued.Code, "76561198000000001")

	require.NoError(t, err)
	assert.Equal(t, linking.StateRejected, result.State)
	assert.ErrorIs(t, result.Reason, linking.ErrChatAlreadyLinked)

	// The code is spent even though the link was rejected.
	result, err = service.VerifyAndLink(ctx, issued.Code, "76561198000000001")
	require.NoError(t, err)
	assert.ErrorIs(t, result.Reason, linking.ErrCodeNotFound)
}

func TestVerifyAndLink_GameAlreadyLinked(t *testing.T) {
	service, _, repo := newService(t)
	ctx := context.Background()

	testutil.NewTestLink(t, repo, "chat123", testGameID)

	issued, err := service.IssueCode(ctx, "chat456", testGameID)
	require.NoError(t, err)

	result, err := service.VerifyAndLink(ctx, issued.Code, testGameID)

	require.NoError(t, err)
	assert.Equal(t, linking.StateRejected, result.State)
	assert.ErrorIs(t, result.Reason, linking.ErrGameAlreadyLinked)
}

func TestVerifyAndLink_PartialSuccessOnGrantFailure(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	codes := registry.New(10 * time.Minute)
	service := linking.NewService(codes, repo, failingPermissionStore{}, nil, nil, testPermission)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)

	result, err := service.VerifyAndLink(ctx, issued.Code, testGameID)

	require.NoError(t, err)
	assert.Equal(t, linking.StateLinked, result.State)
	assert.ErrorIs(t, result.Reason, linking.ErrPermissionGrantFailed)

	// The link is durable despite the failed grant.
	link, err := repo.GetLinkByChatID(ctx, "chat123")
	require.NoError(t, err)
	assert.False(t, link.PermissionGranted)
}

func TestRetryGrant_AfterPartialSuccess(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	codes := registry.New(10 * time.Minute)
	perms := testutil.NewTestPermissionStore(t)
	broken := linking.NewService(codes, repo, failingPermissionStore{}, nil, nil, testPermission)
	ctx := context.Background()

	issued, err := broken.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)
	result, err := broken.VerifyAndLink(ctx, issued.Code, testGameID)
	require.NoError(t, err)
	require.Equal(t, linking.StateLinked, result.State)

	// The store comes back; the grant is retried without re-running the
	// protocol.
	recovered := linking.NewService(codes, repo, perms, nil, nil, testPermission)
	err = recovered.RetryGrant(ctx, testGameID)
	require.NoError(t, err)

	link, err := repo.GetLinkByGameID(ctx, testGameID)
	require.NoError(t, err)
	assert.True(t, link.PermissionGranted)

	has, err := perms.Has(ctx, testGameID, testPermission)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRetryGrant_NoLink(t *testing.T) {
	service, _, _ := newService(t)

	err := service.RetryGrant(context.Background(), testGameID)

	assert.ErrorIs(t, err, linking.ErrLinkNotFound)
}

func TestVerifyAndLink_Notifies(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	codes := registry.New(10 * time.Minute)
	perms := testutil.NewTestPermissionStore(t)
	notifier := newCaptureNotifier()
	service := linking.NewService(codes, repo, perms, notifier, nil, testPermission)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)
	result, err := service.VerifyAndLink(ctx, issued.Code, testGameID)
	require.NoError(t, err)
	require.Equal(t, linking.StatePermissionGranted, result.State)

	events := notifier.wait(t)
	assert.Equal(t, []string{"chat123/" + testGameID + "/" + testPermission}, events)
}

func TestVerifyAndLink_Concurrent(t *testing.T) {
	service, _, _ := newService(t)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan linking.Result, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := service.VerifyAndLink(ctx, issued.Code, testGameID)
			assert.NoError(t, err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	granted, rejected := 0, 0
	for result := range results {
		switch result.State {
		case linking.StatePermissionGranted:
			granted++
		case linking.StateRejected:
			assert.ErrorIs(t, result.Reason, linking.ErrCodeNotFound)
			rejected++
		default:
			t.Fatalf("unexpected state %q", result.State)
		}
	}
	assert.Equal(t, 1, granted)
	assert.Equal(t, workers-1, rejected)
}

func TestRevokeAccess(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	codes := registry.New(10 * time.Minute)
	perms := testutil.NewTestPermissionStore(t)
	service := linking.NewService(codes, repo, perms, nil, nil, testPermission)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)
	_, err = service.VerifyAndLink(ctx, issued.Code, testGameID)
	require.NoError(t, err)

	err = service.RevokeAccess(ctx, testGameID)
	require.NoError(t, err)

	// Permission gone, link kept.
	has, err := perms.Has(ctx, testGameID, testPermission)
	require.NoError(t, err)
	assert.False(t, has)

	link, err := repo.GetLinkByGameID(ctx, testGameID)
	require.NoError(t, err)
	assert.False(t, link.PermissionGranted)
	assert.Nil(t, link.PermissionGrantedAt)
}

func TestRevokeAccess_NoLink(t *testing.T) {
	service, _, _ := newService(t)

	err := service.RevokeAccess(context.Background(), testGameID)

	assert.ErrorIs(t, err, linking.ErrLinkNotFound)
}

func TestUnlink(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	codes := registry.New(10 * time.Minute)
	perms := testutil.NewTestPermissionStore(t)
	service := linking.NewService(codes, repo, perms, nil, nil, testPermission)
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)
	_, err = service.VerifyAndLink(ctx, issued.Code, testGameID)
	require.NoError(t, err)

	err = service.Unlink(ctx, "chat123")
	require.NoError(t, err)

	linked, err := service.LinkStatusByChat(ctx, "chat123")
	require.NoError(t, err)
	assert.False(t, linked)

	has, err := perms.Has(ctx, testGameID, testPermission)
	require.NoError(t, err)
	assert.False(t, has)

	// The pair can link again from scratch.
	issued, err = service.IssueCode(ctx, "chat123", testGameID)
	require.NoError(t, err)
	result, err := service.VerifyAndLink(ctx, issued.Code, testGameID)
	require.NoError(t, err)
	assert.Equal(t, linking.StatePermissionGranted, result.State)
}

func TestUnlink_NoLink(t *testing.T) {
	service, _, _ := newService(t)

	err := service.Unlink(context.Background(), "chat123")

	assert.ErrorIs(t, err, linking.ErrLinkNotFound)
}
