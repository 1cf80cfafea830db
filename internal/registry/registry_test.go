// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package registry

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGameID = "76561198000000000"

func TestValidGameID(t *testing.T) {
	tests := []struct {
		id       string
		expected bool
	}{
		{"76561198000000000", true},
		{"12345678901234567", true},
		{"123", false},
		{"", false},
		{"7656119800000000a", false},
		{"765611980000000000", false}, // 18 digits
		{"7656119800000000", false},   // 16 digits
		{" 76561198000000000", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidGameID(tt.id))
		})
	}
}

func TestIssue(t *testing.T) {
	r := New(10 * time.Minute)

	entry, err := r.Issue("chat123", testGameID)

	require.NoError(t, err)
	assert.Len(t, entry.Code, 8)
	assert.Equal(t, "chat123", entry.ChatID)
	assert.Equal(t, testGameID, entry.GameID)
	assert.Equal(t, entry.IssuedAt.Add(10*time.Minute), entry.ExpiresAt)
}

func TestIssue_InvalidIdentity(t *testing.T) {
	r := New(10 * time.Minute)

	_, err := r.Issue("chat123", "123")

	assert.ErrorIs(t, err, ErrInvalidIdentity)
	assert.Zero(t, r.Len())
}

func TestIssue_SupersedesPreviousCode(t *testing.T) {
	r := New(10 * time.Minute)

	first, err := r.Issue("chat123", testGameID)
	require.NoError(t, err)
	second, err := r.Issue("chat123", testGameID)
	require.NoError(t, err)

	// The first code is invalid the moment the second is issued.
	_, err = r.Consume(first.Code, testGameID)
	assert.ErrorIs(t, err, ErrNotFound)

	entry, err := r.Consume(second.Code, testGameID)
	require.NoError(t, err)
	assert.Equal(t, "chat123", entry.ChatID)
}

func TestConsume(t *testing.T) {
	r := New(10 * time.Minute)
	issued, err := r.Issue("chat123", testGameID)
	require.NoError(t, err)

	entry, err := r.Consume(issued.Code, testGameID)

	require.NoError(t, err)
	assert.Equal(t, "chat123", entry.ChatID)
	assert.Equal(t, testGameID, entry.GameID)
	assert.Zero(t, r.Len())
}

func TestConsume_CaseInsensitive(t *testing.T) {
	r := New(10 * time.Minute)
	issued, err := r.Issue("chat123", testGameID)
	require.NoError(t, err)

	entry, err := r.Consume(strings.ToLower(issued.Code), testGameID)

	require.NoError(t, err)
	assert.Equal(t, "chat123", entry.ChatID)
}

func TestConsume_WrongGameID(t *testing.T) {
	r := New(10 * time.Minute)
	issued, err := r.Issue("chat123", testGameID)
	require.NoError(t, err)

	// Wrong identity yields the same error as a wrong code.
	_, err = r.Consume(issued.Code, "76561198999999999")
	assert.ErrorIs(t, err, ErrNotFound)

	// The entry survives a mismatched submission.
	entry, err := r.Consume(issued.Code, testGameID)
	require.NoError(t, err)
	assert.Equal(t, "chat123", entry.ChatID)
}

func TestConsume_OneTimeUse(t *testing.T) {
	r := New(10 * time.Minute)
	issued, err := r.Issue("chat123", testGameID)
	require.NoError(t, err)

	_, err = r.Consume(issued.Code, testGameID)
	require.NoError(t, err)

	_, err = r.Consume(issued.Code, testGameID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsume_Expired(t *testing.T) {
	r := New(10 * time.Minute)
	now := time.Now()
	r.clock = func() time.Time { return now }

	issued, err := r.Issue("chat123", testGameID)
	require.NoError(t, err)

	r.clock = func() time.Time { return now.Add(10*time.Minute + time.Second) }

	_, err = r.Consume(issued.Code, testGameID)
	assert.ErrorIs(t, err, ErrExpired)

	// The stale entry is removed, not just rejected.
	assert.Zero(t, r.Len())
	_, err = r.Consume(issued.Code, testGameID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsume_ValidUntilJustBeforeTTL(t *testing.T) {
	r := New(10 * time.Minute)
	now := time.Now()
	r.clock = func() time.Time { return now }

	issued, err := r.Issue("chat123", testGameID)
	require.NoError(t, err)

	r.clock = func() time.Time { return now.Add(10*time.Minute - time.Millisecond) }

	_, err = r.Consume(issued.Code, testGameID)
	assert.NoError(t, err)
}

func TestConsume_Concurrent(t *testing.T) {
	r := New(10 * time.Minute)
	issued, err := r.Issue("chat123", testGameID)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Consume(issued.Code, testGameID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrNotFound)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestSweep(t *testing.T) {
	r := New(10 * time.Minute)
	now := time.Now()
	r.clock = func() time.Time { return now }

	_, err := r.Issue("chat1", "76561198000000001")
	require.NoError(t, err)
	_, err = r.Issue("chat2", "76561198000000002")
	require.NoError(t, err)

	r.clock = func() time.Time { return now.Add(11 * time.Minute) }
	_, err = r.Issue("chat3", "76561198000000003")
	require.NoError(t, err)

	removed := r.Sweep()

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, r.Len())
}
