package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-tacos/todo-api/internal/models"
)

func newUser(username, email string) *models.User {
	return &models.User{
		Username:       username,
		FirstName:      "Test",
		LastName:       "User",
		Email:          email,
		HashedPassword: "$2a$10$hash",
		Role:           "user",
	}
}

func TestMemoryStore_UserLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	alice := newUser("alice", "alice@example.com")
	require.NoError(t, s.CreateUser(ctx, alice))
	assert.Equal(t, int64(1), alice.ID)

	got, err := s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byName.ID)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.UpdatePassword(ctx, alice.ID, "$2a$10$other", at))

	got, err = s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$other", got.HashedPassword)
	assert.Equal(t, at, got.UpdatedAt)
}

func TestMemoryStore_UserUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, newUser("alice", "alice@example.com")))

	err := s.CreateUser(ctx, newUser("alice", "other@example.com"))
	assert.ErrorIs(t, err, ErrConflict)

	err = s.CreateUser(ctx, newUser("bob", "ALICE@example.com"))
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, s.CreateUser(ctx, newUser("bob", "bob@example.com")))
}

func TestMemoryStore_MissingIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetUser(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetUserByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdatePassword(ctx, 99, "x", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetTodo(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateTodo(ctx, &models.Todo{ID: 99, Title: "never"})
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "update of a missing id must not write anything")
}

func TestMemoryStore_TodoRoundTripAndReplace(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	todo := &models.Todo{Title: "write tests", Description: "cover the store", Priority: 3, OwnerID: 1}
	require.NoError(t, s.CreateTodo(ctx, todo))

	got, err := s.GetTodo(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, *todo, *got)

	replacement := models.Todo{ID: todo.ID, Title: "ship", Description: "release it", Priority: 5, Completed: true, OwnerID: 1}
	require.NoError(t, s.UpdateTodo(ctx, &replacement))

	got, err = s.GetTodo(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, replacement, *got)
}

func TestMemoryStore_ListByOwner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, owner := range []int64{1, 2, 1, 2, 1} {
		require.NoError(t, s.CreateTodo(ctx, &models.Todo{Title: fmt.Sprintf("todo-%d", i), OwnerID: owner}))
	}

	mine, err := s.ListByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mine, 3)
	for i, todo := range mine {
		assert.Equal(t, int64(1), todo.OwnerID)
		if i > 0 {
			assert.Greater(t, todo.ID, mine[i-1].ID)
		}
	}

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestMemoryStore_ConcurrentCreatesGetDistinctIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const workers = 50
	ids := make(chan int64, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			todo := &models.Todo{Title: "parallel"}
			if err := s.CreateTodo(ctx, todo); err == nil {
				ids <- todo.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers)
}

func TestMemoryStore_HonorsCanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.CreateTodo(ctx, &models.Todo{Title: "late"}), context.Canceled)
	assert.ErrorIs(t, s.Ping(ctx), context.Canceled)
}
