package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/traffic-tacos/todo-api/internal/models"
	"github.com/traffic-tacos/todo-api/internal/store"
)

func newTestAccounts() (*Accounts, *store.MemoryStore) {
	users := store.NewMemoryStore()
	return NewAccounts(users, NewBcryptHasher(bcrypt.MinCost)), users
}

func aliceRequest() models.CreateUserRequest {
	return models.CreateUserRequest{
		Username:  "alice",
		FirstName: "Alice",
		LastName:  "Liddell",
		Email:     "alice@example.com",
		Password:  "secret123",
		Role:      "admin",
	}
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	first, err := h.Hash("secret123")
	require.NoError(t, err)
	second, err := h.Hash("secret123")
	require.NoError(t, err)

	assert.NotEqual(t, "secret123", first)
	assert.NotEqual(t, first, second, "each hash must carry its own salt")
	assert.True(t, h.Verify("secret123", first))
	assert.True(t, h.Verify("secret123", second))
	assert.False(t, h.Verify("wrong", first))
	assert.False(t, h.Verify("secret123", "not-a-bcrypt-digest"))
	assert.False(t, h.Verify("secret123", ""))

	_, err = h.Hash(strings.Repeat("x", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestAccounts_CreateUserStoresHashOnly(t *testing.T) {
	accounts, users := newTestAccounts()
	ctx := context.Background()

	user, err := accounts.CreateUser(ctx, aliceRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "admin", user.Role)

	stored, err := users.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", stored.HashedPassword)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.HashedPassword), []byte("secret123")))
}

func TestAccounts_CreateUserDuplicate(t *testing.T) {
	accounts, _ := newTestAccounts()
	ctx := context.Background()

	_, err := accounts.CreateUser(ctx, aliceRequest())
	require.NoError(t, err)

	_, err = accounts.CreateUser(ctx, aliceRequest())
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestAccounts_AuthenticateDoesNotLeakExistence(t *testing.T) {
	accounts, _ := newTestAccounts()
	ctx := context.Background()

	_, err := accounts.CreateUser(ctx, aliceRequest())
	require.NoError(t, err)

	user, err := accounts.Authenticate(ctx, "alice", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, wrongPassword := accounts.Authenticate(ctx, "alice", "not-the-password")
	_, unknownUser := accounts.Authenticate(ctx, "mallory", "secret123")

	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownUser, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword, unknownUser)
}

func TestAccounts_ChangePassword(t *testing.T) {
	accounts, _ := newTestAccounts()
	ctx := context.Background()

	user, err := accounts.CreateUser(ctx, aliceRequest())
	require.NoError(t, err)

	require.NoError(t, accounts.ChangePassword(ctx, user.ID, "brand-new-pass"))

	_, err = accounts.Authenticate(ctx, "alice", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = accounts.Authenticate(ctx, "alice", "brand-new-pass")
	assert.NoError(t, err)

	err = accounts.ChangePassword(ctx, 404, "brand-new-pass")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
