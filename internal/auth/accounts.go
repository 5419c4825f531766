package auth

import (
	"context"
	"errors"
	"time"

	"github.com/traffic-tacos/todo-api/internal/models"
	"github.com/traffic-tacos/todo-api/internal/store"
)

// ErrInvalidCredentials covers both an unknown username and a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Accounts owns user credentials: creation, login checks and password changes.
type Accounts struct {
	users  store.Users
	hasher PasswordHasher
	now    func() time.Time

	// compared against on the unknown-user path so both failures cost one bcrypt run
	dummyDigest string
}

func NewAccounts(users store.Users, hasher PasswordHasher) *Accounts {
	dummy, _ := hasher.Hash("todo-api-timing-equalizer")

	return &Accounts{
		users:       users,
		hasher:      hasher,
		now:         time.Now,
		dummyDigest: dummy,
	}
}

// CreateUser hashes the password and stores the new account. Duplicates yield store.ErrConflict.
func (a *Accounts) CreateUser(ctx context.Context, req models.CreateUserRequest) (*models.User, error) {
	digest, err := a.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	user := &models.User{
		Username:       req.Username,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		HashedPassword: digest,
		Role:           req.Role,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := a.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate returns the user when the password matches, ErrInvalidCredentials otherwise.
func (a *Accounts) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := a.users.GetUserByUsername(ctx, username)
	if err != nil {
		if store.IsNotFound(err) {
			a.hasher.Verify(password, a.dummyDigest)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !a.hasher.Verify(password, user.HashedPassword) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (a *Accounts) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return a.users.GetUser(ctx, id)
}

// ChangePassword replaces the stored hash. store.ErrNotFound when the user is gone.
func (a *Accounts) ChangePassword(ctx context.Context, id int64, newPassword string) error {
	digest, err := a.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return a.users.UpdatePassword(ctx, id, digest, a.now().UTC())
}
