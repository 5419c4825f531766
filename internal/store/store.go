// Package store persists users and todos. Implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/traffic-tacos/todo-api/internal/models"
)

var (
	// ErrNotFound is returned when the requested id (or username) does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write would break a uniqueness constraint.
	ErrConflict = errors.New("record conflicts with an existing record")
)

// Users is the user half of the credential store.
type Users interface {
	// CreateUser assigns user.ID and inserts the record. Duplicate username or email yields ErrConflict.
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	// UpdatePassword replaces the stored hash; ErrNotFound leaves nothing written.
	UpdatePassword(ctx context.Context, id int64, hashedPassword string, at time.Time) error
}

// Todos is the todo half of the credential store.
type Todos interface {
	ListAll(ctx context.Context) ([]models.Todo, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.Todo, error)
	GetTodo(ctx context.Context, id int64) (*models.Todo, error)
	// CreateTodo assigns todo.ID and inserts the record.
	CreateTodo(ctx context.Context, todo *models.Todo) error
	// UpdateTodo overwrites every field of an existing todo. ErrNotFound leaves nothing written.
	UpdateTodo(ctx context.Context, todo *models.Todo) error
}

// Store bundles both repositories with a connectivity check used by the readiness endpoint.
type Store interface {
	Users
	Todos
	Ping(ctx context.Context) error
}

// IsNotFound reports whether err means the record does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a uniqueness violation
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
