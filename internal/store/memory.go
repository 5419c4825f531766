package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/traffic-tacos/todo-api/internal/models"
)

// MemoryStore keeps everything in process. Used for local development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[int64]models.User
	byUsername map[string]int64
	byEmail    map[string]int64
	todos      map[int64]models.Todo
	userSeq    int64
	todoSeq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[int64]models.User),
		byUsername: make(map[string]int64),
		byEmail:    make(map[string]int64),
		todos:      make(map[int64]models.Todo),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	email := normalizeEmail(user.Email)
	if _, taken := m.byUsername[user.Username]; taken {
		return ErrConflict
	}
	if _, taken := m.byEmail[email]; taken {
		return ErrConflict
	}

	m.userSeq++
	user.ID = m.userSeq
	m.users[user.ID] = *user
	m.byUsername[user.Username] = user.ID
	m.byEmail[email] = user.ID
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	user := m.users[id]
	return &user, nil
}

func (m *MemoryStore) UpdatePassword(ctx context.Context, id int64, hashedPassword string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	user.HashedPassword = hashedPassword
	user.UpdatedAt = at
	m.users[id] = user
	return nil
}

func (m *MemoryStore) ListAll(ctx context.Context) ([]models.Todo, error) {
	return m.listTodos(ctx, func(models.Todo) bool { return true })
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID int64) ([]models.Todo, error) {
	return m.listTodos(ctx, func(t models.Todo) bool { return t.OwnerID == ownerID })
}

func (m *MemoryStore) listTodos(ctx context.Context, keep func(models.Todo) bool) ([]models.Todo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	todos := make([]models.Todo, 0, len(m.todos))
	for _, t := range m.todos {
		if keep(t) {
			todos = append(todos, t)
		}
	}
	sort.Slice(todos, func(i, j int) bool { return todos[i].ID < todos[j].ID })
	return todos, nil
}

func (m *MemoryStore) GetTodo(ctx context.Context, id int64) (*models.Todo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	todo, ok := m.todos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &todo, nil
}

func (m *MemoryStore) CreateTodo(ctx context.Context, todo *models.Todo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.todoSeq++
	todo.ID = m.todoSeq
	m.todos[todo.ID] = *todo
	return nil
}

func (m *MemoryStore) UpdateTodo(ctx context.Context, todo *models.Todo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.todos[todo.ID]; !ok {
		return ErrNotFound
	}
	m.todos[todo.ID] = *todo
	return nil
}

// normalizeEmail folds case so Alice@x.io and alice@x.io collide
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
