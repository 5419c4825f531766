package models

import "time"

// Todo is a task owned by a single user
type Todo struct {
	ID          int64     `json:"id" dynamodbav:"id"`
	Title       string    `json:"title" dynamodbav:"title"`
	Description string    `json:"description" dynamodbav:"description"`
	Priority    int       `json:"priority" dynamodbav:"priority"`
	Completed   bool      `json:"completed" dynamodbav:"completed"`
	OwnerID     int64     `json:"owner_id" dynamodbav:"owner_id"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// TodoRequest is the full set of writable todo fields, used for create and full-replace update
type TodoRequest struct {
	Title       string `json:"title" validate:"required,min=3"`
	Description string `json:"description" validate:"required,min=3,max=100"`
	Priority    int    `json:"priority" validate:"required,min=1,max=5"`
	Completed   *bool  `json:"completed" validate:"required"`
}

// Apply copies the request fields onto t, overwriting every writable field
func (r *TodoRequest) Apply(t *Todo) {
	t.Title = r.Title
	t.Description = r.Description
	t.Priority = r.Priority
	t.Completed = r.Completed != nil && *r.Completed
}
