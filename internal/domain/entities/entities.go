package entities

import (
	"errors"
	"strings"
	"time"
)

// Common errors
var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrNoLocation            = errors.New("no location specified for this task")
	ErrUpstream              = errors.New("weather lookup failed")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrLoginInProgress       = errors.New("login already in progress")
	ErrAlreadyAuthenticated  = errors.New("already authenticated")
	ErrInvalidPriority       = errors.New("invalid priority")
	ErrInvalidDate           = errors.New("invalid date")
	ErrInvalidWeatherPayload = errors.New("unusable weather payload")
)

// Enums and types
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts the three known priorities, case-insensitively.
// An empty string yields the default priority.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return PriorityMedium, nil
	case PriorityLow:
		return PriorityLow, nil
	case PriorityMedium:
		return PriorityMedium, nil
	case PriorityHigh:
		return PriorityHigh, nil
	}
	return "", ErrInvalidPriority
}

// Rank orders priorities low < medium < high. Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	default:
		return 0
	}
}

func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

type WeatherStatus string

const (
	WeatherStatusAbsent    WeatherStatus = ""
	WeatherStatusLoading   WeatherStatus = "loading"
	WeatherStatusSucceeded WeatherStatus = "succeeded"
	WeatherStatusFailed    WeatherStatus = "failed"
)

type AuthStatus string

const (
	AuthStatusIdle          AuthStatus = "idle"
	AuthStatusLoading       AuthStatus = "loading"
	AuthStatusAuthenticated AuthStatus = "authenticated"
	AuthStatusFailed        AuthStatus = "failed"
)

// Weather is the last successful lookup attached to a task
type Weather struct {
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Condition   string  `json:"condition" yaml:"condition"`
	IconHint    string  `json:"icon_hint,omitempty" yaml:"icon_hint,omitempty"`
}

// Task represents a to-do item
type Task struct {
	ID        int64     `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Priority  Priority  `json:"priority" yaml:"priority"`
	Location  string    `json:"location,omitempty" yaml:"location,omitempty"`
	DueDate   *Date     `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Completed bool      `json:"completed" yaml:"completed"`
	Pinned    bool      `json:"pinned" yaml:"pinned"`
	Weather   *Weather  `json:"weather,omitempty" yaml:"weather,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// TaskState is the task store aggregate as it is persisted
type TaskState struct {
	Items            []Task                  `json:"items" yaml:"items"`
	WeatherStatus    map[int64]WeatherStatus `json:"weather_status" yaml:"weather_status"`
	CurrentlyEditing *int64                  `json:"currently_editing" yaml:"currently_editing"`
	LastError        string                  `json:"error,omitempty" yaml:"error,omitempty"`
	NextID           int64                   `json:"next_id" yaml:"next_id"`
}

// Identity is the authenticated user
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// AuthState is the auth state machine snapshot
type AuthState struct {
	Status        AuthStatus `json:"status"`
	Identity      *Identity  `json:"user"`
	Token         string     `json:"token,omitempty"`
	Authenticated bool       `json:"is_authenticated"`
	Error         string     `json:"error,omitempty"`
}

// Credentials is a login submission
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Business logic methods for Task
func (t *Task) Touch(now time.Time) {
	if now.Before(t.UpdatedAt) {
		now = t.UpdatedAt
	}
	t.UpdatedAt = now
}

func (t *Task) HasLocation() bool {
	return strings.TrimSpace(t.Location) != ""
}

func (t *Task) IsDueOn(d Date) bool {
	return t.DueDate != nil && t.DueDate.Equal(d)
}

// Clone returns a deep copy so callers never share pointers with the store.
func (t Task) Clone() Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	if t.Weather != nil {
		w := *t.Weather
		t.Weather = &w
	}
	return t
}

// Business logic methods for AuthState
func (s AuthState) CanSubmit() bool {
	return s.Status == AuthStatusIdle || s.Status == AuthStatusFailed || s.Status == ""
}
