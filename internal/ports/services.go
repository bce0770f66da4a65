package ports

import (
	"github.com/taskmaster/taskpad/internal/domain/entities"
)

// AddTaskRequest is the input of the add-task intent. Title is validated by the
// store itself: a blank title makes the intent inert rather than an error.
type AddTaskRequest struct {
	Title    string `json:"title"`
	Priority string `json:"priority" validate:"max=16"`
	Location string `json:"location" validate:"max=200"`
	DueDate  string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// EditTaskRequest is the input of the save-edit intent
type EditTaskRequest struct {
	Title    string `json:"title"`
	Priority string `json:"priority" validate:"max=16"`
	Location string `json:"location" validate:"max=200"`
	DueDate  string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// UpdatePriorityRequest is the input of the priority intent
type UpdatePriorityRequest struct {
	Priority string `json:"priority" validate:"required"`
}

// LoginRequest represents a login submission
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (r LoginRequest) Credentials() entities.Credentials {
	return entities.Credentials{Username: r.Username, Password: r.Password}
}

// TaskView is a task together with its transient status, as the UI renders it
type TaskView struct {
	entities.Task `yaml:",inline"`
	WeatherStatus entities.WeatherStatus `json:"weather_status,omitempty" yaml:"weather_status,omitempty"`
	Editing       bool                   `json:"editing" yaml:"editing"`
}

// ListTasksResponse is the derived view
type ListTasksResponse struct {
	Data  []TaskView `json:"data"`
	Total int        `json:"total"`
}

// WeatherFetchResponse reports the status of a weather fetch intent
type WeatherFetchResponse struct {
	TaskID  int64                  `json:"task_id"`
	Status  entities.WeatherStatus `json:"status"`
	Weather *entities.Weather      `json:"weather,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Kind    string                 `json:"kind,omitempty"`
}
