package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/taskmaster/taskpad/internal/application/query"
	"github.com/taskmaster/taskpad/internal/application/services"
	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/logger"
	"github.com/taskmaster/taskpad/internal/ports"
)

// TaskHandler dispatches task intents to the store and weather coordinator.
// Intents against a missing task are inert and answered with 204.
type TaskHandler struct {
	store   *services.TaskStore
	weather *services.WeatherService
	clock   services.Clock
	logger  *logger.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(store *services.TaskStore, weather *services.WeatherService, clock services.Clock, logger *logger.Logger) *TaskHandler {
	if clock == nil {
		clock = services.RealClock{}
	}
	return &TaskHandler{
		store:   store,
		weather: weather,
		clock:   clock,
		logger:  logger,
	}
}

// ListTasks returns the derived view: sort, then status, search and date filters
func (h *TaskHandler) ListTasks(c echo.Context) error {
	q, err := parseQuery(c)
	if err != nil {
		return err
	}

	tasks := query.Apply(h.store.Tasks(), q, h.clock.Now())
	views := h.store.Views(tasks)

	return c.JSON(http.StatusOK, ports.ListTasksResponse{
		Data:  views,
		Total: len(views),
	})
}

// GetState returns the whole task aggregate
func (h *TaskHandler) GetState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Snapshot())
}

// CreateTask handles the add intent. A blank title is inert.
func (h *TaskHandler) CreateTask(c echo.Context) error {
	var req ports.AddTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	task, err := h.store.AddTask(c.Request().Context(), req)
	if err != nil && task == nil {
		return badInput(err)
	}
	if task == nil {
		return c.NoContent(http.StatusNoContent)
	}

	h.logger.LogUserAction("add_task", map[string]interface{}{
		"task_id":  task.ID,
		"username": usernameFromContext(c),
	})
	return c.JSON(http.StatusCreated, h.mutationResponse(task.ID, err))
}

// GetTask returns one task with its transient status
func (h *TaskHandler) GetTask(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}

	task, ok := h.store.Task(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Task not found")
	}
	return c.JSON(http.StatusOK, h.store.Views([]entities.Task{task})[0])
}

// UpdateTask handles the save-edit intent
func (h *TaskHandler) UpdateTask(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}

	var req ports.EditTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	err = h.store.SaveEdit(c.Request().Context(), id, req)
	if errors.Is(err, entities.ErrInvalidPriority) || errors.Is(err, entities.ErrInvalidDate) {
		return badInput(err)
	}
	return h.respondMutation(c, id, err)
}

// DeleteTask handles the delete intent
func (h *TaskHandler) DeleteTask(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}

	if err := h.store.DeleteTask(c.Request().Context(), id); err != nil {
		h.logger.Errorw("Delete task persistence failed", "error", err, "task_id", id)
		return c.JSON(http.StatusOK, MutationResponse{Warning: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// ToggleCompleted flips the completed flag
func (h *TaskHandler) ToggleCompleted(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	return h.respondMutation(c, id, h.store.ToggleCompleted(c.Request().Context(), id))
}

// TogglePinned flips the pinned flag
func (h *TaskHandler) TogglePinned(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	return h.respondMutation(c, id, h.store.TogglePinned(c.Request().Context(), id))
}

// UpdatePriority sets the priority of a task
func (h *TaskHandler) UpdatePriority(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}

	var req ports.UpdatePriorityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	err = h.store.UpdatePriority(c.Request().Context(), id, req.Priority)
	if errors.Is(err, entities.ErrInvalidPriority) {
		return badInput(err)
	}
	return h.respondMutation(c, id, err)
}

// StartEditing makes the task the editing target
func (h *TaskHandler) StartEditing(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	return h.respondMutation(c, id, h.store.StartEditing(c.Request().Context(), id))
}

// CancelEditing clears the editing target
func (h *TaskHandler) CancelEditing(c echo.Context) error {
	if err := h.store.CancelEditing(c.Request().Context()); err != nil {
		h.logger.Errorw("Cancel editing persistence failed", "error", err)
		return c.JSON(http.StatusOK, MutationResponse{Warning: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// FetchWeather starts a weather lookup. By default it answers 202 as soon as
// the task is loading; with wait=true it answers once the lookup resolved.
func (h *TaskHandler) FetchWeather(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}

	wait, _ := strconv.ParseBool(c.QueryParam("wait"))
	ctx := c.Request().Context()

	fetch := h.weather.FetchWeatherAsync(ctx, id)
	if !wait {
		select {
		case <-fetch.Done():
			// precondition failures resolve synchronously
			if err := fetch.Err(); err != nil && services.FetchErrorKind(err) == services.KindNoLocation {
				return h.respondWeather(c, id, err)
			}
		default:
		}
		return c.JSON(http.StatusAccepted, h.weatherResponse(id, nil))
	}

	if err := fetch.Wait(ctx); err != nil && services.FetchErrorKind(err) == "" && ctx.Err() != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, "Weather lookup still in progress")
	}
	return h.respondWeather(c, id, fetch.Err())
}

// ClearWeather forgets the weather status of a task
func (h *TaskHandler) ClearWeather(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	return h.respondMutation(c, id, h.store.ClearWeatherStatus(c.Request().Context(), id))
}

func (h *TaskHandler) respondWeather(c echo.Context, id int64, err error) error {
	resp := h.weatherResponse(id, err)
	switch resp.Kind {
	case services.KindNoLocation:
		return c.JSON(http.StatusUnprocessableEntity, resp)
	case services.KindUpstream:
		return c.JSON(http.StatusBadGateway, resp)
	}
	if err != nil {
		// resolved but could not be persisted
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *TaskHandler) weatherResponse(id int64, err error) ports.WeatherFetchResponse {
	resp := ports.WeatherFetchResponse{
		TaskID: id,
		Status: h.store.WeatherStatus(id),
		Kind:   services.FetchErrorKind(err),
	}
	if task, ok := h.store.Task(id); ok {
		resp.Weather = task.Weather
	}
	if resp.Kind != "" {
		resp.Error = err.Error()
	}
	return resp
}

func (h *TaskHandler) respondMutation(c echo.Context, id int64, err error) error {
	if _, ok := h.store.Task(id); !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, h.mutationResponse(id, err))
}

func (h *TaskHandler) mutationResponse(id int64, err error) MutationResponse {
	var resp MutationResponse
	if task, ok := h.store.Task(id); ok {
		view := h.store.Views([]entities.Task{task})[0]
		resp.Task = &view
	}
	if err != nil {
		h.logger.Errorw("Task persistence failed", "error", err, "task_id", id)
		resp.Warning = err.Error()
	}
	return resp
}

func parseQuery(c echo.Context) (query.Query, error) {
	q := query.Default()

	if v := c.QueryParam("sort"); v != "" {
		q.SortKey = query.SortKey(v)
	}
	if v := c.QueryParam("direction"); v != "" {
		q.Direction = query.Direction(v)
	}
	if v := c.QueryParam("filter"); v != "" {
		q.Filter = query.StatusFilter(v)
	}
	q.Search = c.QueryParam("search")

	date, err := entities.ParseOptionalDate(c.QueryParam("date"))
	if err != nil {
		return q, echo.NewHTTPError(http.StatusBadRequest, "Invalid date parameter")
	}
	q.Date = date

	if err := q.Validate(); err != nil {
		return q, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return q, nil
}

func badInput(err error) error {
	if errors.Is(err, entities.ErrInvalidPriority) || errors.Is(err, entities.ErrInvalidDate) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}
