package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/logger"
	"github.com/taskmaster/taskpad/internal/infrastructure/metrics"
	"github.com/taskmaster/taskpad/internal/ports"
)

// TaskStore is the single owner of the task collection, the editing target
// and per-task weather status. Every mutation runs under one lock and ends
// with a full rewrite of the tasks namespace.
//
// Lookups by id tolerate missing ids: a mutation against a vanished task is
// a silent no-op.
type TaskStore struct {
	mu sync.Mutex

	items         []entities.Task
	weatherStatus map[int64]entities.WeatherStatus
	weatherToken  map[int64]uint64
	editing       *int64
	lastError     string
	nextID        int64
	tokenSeq      uint64

	blobs   ports.BlobStore
	clock   Clock
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewTaskStore creates an empty store. Call Load to restore persisted state.
func NewTaskStore(blobs ports.BlobStore, clock Clock, log *logger.Logger, m *metrics.Metrics) *TaskStore {
	if clock == nil {
		clock = RealClock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &TaskStore{
		weatherStatus: map[int64]entities.WeatherStatus{},
		weatherToken:  map[int64]uint64{},
		nextID:        1,
		blobs:         blobs,
		clock:         clock,
		logger:        log.WithComponent("task_store"),
		metrics:       m,
	}
}

// Load restores the tasks namespace. Stale loading entries are dropped since
// no fetch survives a restart.
func (s *TaskStore) Load(ctx context.Context) error {
	blob, found, err := s.blobs.Load(ctx, ports.NamespaceTasks)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	if !found {
		return nil
	}

	var state entities.TaskState
	if err := json.Unmarshal(blob, &state); err != nil {
		return fmt.Errorf("decode tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = s.items[:0]
	s.weatherStatus = map[int64]entities.WeatherStatus{}
	s.weatherToken = map[int64]uint64{}
	s.editing = nil
	s.lastError = state.LastError
	s.nextID = state.NextID

	seen := map[int64]bool{}
	for _, t := range state.Items {
		if seen[t.ID] {
			s.logger.Warnw("Dropping duplicate task id from stored state", "task_id", t.ID)
			continue
		}
		seen[t.ID] = true
		if !t.Priority.IsValid() {
			t.Priority = entities.PriorityMedium
		}
		s.items = append(s.items, t)
		if t.ID >= s.nextID {
			s.nextID = t.ID + 1
		}
	}
	if s.nextID < 1 {
		s.nextID = 1
	}

	for id, st := range state.WeatherStatus {
		if !seen[id] || st == entities.WeatherStatusLoading || st == entities.WeatherStatusAbsent {
			continue
		}
		s.weatherStatus[id] = st
	}
	if state.CurrentlyEditing != nil && seen[*state.CurrentlyEditing] {
		id := *state.CurrentlyEditing
		s.editing = &id
	}

	s.logger.Infow("Task state restored", "tasks", len(s.items), "next_id", s.nextID)
	return nil
}

// AddTask appends a new task. A title that trims to empty makes this a no-op
// and nil is returned.
func (s *TaskStore) AddTask(ctx context.Context, req ports.AddTaskRequest) (*entities.Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, nil
	}

	priority, err := entities.ParsePriority(req.Priority)
	if err != nil {
		return nil, err
	}
	due, err := entities.ParseOptionalDate(req.DueDate)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	task := entities.Task{
		ID:        s.nextID,
		Title:     title,
		Priority:  priority,
		Location:  strings.TrimSpace(req.Location),
		DueDate:   due,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextID++
	s.items = append(s.items, task)

	s.logger.Infow("Task created", "task_id", task.ID, "priority", task.Priority)
	s.metrics.TaskMutation("add")

	created := task.Clone()
	return &created, s.persistLocked(ctx)
}

// ToggleCompleted flips the completed flag
func (s *TaskStore) ToggleCompleted(ctx context.Context, id int64) error {
	return s.mutate(ctx, id, "toggle_completed", func(t *entities.Task) {
		t.Completed = !t.Completed
	})
}

// TogglePinned flips the pinned flag
func (s *TaskStore) TogglePinned(ctx context.Context, id int64) error {
	return s.mutate(ctx, id, "toggle_pinned", func(t *entities.Task) {
		t.Pinned = !t.Pinned
	})
}

// UpdatePriority sets the priority of a single task
func (s *TaskStore) UpdatePriority(ctx context.Context, id int64, raw string) error {
	priority, err := entities.ParsePriority(raw)
	if err != nil {
		return err
	}
	return s.mutate(ctx, id, "update_priority", func(t *entities.Task) {
		t.Priority = priority
	})
}

// DeleteTask removes the task along with its weather status and editing target
func (s *TaskStore) DeleteTask(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil
	}

	s.items = append(s.items[:idx], s.items[idx+1:]...)
	delete(s.weatherStatus, id)
	delete(s.weatherToken, id)
	if s.editing != nil && *s.editing == id {
		s.editing = nil
	}

	s.logger.Infow("Task deleted", "task_id", id)
	s.metrics.TaskMutation("delete")
	return s.persistLocked(ctx)
}

// StartEditing makes id the editing target, replacing any previous one
func (s *TaskStore) StartEditing(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) < 0 {
		return nil
	}
	if s.editing != nil && *s.editing == id {
		return nil
	}
	s.editing = &id
	s.metrics.TaskMutation("start_editing")
	return s.persistLocked(ctx)
}

// CancelEditing clears the editing target without touching any task
func (s *TaskStore) CancelEditing(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editing == nil {
		return nil
	}
	s.editing = nil
	s.metrics.TaskMutation("cancel_editing")
	return s.persistLocked(ctx)
}

// SaveEdit overwrites title, priority, location and due date and ends the
// editing session. A blank title keeps the current one.
func (s *TaskStore) SaveEdit(ctx context.Context, id int64, req ports.EditTaskRequest) error {
	priority, err := entities.ParsePriority(req.Priority)
	if err != nil {
		return err
	}
	due, err := entities.ParseOptionalDate(req.DueDate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil
	}

	t := &s.items[idx]
	if title := strings.TrimSpace(req.Title); title != "" {
		t.Title = title
	}
	t.Priority = priority
	t.Location = strings.TrimSpace(req.Location)
	t.DueDate = due
	t.Touch(s.clock.Now())
	s.editing = nil

	s.logger.Infow("Task edited", "task_id", id)
	s.metrics.TaskMutation("save_edit")
	return s.persistLocked(ctx)
}

// ClearWeatherStatus forgets the weather status of a task
func (s *TaskStore) ClearWeatherStatus(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.weatherStatus[id]; !ok {
		return nil
	}
	delete(s.weatherStatus, id)
	delete(s.weatherToken, id)
	s.metrics.TaskMutation("clear_weather_status")
	return s.persistLocked(ctx)
}

// Tasks returns a copy of the collection in insertion order
func (s *TaskStore) Tasks() []entities.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entities.Task, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t.Clone())
	}
	return out
}

// Task returns a copy of one task
func (s *TaskStore) Task(id int64) (entities.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return entities.Task{}, false
	}
	return s.items[idx].Clone(), true
}

// WeatherStatus returns the status for id, WeatherStatusAbsent when none
func (s *TaskStore) WeatherStatus(id int64) entities.WeatherStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weatherStatus[id]
}

// CurrentlyEditing returns the editing target
func (s *TaskStore) CurrentlyEditing() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editing == nil {
		return 0, false
	}
	return *s.editing, true
}

// LastError is the message of the most recent weather failure
func (s *TaskStore) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Snapshot returns a deep copy of the whole aggregate
func (s *TaskStore) Snapshot() entities.TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Views pairs each task with its transient status, preserving the given order
func (s *TaskStore) Views(tasks []entities.Task) []ports.TaskView {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ports.TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, ports.TaskView{
			Task:          t,
			WeatherStatus: s.weatherStatus[t.ID],
			Editing:       s.editing != nil && *s.editing == t.ID,
		})
	}
	return out
}

// weatherTicket is an in-flight fetch handed out by beginWeatherFetch
type weatherTicket struct {
	location string
	token    uint64
	// persistErr is the write error of the loading transition, if any
	persistErr error
}

// beginWeatherFetch moves id to loading and hands out a request token.
// It fails with ErrNoLocation, leaving status untouched, when the task is
// missing or has no location.
func (s *TaskStore) beginWeatherFetch(ctx context.Context, id int64) (weatherTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 || !s.items[idx].HasLocation() {
		return weatherTicket{}, entities.ErrNoLocation
	}

	s.tokenSeq++
	s.weatherToken[id] = s.tokenSeq
	s.weatherStatus[id] = entities.WeatherStatusLoading

	return weatherTicket{
		location:   s.items[idx].Location,
		token:      s.tokenSeq,
		persistErr: s.persistLocked(ctx),
	}, nil
}

// resolveWeather applies a fetch outcome unless the task is gone or a newer
// request for the same task has started since. It reports whether the
// outcome was applied.
func (s *TaskStore) resolveWeather(ctx context.Context, id int64, token uint64, w *entities.Weather, fetchErr error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 || s.weatherToken[id] != token {
		return false, nil
	}
	delete(s.weatherToken, id)

	if fetchErr != nil {
		s.weatherStatus[id] = entities.WeatherStatusFailed
		s.lastError = fetchErr.Error()
	} else {
		t := &s.items[idx]
		copied := *w
		t.Weather = &copied
		t.Touch(s.clock.Now())
		s.weatherStatus[id] = entities.WeatherStatusSucceeded
	}
	return true, s.persistLocked(ctx)
}

func (s *TaskStore) mutate(ctx context.Context, id int64, op string, fn func(*entities.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return nil
	}

	t := &s.items[idx]
	fn(t)
	t.Touch(s.clock.Now())

	s.logger.Debugw("Task mutated", "task_id", id, "op", op)
	s.metrics.TaskMutation(op)
	return s.persistLocked(ctx)
}

func (s *TaskStore) indexLocked(id int64) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *TaskStore) snapshotLocked() entities.TaskState {
	state := entities.TaskState{
		Items:         make([]entities.Task, 0, len(s.items)),
		WeatherStatus: make(map[int64]entities.WeatherStatus, len(s.weatherStatus)),
		LastError:     s.lastError,
		NextID:        s.nextID,
	}
	for _, t := range s.items {
		state.Items = append(state.Items, t.Clone())
	}
	for id, st := range s.weatherStatus {
		state.WeatherStatus[id] = st
	}
	if s.editing != nil {
		id := *s.editing
		state.CurrentlyEditing = &id
	}
	return state
}

func (s *TaskStore) persistLocked(ctx context.Context) error {
	start := time.Now()

	blob, err := json.Marshal(s.snapshotLocked())
	if err == nil {
		err = s.blobs.Save(ctx, ports.NamespaceTasks, blob)
	}

	s.logger.LogPersistence(ports.NamespaceTasks, len(blob), float64(time.Since(start).Microseconds())/1000, err)
	s.metrics.PersistenceWrite(ports.NamespaceTasks, err)
	if err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}
	return nil
}
