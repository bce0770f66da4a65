package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/logger"
	"github.com/taskmaster/taskpad/internal/infrastructure/metrics"
	"github.com/taskmaster/taskpad/internal/ports"
)

// Weather failure kinds surfaced to callers
const (
	KindNoLocation = "no_location"
	KindUpstream   = "network_or_upstream_error"
)

// WeatherFetchError carries the failure kind of a fetch
type WeatherFetchError struct {
	Kind string
	Err  error
}

func (e *WeatherFetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *WeatherFetchError) Unwrap() error {
	return e.Err
}

// FetchErrorKind returns the kind of a fetch error, or "" for nil and
// errors that did not come from a fetch.
func FetchErrorKind(err error) string {
	var fe *WeatherFetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// WeatherService bridges a task's location to the weather lookup
type WeatherService struct {
	store   *TaskStore
	lookup  ports.WeatherLookup
	limiter *rate.Limiter
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewWeatherService creates a coordinator. A nil limiter means no pacing.
func NewWeatherService(store *TaskStore, lookup ports.WeatherLookup, limiter *rate.Limiter, log *logger.Logger, m *metrics.Metrics) *WeatherService {
	if log == nil {
		log = logger.NewNop()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &WeatherService{
		store:   store,
		lookup:  lookup,
		limiter: limiter,
		logger:  log.WithComponent("weather"),
		metrics: m,
	}
}

// FetchWeather runs one lookup for the task and blocks until it resolves.
func (w *WeatherService) FetchWeather(ctx context.Context, id int64) error {
	ticket, err := w.begin(ctx, id)
	if err != nil {
		return err
	}
	return w.run(ctx, id, ticket)
}

// WeatherFetch is the pending result of FetchWeatherAsync
type WeatherFetch struct {
	TaskID int64
	done   chan struct{}
	err    error
}

// Done is closed once the fetch has resolved
func (f *WeatherFetch) Done() <-chan struct{} {
	return f.done
}

// Err returns the outcome; only meaningful after Done is closed
func (f *WeatherFetch) Err() error {
	return f.err
}

// Wait blocks until the fetch resolves or ctx is done
func (f *WeatherFetch) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchWeatherAsync starts a fetch in the background. The loading status is
// already visible when it returns; a precondition failure resolves at once.
func (w *WeatherService) FetchWeatherAsync(ctx context.Context, id int64) *WeatherFetch {
	f := &WeatherFetch{TaskID: id, done: make(chan struct{})}

	ticket, err := w.begin(ctx, id)
	if err != nil {
		f.err = err
		close(f.done)
		return f
	}

	go func() {
		defer close(f.done)
		f.err = w.run(context.WithoutCancel(ctx), id, ticket)
	}()
	return f
}

func (w *WeatherService) begin(ctx context.Context, id int64) (weatherTicket, error) {
	ticket, err := w.store.beginWeatherFetch(ctx, id)
	if err != nil {
		w.metrics.WeatherFetch(KindNoLocation)
		w.logger.Debugw("Weather fetch skipped", "task_id", id, "reason", KindNoLocation)
		return weatherTicket{}, &WeatherFetchError{Kind: KindNoLocation, Err: err}
	}
	if ticket.persistErr != nil {
		w.logger.Errorw("Persisting loading status failed", "task_id", id, "error", ticket.persistErr)
	}
	return ticket, nil
}

func (w *WeatherService) run(ctx context.Context, id int64, ticket weatherTicket) error {
	log := w.logger.WithTaskID(id)
	location := ticket.location

	weather, err := w.lookupPaced(ctx, location)
	if err == nil && weather == nil {
		err = entities.ErrInvalidWeatherPayload
	}
	var fetchErr error
	if err != nil {
		fetchErr = &WeatherFetchError{Kind: KindUpstream, Err: fmt.Errorf("%w: %v", entities.ErrUpstream, err)}
	}

	applied, persistErr := w.store.resolveWeather(ctx, id, ticket.token, weather, fetchErr)
	switch {
	case !applied:
		w.metrics.WeatherFetch("stale")
		log.Infow("Weather resolution dropped", "location", location)
	case fetchErr != nil:
		w.metrics.WeatherFetch("failed")
		log.Warnw("Weather fetch failed", "location", location, "error", err)
	default:
		w.metrics.WeatherFetch("succeeded")
		log.Infow("Weather fetched", "location", location, "condition", weather.Condition, "temperature", weather.Temperature)
	}

	if fetchErr != nil {
		return fetchErr
	}
	if persistErr != nil {
		return persistErr
	}
	return ticket.persistErr
}

func (w *WeatherService) lookupPaced(ctx context.Context, location string) (*entities.Weather, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return w.lookup.Lookup(ctx, location)
}
