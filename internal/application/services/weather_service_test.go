package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/logger"
	"github.com/taskmaster/taskpad/internal/infrastructure/metrics"
	"github.com/taskmaster/taskpad/internal/ports"
)

func london() *fakeLookup {
	return &fakeLookup{results: map[string]*entities.Weather{
		"London": {Temperature: 14.2, Condition: "Clouds", IconHint: "04d"},
	}}
}

func TestFetchWeather_Success(t *testing.T) {
	s, _, clock := newTestStore()
	lookup := london()
	svc := NewWeatherService(s, lookup, nil, logger.NewNop(), nil)
	task := mustAdd(t, s, ports.AddTaskRequest{Title: "trip", Location: "London"})

	assert.Equal(t, entities.WeatherStatusAbsent, s.WeatherStatus(task.ID))

	clock.Advance(time.Minute)
	require.NoError(t, svc.FetchWeather(context.Background(), task.ID))

	assert.Equal(t, entities.WeatherStatusSucceeded, s.WeatherStatus(task.ID))
	got, _ := s.Task(task.ID)
	require.NotNil(t, got.Weather)
	assert.Equal(t, "Clouds", got.Weather.Condition)
	assert.Equal(t, 14.2, got.Weather.Temperature)
	assert.Equal(t, epoch.Add(time.Minute), got.UpdatedAt)
}

func TestFetchWeather_NoLocation(t *testing.T) {
	s, _, _ := newTestStore()
	lookup := london()
	svc := NewWeatherService(s, lookup, nil, logger.NewNop(), nil)
	task := mustAdd(t, s, ports.AddTaskRequest{Title: "home"})

	err := svc.FetchWeather(context.Background(), task.ID)
	require.Error(t, err)
	assert.Equal(t, KindNoLocation, FetchErrorKind(err))
	assert.ErrorIs(t, err, entities.ErrNoLocation)

	assert.Equal(t, entities.WeatherStatusAbsent, s.WeatherStatus(task.ID))
	assert.Zero(t, lookup.callCount())

	// a missing task behaves the same way
	err = svc.FetchWeather(context.Background(), 404)
	assert.Equal(t, KindNoLocation, FetchErrorKind(err))
	assert.Zero(t, lookup.callCount())
}

func TestFetchWeather_FailureKeepsPriorWeather(t *testing.T) {
	s, _, _ := newTestStore()
	lookup := london()
	svc := NewWeatherService(s, lookup, nil, logger.NewNop(), nil)
	ctx := context.Background()
	task := mustAdd(t, s, ports.AddTaskRequest{Title: "trip", Location: "London"})
	require.NoError(t, svc.FetchWeather(ctx, task.ID))

	lookup.mu.Lock()
	delete(lookup.results, "London")
	lookup.mu.Unlock()

	err := svc.FetchWeather(ctx, task.ID)
	require.Error(t, err)
	assert.Equal(t, KindUpstream, FetchErrorKind(err))
	assert.ErrorIs(t, err, entities.ErrUpstream)

	assert.Equal(t, entities.WeatherStatusFailed, s.WeatherStatus(task.ID))
	assert.NotEmpty(t, s.LastError())
	got, _ := s.Task(task.ID)
	require.NotNil(t, got.Weather)
	assert.Equal(t, "Clouds", got.Weather.Condition)
}

func TestFetchWeatherAsync_LoadingVisibleBeforeResolution(t *testing.T) {
	s, _, _ := newTestStore()
	lookup := london()
	lookup.gate = make(chan struct{})
	svc := NewWeatherService(s, lookup, nil, logger.NewNop(), nil)
	task := mustAdd(t, s, ports.AddTaskRequest{Title: "trip", Location: "London"})

	fetch := svc.FetchWeatherAsync(context.Background(), task.ID)
	assert.Equal(t, entities.WeatherStatusLoading, s.WeatherStatus(task.ID))

	select {
	case <-fetch.Done():
		t.Fatal("fetch resolved before the lookup returned")
	default:
	}

	lookup.gate <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fetch.Wait(ctx))
	assert.Equal(t, entities.WeatherStatusSucceeded, s.WeatherStatus(task.ID))
}

func TestFetchWeather_ReportsFailedLoadingWrite(t *testing.T) {
	s, blobs, _ := newTestStore()
	lookup := london()
	lookup.gate = make(chan struct{})
	svc := NewWeatherService(s, lookup, nil, logger.NewNop(), nil)
	task := mustAdd(t, s, ports.AddTaskRequest{Title: "trip", Location: "London"})

	blobs.setFailing(true)
	fetch := svc.FetchWeatherAsync(context.Background(), task.ID)
	assert.Equal(t, entities.WeatherStatusLoading, s.WeatherStatus(task.ID))
	blobs.setFailing(false)

	lookup.gate <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := fetch.Wait(ctx)

	// the lookup itself succeeded and was applied
	assert.ErrorIs(t, err, errDiskFull)
	assert.Empty(t, FetchErrorKind(err))
	assert.Equal(t, entities.WeatherStatusSucceeded, s.WeatherStatus(task.ID))
	got, _ := s.Task(task.ID)
	require.NotNil(t, got.Weather)
}

func TestFetchWeatherAsync_PreconditionResolvesAtOnce(t *testing.T) {
	s, _, _ := newTestStore()
	svc := NewWeatherService(s, london(), nil, logger.NewNop(), nil)
	task := mustAdd(t, s, ports.AddTaskRequest{Title: "home"})

	fetch := svc.FetchWeatherAsync(context.Background(), task.ID)
	<-fetch.Done()
	assert.Equal(t, KindNoLocation, FetchErrorKind(fetch.Err()))
}

func TestFetchWeather_StaleResolutionDropped(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	task := mustAdd(t, s, ports.AddTaskRequest{Title: "trip", Location: "London"})

	older, err := s.beginWeatherFetch(ctx, task.ID)
	require.NoError(t, err)
	newer, err := s.beginWeatherFetch(ctx, task.ID)
	require.NoError(t, err)

	applied, err := s.resolveWeather(ctx, task.ID, newer.token, &entities.Weather{Temperature: 20, Condition: "Clear"}, nil)
	require.NoError(t, err)
	assert.True(t, applied)

	// the older request resolves last and must not win
	applied, err = s.resolveWeather(ctx, task.ID, older.token, &entities.Weather{Temperature: 1, Condition: "Snow"}, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	got, _ := s.Task(task.ID)
	assert.Equal(t, "Clear", got.Weather.Condition)
	assert.Equal(t, entities.WeatherStatusSucceeded, s.WeatherStatus(task.ID))
}

func TestFetchWeatherAsync_DeletedTaskDropsResolution(t *testing.T) {
	s, _, _ := newTestStore()
	lookup := london()
	lookup.gate = make(chan struct{})
	m := metrics.New()
	svc := NewWeatherService(s, lookup, nil, logger.NewNop(), m)
	ctx := context.Background()
	task := mustAdd(t, s, ports.AddTaskRequest{Title: "trip", Location: "London"})

	fetch := svc.FetchWeatherAsync(ctx, task.ID)
	require.NoError(t, s.DeleteTask(ctx, task.ID))
	lookup.gate <- struct{}{}

	require.NoError(t, fetch.Wait(ctx))
	_, ok := s.Task(task.ID)
	assert.False(t, ok)
	assert.Empty(t, s.Snapshot().WeatherStatus)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "taskpad_weather_fetches_total"))
}

func TestFetchWeather_ClearStatusDropsInFlight(t *testing.T) {
	s, _, _ := newTestStore()
	lookup := london()
	lookup.gate = make(chan struct{})
	svc := NewWeatherService(s, lookup, nil, logger.NewNop(), nil)
	ctx := context.Background()
	task := mustAdd(t, s, ports.AddTaskRequest{Title: "trip", Location: "London"})

	fetch := svc.FetchWeatherAsync(ctx, task.ID)
	require.NoError(t, s.ClearWeatherStatus(ctx, task.ID))
	lookup.gate <- struct{}{}
	require.NoError(t, fetch.Wait(ctx))

	assert.Equal(t, entities.WeatherStatusAbsent, s.WeatherStatus(task.ID))
	got, _ := s.Task(task.ID)
	assert.Nil(t, got.Weather)
}

func TestFetchWeather_RateLimited(t *testing.T) {
	s, _, _ := newTestStore()
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	svc := NewWeatherService(s, london(), limiter, logger.NewNop(), nil)
	task := mustAdd(t, s, ports.AddTaskRequest{Title: "trip", Location: "London"})

	require.NoError(t, svc.FetchWeather(context.Background(), task.ID))

	// the bucket is empty and the wait would outlive the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := svc.FetchWeather(ctx, task.ID)
	assert.Equal(t, KindUpstream, FetchErrorKind(err))
	assert.Equal(t, entities.WeatherStatusFailed, s.WeatherStatus(task.ID))
}
