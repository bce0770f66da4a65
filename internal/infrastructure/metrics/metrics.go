package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry and the application collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	taskMutations     *prometheus.CounterVec
	weatherFetches    *prometheus.CounterVec
	loginAttempts     *prometheus.CounterVec
	persistenceWrites *prometheus.CounterVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		taskMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpad_task_mutations_total",
				Help: "Task store mutations that changed state",
			},
			[]string{"op"},
		),
		weatherFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpad_weather_fetches_total",
				Help: "Weather fetch resolutions by outcome",
			},
			[]string{"outcome"},
		),
		loginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpad_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		persistenceWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpad_persistence_writes_total",
				Help: "State blob writes by namespace and outcome",
			},
			[]string{"namespace", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.taskMutations,
		m.weatherFetches,
		m.loginAttempts,
		m.persistenceWrites,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) TaskMutation(op string) {
	if m == nil {
		return
	}
	m.taskMutations.WithLabelValues(op).Inc()
}

func (m *Metrics) WeatherFetch(outcome string) {
	if m == nil {
		return
	}
	m.weatherFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PersistenceWrite(namespace string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.persistenceWrites.WithLabelValues(namespace, outcome).Inc()
}

// Middleware records request count and latency per route
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			m.requestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				fmt.Sprintf("%d", status),
			).Inc()

			m.requestDuration.WithLabelValues(
				c.Request().Method,
				c.Path(),
			).Observe(duration.Seconds())

			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
