package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/taskmaster/taskpad/internal/application/services"
	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/logger"
	"github.com/taskmaster/taskpad/internal/ports"
)

// ContextKeyClaims is where the routing guard stores verified token claims
const ContextKeyClaims = "claims"

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	authService *services.AuthService
	logger      *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *services.AuthService, logger *logger.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Login submits credentials and blocks until the check resolves
func (h *AuthHandler) Login(c echo.Context) error {
	var req ports.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	state, err := h.authService.Login(c.Request().Context(), req.Credentials())
	switch {
	case errors.Is(err, entities.ErrLoginInProgress), errors.Is(err, entities.ErrAlreadyAuthenticated):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		// the session is live even if it could not be written out
		h.logger.Errorw("Login persistence failed", "error", err, "username", req.Username)
	}

	if state.Status == entities.AuthStatusFailed {
		h.logger.LogSecurityEvent("login_rejected", req.Username, c.RealIP(), nil)
		return c.JSON(http.StatusUnauthorized, state)
	}
	return c.JSON(http.StatusOK, state)
}

// Logout returns the session to idle
func (h *AuthHandler) Logout(c echo.Context) error {
	if err := h.authService.Logout(c.Request().Context()); err != nil {
		h.logger.Errorw("Logout persistence failed", "error", err)
	}
	return c.JSON(http.StatusOK, h.authService.State())
}

// Session returns the current auth state
func (h *AuthHandler) Session(c echo.Context) error {
	return c.JSON(http.StatusOK, h.authService.State())
}

// ClearError drops a stored login error
func (h *AuthHandler) ClearError(c echo.Context) error {
	h.authService.ClearError()
	return c.JSON(http.StatusOK, h.authService.State())
}

// Utility functions and helper types

func parseTaskID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid task ID")
	}
	return id, nil
}

func getClaimsFromContext(c echo.Context) *ports.Claims {
	claims, _ := c.Get(ContextKeyClaims).(*ports.Claims)
	return claims
}

func usernameFromContext(c echo.Context) string {
	if claims := getClaimsFromContext(c); claims != nil {
		return claims.Username
	}
	return ""
}

// Request/Response types

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MutationResponse reports the task after an intent. Warning is set when the
// change applied but could not be persisted.
type MutationResponse struct {
	Task    *ports.TaskView `json:"task,omitempty"`
	Warning string          `json:"warning,omitempty"`
}
