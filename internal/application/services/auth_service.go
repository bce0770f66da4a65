package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/logger"
	"github.com/taskmaster/taskpad/internal/infrastructure/metrics"
	"github.com/taskmaster/taskpad/internal/ports"
)

// persistedAuth is the whitelisted slice of AuthState that survives restarts
type persistedAuth struct {
	User          *entities.Identity `json:"user"`
	Token         string             `json:"token"`
	Authenticated bool               `json:"is_authenticated"`
}

// AuthService is the auth state machine:
// idle -> loading -> authenticated | failed, and any state -> idle on logout.
type AuthService struct {
	mu    sync.Mutex
	state entities.AuthState

	checker  ports.CredentialChecker
	verifier ports.TokenVerifier
	blobs    ports.BlobStore
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

// NewAuthService creates an auth service in the idle state
func NewAuthService(checker ports.CredentialChecker, verifier ports.TokenVerifier, blobs ports.BlobStore, log *logger.Logger, m *metrics.Metrics) *AuthService {
	if log == nil {
		log = logger.NewNop()
	}
	return &AuthService{
		state:    entities.AuthState{Status: entities.AuthStatusIdle},
		checker:  checker,
		verifier: verifier,
		blobs:    blobs,
		logger:   log.WithComponent("auth"),
		metrics:  m,
	}
}

// Load restores the auth namespace. A stored session whose token no longer
// verifies resumes as idle.
func (s *AuthService) Load(ctx context.Context) error {
	blob, found, err := s.blobs.Load(ctx, ports.NamespaceAuth)
	if err != nil {
		return fmt.Errorf("load auth: %w", err)
	}
	if !found {
		return nil
	}

	var p persistedAuth
	if err := json.Unmarshal(blob, &p); err != nil {
		return fmt.Errorf("decode auth: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Authenticated && p.User != nil && p.Token != "" {
		if _, err := s.verifier.Verify(p.Token); err != nil {
			// expired or foreign token: start logged out and forget it
			s.logger.Infow("Stored session discarded", "username", p.User.Username, "reason", err.Error())
			s.state = entities.AuthState{Status: entities.AuthStatusIdle}
			return s.persistLocked(ctx)
		}
		s.state = entities.AuthState{
			Status:        entities.AuthStatusAuthenticated,
			Identity:      p.User,
			Token:         p.Token,
			Authenticated: true,
		}
		s.logger.Infow("Session restored", "username", p.User.Username)
		return nil
	}

	s.state = entities.AuthState{Status: entities.AuthStatusIdle}
	return nil
}

// Login submits credentials. The state is loading for the duration of the
// credential check, then authenticated or failed. A rejected check is not
// returned as an error: it is stored in the state, as the UI reads it.
func (s *AuthService) Login(ctx context.Context, creds entities.Credentials) (entities.AuthState, error) {
	s.mu.Lock()
	switch s.state.Status {
	case entities.AuthStatusLoading:
		s.mu.Unlock()
		return s.State(), entities.ErrLoginInProgress
	case entities.AuthStatusAuthenticated:
		s.mu.Unlock()
		return s.State(), entities.ErrAlreadyAuthenticated
	}
	s.state = entities.AuthState{Status: entities.AuthStatusLoading}
	s.mu.Unlock()

	result, err := s.checker.Check(ctx, creds)

	s.mu.Lock()
	defer s.mu.Unlock()

	// a logout during the round trip wins
	if s.state.Status != entities.AuthStatusLoading {
		return s.state, nil
	}

	if err != nil {
		msg := err.Error()
		if errors.Is(err, entities.ErrInvalidCredentials) {
			msg = "Invalid credentials"
		}
		s.state = entities.AuthState{Status: entities.AuthStatusFailed, Error: msg}
		s.metrics.LoginAttempt("failed")
		s.logger.LogSecurityEvent("login_failed", creds.Username, "", map[string]interface{}{"error": err.Error()})
		return s.state, nil
	}

	identity := result.Identity
	s.state = entities.AuthState{
		Status:        entities.AuthStatusAuthenticated,
		Identity:      &identity,
		Token:         result.Token,
		Authenticated: true,
	}
	s.metrics.LoginAttempt("succeeded")
	s.logger.Infow("User logged in", "username", identity.Username)
	return s.state, s.persistLocked(ctx)
}

// Logout returns to idle from any state, clearing identity, token and error
func (s *AuthService) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := ""
	if s.state.Identity != nil {
		username = s.state.Identity.Username
	}
	s.state = entities.AuthState{Status: entities.AuthStatusIdle}
	s.logger.Infow("User logged out", "username", username)
	return s.persistLocked(ctx)
}

// ClearError drops the stored error message without changing status
func (s *AuthService) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Error = ""
}

// State returns a copy of the current state
func (s *AuthService) State() entities.AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	if st.Identity != nil {
		id := *st.Identity
		st.Identity = &id
	}
	return st
}

// ValidateToken is the routing guard: the token must verify and belong to
// the current session.
func (s *AuthService) ValidateToken(token string) (*ports.Claims, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != entities.AuthStatusAuthenticated || s.state.Token != token {
		return nil, fmt.Errorf("token does not belong to the active session")
	}
	return claims, nil
}

func (s *AuthService) persistLocked(ctx context.Context) error {
	blob, err := json.Marshal(persistedAuth{
		User:          s.state.Identity,
		Token:         s.state.Token,
		Authenticated: s.state.Authenticated,
	})
	if err == nil {
		err = s.blobs.Save(ctx, ports.NamespaceAuth, blob)
	}

	s.metrics.PersistenceWrite(ports.NamespaceAuth, err)
	if err != nil {
		s.logger.Errorw("State persistence failed", "namespace", ports.NamespaceAuth, "error", err)
		return fmt.Errorf("persist auth: %w", err)
	}
	return nil
}
