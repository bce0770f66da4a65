package credentials

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/config"
	"github.com/taskmaster/taskpad/internal/ports"
)

const demoUserID int64 = 1

// Claims represents the JWT claims
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// DemoChecker recognizes a single configured credential pair and issues a
// signed token for it after a fixed delay.
type DemoChecker struct {
	username     string
	passwordHash []byte
	identity     entities.Identity
	delay        time.Duration

	secret    []byte
	issuer    string
	expiresIn time.Duration
	now       func() time.Time
}

// NewDemoChecker hashes the configured password once at construction
func NewDemoChecker(cfg config.AuthConfig) (*DemoChecker, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash demo password: %w", err)
	}

	return &DemoChecker{
		username:     cfg.DemoUsername,
		passwordHash: hash,
		identity: entities.Identity{
			ID:       demoUserID,
			Username: cfg.DemoUsername,
			Name:     cfg.DemoName,
		},
		delay:     cfg.LoginDelay,
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		expiresIn: cfg.JWTExpiresIn,
		now:       time.Now,
	}, nil
}

// Check waits out the artificial delay, then compares the submission
func (c *DemoChecker) Check(ctx context.Context, creds entities.Credentials) (*ports.LoginResult, error) {
	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if creds.Username != c.username {
		return nil, entities.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(c.passwordHash, []byte(creds.Password)); err != nil {
		return nil, entities.ErrInvalidCredentials
	}

	token, err := c.sign()
	if err != nil {
		return nil, err
	}
	return &ports.LoginResult{Identity: c.identity, Token: token}, nil
}

// Verify parses and validates a token issued by Check
func (c *DemoChecker) Verify(tokenString string) (*ports.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return &ports.Claims{
		UserID:   claims.UserID,
		Username: claims.Username,
		TokenID:  claims.ID,
	}, nil
}

func (c *DemoChecker) sign() (string, error) {
	now := c.now()
	claims := &Claims{
		UserID:   c.identity.ID,
		Username: c.identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    c.issuer,
			Subject:   strconv.FormatInt(c.identity.ID, 10),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
