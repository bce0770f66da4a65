package ports

import (
	"context"

	"github.com/taskmaster/taskpad/internal/domain/entities"
)

// Persistence namespaces
const (
	NamespaceAuth  = "auth"
	NamespaceTasks = "tasks"
)

// BlobStore is the persistence adapter: opaque serialized state keyed by namespace.
// Load reports found=false when nothing has been stored yet.
type BlobStore interface {
	Load(ctx context.Context, namespace string) (blob []byte, found bool, err error)
	Save(ctx context.Context, namespace string, blob []byte) error
}

// HealthChecker is implemented by blob stores backed by a remote service
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StatsReporter exposes backend connection statistics for the health endpoint
type StatsReporter interface {
	Stats() map[string]interface{}
}

// WeatherLookup resolves current weather for a free-text location, metric units
type WeatherLookup interface {
	Lookup(ctx context.Context, location string) (*entities.Weather, error)
}

// LoginResult is what a successful credential check yields
type LoginResult struct {
	Identity entities.Identity
	Token    string
}

// CredentialChecker is the login round trip
type CredentialChecker interface {
	Check(ctx context.Context, creds entities.Credentials) (*LoginResult, error)
}

// TokenVerifier validates tokens issued by a CredentialChecker
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// Claims represents what the routing guard needs from a token
type Claims struct {
	UserID   int64
	Username string
	TokenID  string
}
