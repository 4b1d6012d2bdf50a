// Package test provides public helpers for setting up end-to-end and
// integration tests for the presence service.
package test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-presence-service/cmd"
	"github.com/tinywideclouds/go-presence-service/internal/auth"
	"github.com/tinywideclouds/go-presence-service/internal/realtime"
	"github.com/tinywideclouds/go-presence-service/presenceservice"
	"github.com/tinywideclouds/go-presence-service/presenceservice/config"
)

// SessionSecret signs every token minted by SignSessionToken.
const SessionSecret = "e2e-session-secret"

// Harness is a fully wired presence service running on in-memory fakes,
// with both surfaces mounted on httptest servers.
type Harness struct {
	Deps       *cmd.ServiceDependencies
	API        *presenceservice.Wrapper
	Gateway    *realtime.Gateway
	APIBaseURL string
	GatewayURL string // websocket URL of the /connect endpoint
}

// NewHarness builds the service the way the entrypoints do, substituting
// httptest listeners for real ports.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	logger := zerolog.Nop()

	deps := cmd.NewFakeDependencies(logger)
	verifier := auth.NewVerifier(SessionSecret)

	cfg := &config.AppConfig{
		RunMode:       "local",
		APIPort:       "0",
		WebSocketPort: "0",
		SessionSecret: SessionSecret,
	}

	apiService, err := presenceservice.New(cfg, &presenceservice.Dependencies{
		LocationStore:      deps.LocationStore,
		Users:              deps.Users,
		DetectionPublisher: deps.DetectionPublisher,
		Verifier:           verifier,
	}, logger)
	require.NoError(t, err)

	gateway, err := realtime.NewGateway("0", verifier, deps.PresenceCache, deps.MatchQueue, logger)
	require.NoError(t, err)

	apiServer := httptest.NewServer(apiService.Handler())
	t.Cleanup(apiServer.Close)
	gatewayServer := httptest.NewServer(gateway.Handler())
	t.Cleanup(gatewayServer.Close)

	return &Harness{
		Deps:       deps,
		API:        apiService,
		Gateway:    gateway,
		APIBaseURL: apiServer.URL,
		GatewayURL: "ws" + strings.TrimPrefix(gatewayServer.URL, "http") + "/connect",
	}
}

// SignSessionToken mints a session token for the given user, valid for an
// hour.
func SignSessionToken(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(SessionSecret))
	require.NoError(t, err)
	return signed
}
