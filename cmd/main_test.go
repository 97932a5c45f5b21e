package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-usage/internal/auth"
	"github.com/ukydev/fleet-usage/internal/config"
	"github.com/ukydev/fleet-usage/internal/events"
	"github.com/ukydev/fleet-usage/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:               "0",
		StoreDriver:        config.DriverSQLite,
		SQLitePath:         filepath.Join(t.TempDir(), "fleet.db"),
		IdentityProvider:   config.ProviderLocal,
		JWTSecret:          "test-secret",
		JWTExpiry:          time.Hour,
		MaintenanceSweep:   "0 0 6 * * *",
		RateLimitPerMinute: 1000,
		RequestTimeout:     5 * time.Second,
		LogLevel:           "info",
	}
}

func TestNewApp_ServesHealthAndLogin(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.close()

	_, err = a.gateway.Bootstrap(ctx, "Root", "root@example.com", "password123")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	body, _ := json.Marshal(models.LoginRequest{Email: "root@example.com", Password: "password123"})
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.LoginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, models.RoleFleetAdmin, resp.Profile.Role)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreDriver = "postgres"
	_, err := openStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	cfg := testConfig(t)
	assert.IsType(t, &auth.LocalProvider{}, newProvider(cfg, nil))

	cfg.IdentityProvider = config.ProviderGoTrue
	cfg.GoTrueURL = "http://localhost:9999"
	cfg.GoTrueServiceKey = "key"
	assert.IsType(t, &auth.GoTrueProvider{}, newProvider(cfg, nil))
}

func TestNewPublisher_DisabledWithoutBroker(t *testing.T) {
	p, err := newPublisher(testConfig(t))
	require.NoError(t, err)
	assert.IsType(t, events.NopPublisher{}, p)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}
