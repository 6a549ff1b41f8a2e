package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformHealthCheck(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		expectError bool
		invalid     bool
	}{
		{name: "liveness ok", status: http.StatusOK, body: `{"status":"ok"}`},
		{name: "readiness healthy", status: http.StatusOK, body: `{"status":"healthy"}`},
		{name: "degraded", status: http.StatusOK, body: `{"status":"degraded"}`, expectError: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, body: `{"status":"unhealthy"}`, expectError: true},
		{name: "not json", status: http.StatusOK, body: `<html>`, expectError: true, invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/healthz", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := performHealthCheck(context.Background(), srv.URL+"/healthz", time.Second)
			if !tt.expectError {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, errInvalidHealthResponse))
		})
	}
}

func TestPerformHealthCheckTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	err := performHealthCheck(context.Background(), srv.URL, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestHealthcheckTarget(t *testing.T) {
	t.Cleanup(func() { healthcheckURL = "" })

	t.Setenv("SERVER_PORT", "")
	assert.Equal(t, "http://localhost:8080/healthz", healthcheckTarget())

	t.Setenv("SERVER_PORT", "9191")
	assert.Equal(t, "http://localhost:9191/healthz", healthcheckTarget())

	healthcheckURL = "http://app:8080/readyz"
	assert.Equal(t, "http://app:8080/readyz", healthcheckTarget())
}
