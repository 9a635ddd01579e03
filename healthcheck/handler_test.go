package healthcheck

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agglayer/callkit/log"
)

type stubThrottle struct {
	active bool
}

func (s stubThrottle) IsThrottlingActive() bool {
	return s.active
}

func TestHealthCheckHandler_ServeHTTP_Healthy(t *testing.T) {
	handler := NewHealthCheckHandler(log.GetDefaultLogger(), nil)

	// Create a request and record the response
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	// Check the response code and body
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"is_healthy": true`)
	require.Contains(t, rr.Body.String(), `"throttling_active": false`)
}

func TestHealthCheckHandler_ServeHTTP_Throttled(t *testing.T) {
	handler := NewHealthCheckHandler(log.GetDefaultLogger(), stubThrottle{active: true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"throttling_active": true`)
}
