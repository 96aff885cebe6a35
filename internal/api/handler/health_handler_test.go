package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dispatchlab/dispatch/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealthChecker struct {
	err error
}

func (f *fakeHealthChecker) HealthCheck(ctx context.Context) error {
	return f.err
}

func getHealth(h *JobHandler) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checkErr   error
		wantCode   int
		wantStatus string
	}{
		{name: "store reachable", checkErr: nil, wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "store down", checkErr: errors.New("connection refused"), wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewJobHandler(&Dependencies{
				Logger: logger.NewDefault().Logger,
				Health: &fakeHealthChecker{err: tt.checkErr},
			})

			w := getHealth(h)

			require.Equal(t, tt.wantCode, w.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp["status"])
			assert.Equal(t, "dispatch-api", resp["service"])
		})
	}
}
