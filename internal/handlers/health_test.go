package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type fakePinger struct {
	shouldFail bool
}

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.shouldFail {
		return context.DeadlineExceeded
	}
	return nil
}

type fakeHealthChecker struct {
	shouldFail bool
}

func (f *fakeHealthChecker) HealthCheck(ctx context.Context) error {
	if f.shouldFail {
		return errors.New("bucket unreachable")
	}
	return nil
}

func TestHealthHandler_Health(t *testing.T) {
	logger := zap.NewNop()
	m := sharedMetrics

	tests := []struct {
		name              string
		indexFails        bool
		storageFails      bool
		wantStatus        int
		wantHealthy       bool
		wantIndexStatus   string
		wantStorageStatus string
	}{
		{
			name:              "all healthy",
			indexFails:        false,
			storageFails:      false,
			wantStatus:        http.StatusOK,
			wantHealthy:       true,
			wantIndexStatus:   "ok",
			wantStorageStatus: "ok",
		},
		{
			name:              "index unhealthy",
			indexFails:        true,
			storageFails:      false,
			wantStatus:        http.StatusServiceUnavailable,
			wantHealthy:       false,
			wantIndexStatus:   "unavailable",
			wantStorageStatus: "ok",
		},
		{
			name:              "storage unhealthy",
			indexFails:        false,
			storageFails:      true,
			wantStatus:        http.StatusServiceUnavailable,
			wantHealthy:       false,
			wantIndexStatus:   "ok",
			wantStorageStatus: "unavailable",
		},
		{
			name:              "both unhealthy",
			indexFails:        true,
			storageFails:      true,
			wantStatus:        http.StatusServiceUnavailable,
			wantHealthy:       false,
			wantIndexStatus:   "unavailable",
			wantStorageStatus: "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := &fakePinger{shouldFail: tt.indexFails}
			storage := &fakeHealthChecker{shouldFail: tt.storageFails}

			handler := NewHealthHandler(logger, index, storage, m)

			req := httptest.NewRequest("GET", "/health", nil)
			w := httptest.NewRecorder()

			handler.Health(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Health() status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp healthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			expectedStatus := "healthy"
			if !tt.wantHealthy {
				expectedStatus = "unhealthy"
			}

			if resp.Status != expectedStatus {
				t.Errorf("Health() status = %s, want %s", resp.Status, expectedStatus)
			}

			if resp.Checks["index"] != tt.wantIndexStatus {
				t.Errorf("Health() index check = %s, want %s", resp.Checks["index"], tt.wantIndexStatus)
			}

			if resp.Checks["storage"] != tt.wantStorageStatus {
				t.Errorf("Health() storage check = %s, want %s", resp.Checks["storage"], tt.wantStorageStatus)
			}

			if resp.Version == "" {
				t.Error("Health() version should not be empty")
			}
		})
	}
}
