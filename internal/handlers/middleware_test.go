package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBasicAuth(t *testing.T) {
	// Create a simple handler that the middleware will wrap
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	})

	tests := []struct {
		name           string
		username       string
		password       string
		providedUser   string
		providedPass   string
		setAuth        bool
		wantStatus     int
		wantBody       string
		wantAuthHeader bool
	}{
		{
			name:         "valid credentials",
			username:     "admin",
			password:     "secret",
			providedUser: "admin",
			providedPass: "secret",
			setAuth:      true,
			wantStatus:   http.StatusOK,
			wantBody:     "success",
		},
		{
			name:           "invalid username",
			username:       "admin",
			password:       "secret",
			providedUser:   "wrong",
			providedPass:   "secret",
			setAuth:        true,
			wantStatus:     http.StatusUnauthorized,
			wantBody:       "Unauthorized\n",
			wantAuthHeader: true,
		},
		{
			name:           "invalid password",
			username:       "admin",
			password:       "secret",
			providedUser:   "admin",
			providedPass:   "wrong",
			setAuth:        true,
			wantStatus:     http.StatusUnauthorized,
			wantBody:       "Unauthorized\n",
			wantAuthHeader: true,
		},
		{
			name:           "password prefix rejected",
			username:       "admin",
			password:       "secret",
			providedUser:   "admin",
			providedPass:   "secre",
			setAuth:        true,
			wantStatus:     http.StatusUnauthorized,
			wantBody:       "Unauthorized\n",
			wantAuthHeader: true,
		},
		{
			name:           "no credentials provided",
			username:       "admin",
			password:       "secret",
			setAuth:        false,
			wantStatus:     http.StatusUnauthorized,
			wantBody:       "Unauthorized\n",
			wantAuthHeader: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrappedHandler := BasicAuth(tt.username, tt.password)(testHandler)

			req := httptest.NewRequest("GET", "/metrics", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.providedUser, tt.providedPass)
			}

			w := httptest.NewRecorder()
			wrappedHandler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}

			if tt.wantAuthHeader {
				authHeader := w.Header().Get("WWW-Authenticate")
				expectedHeader := `Basic realm="metrics"`
				if authHeader != expectedHeader {
					t.Errorf("WWW-Authenticate = %q, want %q", authHeader, expectedHeader)
				}
			}
		})
	}
}

func TestIPRateLimiter_Allow(t *testing.T) {
	l := NewIPRateLimiter(1, 2, sharedMetrics)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	// Burst of two, then blocked
	for i, want := range []bool{true, true, false} {
		if got := l.Allow("10.0.0.1"); got != want {
			t.Fatalf("request %d: Allow() = %v, want %v", i, got, want)
		}
	}

	// Other clients have their own bucket
	if !l.Allow("10.0.0.2") {
		t.Fatal("second client should not share the first client's bucket")
	}

	// One token refills per second
	now = now.Add(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatal("token should have refilled")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("only one token should have refilled")
	}
}

func TestIPRateLimiter_PrunesIdleClients(t *testing.T) {
	l := NewIPRateLimiter(1, 1, sharedMetrics)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("10.0.0.1")
	now = now.Add(2 * limiterIdleTTL)
	l.Allow("10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.clients["10.0.0.1"]; ok {
		t.Error("idle client was not pruned")
	}
	if _, ok := l.clients["10.0.0.2"]; !ok {
		t.Error("active client was pruned")
	}
}

func TestIPRateLimiter_Middleware(t *testing.T) {
	l := NewIPRateLimiter(0.001, 1, sharedMetrics)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for _, addr := range []string{"192.0.2.1:1000", "192.0.2.1:2000", "192.0.2.9:1000"} {
		req := httptest.NewRequest("POST", "/compress", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)

		if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
			t.Error("429 without Retry-After")
		}
	}

	want := []int{http.StatusNoContent, http.StatusTooManyRequests, http.StatusNoContent}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d status = %d, want %d", i, codes[i], want[i])
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"unix-socket", "unix-socket"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remote
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
