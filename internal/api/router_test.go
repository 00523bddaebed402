package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(Handlers{}, "secret", "http://localhost:5173")
}

func TestHealthEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	testRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	var body struct {
		Success   bool   `json:"success"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Success {
		t.Error("success = false")
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC 3339: %v", body.Timestamp, err)
	}
}

func TestRoutesMountedAtRoot(t *testing.T) {
	r := testRouter()

	// Protected routes answer 401 without a token; unknown paths 404.
	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/emails/stats", http.StatusUnauthorized},
		{http.MethodGet, "/emails/scheduled", http.StatusUnauthorized},
		{http.MethodGet, "/emails/sent", http.StatusUnauthorized},
		{http.MethodGet, "/senders", http.StatusUnauthorized},
		{http.MethodGet, "/auth/me", http.StatusUnauthorized},
		{http.MethodGet, "/api/emails/stats", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s %s = %d; want %d", tc.method, tc.path, w.Code, tc.want)
		}
	}
}
