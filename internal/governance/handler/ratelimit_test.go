package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/secure-knaight/governance-core/internal/governance/handler"
	"github.com/secure-knaight/governance-core/pkg/signing"
)

func limitedRouter(rps, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.RateLimiter(rps, burst))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func ping(r *gin.Engine, callerID string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if callerID != "" {
		req.Header.Set(signing.HeaderCallerID, callerID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter_throttlesRepeatCaller(t *testing.T) {
	r := limitedRouter(1, 1)

	if code := ping(r, "agent-a.knaight"); code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", code)
	}
	if code := ping(r, "agent-a.knaight"); code != http.StatusTooManyRequests {
		t.Fatalf("second request from same caller: got %d, want 429", code)
	}
}

func TestRateLimiter_bucketsByCallerNotSharedIP(t *testing.T) {
	// Both requests arrive from the same test client address; distinct
	// caller identities must not share a bucket.
	r := limitedRouter(1, 1)

	if code := ping(r, "agent-a.knaight"); code != http.StatusOK {
		t.Fatalf("caller a: got %d, want 200", code)
	}
	if code := ping(r, "agent-b.knaight"); code != http.StatusOK {
		t.Fatalf("caller b: got %d, want 200", code)
	}
}

func TestRateLimiter_unsignedTrafficFallsBackToIP(t *testing.T) {
	r := limitedRouter(1, 1)

	if code := ping(r, ""); code != http.StatusOK {
		t.Fatalf("first unsigned request: got %d, want 200", code)
	}
	if code := ping(r, ""); code != http.StatusTooManyRequests {
		t.Fatalf("second unsigned request from same address: got %d, want 429", code)
	}
}
