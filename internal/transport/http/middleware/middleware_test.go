package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRecoveryConvertsPanicToInternalServerError(t *testing.T) {
	engine := gin.New()
	engine.Use(Recovery())
	engine.GET("/boom", func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	var seen string
	engine := gin.New()
	engine.Use(RequestLogger())
	engine.GET("/ping", func(c *gin.Context) {
		seen = RequestID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	engine.ServeHTTP(w, req)

	if seen == "" {
		t.Error("RequestID(c) was empty inside the handler")
	}
	if w.Header().Get("X-Request-Id") != seen {
		t.Errorf("response header X-Request-Id = %q, want %q", w.Header().Get("X-Request-Id"), seen)
	}
}

func TestRequestLoggerPreservesIncomingRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestLogger())
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "client-supplied-id")
	engine.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "client-supplied-id" {
		t.Errorf("X-Request-Id = %q, want client-supplied-id", got)
	}
}

func TestRequestIDEmptyWithoutMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	if got := RequestID(c); got != "" {
		t.Errorf("RequestID on bare context = %q, want empty", got)
	}
}
