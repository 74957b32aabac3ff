package logger

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	t.Cleanup(func() { Log = zap.NewNop() })

	require.NoError(t, Initialize("debug", "development"))
	assert.True(t, Log.Core().Enabled(zap.DebugLevel))

	require.NoError(t, Initialize("warn", "production"))
	assert.False(t, Log.Core().Enabled(zap.InfoLevel))

	assert.Error(t, Initialize("loud", "production"))
}

func TestGinLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(GinLogger(zap.New(core)))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[1].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "/health", fields["path"])
	assert.Equal(t, "/health", fields["route"])
	assert.Equal(t, int64(http.StatusNoContent), fields["status"])
}

func TestGinLoggerHidesBotToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(GinLogger(zap.New(core)))
	r.NoRoute(func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bot123456:SECRET-token", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	entries := logs.All()
	require.Len(t, entries, 1)
	for key, value := range entries[0].ContextMap() {
		assert.NotContains(t, fmt.Sprint(value), "SECRET", key)
	}
	assert.Equal(t, "/bot***", entries[0].ContextMap()["path"])
}

func TestRedactPath(t *testing.T) {
	testCases := []struct {
		testName string
		path     string
		expected string
	}{
		{testName: "Should hide token", path: "/bot123:abc", expected: "/bot***"},
		{testName: "Should keep bare prefix", path: "/bot", expected: "/bot"},
		{testName: "Should keep api path", path: "/api/health", expected: "/api/health"},
	}
	for _, tc := range testCases {
		t.Run(tc.testName, func(t *testing.T) {
			assert.Equal(t, tc.expected, RedactPath(tc.path))
		})
	}
}
