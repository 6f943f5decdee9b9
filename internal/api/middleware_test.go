package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecoveryAndRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	r := gin.New()
	r.Use(RequestID(), RequestLogger(log), Recovery(log))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "req-1", rr.Header().Get(RequestIDHeader))
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	assert.Equal(t, "req-1", logs.FilterMessage("panic recovered").All()[0].ContextMap()["request_id"])

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader), "a request id is generated when absent")
	assert.Equal(t, 2, logs.FilterMessage("request").Len())
}

func TestAllowedOrigins(t *testing.T) {
	assert.Contains(t, allowedOrigins(Config{}), "http://localhost:8081")
	assert.Equal(t,
		[]string{"https://a.example", "https://b.example"},
		allowedOrigins(Config{IsProduction: true, ProdOrigins: "https://a.example, https://b.example,"}),
	)
}
