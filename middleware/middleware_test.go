package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(m *Manager, token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(m.Use())
	GET(r, "/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") }, RouteOpt{Token: token})
	return r
}

func do(r http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManagerAbortStopsChain(t *testing.T) {
	var calls []string
	m := NewManager(
		func(c *gin.Context) { calls = append(calls, "a") },
		nil,
		func(c *gin.Context) { calls = append(calls, "b"); c.AbortWithStatus(http.StatusTeapot) },
		func(c *gin.Context) { calls = append(calls, "c") },
	)
	w := do(newEngine(m, ""), "")
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, []string{"a", "b"}, calls)

	m.Clear()
	calls = nil
	assert.Equal(t, http.StatusOK, do(newEngine(m, ""), "").Code)
	assert.Empty(t, calls)
}

func TestBearerToken(t *testing.T) {
	r := newEngine(NewManager(AccessLog(nil)), "s3cret")
	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, do(r, "Bearer s3cret").Code)
	assert.Equal(t, http.StatusOK, do(r, "bearer s3cret").Code)
}
