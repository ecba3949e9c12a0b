package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"attendance-ingest/internal/config"
	"attendance-ingest/internal/routes"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestParseNetworks(t *testing.T) {
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.0/24"}, ParseNetworks(" 10.0.0.0/8, ,192.168.1.0/24,"))
	assert.Nil(t, ParseNetworks(""))
}

func TestHTTPServer_ManagementHonoursAllowedNetworks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{AllowedNetworks: "10.0.0.0/8"}
	r := HTTPServer(cfg, routes.NewHandler(routes.Deps{}), func() int { return 3 })

	get := func(path, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// Health is public.
	w := get("/health", "192.0.2.1:4000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connections":3`)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusForbidden, get("/metrics", "192.0.2.1:4000").Code)
	assert.Equal(t, http.StatusForbidden, get("/api/devices", "192.0.2.1:4000").Code)
	assert.Equal(t, http.StatusOK, get("/metrics", "10.1.2.3:4000").Code)
}
