package routes

import (
	"net/http"

	"attendance-ingest/internal/utils"

	"github.com/gin-gonic/gin"
)

// Health registers GET /health. It reports the build version and how
// many outbound connections are held.
func Health(r *gin.RouterGroup, connections func() int) {
	version := utils.GetVersion()

	r.GET("/health", func(c *gin.Context) {
		msg := c.Query("ping")
		if msg == "" {
			msg = "pong"
		}

		resp := gin.H{
			"message": msg,
			"version": version,
		}
		if connections != nil {
			resp["connections"] = connections()
		}
		c.JSON(http.StatusOK, resp)
	})
}
