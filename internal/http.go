package app

import (
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"attendance-ingest/internal/config"
	"attendance-ingest/internal/routes"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func securityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")

	// Disable caching
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Next()
}

// Middleware to check if the IP is allowed.
func IPAccessControl(allowedCIDRs []string) gin.HandlerFunc {
	var parsedCIDRs []*net.IPNet

	// Allow local networks in debug mode
	if os.Getenv("GIN_MODE") != "release" {
		localhostCIDRs := []string{"127.0.0.1/8", "::1/128"}
		allowedCIDRs = append(allowedCIDRs, localhostCIDRs...)
	}

	for _, cidr := range allowedCIDRs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("Invalid CIDR", "cidr", cidr)
			continue
		}
		slog.Debug("Allowed CIDR", "cidr", cidr)
		parsedCIDRs = append(parsedCIDRs, n)
	}

	return func(c *gin.Context) {
		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			// Should not happen
			slog.Warn("Invalid client IP", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		for _, cidr := range parsedCIDRs {
			if cidr.Contains(clientIP) {
				c.Next()
				return
			}
		}
		slog.Warn("IP not allowed", "ip", clientIP)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	}
}

// ParseNetworks splits a comma separated CIDR list, dropping empty entries.
func ParseNetworks(list string) []string {
	var cidrs []string
	for cidr := range strings.SplitSeq(list, ",") {
		if cidr := strings.TrimSpace(cidr); cidr != "" {
			cidrs = append(cidrs, cidr)
		}
	}
	return cidrs
}

// HTTPServer wires the vendor ingest points, which must stay reachable
// from devices, and the management surface, which honours
// allowed_networks.
func HTTPServer(cfg *config.Config, h *routes.Handler, connections func() int) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), securityHeaders)

	routes.Health(r.Group(""), connections)

	// ADMS devices hardcode this prefix in firmware.
	h.ADMS(r.Group("/iclock"))

	webhooks := r.Group("/webhook", routes.ErrorHandler())
	h.CloudRelay(webhooks)
	h.Webhook(webhooks)

	management := r.Group("")
	if cfg.AllowedNetworks != "" {
		slog.Debug("Enabling IP access control", "allowed_networks", cfg.AllowedNetworks)
		management.Use(IPAccessControl(ParseNetworks(cfg.AllowedNetworks)))
	}
	management.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.DevicesApi(management.Group("/api/devices", routes.ErrorHandler()))

	return r
}

// requestLogger logs requests through slog rather than gin's text logger.
func requestLogger() gin.HandlerFunc {
	logger := slog.With("component", "http")
	return func(c *gin.Context) {
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"ip", c.ClientIP(),
		)
	}
}
