package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemInfo describes the running service
type SystemInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Env       string `json:"env"`
	Uptime    string `json:"uptime"`
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func() error

// SystemHandler serves health and build information
type SystemHandler struct {
	BaseHandler
	name      string
	version   string
	env       string
	startedAt time.Time
	checks    map[string]HealthCheck
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(name, version, env string) *SystemHandler {
	return &SystemHandler{
		name:      name,
		version:   version,
		env:       env,
		startedAt: time.Now(),
		checks:    make(map[string]HealthCheck),
	}
}

// WithCheck adds a dependency to the health report
func (h *SystemHandler) WithCheck(name string, check HealthCheck) *SystemHandler {
	h.checks[name] = check
	return h
}

// GetSystemInfo handles GET /system/info
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfo{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Env:       h.env,
		Uptime:    time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}

// Health handles GET /health. Any failing check turns the response into a 503.
func (h *SystemHandler) Health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	healthy := true
	for name, check := range h.checks {
		if err := check(); err != nil {
			healthy = false
			status[name] = "error"
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		status["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "data": status})
		return
	}
	h.Success(c, status)
}
