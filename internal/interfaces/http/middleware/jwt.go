package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hotline/admissions/internal/infrastructure/auth"
	"github.com/hotline/admissions/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// JWT context keys
const (
	StaffClaimsKey  = "staff_claims"
	StaffSubjectKey = "staff_subject"
	AuthHeaderKey   = "Authorization"
	BearerPrefix    = "Bearer "
)

// StaffAuthConfig holds configuration for the staff auth middleware
type StaffAuthConfig struct {
	// JWTService is required for token validation
	JWTService *auth.JWTService
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	// Logger for middleware logging
	Logger *zap.Logger
}

// StaffAuth creates middleware that only lets staff tokens through
func StaffAuth(cfg StaffAuthConfig) gin.HandlerFunc {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		header := c.GetHeader(AuthHeaderKey)
		if header == "" {
			abortUnauthorized(c, log, auth.ErrInvalidToken, "Missing authorization header")
			return
		}
		token, ok := strings.CutPrefix(header, BearerPrefix)
		if !ok || token == "" {
			abortUnauthorized(c, log, auth.ErrInvalidToken, "Invalid authorization header format")
			return
		}

		claims, err := cfg.JWTService.ValidateStaffToken(token)
		if err != nil {
			abortUnauthorized(c, log, err, "Token validation failed")
			return
		}

		c.Set(StaffClaimsKey, claims)
		c.Set(StaffSubjectKey, claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, log *zap.Logger, err error, message string) {
	log.Warn("Staff authentication failed",
		zap.Error(err),
		zap.String("message", message),
		zap.String("path", c.Request.URL.Path),
	)

	status := http.StatusUnauthorized
	code, text := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, text = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrNotStaff):
		status = http.StatusForbidden
		code, text = dto.ErrCodeForbidden, "Staff role required"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims),
		errors.Is(err, auth.ErrMissingSubject), errors.Is(err, auth.ErrTokenNotYetValid):
		code, text = dto.ErrCodeTokenInvalid, "Invalid token"
	}
	c.AbortWithStatusJSON(status, dto.NewErrorResponseWithRequestID(code, text, GetRequestID(c)))
}

// GetStaffClaims retrieves the staff claims from gin.Context
func GetStaffClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(StaffClaimsKey); exists {
		if staff, ok := claims.(*auth.Claims); ok {
			return staff
		}
	}
	return nil
}

// GetStaffSubject returns the authenticated staff member's id, or ""
func GetStaffSubject(c *gin.Context) string {
	return c.GetString(StaffSubjectKey)
}
