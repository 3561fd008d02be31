package middleware

import (
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/pkg/security"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewAuthMiddleware authenticates a request with either a JWT signed by
// the user's own secret or an API token. Both are read from the
// Authorization header, the auth_token cookie is accepted for browsers.
// Every failure gets the same response.
func NewAuthMiddleware(d *gorm.DB, g *security.JWTGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.MustGet("requestID").(string)

		raw := bearerToken(c)
		if raw == "" {
			unauthenticated(c, requestID)
			return
		}

		var (
			user *model.User
			err  error
		)

		if security.IsAPIToken(raw) {
			user, err = userFromAPIToken(c.Request.Context(), d, raw)
		} else {
			user, err = userFromJWT(c.Request.Context(), d, g, raw)
		}

		if err != nil {
			if errors.Is(err, security.ErrUnauthenticated) {
				zap.L().Debug("Rejected credentials", zap.Error(err), zap.String("requestID", requestID))
				unauthenticated(c, requestID)
				return
			}

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to authenticate request", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		c.Set("userID", user.ID)
		c.Set("isAdmin", user.IsAdmin)
		c.Next()
	}
}

// NewAdminMiddleware must run after the auth middleware
func NewAdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("isAdmin") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":     "Admin access required",
				"requestID": c.GetString("requestID"),
			})
			return
		}

		c.Next()
	}
}

func unauthenticated(c *gin.Context, requestID string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":     "Unauthenticated",
		"requestID": requestID,
	})
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}

	if cookie, err := c.Cookie("auth_token"); err == nil {
		return cookie
	}

	return ""
}

func userFromJWT(ctx context.Context, d *gorm.DB, g *security.JWTGuard, raw string) (*model.User, error) {
	var user model.User

	_, err := g.Validate(ctx, raw, func(ctx context.Context, userID string) ([]byte, error) {
		err := d.WithContext(ctx).Where("id = ?", userID).First(&user).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s", security.ErrUnknownSubject, userID)
			}

			return nil, fmt.Errorf("failed to look up user, %w", err)
		}

		return []byte(user.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func userFromAPIToken(ctx context.Context, d *gorm.DB, raw string) (*model.User, error) {
	var token model.APIToken

	err := d.WithContext(ctx).
		Where("token_hash = ?", security.HashAPIToken(raw)).
		First(&token).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unknown api token", security.ErrUnauthenticated)
		}

		return nil, fmt.Errorf("failed to look up api token, %w", err)
	}

	now := time.Now()
	if token.ExpiresAt != nil && token.ExpiresAt.Before(now) {
		return nil, fmt.Errorf("%w: api token expired", security.ErrUnauthenticated)
	}

	var user model.User
	if err := d.WithContext(ctx).Where("id = ?", token.UserID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: token owner is gone", security.ErrUnauthenticated)
		}

		return nil, fmt.Errorf("failed to look up token owner, %w", err)
	}

	err = d.WithContext(ctx).
		Model(model.APIToken{}).
		Where("id = ?", token.ID).
		Update("last_used_at", now).
		Error
	if err != nil {
		zap.L().Warn("Failed to update api token usage", zap.Uint("token_id", token.ID), zap.Error(err))
	}

	return &user, nil
}
