package middleware

import (
	"bitwise74/asset-api/db"
	"bitwise74/asset-api/internal/model"
	"bitwise74/asset-api/pkg/security"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return gdb
}

func newAuthRouter(gdb *gorm.DB, g *security.JWTGuard) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(NewRequestIDMiddleware())
	r.GET("/me", NewAuthMiddleware(gdb, g), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"userID":  c.MustGet("userID"),
			"isAdmin": c.GetBool("isAdmin"),
		})
	})
	r.GET("/admin", NewAuthMiddleware(gdb, g), NewAdminMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareJWT(t *testing.T) {
	gdb := newTestDB(t)
	require.NoError(t, gdb.Create(&model.User{ID: "u1", Email: "a@b.co", PasswordHash: "x", JWTSecret: "s1"}).Error)
	require.NoError(t, gdb.Create(&model.User{ID: "u2", Email: "c@d.co", PasswordHash: "x", JWTSecret: "s2", IsAdmin: true}).Error)

	g := security.NewJWTGuard("asset-api", 24*time.Hour, 0, []string{"sub", "exp", "iat"})
	r := newAuthRouter(gdb, g)

	good, err := g.Issue("u1", []byte("s1"), time.Hour)
	require.NoError(t, err)

	w := get(r, "/me", good)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userID":"u1","isAdmin":false}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusForbidden, get(r, "/admin", good).Code)

	admin, err := g.Issue("u2", []byte("s2"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, get(r, "/admin", admin).Code)

	// Signed with somebody else's secret
	forged, err := g.Issue("u1", []byte("s2"), time.Hour)
	require.NoError(t, err)

	ghost, err := g.Issue("nobody", []byte("s1"), time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing": "",
		"garbage": "not.a.token",
		"forged":  forged,
		"ghost":   ghost,
	} {
		w := get(r, "/me", token)
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
		assert.Contains(t, w.Body.String(), `"error":"Unauthenticated"`, name)
	}
}

func TestAuthMiddlewareCookie(t *testing.T) {
	gdb := newTestDB(t)
	require.NoError(t, gdb.Create(&model.User{ID: "u1", Email: "a@b.co", PasswordHash: "x", JWTSecret: "s1"}).Error)

	g := security.NewJWTGuard("", 0, 0, nil)
	token, err := g.Issue("u1", []byte("s1"), time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: token})

	w := httptest.NewRecorder()
	newAuthRouter(gdb, g).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareAPIToken(t *testing.T) {
	gdb := newTestDB(t)
	require.NoError(t, gdb.Create(&model.User{ID: "u1", Email: "a@b.co", PasswordHash: "x", JWTSecret: "s1"}).Error)

	r := newAuthRouter(gdb, security.NewJWTGuard("", 0, 0, nil))

	raw, token, err := security.MakeAPIToken(&security.APITokenOpts{UserID: "u1", Name: "ci"})
	require.NoError(t, err)
	require.NoError(t, gdb.Create(token).Error)

	w := get(r, "/me", raw)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userID":"u1","isAdmin":false}`, w.Body.String())

	var stored model.APIToken
	require.NoError(t, gdb.First(&stored, token.ID).Error)
	assert.NotNil(t, stored.LastUsedAt)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", security.APITokenPrefix+"unknown").Code)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, gdb.Model(&stored).Update("expires_at", past).Error)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", raw).Code)
}

func TestAuthMiddlewareDatabaseDown(t *testing.T) {
	gdb := newTestDB(t)
	require.NoError(t, gdb.Create(&model.User{ID: "u1", Email: "a@b.co", PasswordHash: "x", JWTSecret: "s1"}).Error)

	g := security.NewJWTGuard("", 0, 0, nil)
	r := newAuthRouter(gdb, g)

	token, err := g.Issue("u1", []byte("s1"), time.Hour)
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := get(r, "/me", token)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "Unauthenticated")
}
