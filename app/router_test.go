package app

import (
	"bitwise74/asset-api/config"
	"bitwise74/asset-api/db"
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/service"
	"bitwise74/asset-api/internal/session"
	"bitwise74/asset-api/internal/storage"
	"bitwise74/asset-api/pkg/security"
	"bitwise74/asset-api/pkg/validators"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type client struct {
	t     *testing.T
	h     http.Handler
	token string
}

func (c *client) do(method, path string, body io.Reader, contentType string) (int, map[string]any) {
	c.t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &out))
	}

	return w.Code, out
}

func (c *client) json(method, path string, v any) (int, map[string]any) {
	c.t.Helper()

	b, err := json.Marshal(v)
	require.NoError(c.t, err)

	return c.do(method, path, bytes.NewReader(b), "application/json")
}

func (c *client) raw(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+c.token)

	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, req)
	return w
}

func (c *client) multipart(path string, fields map[string]string, fileField, filename string, data []byte) (int, map[string]any) {
	c.t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for k, v := range fields {
		require.NoError(c.t, mw.WriteField(k, v))
	}

	fw, err := mw.CreateFormFile(fileField, filename)
	require.NoError(c.t, err)
	_, err = fw.Write(data)
	require.NoError(c.t, err)
	require.NoError(c.t, mw.Close())

	return c.do(http.MethodPost, path, &body, mw.FormDataContentType())
}

func newTestDeps(t *testing.T) *internal.Deps {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	cfg := &config.Config{}
	cfg.Host.CorsOrigins = []string{"http://localhost:5173"}
	cfg.JWT.Issuer = "asset-api"
	cfg.JWT.TokenTTL = time.Hour
	cfg.JWT.MaxTTL = 24 * time.Hour
	cfg.JWT.RequiredClaims = []string{"sub", "exp", "iat"}
	cfg.Upload.MaxSize = 10 << 20
	cfg.Storage.MaxUsage = 1 << 20

	store := storage.NewFSStore(afero.NewMemMapFs())
	sessions := session.NewMemoryStore(time.Hour, nil)
	settings := service.NewSettings(gdb, map[string]string{service.SettingAITagging: "false"})
	t.Cleanup(func() {
		sessions.Close()
		settings.Close()
	})

	// Cheap parameters, the real ones make every login take a while
	argon := security.New()
	argon.Memory = 1024
	argon.Iterations = 1

	return &internal.Deps{
		DB:    gdb,
		Argon: argon,
		Guard: security.NewJWTGuard(cfg.JWT.Issuer, cfg.JWT.MaxTTL, 0, cfg.JWT.RequiredClaims),
		Store: store,
		Uploader: &service.Uploader{
			DB:       gdb,
			Store:    store,
			Sessions: sessions,
			Settings: settings,
			Rules: validators.UploadRules{
				MaxSize:      cfg.Upload.MaxSize,
				AllowedTypes: []string{"image/*", "text/plain"},
			},
			ChunkSize:  10,
			RootFolder: "assets",
		},
		Settings: settings,
		Config:   cfg,
	}
}

func signUp(t *testing.T, h http.Handler, email string) *client {
	t.Helper()

	c := &client{t: t, h: h}

	code, _ := c.json(http.MethodPost, "/api/users", gin.H{"email": email, "password": "hunter22"})
	require.Equal(t, http.StatusCreated, code)

	code, body := c.json(http.MethodPost, "/api/users/login", gin.H{"email": email, "password": "hunter22"})
	require.Equal(t, http.StatusOK, code)

	c.token = body["token"].(string)
	return c
}

func TestChunkedUploadOverHTTP(t *testing.T) {
	d := newTestDeps(t)
	h := NewRouter(d)
	c := signUp(t, h, "alice@example.com")

	data := []byte("The quick brown fox jumps over the lazy dog")

	code, body := c.json(http.MethodPost, "/api/chunked-upload/init", gin.H{
		"filename":  "fox.txt",
		"mime_type": "text/plain",
		"file_size": len(data),
		"folder":    "stories",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 5, body["expected_chunks"])
	assert.EqualValues(t, 10, body["chunk_size"])
	token := body["session_token"].(string)

	for i := 0; i < 4; i++ {
		part := data[i*10 : (i+1)*10]
		code, body = c.multipart("/api/chunked-upload/chunk", map[string]string{
			"session_token": token,
			"chunk_number":  fmt.Sprint(i + 1),
		}, "chunk", "blob", part)
		require.Equal(t, http.StatusOK, code, body)
		assert.EqualValues(t, i+1, body["received"])
	}

	code, body = c.json(http.MethodPost, "/api/chunked-upload/complete", gin.H{"session_token": token})
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, []any{float64(5)}, body["missing"])

	code, body = c.multipart("/api/chunked-upload/chunk", map[string]string{
		"session_token": token,
		"chunk_number":  "5",
	}, "chunk", "blob", []byte("xx"))
	assert.Equal(t, http.StatusBadRequest, code, "wrong size for the last chunk")

	code, _ = c.multipart("/api/chunked-upload/chunk", map[string]string{
		"session_token": token,
		"chunk_number":  "5",
	}, "chunk", "blob", data[40:])
	require.Equal(t, http.StatusOK, code)

	code, body = c.json(http.MethodPost, "/api/chunked-upload/complete", gin.H{"session_token": token})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "fox.txt", body["filename"])
	assert.EqualValues(t, len(data), body["size"])
	id := int(body["id"].(float64))

	code, _ = c.json(http.MethodPost, "/api/chunked-upload/complete", gin.H{"session_token": token})
	assert.Equal(t, http.StatusNotFound, code)

	w := c.raw(http.MethodGet, fmt.Sprintf("/api/assets/%d/download", id))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "fox.txt")

	// Bob can't see Alice's asset
	bob := signUp(t, h, "bob@example.com")
	code, _ = bob.do(http.MethodGet, fmt.Sprintf("/api/assets/%d", id), nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUploadErrorsOverHTTP(t *testing.T) {
	h := NewRouter(newTestDeps(t))

	anon := &client{t: t, h: h}
	code, body := anon.json(http.MethodPost, "/api/chunked-upload/init", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Unauthenticated", body["error"])
	assert.NotEmpty(t, body["requestID"])

	c := signUp(t, h, "alice@example.com")

	code, body = c.json(http.MethodPost, "/api/chunked-upload/init", gin.H{
		"filename":  "",
		"mime_type": "application/x-msdownload",
		"file_size": 0,
		"folder":    "../etc",
	})
	require.Equal(t, http.StatusBadRequest, code)
	fields := body["fields"].(map[string]any)
	assert.Len(t, fields, 4)
	assert.Equal(t, "is required", fields["filename"])
	assert.Equal(t, "unsupported file type", fields["mime_type"])

	code, body = c.json(http.MethodPost, "/api/chunked-upload/init", gin.H{
		"filename":  "huge.png",
		"mime_type": "image/png",
		"file_size": 20 << 20,
	})
	require.Equal(t, http.StatusBadRequest, code, "over upload.max_size")
	assert.Equal(t, map[string]any{"file_size": "exceeds the upload size limit"}, body["fields"])

	code, body = c.do(http.MethodPost, "/api/chunked-upload/init", bytes.NewReader([]byte("{")), "application/json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Nil(t, body["fields"])

	// Quota is 1 MiB
	code, _ = c.json(http.MethodPost, "/api/chunked-upload/init", gin.H{
		"filename":  "big.png",
		"mime_type": "image/png",
		"file_size": 2 << 20,
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = c.multipart("/api/chunked-upload/chunk", map[string]string{
		"session_token": "nope",
		"chunk_number":  "1",
	}, "chunk", "blob", []byte("0123456789"))
	assert.Equal(t, http.StatusNotFound, code)

	code, body = c.json(http.MethodPost, "/api/chunked-upload/abort", gin.H{"session_token": "nope"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, _ = c.multipart("/api/assets", nil, "file", "evil.png", []byte("MZ\x90\x00evil"))
	assert.Equal(t, http.StatusUnsupportedMediaType, code)
}

func TestDirectUploadValidationOverHTTP(t *testing.T) {
	h := NewRouter(newTestDeps(t))
	c := signUp(t, h, "alice@example.com")

	// Chunk size is 10 bytes in these tests
	code, body := c.multipart("/api/assets", nil, "file", "notes.txt", []byte("0123456789"))
	require.Equal(t, http.StatusBadRequest, code, body)
	assert.Contains(t, body["fields"], "file_size")

	code, body = c.multipart("/api/assets", map[string]string{"folder": "../up"}, "file", "a.txt", []byte("hi"))
	require.Equal(t, http.StatusBadRequest, code, body)
	assert.Contains(t, body["fields"], "folder")

	code, body = c.do(http.MethodPost, "/api/assets", bytes.NewReader([]byte("--x--\r\n")), "multipart/form-data; boundary=x")
	require.Equal(t, http.StatusBadRequest, code, body)
	assert.Contains(t, body["fields"], "file")

	code, body = c.multipart("/api/assets", nil, "file", "a.txt", []byte("hi"))
	require.Equal(t, http.StatusCreated, code, body)
}

func TestAssetManagementOverHTTP(t *testing.T) {
	d := newTestDeps(t)
	h := NewRouter(d)
	c := signUp(t, h, "alice@example.com")

	var ids []int
	for _, name := range []string{"beach.txt", "mountain.txt", "beach_house.txt"} {
		code, body := c.multipart("/api/assets", map[string]string{"folder": "trips"}, "file", name, []byte(name[:4]))
		require.Equal(t, http.StatusCreated, code, body)
		ids = append(ids, int(body["id"].(float64)))
	}

	code, body := c.do(http.MethodGet, "/api/assets?query=beach&sort=az", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])
	assets := body["assets"].([]any)
	require.Len(t, assets, 2)
	assert.Equal(t, "beach.txt", assets[0].(map[string]any)["filename"])

	// _ is a literal, not a wildcard
	code, body = c.do(http.MethodGet, "/api/assets?query=h_", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	code, _ = c.do(http.MethodGet, "/api/assets?limit=251", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = c.json(http.MethodPatch, fmt.Sprintf("/api/assets/%d", ids[1]), gin.H{
		"alt_text": "Snowy peak",
		"tags":     []string{"Alps", "snow"},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Snowy peak", body["alt_text"])
	assert.Len(t, body["tags"], 2)

	code, body = c.do(http.MethodGet, "/api/assets?tag=alps", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	w := c.raw(http.MethodGet, "/api/tags")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"alps"`)

	code, body = c.do(http.MethodDelete, fmt.Sprintf("/api/assets/%d", ids[0]), nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["uploadedAssets"])

	code, _ = c.do(http.MethodGet, fmt.Sprintf("/api/assets/%d", ids[0]), nil, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = c.do(http.MethodGet, "/api/users", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isAdmin"], "first account administers the instance")
}

func TestAdminAndTokensOverHTTP(t *testing.T) {
	h := NewRouter(newTestDeps(t))
	admin := signUp(t, h, "root@example.com")
	user := signUp(t, h, "user@example.com")

	code, _ := user.do(http.MethodGet, "/api/admin/settings", nil, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, body := admin.json(http.MethodPut, "/api/admin/settings", gin.H{"thumbnail_width": "4"})
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, body = admin.json(http.MethodPut, "/api/admin/settings", gin.H{
		"thumbnail_width":    "320",
		"ai_tagging_enabled": "true",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "320", body["thumbnail_width"])
	assert.Equal(t, "true", body["ai_tagging_enabled"])

	code, body = user.json(http.MethodPost, "/api/users/tokens", gin.H{"name": "ci", "expires_in_days": 30})
	require.Equal(t, http.StatusCreated, code, body)
	raw := body["token"].(string)
	assert.True(t, security.IsAPIToken(raw))

	api := &client{t: t, h: h, token: raw}
	code, _ = api.do(http.MethodGet, "/api/validate", nil, "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = user.json(http.MethodPost, "/api/users/login", gin.H{"email": "user@example.com", "password": "wrong-pass1"})
	assert.Equal(t, http.StatusUnauthorized, code)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/api/heartbeat", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
