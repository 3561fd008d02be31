// Package app wires the HTTP API together
package app

import (
	"bitwise74/asset-api/app/admin"
	"bitwise74/asset-api/app/asset"
	"bitwise74/asset-api/app/root"
	"bitwise74/asset-api/app/tag"
	"bitwise74/asset-api/app/upload"
	"bitwise74/asset-api/app/user"
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/service"
	"bitwise74/asset-api/pkg/middleware"
	"bitwise74/asset-api/pkg/validators"
	"time"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TODO: use redis
var store = persist.NewMemoryStore(time.Minute)

func NewRouter(d *internal.Deps) *gin.Engine {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := validators.Register(v); err != nil {
			zap.L().Fatal("Failed to register request validators", zap.Error(err))
		}
	}

	router := gin.New()

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     d.Config.Host.CorsOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Range"},
			ExposeHeaders:    []string{"Content-Length", "Content-Range", "Content-Disposition", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("userID"); v != "" {
					fields = append(fields, zap.String("userID", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true
	router.MaxMultipartMemory = 5 << 20

	rateLimit := d.Config.Security.RateLimit

	auth := middleware.NewAuthMiddleware(d.DB, d.Guard)
	adminOnly := middleware.NewAdminMiddleware()
	rateLimiter := middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: rateLimit,
		Burst:             rateLimit * 2,
	})

	jsonBody := middleware.BodySizeLimiter(1 << 20)
	// A chunk plus the rest of the multipart form
	chunkBody := middleware.BodySizeLimiter(service.DefaultChunkSize + 1<<20)
	// Direct uploads stay below one chunk
	directBody := middleware.BodySizeLimiter(service.DefaultChunkSize + 1<<20)

	m := router.Group("/api", rateLimiter)
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		m.HEAD("/heartbeat", root.Heartbeat)

		// GET /api/validate		-> Validates a JWT or API token
		m.GET("/validate", auth, root.Validate)
	}

	u := m.Group("/users", jsonBody)
	{
		// GET /api/users		-> Returns the profile and stats of a user
		u.GET("", auth, func(c *gin.Context) { user.UserFetch(c, d) })

		// POST /api/users 		-> Registers a new user
		u.POST("", func(c *gin.Context) { user.UserRegister(c, d) })

		// POST /api/users/login 	-> Logs in a user and returns a JWT token
		u.POST("/login", func(c *gin.Context) { user.UserLogin(c, d) })

		// POST /api/users/tokens 	-> Creates a personal API token
		u.POST("/tokens", auth, func(c *gin.Context) { user.UserTokenCreate(c, d) })
	}

	cu := m.Group("/chunked-upload", auth)
	{
		// POST /api/chunked-upload/init	-> Opens an upload session
		cu.POST("/init", jsonBody, func(c *gin.Context) { upload.UploadInit(c, d) })

		// POST /api/chunked-upload/chunk	-> Stores a single chunk of a session
		cu.POST("/chunk", chunkBody, func(c *gin.Context) { upload.UploadChunk(c, d) })

		// POST /api/chunked-upload/complete	-> Assembles the chunks into an asset
		cu.POST("/complete", jsonBody, func(c *gin.Context) { upload.UploadComplete(c, d) })

		// POST /api/chunked-upload/abort	-> Drops a session and its chunks
		cu.POST("/abort", jsonBody, func(c *gin.Context) { upload.UploadAbort(c, d) })
	}

	a := m.Group("/assets", auth)
	{
		// GET /api/assets		-> Lists, searches and filters a user's assets
		a.GET("", func(c *gin.Context) { asset.AssetList(c, d) })

		// POST /api/assets		-> Uploads a small file in one request
		a.POST("", directBody, func(c *gin.Context) { upload.UploadDirect(c, d) })

		// GET /api/assets/:id		-> Returns an asset if the user owns it
		a.GET("/:id", func(c *gin.Context) { asset.AssetFetch(c, d) })

		// GET /api/assets/:id/download	-> Streams the asset's file
		a.GET("/:id/download", func(c *gin.Context) { asset.AssetDownload(c, d) })

		// PATCH /api/assets/:id	-> Updates metadata and tags
		a.PATCH("/:id", jsonBody, func(c *gin.Context) { asset.AssetEdit(c, d) })

		// DELETE /api/assets/:id	-> Moves an asset to the trash
		a.DELETE("/:id", func(c *gin.Context) { asset.AssetDelete(c, d) })
	}

	// GET /api/tags		-> Lists the tag vocabulary
	m.GET("/tags", auth, cacheFor(30), func(c *gin.Context) { tag.TagList(c, d) })

	ad := m.Group("/admin", auth, adminOnly)
	{
		// GET /api/admin/settings	-> Returns every runtime setting
		ad.GET("/settings", func(c *gin.Context) { admin.SettingsFetch(c, d) })

		// PUT /api/admin/settings	-> Updates runtime settings
		ad.PUT("/settings", jsonBody, func(c *gin.Context) { admin.SettingsUpdate(c, d) })
	}

	return router
}

func cacheFor(sec int) gin.HandlerFunc {
	return cache.CacheByRequestURI(store, time.Second*time.Duration(sec))
}
