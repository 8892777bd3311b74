package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ecomanager/backend/internal/config"
	"github.com/ecomanager/backend/internal/db"
	"github.com/ecomanager/backend/internal/http/handlers"
	"github.com/ecomanager/backend/internal/http/middleware"
	"github.com/ecomanager/backend/internal/service"

	_ "github.com/ecomanager/backend/docs"
)

func Router(cfg config.Config, store *db.Store, engine *service.Engine, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:             store,
		Engine:            engine,
		Validator:         validator.New(),
		Logger:            logger,
		AdminKey:          cfg.AdminKey,
		PassDeadline:      cfg.PassDeadline,
		DuplicateLookback: cfg.DuplicateLookback,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/orders", h.OrdersList)
		api.GET("/orders/:id", h.OrderDetails)
		api.GET("/agents", h.AgentsList)
		api.GET("/customers/:id", h.CustomerDetails)
		api.GET("/stats/dashboard", h.DashboardStats)
		api.GET("/runs/latest", h.RunsLatest)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/orders", h.OrderCreate)
		admin.POST("/orders/:id/assign", h.AssignOrder)
		admin.POST("/orders/:id/attempts", h.RecordAttempt)
		admin.POST("/orders/:id/abandon", h.AbandonOrder)
		admin.POST("/orders/:id/duplicate", h.DuplicateOverride)
		admin.POST("/passes/auto-assign", h.PassAutoAssign)
		admin.POST("/passes/detect-duplicates", h.PassDetectDuplicates)
		admin.POST("/passes/classify", h.PassClassify)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
