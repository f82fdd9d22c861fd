package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())

	corsConfig := cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}
	// no configured origins means any origin
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))

	r.GET("/health", s.healthHandler)
	r.GET("/online", s.onlineHandler)

	api := r.Group("/api", s.AuthMiddleware())

	accounts := api.Group("/accounts")
	accounts.GET("", s.listAccountsHandler)
	accounts.POST("", s.createAccountHandler)
	accounts.POST("/check-status", s.checkAllAccountsHandler)
	accounts.GET("/:id", s.getAccountHandler)
	accounts.PUT("/:id", s.updateAccountHandler)
	accounts.DELETE("/:id", s.deleteAccountHandler)
	accounts.POST("/:id/check-status", s.checkAccountHandler)
	accounts.GET("/:id/lists", s.listsHandler)
	accounts.GET("/:id/senders", s.sendersHandler)
	accounts.POST("/:id/senders", s.addSenderHandler)
	accounts.DELETE("/:id/senders", s.deleteSenderHandler)
	accounts.GET("/:id/templates", s.templatesHandler)
	accounts.GET("/:id/templates/:templateId", s.templateHandler)
	accounts.PUT("/:id/templates/:templateId", s.updateTemplateHandler)
	accounts.GET("/:id/automations", s.automationsHandler)
	accounts.GET("/:id/automations/:automationId/statistics", s.automationStatsHandler)
	accounts.GET("/:id/automations/:automationId/action-subscribers", s.actionSubscribersHandler)
	accounts.POST("/:id/contacts", s.addContactHandler)
	accounts.POST("/:id/lists/:listId/forget", s.forgetSubscriberHandler)
	accounts.GET("/:id/import-job", s.activeImportHandler)

	imports := api.Group("/import-jobs")
	imports.POST("", s.startImportHandler)
	imports.GET("", s.listImportsHandler)
	imports.GET("/:id", s.getImportHandler)
	imports.DELETE("/:id", s.removeImportHandler)
	imports.POST("/:id/pause", s.pauseImportHandler)
	imports.POST("/:id/resume", s.resumeImportHandler)
	imports.POST("/:id/cancel", s.cancelImportHandler)
	imports.POST("/:id/export", s.exportImportHandler)
	imports.GET("/:id/exports", s.listExportsHandler)

	deletions := api.Group("/deletion-jobs")
	deletions.POST("", s.startDeletionHandler)
	deletions.GET("/:id", s.getDeletionHandler)

	return r
}
