package main

import (
	"outreach-platform/internal/attempts"
	"outreach-platform/internal/auth"
	"outreach-platform/internal/calls"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/httpapi"
	"outreach-platform/internal/rbac"
	"outreach-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	auth       *auth.Manager
	handlers   httpapi.Handlers
	reconciler *calls.Reconciler
	campaigns  *campaigns.PostgresRepository
	attempts   *attempts.Tracker
	callback   string
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by provider signature
	// validation in production.
	{
		status := telephony.StatusHandler{Reconciler: deps.reconciler}
		ivr := telephony.IVRHandler{
			Campaigns: deps.campaigns,
			Attempts:  deps.attempts,
			BaseURL:   deps.callback,
		}
		r.POST("/webhooks/voice/status", status.HandleCallStatus)
		r.POST("/webhooks/message/status", status.HandleMessageStatus)
		r.POST("/webhooks/voice/step", ivr.HandleStep)
	}

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", deps.handlers.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.auth))
	v1.Use(rbac.RequireWorkspace())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			wid, _ := auth.WorkspaceID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "workspace_id": wid, "role": role})
		})

		// CALLER SESSION routes
		session := v1.Group("/campaigns/:campaign_id/session")
		session.Use(rbac.RequireAnyRole(rbac.RoleCaller, rbac.RoleManager, rbac.RoleOwner))
		{
			session.POST("", deps.handlers.StartSession)
			session.DELETE("", deps.handlers.LeaveSession)
			session.GET("/queue", deps.handlers.GetQueue)
			session.POST("/next", deps.handlers.NextRecipient)
			session.POST("/dequeue", deps.handlers.Dequeue)
			session.POST("/hangup", deps.handlers.Hangup)
		}

		// REPORTING routes
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleManager, rbac.RoleOwner))
		{
			reports.GET("/calls", deps.handlers.CallsSummary)
			reports.GET("/campaigns/:campaign_id/progress", deps.handlers.CampaignProgress)
		}
	}
}
