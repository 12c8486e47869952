// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/eipchat/pkg/extensions"
	"github.com/AleutianAI/eipchat/services/orchestrator/handlers"
	"github.com/AleutianAI/eipchat/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the handlers and collaborators the routes are bound to.
type Dependencies struct {
	Chat     *handlers.ChatHandler
	Sessions *handlers.SessionsHandler
	Store    handlers.Pinger
}

// SetupRoutes registers every endpoint of the chat service on router.
//
// # Routes
//
//	GET    /health          store reachability
//	GET    /metrics         Prometheus exposition
//	POST   /api/chat        streamed answer
//	GET    /api/chats       caller's stored chats
//	GET    /api/chats/:id   one stored chat
//	DELETE /api/chats/:id   delete a stored chat
//
// Every /api route runs behind middleware.AuthMiddleware with
// opts.AuthProvider, so the body of an unauthenticated request is never read.
//
// # Panics
//
// Panics if deps.Chat, deps.Sessions or deps.Store is nil.
func SetupRoutes(router *gin.Engine, deps Dependencies, opts extensions.ServiceOptions) {
	if deps.Chat == nil || deps.Sessions == nil || deps.Store == nil {
		panic("routes: chat, sessions and store dependencies are required")
	}
	opts = opts.Normalize()

	router.GET("/health", handlers.HandleHealth(deps.Store))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		api.POST("/chat", deps.Chat.HandleChat)

		chats := api.Group("/chats")
		{
			chats.GET("", deps.Sessions.ListChats)
			chats.GET("/:id", deps.Sessions.GetChat)
			chats.DELETE("/:id", deps.Sessions.DeleteChat)
		}
	}
}
