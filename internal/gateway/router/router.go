// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Package router assembles the gateway's HTTP surface: the discovery
// documents, the OAuth endpoints, and the protected MCP endpoint.
package router

import (
	"net/http"

	"go.uber.org/zap"

	"mcpgateway/internal/config"
	"mcpgateway/internal/gateway"
	"mcpgateway/internal/gateway/handler"
	"mcpgateway/internal/gateway/middleware"
	"mcpgateway/internal/idp"
)

// Options carries every collaborator the routes need
type Options struct {
	Config   *config.Config
	Registry *gateway.ClientRegistry
	Store    *gateway.TransactionStore
	IdP      *idp.Client
	Verifier middleware.TokenVerifier
	Logger   *zap.Logger
	Metrics  *gateway.Metrics

	// MCPHandler serves the JSON-RPC endpoint behind Bearer auth
	MCPHandler http.Handler

	// MCPStreamHandler serves GET /mcp; authentication is permissive there
	// so clients can probe the endpoint before authenticating
	MCPStreamHandler http.Handler
}

// New mounts all gateway endpoints on a fresh ServeMux
func New(opts Options) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/.well-known/oauth-protected-resource", handler.MetadataHandler(
		handler.ProtectedResourceMetadata(opts.Config.GatewayBaseURL, opts.Config.MCPEndpointURL(), opts.Config.GatewayAPIScope)))
	mux.Handle("/.well-known/oauth-authorization-server", handler.MetadataHandler(
		handler.ServerMetadata(opts.Config.GatewayBaseURL, opts.Config.GatewayAPIScope)))

	mux.Handle("/register", handler.RegisterHandler(handler.RegisterOptions{
		Registry: opts.Registry,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	}))
	mux.Handle("/authorize", handler.AuthorizeHandler(handler.AuthorizeOptions{
		Registry: opts.Registry,
		Store:    opts.Store,
		IdP:      opts.IdP,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	}))
	mux.Handle("/auth/callback", handler.CallbackHandler(handler.CallbackOptions{
		Store:   opts.Store,
		IdP:     opts.IdP,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	}))
	mux.Handle("/token", handler.TokenHandler(handler.TokenOptions{
		Store:   opts.Store,
		IdP:     opts.IdP,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	}))
	mux.Handle("/revoke", handler.RevokeHandler())

	strict := middleware.RequireBearerAuth(middleware.BearerAuthOptions{
		Verifier:            opts.Verifier,
		ResourceMetadataURL: opts.Config.ResourceMetadataURL(),
		Logger:              opts.Logger,
	})
	permissive := middleware.RequireBearerAuth(middleware.BearerAuthOptions{
		Verifier:            opts.Verifier,
		ResourceMetadataURL: opts.Config.ResourceMetadataURL(),
		Permissive:          true,
		Logger:              opts.Logger,
	})

	mux.Handle("/mcp", middleware.Cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			strict(opts.MCPHandler).ServeHTTP(w, r)
		case http.MethodGet:
			permissive(opts.MCPStreamHandler).ServeHTTP(w, r)
		default:
			middleware.AllowedMethods(http.MethodPost, http.MethodGet)(opts.MCPHandler).ServeHTTP(w, r)
		}
	})))

	return mux
}
