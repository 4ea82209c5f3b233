// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcpgateway/internal/identity"
	"mcpgateway/internal/oauth"
)

// TokenVerifier validates an access token and returns the extracted identity
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*identity.UserIdentity, error)
}

// BearerAuthOptions configures the Bearer authentication middleware
type BearerAuthOptions struct {
	// Verifier validates inbound tokens
	Verifier TokenVerifier

	// ResourceMetadataURL is the absolute PRM URL advertised in 401 challenges.
	// It is what triggers the client's discovery cycle.
	ResourceMetadataURL string

	// Permissive lets requests without a token proceed unauthenticated.
	// Used for endpoints that serve both authenticated and anonymous traffic,
	// such as streaming channels.
	Permissive bool

	// Logger records validation failures server side. The specific cause is
	// never included in the response body.
	Logger *zap.Logger
}

// RequireBearerAuth validates Bearer tokens and attaches the resulting
// identity to the request context. In strict mode a missing or invalid token
// yields 401 with the RFC 9728 resource_metadata challenge.
func RequireBearerAuth(opts BearerAuthOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			challenge := func(w http.ResponseWriter) {
				w.Header().Set("WWW-Authenticate",
					`Bearer resource_metadata="`+opts.ResourceMetadataURL+`"`)
				oauth.WriteError(w, http.StatusUnauthorized,
					oauth.NewError(oauth.ErrUnauthorized, "Authentication required"))
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				if opts.Permissive {
					next.ServeHTTP(w, r)
					return
				}
				challenge(w)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			id, err := opts.Verifier.VerifyAccessToken(r.Context(), token)
			if err != nil {
				// Log the cause with a correlation ID; the client only sees
				// a generic 401
				correlationID := uuid.New().String()
				logger.Warn("token validation failed",
					zap.String("path", r.URL.Path),
					zap.String("correlation_id", correlationID),
					zap.Error(err),
				)
				challenge(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}
