// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Package handler implements the gateway's OAuth endpoint handlers. Each
// constructor returns an http.Handler already wrapped with the middleware the
// endpoint needs.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mcpgateway/internal/gateway"
	"mcpgateway/internal/gateway/middleware"
	"mcpgateway/internal/oauth"
)

// maxRegistrationBody bounds RFC 7591 request bodies
const maxRegistrationBody = 1 << 20

var validate = validator.New()

// registrationRequest is the accepted subset of RFC 7591 client metadata
type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris" validate:"required,min=1,dive,required,uri"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty" validate:"omitempty,oneof=none client_secret_post"`
	GrantTypes              []string `json:"grant_types,omitempty" validate:"omitempty,dive,oneof=authorization_code refresh_token"`
	ResponseTypes           []string `json:"response_types,omitempty" validate:"omitempty,dive,oneof=code"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty" validate:"omitempty,uri"`
	Scope                   string   `json:"scope,omitempty"`
}

// RegisterOptions configures the dynamic client registration endpoint
type RegisterOptions struct {
	Registry *gateway.ClientRegistry
	Limiter  *rate.Limiter
	Logger   *zap.Logger
	Metrics  *gateway.Metrics
}

// RegisterHandler serves POST /register per RFC 7591. Registration is
// unauthenticated by design, so it is rate limited and the request body is
// bounded.
func RegisterHandler(opts RegisterOptions) http.Handler {
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Limit(5), 10)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	core := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req registrationRequest
		body := io.LimitReader(r.Body, maxRegistrationBody)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			oauth.WriteError(w, http.StatusBadRequest,
				oauth.NewError(oauth.ErrInvalidClientMetadata, "Request body must be valid JSON client metadata"))
			return
		}
		if err := validate.Struct(&req); err != nil {
			oauth.WriteError(w, http.StatusBadRequest,
				oauth.NewError(oauth.ErrInvalidClientMetadata, "redirect_uris is required and every entry must be a valid URI"))
			return
		}
		for _, raw := range req.RedirectURIs {
			if u, err := url.Parse(raw); err != nil || u.Scheme == "" {
				oauth.WriteError(w, http.StatusBadRequest,
					oauth.NewError(oauth.ErrInvalidClientMetadata, "redirect_uris entries must be absolute URIs"))
				return
			}
		}

		reg := opts.Registry.Register(oauth.ClientMetadata{
			RedirectURIs:            req.RedirectURIs,
			TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
			GrantTypes:              req.GrantTypes,
			ResponseTypes:           req.ResponseTypes,
			ClientName:              req.ClientName,
			ClientURI:               req.ClientURI,
			Scope:                   req.Scope,
		})

		opts.Logger.Info("registered client",
			zap.String("client_id", reg.ClientID),
			zap.String("client_name", reg.ClientName),
			zap.Int("redirect_uris", len(reg.RedirectURIs)))
		opts.Metrics.CountRegistration(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(reg)
	})

	return middleware.Cors(middleware.AllowedMethods(http.MethodPost)(middleware.RateLimit(opts.Limiter)(core)))
}
