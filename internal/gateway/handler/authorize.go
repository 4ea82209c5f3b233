// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package handler

import (
	"net/http"

	"go.uber.org/zap"

	"mcpgateway/internal/gateway"
	"mcpgateway/internal/gateway/middleware"
	"mcpgateway/internal/idp"
	"mcpgateway/internal/oauth"
)

// AuthorizeOptions configures the authorization endpoint
type AuthorizeOptions struct {
	Registry *gateway.ClientRegistry
	Store    *gateway.TransactionStore
	IdP      *idp.Client
	Logger   *zap.Logger
	Metrics  *gateway.Metrics
}

// AuthorizeHandler serves GET /authorize. The incoming request carries the
// client's PKCE commitment; the redirect to the IdP carries a fresh challenge
// derived from the gateway's own verifier. The two pairs never mix: the
// client's commitment is checked at /token, the gateway's verifier is spent
// in the callback exchange.
func AuthorizeHandler(opts AuthorizeOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	core := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if rt := q.Get("response_type"); rt != oauth.ResponseTypeCode {
			oauth.WriteError(w, http.StatusBadRequest,
				oauth.NewError(oauth.ErrUnsupportedResponseType, "Only response_type=code is supported"))
			return
		}

		clientID := q.Get("client_id")
		redirectURI := q.Get("redirect_uri")
		reg := opts.Registry.GetClient(clientID)
		if reg == nil {
			oauth.WriteError(w, http.StatusBadRequest,
				oauth.NewError(oauth.ErrInvalidRequest, "Unknown client_id"))
			return
		}
		if !registeredRedirect(reg, redirectURI) {
			oauth.WriteError(w, http.StatusBadRequest,
				oauth.NewError(oauth.ErrInvalidRequest, "redirect_uri does not match a registered value"))
			return
		}

		challenge := q.Get("code_challenge")
		method := q.Get("code_challenge_method")
		if method == "" {
			method = oauth.CodeChallengePlain
		}
		if err := oauth.ValidateCodeChallenge(challenge, method); err != nil {
			oauth.WriteError(w, http.StatusBadRequest,
				oauth.NewError(oauth.ErrInvalidRequest, err.Error()))
			return
		}

		proxyVerifier, err := oauth.GenerateCodeVerifier()
		if err != nil {
			opts.Logger.Error("failed to generate proxy verifier", zap.Error(err))
			oauth.WriteError(w, http.StatusInternalServerError,
				oauth.NewError(oauth.ErrServerError, "Failed to start authorization"))
			return
		}

		proxyState := gateway.NewProxyState()
		opts.Store.PutTransaction(&gateway.AuthTransaction{
			ProxyState:                proxyState,
			ClientID:                  clientID,
			ClientRedirectURI:         redirectURI,
			ClientState:               q.Get("state"),
			ClientCodeChallenge:       challenge,
			ClientCodeChallengeMethod: method,
			ProxyCodeVerifier:         proxyVerifier,
			RequestedScope:            q.Get("scope"),
		})

		opts.Logger.Info("authorization flow started",
			zap.String("client_id", clientID),
			zap.String("proxy_state", proxyState))
		opts.Metrics.CountAuthFlow(r.Context())

		http.Redirect(w, r, opts.IdP.AuthCodeURL(proxyState, proxyVerifier), http.StatusFound)
	})

	return middleware.Cors(middleware.AllowedMethods(http.MethodGet)(core))
}

func registeredRedirect(reg *oauth.ClientRegistration, redirectURI string) bool {
	if redirectURI == "" {
		return false
	}
	for _, uri := range reg.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}
