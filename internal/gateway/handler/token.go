// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mcpgateway/internal/gateway"
	"mcpgateway/internal/gateway/middleware"
	"mcpgateway/internal/idp"
	"mcpgateway/internal/oauth"
)

// TokenOptions configures the token endpoint
type TokenOptions struct {
	Store   *gateway.TransactionStore
	IdP     *idp.Client
	Limiter *rate.Limiter
	Logger  *zap.Logger
	Metrics *gateway.Metrics
}

// TokenHandler serves POST /token. The authorization_code grant redeems a
// gateway-minted proxy code against the client's stored PKCE commitment and
// never talks to the IdP; the refresh_token grant is forwarded upstream and
// the IdP's answer is mirrored verbatim, success or failure.
func TokenHandler(opts TokenOptions) http.Handler {
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Limit(10), 20)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	core := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeTokenError(w, r, opts.Metrics, http.StatusBadRequest,
				oauth.NewError(oauth.ErrInvalidRequest, "Request body must be application/x-www-form-urlencoded"))
			return
		}

		switch grantType := r.PostFormValue("grant_type"); grantType {
		case oauth.GrantAuthorizationCode:
			handleAuthorizationCode(w, r, opts)
		case oauth.GrantRefreshToken:
			handleRefreshToken(w, r, opts)
		default:
			writeTokenError(w, r, opts.Metrics, http.StatusBadRequest,
				oauth.NewError(oauth.ErrUnsupportedGrantType, "Supported grant types: authorization_code, refresh_token"))
		}
	})

	return middleware.Cors(middleware.AllowedMethods(http.MethodPost)(middleware.RateLimit(opts.Limiter)(core)))
}

func handleAuthorizationCode(w http.ResponseWriter, r *http.Request, opts TokenOptions) {
	code := r.PostFormValue("code")
	verifier := r.PostFormValue("code_verifier")
	if code == "" {
		writeTokenError(w, r, opts.Metrics, http.StatusBadRequest,
			oauth.NewError(oauth.ErrInvalidRequest, "code is required"))
		return
	}

	// Lookup deletes the record, so a second redemption of the same code
	// fails here no matter how this attempt turns out.
	rec := opts.Store.ConsumeCode(code)
	if rec == nil {
		writeTokenError(w, r, opts.Metrics, http.StatusBadRequest,
			oauth.NewError(oauth.ErrInvalidGrant, "Invalid, expired, or already redeemed authorization code"))
		return
	}

	if !oauth.VerifyChallenge(verifier, rec.ClientCodeChallenge, rec.ClientCodeChallengeMethod) {
		opts.Logger.Warn("pkce verification failed at token endpoint")
		writeTokenError(w, r, opts.Metrics, http.StatusBadRequest,
			oauth.NewError(oauth.ErrInvalidGrant, "PKCE verification failed"))
		return
	}

	opts.Metrics.CountTokenIssued(r.Context(), oauth.GrantAuthorizationCode)
	writeTokenResponse(w, &oauth.TokenResponse{
		AccessToken:  rec.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    rec.ExpiresIn,
		RefreshToken: rec.RefreshToken,
		Scope:        rec.Scope,
	})
}

func handleRefreshToken(w http.ResponseWriter, r *http.Request, opts TokenOptions) {
	refreshToken := r.PostFormValue("refresh_token")
	if refreshToken == "" {
		writeTokenError(w, r, opts.Metrics, http.StatusBadRequest,
			oauth.NewError(oauth.ErrInvalidRequest, "refresh_token is required"))
		return
	}

	tokens, err := opts.IdP.Refresh(r.Context(), refreshToken)
	if err != nil {
		var remote *idp.RemoteError
		if errors.As(err, &remote) {
			opts.Metrics.CountTokenFailure(r.Context(), remote.Code)
			status := remote.StatusCode
			if status == 0 {
				status = http.StatusBadRequest
			}
			oauth.PassthroughError(w, status, remote.Response())
			return
		}
		opts.Logger.Error("refresh forwarding failed", zap.Error(err))
		writeTokenError(w, r, opts.Metrics, http.StatusInternalServerError,
			oauth.NewError(oauth.ErrServerError, "Failed to reach the identity provider"))
		return
	}

	opts.Metrics.CountTokenIssued(r.Context(), oauth.GrantRefreshToken)
	writeTokenResponse(w, tokens)
}

func writeTokenResponse(w http.ResponseWriter, tokens *oauth.TokenResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tokens)
}

func writeTokenError(w http.ResponseWriter, r *http.Request, metrics *gateway.Metrics, status int, err oauth.Error) {
	metrics.CountTokenFailure(r.Context(), err.ErrorCode)
	oauth.WriteError(w, status, err)
}
