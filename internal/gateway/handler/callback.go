// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"mcpgateway/internal/gateway"
	"mcpgateway/internal/gateway/middleware"
	"mcpgateway/internal/idp"
	"mcpgateway/internal/oauth"
)

// CallbackOptions configures the IdP redirect endpoint
type CallbackOptions struct {
	Store   *gateway.TransactionStore
	IdP     *idp.Client
	Logger  *zap.Logger
	Metrics *gateway.Metrics
}

// CallbackHandler serves GET /auth/callback, the return leg from the IdP.
// The state parameter must resolve to a pending transaction; consuming it is
// atomic, so a replayed callback loses the race and gets invalid_state.
func CallbackHandler(opts CallbackOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	core := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		// IdP-reported failures (user denied, policy errors) are passed
		// through before any state handling.
		if idpErr := q.Get("error"); idpErr != "" {
			opts.Logger.Warn("idp returned authorization error",
				zap.String("error", idpErr),
				zap.String("error_description", q.Get("error_description")))
			oauth.PassthroughError(w, http.StatusBadRequest, oauth.ErrorResponse{
				Error:            idpErr,
				ErrorDescription: q.Get("error_description"),
			})
			return
		}

		code := q.Get("code")
		state := q.Get("state")
		if code == "" || state == "" {
			oauth.WriteError(w, http.StatusBadRequest,
				oauth.NewError(oauth.ErrInvalidRequest, "code and state are required"))
			return
		}

		txn := opts.Store.ConsumeTransaction(state)
		if txn == nil {
			oauth.WriteError(w, http.StatusBadRequest,
				oauth.NewError(oauth.ErrInvalidState, "Unknown, expired, or already used state"))
			return
		}

		tokens, err := opts.IdP.ExchangeCode(r.Context(), code, txn.ProxyCodeVerifier)
		if err != nil {
			var remote *idp.RemoteError
			if errors.As(err, &remote) {
				opts.Logger.Warn("idp code exchange rejected",
					zap.String("client_id", txn.ClientID),
					zap.String("idp_error", remote.Code))
				oauth.PassthroughError(w, http.StatusBadRequest, remote.Response())
				return
			}
			opts.Logger.Error("idp code exchange failed",
				zap.String("client_id", txn.ClientID), zap.Error(err))
			oauth.WriteError(w, http.StatusInternalServerError,
				oauth.NewError(oauth.ErrServerError, "Failed to exchange authorization code"))
			return
		}

		proxyCode := gateway.NewProxyCode()
		opts.Store.PutCode(&gateway.AuthCodeRecord{
			ProxyCode:                 proxyCode,
			AccessToken:               tokens.AccessToken,
			RefreshToken:              tokens.RefreshToken,
			ExpiresIn:                 tokens.ExpiresIn,
			Scope:                     tokens.Scope,
			ClientCodeChallenge:       txn.ClientCodeChallenge,
			ClientCodeChallengeMethod: txn.ClientCodeChallengeMethod,
		})

		opts.Logger.Info("authorization callback completed",
			zap.String("client_id", txn.ClientID))

		params := url.Values{"code": {proxyCode}}
		if txn.ClientState != "" {
			params.Set("state", txn.ClientState)
		}
		// Appended rather than re-parsed so a redirect_uri with its own
		// query string survives byte for byte
		separator := "?"
		if strings.Contains(txn.ClientRedirectURI, "?") {
			separator = "&"
		}

		http.Redirect(w, r, txn.ClientRedirectURI+separator+params.Encode(), http.StatusFound)
	})

	return middleware.Cors(middleware.AllowedMethods(http.MethodGet)(core))
}
