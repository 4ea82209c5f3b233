// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Package obo exchanges an inbound user token for a downstream token via the
// OAuth 2.0 on-behalf-of flow (jwt-bearer grant). Tools use it when they call
// upstream APIs as the authenticated user rather than as the gateway.
package obo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpgateway/internal/idp"
	"mcpgateway/internal/oauth"
)

const (
	grantJWTBearer   = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	tokenUseOnBehalf = "on_behalf_of"

	exchangeTimeout = 10 * time.Second

	// cacheSlack expires cached delegated tokens early so callers never
	// receive one about to lapse mid-request
	cacheSlack = time.Minute
)

// ExchangeError is a structured failure from the downstream token endpoint.
// The IdP error code survives so tool results can surface it.
type ExchangeError struct {
	Code        string
	Description string
}

// Error implements the error interface
func (e *ExchangeError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("on-behalf-of exchange failed (%s): %s", e.Code, e.Description)
	}
	return fmt.Sprintf("on-behalf-of exchange failed (%s)", e.Code)
}

// Exchanger performs on-behalf-of exchanges with the gateway's confidential
// credentials. Safe for concurrent use.
type Exchanger struct {
	idp    *idp.Client
	logger *zap.Logger

	initOnce   sync.Once
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedToken
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// New creates an Exchanger backed by the given IdP client
func New(client *idp.Client, logger *zap.Logger) *Exchanger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchanger{
		idp:    client,
		logger: logger,
		cache:  make(map[string]cachedToken),
	}
}

// TokenForUser returns a downstream access token scoped to the given resource,
// acting as the user behind the assertion token. Tokens are cached per
// (assertion, scope) until shortly before expiry.
func (e *Exchanger) TokenForUser(ctx context.Context, assertion, scope string) (string, error) {
	e.initOnce.Do(func() {
		e.httpClient = &http.Client{Timeout: exchangeTimeout}
	})

	key := cacheKey(assertion, scope)
	e.mu.Lock()
	if tok, ok := e.cache[key]; ok && time.Now().Before(tok.expiresAt) {
		e.mu.Unlock()
		return tok.accessToken, nil
	}
	e.mu.Unlock()

	clientID, clientSecret := e.idp.Credentials()
	form := url.Values{
		"grant_type":          {grantJWTBearer},
		"client_id":           {clientID},
		"client_secret":       {clientSecret},
		"assertion":           {assertion},
		"scope":               {scope},
		"requested_token_use": {tokenUseOnBehalf},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.idp.TokenEndpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read exchange response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr oauth.ErrorResponse
		if jsonErr := json.Unmarshal(body, &oauthErr); jsonErr == nil && oauthErr.Error != "" {
			e.logger.Warn("on-behalf-of exchange rejected",
				zap.String("idp_error", oauthErr.Error),
				zap.Int("status", resp.StatusCode))
			return "", &ExchangeError{Code: oauthErr.Error, Description: oauthErr.ErrorDescription}
		}
		return "", &ExchangeError{Code: oauth.ErrServerError.Error(),
			Description: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}

	var tokens oauth.TokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return "", fmt.Errorf("failed to decode exchange response: %w", err)
	}
	if tokens.AccessToken == "" {
		return "", &ExchangeError{Code: oauth.ErrServerError.Error(), Description: "token endpoint returned no access_token"}
	}

	if tokens.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(tokens.ExpiresIn)*time.Second - cacheSlack)
		if time.Now().Before(expiresAt) {
			e.mu.Lock()
			e.cache[key] = cachedToken{accessToken: tokens.AccessToken, expiresAt: expiresAt}
			e.mu.Unlock()
		}
	}

	return tokens.AccessToken, nil
}

func cacheKey(assertion, scope string) string {
	sum := sha256.Sum256([]byte(assertion + "\x00" + scope))
	return hex.EncodeToString(sum[:])
}
