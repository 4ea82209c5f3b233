// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Package idp is the gateway's client for the upstream identity provider. The
// gateway authenticates with its own pre-registered credentials; the dynamic
// MCP clients never talk to the IdP directly.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mcpgateway/internal/config"
	"mcpgateway/internal/oauth"
)

// outboundTimeout bounds every call to the IdP token endpoint
const outboundTimeout = 10 * time.Second

// RemoteError is an error payload reported by the IdP, passed through to
// clients verbatim per RFC 6749
type RemoteError struct {
	StatusCode  int
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("idp error %q: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("idp error %q", e.Code)
}

// Response converts the remote error to the OAuth wire shape
func (e *RemoteError) Response() oauth.ErrorResponse {
	return oauth.ErrorResponse{Error: e.Code, ErrorDescription: e.Description}
}

// Client talks to the IdP's authorization and token endpoints
type Client struct {
	oauth2Config *oauth2.Config
	httpClient   *http.Client
	scope        string
}

// New builds a Client from the gateway configuration
func New(cfg *config.Config) *Client {
	return &Client{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.IdPClientID,
			ClientSecret: cfg.IdPClientSecret,
			RedirectURL:  cfg.CallbackURL(),
			Scopes:       strings.Fields(cfg.CompositeScope()),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizationEndpoint(),
				TokenURL: cfg.TokenEndpoint(),
			},
		},
		httpClient: &http.Client{Timeout: outboundTimeout},
		scope:      cfg.CompositeScope(),
	}
}

// TokenEndpoint exposes the IdP token endpoint URL for delegation flows
func (c *Client) TokenEndpoint() string {
	return c.oauth2Config.Endpoint.TokenURL
}

// Credentials exposes the gateway's confidential credentials for delegation flows
func (c *Client) Credentials() (clientID, clientSecret string) {
	return c.oauth2Config.ClientID, c.oauth2Config.ClientSecret
}

// AuthCodeURL builds the IdP authorization redirect carrying the gateway's own
// client_id, the composite scope, and the gateway's S256 PKCE challenge
func (c *Client) AuthCodeURL(state, codeVerifier string) string {
	return c.oauth2Config.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier))
}

// ExchangeCode redeems an IdP authorization code using the gateway's
// credentials and PKCE verifier
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth.TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, asRemoteError(err)
	}

	resp := &oauth.TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    tok.ExpiresIn,
		RefreshToken: tok.RefreshToken,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	return resp, nil
}

// Refresh forwards a refresh_token grant to the IdP with the gateway's own
// credentials and the original composite scope, mirroring the IdP's response
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.oauth2Config.ClientID},
		"client_secret": {c.oauth2Config.ClientSecret},
		"grant_type":    {oauth.GrantRefreshToken},
		"refresh_token": {refreshToken},
		"scope":         {c.scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauth2Config.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseRemoteError(resp.StatusCode, body)
	}

	var tokens oauth.TokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if tokens.TokenType == "" {
		tokens.TokenType = "Bearer"
	}
	return &tokens, nil
}

// asRemoteError maps an oauth2 retrieve error to a RemoteError when the IdP
// reported a structured OAuth failure
func asRemoteError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode != "" {
			return &RemoteError{
				StatusCode:  retrieveErr.Response.StatusCode,
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
			}
		}
		if remote := parseRemoteErrorBody(retrieveErr.Response.StatusCode, retrieveErr.Body); remote != nil {
			return remote
		}
	}
	return err
}

// parseRemoteError decodes an IdP error body, falling back to a generic
// server_error when the payload is not a structured OAuth error
func parseRemoteError(status int, body []byte) error {
	if remote := parseRemoteErrorBody(status, body); remote != nil {
		return remote
	}
	return &RemoteError{StatusCode: status, Code: oauth.ErrServerError.Error(), Description: fmt.Sprintf("idp returned status %d", status)}
}

func parseRemoteErrorBody(status int, body []byte) *RemoteError {
	var remote RemoteError
	if err := json.Unmarshal(body, &remote); err != nil || remote.Code == "" {
		return nil
	}
	remote.StatusCode = status
	return &remote
}
