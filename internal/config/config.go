// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Package config loads the gateway configuration from the environment and
// derives the upstream IdP endpoint set from the tenant identifier.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v6"
)

// Config holds the gateway's identity at the IdP and its public surface
type Config struct {
	// The gateway's pre-registered application at the IdP
	IdPTenantID     string `env:"IDP_TENANT_ID"`
	IdPClientID     string `env:"IDP_CLIENT_ID"`
	IdPClientSecret string `env:"IDP_CLIENT_SECRET"`

	// IdPHost is the identity provider host, overridable for testing
	IdPHost string `env:"IDP_HOST" envDefault:"https://login.microsoftonline.com"`

	// GatewayBaseURL is used to build callback URIs and resource metadata
	GatewayBaseURL string `env:"GATEWAY_BASE_URL" envDefault:"http://localhost:8000"`

	// GatewayAPIScope is the single API scope the gateway enforces as audience
	GatewayAPIScope string `env:"GATEWAY_API_SCOPE"`

	// ListenAddr is the bind address of the HTTP server
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8000"`

	// OBOExportScope is the downstream scope requested by delegated tools.
	// Empty disables the on-behalf-of demo tool.
	OBOExportScope string `env:"OBO_EXPORT_SCOPE" envDefault:"https://graph.microsoft.com/.default"`
}

// Load parses the environment into a Config and validates required fields
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the gateway can actually broker against the IdP
func (c *Config) Validate() error {
	var missing []string
	if c.IdPTenantID == "" {
		missing = append(missing, "IDP_TENANT_ID")
	}
	if c.IdPClientID == "" {
		missing = append(missing, "IDP_CLIENT_ID")
	}
	if c.IdPClientSecret == "" {
		missing = append(missing, "IDP_CLIENT_SECRET")
	}
	if c.GatewayAPIScope == "" {
		missing = append(missing, "GATEWAY_API_SCOPE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if _, err := url.Parse(c.GatewayBaseURL); err != nil {
		return fmt.Errorf("invalid GATEWAY_BASE_URL: %w", err)
	}
	return nil
}

// Authority returns the IdP authority URL for the configured tenant
func (c *Config) Authority() string {
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(c.IdPHost, "/"), c.IdPTenantID)
}

// Issuer returns the token issuer the validator requires
func (c *Config) Issuer() string {
	return c.Authority() + "/v2.0"
}

// JWKSURI returns the IdP signing key discovery URL
func (c *Config) JWKSURI() string {
	return c.Authority() + "/discovery/v2.0/keys"
}

// AuthorizationEndpoint returns the IdP authorization endpoint
func (c *Config) AuthorizationEndpoint() string {
	return c.Authority() + "/oauth2/v2.0/authorize"
}

// TokenEndpoint returns the IdP token endpoint
func (c *Config) TokenEndpoint() string {
	return c.Authority() + "/oauth2/v2.0/token"
}

// CallbackURL returns the gateway's fixed IdP callback URI
func (c *Config) CallbackURL() string {
	return strings.TrimSuffix(c.GatewayBaseURL, "/") + "/auth/callback"
}

// MCPEndpointURL returns the protected MCP endpoint URL used as the PRM resource
func (c *Config) MCPEndpointURL() string {
	return strings.TrimSuffix(c.GatewayBaseURL, "/") + "/mcp"
}

// ResourceMetadataURL returns the absolute PRM URL used in 401 challenges
func (c *Config) ResourceMetadataURL() string {
	return strings.TrimSuffix(c.GatewayBaseURL, "/") + "/.well-known/oauth-protected-resource"
}

// TokenAudience returns the aud value required on inbound access tokens:
// the gateway API scope identifier, not the gateway's own client id
func (c *Config) TokenAudience() string {
	return c.GatewayAPIScope
}

// CompositeScope returns the scope string sent to the IdP: the gateway API
// scope plus the OIDC basics and offline access required for refresh tokens
func (c *Config) CompositeScope() string {
	return strings.Join([]string{c.GatewayAPIScope, "openid", "profile", "offline_access"}, " ")
}
