// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package oauth

// ClientMetadata defines RFC 7591 OAuth 2.0 Dynamic Client Registration metadata
type ClientMetadata struct {
	RedirectURIs            []string `json:"redirect_uris"`                        // Allowed redirect URIs for the client
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"` // Client auth method at the token endpoint
	GrantTypes              []string `json:"grant_types,omitempty"`                // Requested grant types
	ResponseTypes           []string `json:"response_types,omitempty"`             // Requested response types
	ClientName              string   `json:"client_name,omitempty"`                // Human readable client name, display only
	ClientURI               string   `json:"client_uri,omitempty"`                 // Client homepage URL
	Scope                   string   `json:"scope,omitempty"`                      // Default requested scopes as a space separated string
}

// ClientInformation defines the server-issued part of an RFC 7591 registration
type ClientInformation struct {
	ClientID         string `json:"client_id"`                     // Issued client identifier
	ClientIDIssuedAt int64  `json:"client_id_issued_at,omitempty"` // Issue time in seconds since epoch
}

// ClientRegistration is the full stored registration record, never mutated
// after creation
type ClientRegistration struct {
	ClientMetadata
	ClientInformation
}

// ProtectedResourceMetadata defines the RFC 9728 discovery document
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`                           // Protected MCP endpoint URL
	AuthorizationServers   []string `json:"authorization_servers"`              // This gateway's base URL (proxy pattern)
	ScopesSupported        []string `json:"scopes_supported,omitempty"`         // The single gateway scope
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"` // Supported bearer presentation methods
}

// ServerMetadata defines the RFC 8414 Authorization Server Metadata document
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// TokenResponse defines the OAuth 2.1 token endpoint success payload
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Grant type and PKCE method constants shared across handlers
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	ResponseTypeCode = "code"

	CodeChallengeS256  = "S256"
	CodeChallengePlain = "plain"

	AuthMethodNone             = "none"
	AuthMethodClientSecretPost = "client_secret_post"
)
