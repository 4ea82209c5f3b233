// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"mcpgateway/internal/gateway/middleware"
	"mcpgateway/internal/oauth"
)

// MetadataHandler serves a discovery document as JSON. Used for both the
// RFC 9728 Protected Resource Metadata and the RFC 8414 AS metadata.
func MetadataHandler(metadata interface{}) http.Handler {
	core := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(metadata)
	})

	return middleware.Cors(middleware.AllowedMethods(http.MethodGet)(core))
}

// ProtectedResourceMetadata builds the PRM document for the gateway. The
// authorization server it lists is the gateway itself (proxy pattern).
func ProtectedResourceMetadata(baseURL, mcpEndpointURL, apiScope string) oauth.ProtectedResourceMetadata {
	return oauth.ProtectedResourceMetadata{
		Resource:               mcpEndpointURL,
		AuthorizationServers:   []string{strings.TrimSuffix(baseURL, "/")},
		ScopesSupported:        []string{apiScope},
		BearerMethodsSupported: []string{"header"},
	}
}

// ServerMetadata builds the RFC 8414 document. Every capability advertised
// here is honored by the mounted handlers, and nothing else is.
func ServerMetadata(baseURL, apiScope string) oauth.ServerMetadata {
	base := strings.TrimSuffix(baseURL, "/")
	return oauth.ServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + "/authorize",
		TokenEndpoint:                     base + "/token",
		RegistrationEndpoint:              base + "/register",
		RevocationEndpoint:                base + "/revoke",
		ResponseTypesSupported:            []string{oauth.ResponseTypeCode},
		GrantTypesSupported:               []string{oauth.GrantAuthorizationCode, oauth.GrantRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{oauth.AuthMethodNone, oauth.AuthMethodClientSecretPost},
		CodeChallengeMethodsSupported:     []string{oauth.CodeChallengeS256, oauth.CodeChallengePlain},
		ScopesSupported:                   []string{apiScope},
	}
}
