// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Package identity carries the validated user identity through the request
// context. No ambient global: downstream code reads it via FromContext.
package identity

import "context"

// UserIdentity is the result of validating an inbound Bearer token
type UserIdentity struct {
	// Token is the raw access token, retained for on-behalf-of exchange
	Token string

	// ClientID is the aud claim, the IdP application the token was issued for
	ClientID string

	// ObjectID is the stable per-tenant user identifier (oid claim) and the
	// partition key for user data
	ObjectID string

	// Scopes parsed from the scp claim
	Scopes []string

	// Optional display claims
	Name              string
	PreferredUsername string
	Subject           string
	TenantID          string
}

// HasScope reports whether the identity carries the given scope
func (u *UserIdentity) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// identityKeyType is an unexported context key to prevent collisions
type identityKeyType struct{}

// WithIdentity attaches a validated identity to the context
func WithIdentity(ctx context.Context, id *UserIdentity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKeyType{}, id)
}

// FromContext retrieves the validated identity from the context
func FromContext(ctx context.Context) (*UserIdentity, bool) {
	id, ok := ctx.Value(identityKeyType{}).(*UserIdentity)
	return id, ok && id != nil
}
