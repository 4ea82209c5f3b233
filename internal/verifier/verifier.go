// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Package verifier validates inbound Bearer tokens against the IdP's signing
// keys. Keys are fetched from the JWKS endpoint through a refreshing cache;
// unknown-kid refreshes are rate limited so burst traffic cannot stampede the
// IdP.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/time/rate"

	"mcpgateway/internal/identity"
)

const (
	// acceptableSkew tolerates small clock drift between gateway and IdP
	acceptableSkew = 60 * time.Second

	// jwksRefreshInterval bounds how often the cache re-fetches the key set
	jwksRefreshInterval = 10 * time.Minute
)

// Options configures a Verifier
type Options struct {
	// JWKSURI is the IdP signing key discovery URL
	JWKSURI string

	// Issuer is the exact iss value accepted on inbound tokens
	Issuer string

	// Audience is the gateway API identifier required as aud
	Audience string

	// FetchLimit optionally overrides the unknown-kid refresh limiter
	FetchLimit *rate.Limiter
}

// Verifier validates RS256 JWTs issued by the configured IdP
type Verifier struct {
	cache      *jwk.Cache
	jwksURI    string
	issuer     string
	audience   string
	fetchLimit *rate.Limiter
}

// New constructs a Verifier and registers the JWKS URI with the key cache.
// The provided context bounds the lifetime of the cache's refresh goroutine.
func New(ctx context.Context, opts Options) (*Verifier, error) {
	if opts.JWKSURI == "" {
		return nil, errors.New("verifier: JWKS URI is required")
	}
	if opts.Issuer == "" || opts.Audience == "" {
		return nil, errors.New("verifier: issuer and audience are required")
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(opts.JWKSURI, jwk.WithMinRefreshInterval(jwksRefreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URI: %w", err)
	}

	limiter := opts.FetchLimit
	if limiter == nil {
		// ~10 outbound fetches per minute beyond the scheduled refresh
		limiter = rate.NewLimiter(rate.Every(6*time.Second), 10)
	}

	return &Verifier{
		cache:      cache,
		jwksURI:    opts.JWKSURI,
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		fetchLimit: limiter,
	}, nil
}

// Warm fetches the JWKS once so startup fails fast when the key set is
// unreachable or malformed
func (v *Verifier) Warm(ctx context.Context) error {
	if _, err := v.cache.Refresh(ctx, v.jwksURI); err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	return nil
}

// VerifyAccessToken verifies signature and claims and returns the extracted
// identity. Errors carry the specific cause for server-side logging; callers
// must not surface that detail to clients.
func (v *Verifier) VerifyAccessToken(ctx context.Context, tokenStr string) (*identity.UserIdentity, error) {
	kid, err := extractHeader(tokenStr)
	if err != nil {
		return nil, err
	}

	key, err := v.lookupKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse([]byte(tokenStr),
		jwt.WithKey(jwa.RS256, key),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(acceptableSkew),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithRequiredClaim("exp"),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	return convertClaims(token, tokenStr)
}

// extractHeader parses the JWS header, enforces RS256, and returns the kid.
// alg=none and HMAC algorithms are rejected before any key lookup happens.
func extractHeader(tokenStr string) (string, error) {
	msg, err := jws.Parse([]byte(tokenStr))
	if err != nil {
		return "", fmt.Errorf("malformed token: %w", err)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return "", errors.New("no signatures found in token")
	}
	headers := sigs[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("missing protected headers in token")
	}
	if alg := headers.Algorithm(); alg != jwa.RS256 {
		return "", fmt.Errorf("unsupported signing algorithm %q, only RS256 is accepted", alg)
	}
	kid := headers.KeyID()
	if kid == "" {
		return "", errors.New("missing key id (kid) in token header")
	}
	return kid, nil
}

// lookupKey resolves the signing key by kid from the cached JWKS. On a miss
// it forces one rate-limited refresh to tolerate key rotation overlap.
func (v *Verifier) lookupKey(ctx context.Context, kid string) (jwk.Key, error) {
	set, err := v.cache.Get(ctx, v.jwksURI)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}

	if !v.fetchLimit.Allow() {
		return nil, fmt.Errorf("unknown signing key %q and refresh budget exhausted", kid)
	}
	set, err = v.cache.Refresh(ctx, v.jwksURI)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

// convertClaims maps the verified token onto a UserIdentity. The oid claim is
// required because it partitions all user data.
func convertClaims(token jwt.Token, raw string) (*identity.UserIdentity, error) {
	id := &identity.UserIdentity{Token: raw}

	oid, ok := stringClaim(token, "oid")
	if !ok {
		return nil, errors.New("missing required oid claim")
	}
	id.ObjectID = oid

	if aud := token.Audience(); len(aud) > 0 {
		id.ClientID = aud[0]
	}
	if scp, ok := stringClaim(token, "scp"); ok {
		id.Scopes = strings.Fields(scp)
	}
	if name, ok := stringClaim(token, "name"); ok {
		id.Name = name
	}
	if upn, ok := stringClaim(token, "preferred_username"); ok {
		id.PreferredUsername = upn
	}
	if tid, ok := stringClaim(token, "tid"); ok {
		id.TenantID = tid
	}
	id.Subject = token.Subject()

	return id, nil
}

func stringClaim(token jwt.Token, name string) (string, bool) {
	v, ok := token.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
