// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"regexp"
)

var base64URLPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// GenerateCodeVerifier returns a fresh 32-byte PKCE verifier, base64url encoded
// (43 characters, RFC 7636 minimum entropy)
func GenerateCodeVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ChallengeS256 computes BASE64URL(SHA256(verifier))
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateCodeChallenge checks the client-supplied challenge for the given method
func ValidateCodeChallenge(challenge, method string) error {
	if challenge == "" {
		return fmt.Errorf("code_challenge is required")
	}
	switch method {
	case CodeChallengeS256:
		// RFC 7636: 43-128 characters of base64url, decoding to a 32-byte SHA256 digest
		if len(challenge) < 43 || len(challenge) > 128 {
			return fmt.Errorf("code_challenge length must be between 43 and 128 characters")
		}
		if !base64URLPattern.MatchString(challenge) {
			return fmt.Errorf("code_challenge must be valid BASE64URL")
		}
		decoded, err := base64.RawURLEncoding.DecodeString(challenge)
		if err != nil || len(decoded) != 32 {
			return fmt.Errorf("code_challenge must encode a SHA256 digest")
		}
		return nil
	case CodeChallengePlain:
		return nil
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}
}

// VerifyChallenge verifies a PKCE code_verifier against a stored commitment.
// Comparison is constant time to avoid leaking prefix matches.
func VerifyChallenge(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	var computed string
	switch method {
	case CodeChallengeS256:
		computed = ChallengeS256(verifier)
	case CodeChallengePlain:
		computed = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
