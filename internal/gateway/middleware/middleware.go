// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Package middleware provides the HTTP middleware the gateway endpoints are
// composed from: CORS, method restriction, rate limiting, request logging,
// and Bearer token authentication.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"mcpgateway/internal/oauth"
)

// Cors applies permissive CORS headers and answers preflight with 204
func Cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,HEAD,POST,DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id")

		if r.Method == http.MethodOptions {
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AllowedMethods permits only the provided HTTP methods, answering anything
// else with 405 and an Allow header
func AllowedMethods(methods ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, method := range methods {
				if r.Method == method {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("Allow", strings.Join(methods, ", "))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusMethodNotAllowed)
			oauthErr := oauth.NewError(oauth.ErrMethodNotAllowed,
				fmt.Sprintf("The method %s is not allowed for this endpoint", r.Method))
			_ = json.NewEncoder(w).Encode(oauthErr.ToResponseStruct())
		})
	}
}

// RateLimit applies a token bucket limiter, answering denials with 429
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				oauth.WriteError(w, http.StatusTooManyRequests,
					oauth.NewError(oauth.ErrTooManyRequests, "Rate limit exceeded, retry later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
