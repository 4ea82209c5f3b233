// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package handler

import (
	"net/http"

	"mcpgateway/internal/gateway/middleware"
)

// RevokeHandler serves POST /revoke. RFC 7009 requires a 200 even for tokens
// the server cannot act on; the gateway holds no revocable state of its own,
// so every well-formed request is acknowledged and dropped.
func RevokeHandler() http.Handler {
	core := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return middleware.Cors(middleware.AllowedMethods(http.MethodPost)(core))
}
