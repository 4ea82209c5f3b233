// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorCode represents an OAuth 2.1 error code
type ErrorCode error

// Standard OAuth error codes used by the gateway endpoints
var (
	ErrInvalidRequest          ErrorCode = errors.New("invalid_request")
	ErrInvalidClient           ErrorCode = errors.New("invalid_client")
	ErrInvalidGrant            ErrorCode = errors.New("invalid_grant")
	ErrInvalidState            ErrorCode = errors.New("invalid_state")
	ErrInvalidToken            ErrorCode = errors.New("invalid_token")
	ErrUnauthorized            ErrorCode = errors.New("unauthorized")
	ErrUnsupportedGrantType    ErrorCode = errors.New("unsupported_grant_type")
	ErrUnsupportedResponseType ErrorCode = errors.New("unsupported_response_type")
	ErrInvalidClientMetadata   ErrorCode = errors.New("invalid_client_metadata")
	ErrServerError             ErrorCode = errors.New("server_error")
	ErrTooManyRequests         ErrorCode = errors.New("too_many_requests")
	ErrMethodNotAllowed        ErrorCode = errors.New("method_not_allowed")
)

// Error is a structured OAuth 2.1 protocol error
type Error struct {
	ErrorCode string
	Message   string
}

// ErrorResponse is the JSON wire shape of an OAuth error
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// NewError creates an Error from a code and optional description
func NewError(code ErrorCode, message string) Error {
	return Error{ErrorCode: code.Error(), Message: message}
}

// Error implements the error interface
func (e Error) Error() string {
	return e.ErrorCode
}

// Is allows errors.Is matching against the sentinel codes
func (e Error) Is(target error) bool {
	return target != nil && target.Error() == e.ErrorCode
}

// ToResponseStruct converts the error into its JSON wire form
func (e Error) ToResponseStruct() *ErrorResponse {
	return &ErrorResponse{Error: e.ErrorCode, ErrorDescription: e.Message}
}

// WriteError renders an OAuth error as a JSON response with the given status
func WriteError(w http.ResponseWriter, status int, err Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err.ToResponseStruct())
}

// PassthroughError mirrors an upstream IdP error payload verbatim
func PassthroughError(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
