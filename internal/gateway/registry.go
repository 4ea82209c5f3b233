// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpgateway/internal/oauth"
)

// DefaultRegistrationCap bounds how many dynamic registrations the in-memory
// registry retains before evicting the oldest
const DefaultRegistrationCap = 10000

// ClientRegistry owns all dynamically registered MCP clients. Records are
// immutable after insertion, so reads only need the shared lock.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*oauth.ClientRegistration
	order   []string // insertion order for cap eviction
	cap     int
}

// NewClientRegistry creates a registry with the given retention cap.
// A cap of 0 applies DefaultRegistrationCap.
func NewClientRegistry(capacity int) *ClientRegistry {
	if capacity <= 0 {
		capacity = DefaultRegistrationCap
	}
	return &ClientRegistry{
		clients: make(map[string]*oauth.ClientRegistration),
		cap:     capacity,
	}
}

// Register mints a client_id, applies RFC 7591 defaults, and stores the record
func (r *ClientRegistry) Register(metadata oauth.ClientMetadata) *oauth.ClientRegistration {
	if len(metadata.GrantTypes) == 0 {
		metadata.GrantTypes = []string{oauth.GrantAuthorizationCode, oauth.GrantRefreshToken}
	}
	if len(metadata.ResponseTypes) == 0 {
		metadata.ResponseTypes = []string{oauth.ResponseTypeCode}
	}
	if metadata.TokenEndpointAuthMethod == "" {
		metadata.TokenEndpointAuthMethod = oauth.AuthMethodNone
	}

	reg := &oauth.ClientRegistration{
		ClientMetadata: metadata,
		ClientInformation: oauth.ClientInformation{
			// UUIDv4 carries 122 bits of entropy
			ClientID:         uuid.New().String(),
			ClientIDIssuedAt: time.Now().Unix(),
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) >= r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.clients, oldest)
	}
	r.clients[reg.ClientID] = reg
	r.order = append(r.order, reg.ClientID)
	return reg
}

// GetClient returns the registration for the given client_id or nil
func (r *ClientRegistry) GetClient(clientID string) *oauth.ClientRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[clientID]
}

// Len returns the number of live registrations
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
