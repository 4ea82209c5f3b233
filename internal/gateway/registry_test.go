// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/internal/oauth"
)

func TestRegisterAppliesDefaults(t *testing.T) {
	registry := NewClientRegistry(0)

	reg := registry.Register(oauth.ClientMetadata{
		RedirectURIs: []string{"http://localhost:3000/callback"},
	})

	require.NotEmpty(t, reg.ClientID)
	assert.NotZero(t, reg.ClientIDIssuedAt)
	assert.Equal(t, []string{oauth.GrantAuthorizationCode, oauth.GrantRefreshToken}, reg.GrantTypes)
	assert.Equal(t, []string{oauth.ResponseTypeCode}, reg.ResponseTypes)
	assert.Equal(t, oauth.AuthMethodNone, reg.TokenEndpointAuthMethod)

	got := registry.GetClient(reg.ClientID)
	require.NotNil(t, got)
	assert.Equal(t, reg.ClientID, got.ClientID)
}

func TestRegisterKeepsExplicitMetadata(t *testing.T) {
	registry := NewClientRegistry(0)

	reg := registry.Register(oauth.ClientMetadata{
		RedirectURIs:            []string{"http://localhost:3000/callback"},
		GrantTypes:              []string{oauth.GrantAuthorizationCode},
		TokenEndpointAuthMethod: oauth.AuthMethodClientSecretPost,
	})

	assert.Equal(t, []string{oauth.GrantAuthorizationCode}, reg.GrantTypes)
	assert.Equal(t, oauth.AuthMethodClientSecretPost, reg.TokenEndpointAuthMethod)
}

func TestRegistryMintsUniqueIDs(t *testing.T) {
	registry := NewClientRegistry(0)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		reg := registry.Register(oauth.ClientMetadata{RedirectURIs: []string{"http://localhost/cb"}})
		assert.False(t, seen[reg.ClientID])
		seen[reg.ClientID] = true
	}
}

func TestRegistryEvictsOldestAtCap(t *testing.T) {
	registry := NewClientRegistry(2)

	first := registry.Register(oauth.ClientMetadata{RedirectURIs: []string{"http://localhost/a"}})
	second := registry.Register(oauth.ClientMetadata{RedirectURIs: []string{"http://localhost/b"}})
	third := registry.Register(oauth.ClientMetadata{RedirectURIs: []string{"http://localhost/c"}})

	assert.Nil(t, registry.GetClient(first.ClientID))
	assert.NotNil(t, registry.GetClient(second.ClientID))
	assert.NotNil(t, registry.GetClient(third.ClientID))
	assert.Equal(t, 2, registry.Len())
}

func TestGetClientUnknown(t *testing.T) {
	registry := NewClientRegistry(0)
	assert.Nil(t, registry.GetClient("missing"))
}
