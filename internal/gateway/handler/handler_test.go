// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/internal/config"
	"mcpgateway/internal/gateway"
	"mcpgateway/internal/idp"
	"mcpgateway/internal/oauth"
)

// fakeIdP simulates the upstream token endpoint. Configure the next response
// before each request.
type fakeIdP struct {
	server *httptest.Server

	status   int
	response map[string]any
	lastForm url.Values
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	f := &fakeIdP{status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/testtenant/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(f.response)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

type testEnv struct {
	registry *gateway.ClientRegistry
	store    *gateway.TransactionStore
	idp      *idp.Client
	fake     *fakeIdP
	cfg      *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := newFakeIdP(t)
	cfg := &config.Config{
		IdPTenantID:     "testtenant",
		IdPClientID:     "gateway-app-id",
		IdPClientSecret: "gateway-secret",
		IdPHost:         fake.server.URL,
		GatewayBaseURL:  "http://localhost:8000",
		GatewayAPIScope: "api://gateway-app-id/mcp.access",
	}
	store := gateway.NewTransactionStore()
	t.Cleanup(store.Close)
	return &testEnv{
		registry: gateway.NewClientRegistry(0),
		store:    store,
		idp:      idp.New(cfg),
		fake:     fake,
		cfg:      cfg,
	}
}

// registerClient registers a test client and returns its registration
func (e *testEnv) registerClient() *oauth.ClientRegistration {
	return e.registry.Register(oauth.ClientMetadata{
		RedirectURIs: []string{"http://localhost:3000/callback"},
	})
}

func decodeOAuthError(t *testing.T, body *bytes.Buffer) oauth.ErrorResponse {
	t.Helper()
	var resp oauth.ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &resp))
	return resp
}

func TestRegisterHandler(t *testing.T) {
	env := newTestEnv(t)
	h := RegisterHandler(RegisterOptions{Registry: env.registry})

	body, _ := json.Marshal(map[string]any{
		"redirect_uris": []string{"http://localhost:3000/callback"},
		"client_name":   "test client",
	})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var reg oauth.ClientRegistration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.NotEmpty(t, reg.ClientID)
	assert.Equal(t, []string{"http://localhost:3000/callback"}, reg.RedirectURIs)
	assert.Equal(t, oauth.AuthMethodNone, reg.TokenEndpointAuthMethod)
	assert.NotNil(t, env.registry.GetClient(reg.ClientID))
}

func TestRegisterHandlerRejectsBadMetadata(t *testing.T) {
	env := newTestEnv(t)
	h := RegisterHandler(RegisterOptions{Registry: env.registry})

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "redirect_uris=x"},
		{name: "missing redirect_uris", body: `{"client_name":"x"}`},
		{name: "empty redirect_uris", body: `{"redirect_uris":[]}`},
		{name: "relative redirect uri", body: `{"redirect_uris":["/callback"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_client_metadata", decodeOAuthError(t, rec.Body).Error)
		})
	}
}

func TestRegisterHandlerMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	h := RegisterHandler(RegisterOptions{Registry: env.registry})

	req := httptest.NewRequest(http.MethodGet, "/register", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
}

func authorizeURL(clientID, redirectURI, state, challenge, method string) string {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {method},
		"scope":                 {"mcp.access"},
	}
	return "/authorize?" + q.Encode()
}

func TestAuthorizeHandlerRedirectsToIdP(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerClient()
	h := AuthorizeHandler(AuthorizeOptions{Registry: env.registry, Store: env.store, IdP: env.idp})

	verifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)
	challenge := oauth.ChallengeS256(verifier)

	req := httptest.NewRequest(http.MethodGet,
		authorizeURL(reg.ClientID, reg.RedirectURIs[0], "client-state", challenge, "S256"), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	assert.Contains(t, loc.Path, "/testtenant/oauth2/v2.0/authorize")
	q := loc.Query()
	assert.Equal(t, "gateway-app-id", q.Get("client_id"), "the IdP sees the gateway's client, not the MCP client")
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))

	// The outbound challenge is the gateway's own, never the client's
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEqual(t, challenge, q.Get("code_challenge"))

	// The state is a freshly minted proxy state bound to a stored transaction
	proxyState := q.Get("state")
	require.NotEmpty(t, proxyState)
	assert.NotEqual(t, "client-state", proxyState)
	txn := env.store.ConsumeTransaction(proxyState)
	require.NotNil(t, txn)
	assert.Equal(t, reg.ClientID, txn.ClientID)
	assert.Equal(t, "client-state", txn.ClientState)
	assert.Equal(t, challenge, txn.ClientCodeChallenge)
	assert.Equal(t, "S256", txn.ClientCodeChallengeMethod)
	assert.True(t, oauth.VerifyChallenge(txn.ProxyCodeVerifier, q.Get("code_challenge"), "S256"),
		"outbound challenge must commit to the stored proxy verifier")
}

func TestAuthorizeHandlerErrors(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerClient()
	h := AuthorizeHandler(AuthorizeOptions{Registry: env.registry, Store: env.store, IdP: env.idp})

	verifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)
	challenge := oauth.ChallengeS256(verifier)

	tests := []struct {
		name      string
		target    string
		wantError string
	}{
		{
			name: "token response type",
			target: "/authorize?" + url.Values{
				"response_type": {"token"},
				"client_id":     {reg.ClientID},
				"redirect_uri":  {reg.RedirectURIs[0]},
			}.Encode(),
			wantError: "unsupported_response_type",
		},
		{
			name:      "unknown client",
			target:    authorizeURL("no-such-client", reg.RedirectURIs[0], "s", challenge, "S256"),
			wantError: "invalid_request",
		},
		{
			name:      "unregistered redirect uri",
			target:    authorizeURL(reg.ClientID, "http://evil.example/cb", "s", challenge, "S256"),
			wantError: "invalid_request",
		},
		{
			name:      "missing code challenge",
			target:    authorizeURL(reg.ClientID, reg.RedirectURIs[0], "s", "", "S256"),
			wantError: "invalid_request",
		},
		{
			name:      "malformed s256 challenge",
			target:    authorizeURL(reg.ClientID, reg.RedirectURIs[0], "s", "tooshort", "S256"),
			wantError: "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantError, decodeOAuthError(t, rec.Body).Error)
		})
	}
}

func TestCallbackHandlerHappyPath(t *testing.T) {
	env := newTestEnv(t)
	h := CallbackHandler(CallbackOptions{Store: env.store, IdP: env.idp})

	verifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)
	proxyState := gateway.NewProxyState()
	env.store.PutTransaction(&gateway.AuthTransaction{
		ProxyState:                proxyState,
		ClientID:                  "client-1",
		ClientRedirectURI:         "http://localhost:3000/callback",
		ClientState:               "client-state",
		ClientCodeChallenge:       oauth.ChallengeS256(verifier),
		ClientCodeChallengeMethod: "S256",
		ProxyCodeVerifier:         verifier,
	})

	env.fake.response = map[string]any{
		"access_token":  "idp-access-token",
		"refresh_token": "idp-refresh-token",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "mcp.access openid",
	}

	req := httptest.NewRequest(http.MethodGet,
		"/auth/callback?code=idp-code&state="+proxyState, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)

	// The gateway redeemed the IdP code with its own verifier
	assert.Equal(t, "idp-code", env.fake.lastForm.Get("code"))
	assert.Equal(t, verifier, env.fake.lastForm.Get("code_verifier"))

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", loc.Host)
	assert.Equal(t, "/callback", loc.Path)
	assert.Equal(t, "client-state", loc.Query().Get("state"), "the client's original state comes back verbatim")

	// The code handed to the client is a gateway-minted proxy code
	proxyCode := loc.Query().Get("code")
	require.NotEmpty(t, proxyCode)
	assert.NotEqual(t, "idp-code", proxyCode)
	codeRec := env.store.ConsumeCode(proxyCode)
	require.NotNil(t, codeRec)
	assert.Equal(t, "idp-access-token", codeRec.AccessToken)
	assert.Equal(t, "idp-refresh-token", codeRec.RefreshToken)
}

func TestCallbackHandlerOmitsEmptyState(t *testing.T) {
	env := newTestEnv(t)
	h := CallbackHandler(CallbackOptions{Store: env.store, IdP: env.idp})

	verifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)
	proxyState := gateway.NewProxyState()
	env.store.PutTransaction(&gateway.AuthTransaction{
		ProxyState:        proxyState,
		ClientRedirectURI: "http://localhost:3000/callback",
		ProxyCodeVerifier: verifier,
	})
	env.fake.response = map[string]any{"access_token": "at", "token_type": "Bearer"}

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state="+proxyState, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	_, present := loc.Query()["state"]
	assert.False(t, present, "no state parameter when the client sent none")
}

func TestCallbackHandlerPreservesRedirectQuery(t *testing.T) {
	env := newTestEnv(t)
	h := CallbackHandler(CallbackOptions{Store: env.store, IdP: env.idp})

	verifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)
	proxyState := gateway.NewProxyState()
	// A redirect_uri carrying its own query string, including an encoded
	// value that a re-parse round trip would rewrite
	env.store.PutTransaction(&gateway.AuthTransaction{
		ProxyState:        proxyState,
		ClientRedirectURI: "http://localhost:3000/callback?env=dev&tag=a%20b",
		ClientState:       "client-state",
		ProxyCodeVerifier: verifier,
	})
	env.fake.response = map[string]any{"access_token": "at", "token_type": "Bearer"}

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state="+proxyState, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "http://localhost:3000/callback?env=dev&tag=a%20b&"),
		"registered redirect_uri must survive byte for byte, got %s", location)

	loc, err := url.Parse(location)
	require.NoError(t, err)
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.Equal(t, "client-state", loc.Query().Get("state"))
}

func TestCallbackHandlerInvalidState(t *testing.T) {
	env := newTestEnv(t)
	h := CallbackHandler(CallbackOptions{Store: env.store, IdP: env.idp})

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state=unknown", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", decodeOAuthError(t, rec.Body).Error)
}

func TestCallbackHandlerStateReplay(t *testing.T) {
	env := newTestEnv(t)
	h := CallbackHandler(CallbackOptions{Store: env.store, IdP: env.idp})

	verifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)
	proxyState := gateway.NewProxyState()
	env.store.PutTransaction(&gateway.AuthTransaction{
		ProxyState:        proxyState,
		ClientRedirectURI: "http://localhost:3000/callback",
		ProxyCodeVerifier: verifier,
	})
	env.fake.response = map[string]any{"access_token": "at", "token_type": "Bearer"}

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state="+proxyState, nil))
	require.Equal(t, http.StatusFound, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/auth/callback?code=c&state="+proxyState, nil))
	require.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "invalid_state", decodeOAuthError(t, second.Body).Error)
}

func TestCallbackHandlerIdPErrorPassthrough(t *testing.T) {
	env := newTestEnv(t)
	h := CallbackHandler(CallbackOptions{Store: env.store, IdP: env.idp})

	req := httptest.NewRequest(http.MethodGet,
		"/auth/callback?error=access_denied&error_description=user+cancelled", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeOAuthError(t, rec.Body)
	assert.Equal(t, "access_denied", resp.Error)
	assert.Equal(t, "user cancelled", resp.ErrorDescription)
}

func TestCallbackHandlerExchangeRejected(t *testing.T) {
	env := newTestEnv(t)
	h := CallbackHandler(CallbackOptions{Store: env.store, IdP: env.idp})

	verifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)
	proxyState := gateway.NewProxyState()
	env.store.PutTransaction(&gateway.AuthTransaction{
		ProxyState:        proxyState,
		ClientRedirectURI: "http://localhost:3000/callback",
		ProxyCodeVerifier: verifier,
	})
	env.fake.status = http.StatusBadRequest
	env.fake.response = map[string]any{"error": "invalid_grant", "error_description": "code expired"}

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=stale&state="+proxyState, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeOAuthError(t, rec.Body)
	assert.Equal(t, "invalid_grant", resp.Error)
	assert.Equal(t, "code expired", resp.ErrorDescription)
}

func postForm(h http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTokenHandlerAuthorizationCode(t *testing.T) {
	env := newTestEnv(t)
	h := TokenHandler(TokenOptions{Store: env.store, IdP: env.idp})

	verifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)
	code := gateway.NewProxyCode()
	env.store.PutCode(&gateway.AuthCodeRecord{
		ProxyCode:                 code,
		AccessToken:               "idp-access-token",
		RefreshToken:              "idp-refresh-token",
		ExpiresIn:                 3600,
		Scope:                     "mcp.access",
		ClientCodeChallenge:       oauth.ChallengeS256(verifier),
		ClientCodeChallengeMethod: "S256",
	})

	rec := postForm(h, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var tokens oauth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, "idp-access-token", tokens.AccessToken)
	assert.Equal(t, "idp-refresh-token", tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.EqualValues(t, 3600, tokens.ExpiresIn)
}

func TestTokenHandlerCodeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	h := TokenHandler(TokenOptions{Store: env.store, IdP: env.idp})

	verifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)
	code := gateway.NewProxyCode()
	env.store.PutCode(&gateway.AuthCodeRecord{
		ProxyCode:                 code,
		AccessToken:               "at",
		ClientCodeChallenge:       oauth.ChallengeS256(verifier),
		ClientCodeChallengeMethod: "S256",
	})

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	}
	first := postForm(h, form)
	require.Equal(t, http.StatusOK, first.Code)

	second := postForm(h, form)
	require.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "invalid_grant", decodeOAuthError(t, second.Body).Error)
}

func TestTokenHandlerPKCEFailureBurnsCode(t *testing.T) {
	env := newTestEnv(t)
	h := TokenHandler(TokenOptions{Store: env.store, IdP: env.idp})

	verifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)
	code := gateway.NewProxyCode()
	env.store.PutCode(&gateway.AuthCodeRecord{
		ProxyCode:                 code,
		AccessToken:               "at",
		ClientCodeChallenge:       oauth.ChallengeS256(verifier),
		ClientCodeChallengeMethod: "S256",
	})

	rec := postForm(h, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {"wrong-verifier-wrong-verifier-wrong-verifier"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeOAuthError(t, rec.Body)
	assert.Equal(t, "invalid_grant", resp.Error)
	assert.Contains(t, resp.ErrorDescription, "PKCE")

	// The failed attempt consumed the code; retrying with the right
	// verifier must not succeed
	retry := postForm(h, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	})
	require.Equal(t, http.StatusBadRequest, retry.Code)
	assert.Equal(t, "invalid_grant", decodeOAuthError(t, retry.Body).Error)
}

func TestTokenHandlerPlainPKCE(t *testing.T) {
	env := newTestEnv(t)
	h := TokenHandler(TokenOptions{Store: env.store, IdP: env.idp})

	code := gateway.NewProxyCode()
	env.store.PutCode(&gateway.AuthCodeRecord{
		ProxyCode:                 code,
		AccessToken:               "at",
		ClientCodeChallenge:       "plain-commitment-value",
		ClientCodeChallengeMethod: "plain",
	})

	rec := postForm(h, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {"plain-commitment-value"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenHandlerRefreshForwarded(t *testing.T) {
	env := newTestEnv(t)
	h := TokenHandler(TokenOptions{Store: env.store, IdP: env.idp})

	env.fake.response = map[string]any{
		"access_token":  "new-access-token",
		"refresh_token": "new-refresh-token",
		"token_type":    "Bearer",
		"expires_in":    3600,
	}

	rec := postForm(h, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"old-refresh-token"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var tokens oauth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, "new-access-token", tokens.AccessToken)
	assert.Equal(t, "new-refresh-token", tokens.RefreshToken)

	// The forwarded request substitutes the gateway's credentials
	assert.Equal(t, "old-refresh-token", env.fake.lastForm.Get("refresh_token"))
	assert.Equal(t, "gateway-app-id", env.fake.lastForm.Get("client_id"))
	assert.Equal(t, "gateway-secret", env.fake.lastForm.Get("client_secret"))
	assert.Contains(t, env.fake.lastForm.Get("scope"), "offline_access")
}

func TestTokenHandlerRefreshErrorMirrored(t *testing.T) {
	env := newTestEnv(t)
	h := TokenHandler(TokenOptions{Store: env.store, IdP: env.idp})

	env.fake.status = http.StatusBadRequest
	env.fake.response = map[string]any{"error": "invalid_grant", "error_description": "refresh token revoked"}

	rec := postForm(h, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"revoked"},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeOAuthError(t, rec.Body)
	assert.Equal(t, "invalid_grant", resp.Error)
	assert.Equal(t, "refresh token revoked", resp.ErrorDescription)
}

func TestTokenHandlerRequestErrors(t *testing.T) {
	env := newTestEnv(t)
	h := TokenHandler(TokenOptions{Store: env.store, IdP: env.idp})

	tests := []struct {
		name      string
		form      url.Values
		wantCode  int
		wantError string
	}{
		{
			name:      "unsupported grant type",
			form:      url.Values{"grant_type": {"client_credentials"}},
			wantCode:  http.StatusBadRequest,
			wantError: "unsupported_grant_type",
		},
		{
			name:      "missing grant type",
			form:      url.Values{},
			wantCode:  http.StatusBadRequest,
			wantError: "unsupported_grant_type",
		},
		{
			name:      "missing code",
			form:      url.Values{"grant_type": {"authorization_code"}},
			wantCode:  http.StatusBadRequest,
			wantError: "invalid_request",
		},
		{
			name:      "unknown code",
			form:      url.Values{"grant_type": {"authorization_code"}, "code": {"bogus"}},
			wantCode:  http.StatusBadRequest,
			wantError: "invalid_grant",
		},
		{
			name:      "missing refresh token",
			form:      url.Values{"grant_type": {"refresh_token"}},
			wantCode:  http.StatusBadRequest,
			wantError: "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postForm(h, tt.form)
			require.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantError, decodeOAuthError(t, rec.Body).Error)
		})
	}
}

func TestRevokeHandler(t *testing.T) {
	h := RevokeHandler()

	req := httptest.NewRequest(http.MethodPost, "/revoke", strings.NewReader("token=whatever"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	get := httptest.NewRecorder()
	h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/revoke", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, get.Code)
}

func TestMetadataHandlers(t *testing.T) {
	prm := ProtectedResourceMetadata("http://localhost:8000", "http://localhost:8000/mcp", "api://gw/mcp.access")
	h := MetadataHandler(prm)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got oauth.ProtectedResourceMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "http://localhost:8000/mcp", got.Resource)
	assert.Equal(t, []string{"http://localhost:8000"}, got.AuthorizationServers)

	as := ServerMetadata("http://localhost:8000", "api://gw/mcp.access")
	assert.Equal(t, "http://localhost:8000", as.Issuer)
	assert.Equal(t, "http://localhost:8000/authorize", as.AuthorizationEndpoint)
	assert.Equal(t, "http://localhost:8000/token", as.TokenEndpoint)
	assert.Equal(t, "http://localhost:8000/register", as.RegistrationEndpoint)
	assert.Equal(t, []string{"code"}, as.ResponseTypesSupported)
	assert.Contains(t, as.CodeChallengeMethodsSupported, "S256")
}

// TestFullAuthorizationRoundTrip drives the whole broker flow: authorize,
// IdP callback, then code redemption with the client's PKCE verifier.
func TestFullAuthorizationRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	reg := env.registerClient()

	authorize := AuthorizeHandler(AuthorizeOptions{Registry: env.registry, Store: env.store, IdP: env.idp})
	callback := CallbackHandler(CallbackOptions{Store: env.store, IdP: env.idp})
	token := TokenHandler(TokenOptions{Store: env.store, IdP: env.idp})

	clientVerifier, err := oauth.GenerateCodeVerifier()
	require.NoError(t, err)

	// 1. Client starts the flow
	authRec := httptest.NewRecorder()
	authorize.ServeHTTP(authRec, httptest.NewRequest(http.MethodGet,
		authorizeURL(reg.ClientID, reg.RedirectURIs[0], "xyz", oauth.ChallengeS256(clientVerifier), "S256"), nil))
	require.Equal(t, http.StatusFound, authRec.Code)
	idpURL, err := url.Parse(authRec.Header().Get("Location"))
	require.NoError(t, err)
	proxyState := idpURL.Query().Get("state")

	// 2. IdP sends the user back
	env.fake.response = map[string]any{
		"access_token":  "idp-access-token",
		"refresh_token": "idp-refresh-token",
		"token_type":    "Bearer",
		"expires_in":    3600,
	}
	cbRec := httptest.NewRecorder()
	callback.ServeHTTP(cbRec, httptest.NewRequest(http.MethodGet,
		"/auth/callback?code=idp-code&state="+proxyState, nil))
	require.Equal(t, http.StatusFound, cbRec.Code)
	clientURL, err := url.Parse(cbRec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", clientURL.Query().Get("state"))
	proxyCode := clientURL.Query().Get("code")
	require.NotEmpty(t, proxyCode)

	// 3. Client redeems the proxy code with its own verifier
	tokenRec := postForm(token, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {proxyCode},
		"code_verifier": {clientVerifier},
	})
	require.Equal(t, http.StatusOK, tokenRec.Code)
	var tokens oauth.TokenResponse
	require.NoError(t, json.Unmarshal(tokenRec.Body.Bytes(), &tokens))
	assert.Equal(t, "idp-access-token", tokens.AccessToken)
}
