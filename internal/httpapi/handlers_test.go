package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"hatchup.org/internal/audit"
	"hatchup.org/internal/auth"
	"hatchup.org/internal/authz"
	"hatchup.org/internal/cache"
	"hatchup.org/internal/document"
	"hatchup.org/internal/otp"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *memStore
	mailer  *recordingMailer
	issuer  *auth.Issuer
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := newMemStore()
	c, err := cache.NewMemory(1024)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	issuer, err := auth.NewIssuer(auth.WithHMACSecret("test-secret"), auth.WithIssuer("hatchup-test"))
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	roles := authz.NewRoleStore(c, store)
	objects := authz.NewObjectPermissions(store)
	gate := authz.NewGate(roles, objects)
	authSvc := auth.NewService(store, roles, issuer)
	mailer := &recordingMailer{}

	api := New(ReadyProbe{}, "test", Services{
		Auth:      authSvc,
		OTP:       otp.NewService(c, store, mailer, authSvc),
		Roles:     roles,
		Gate:      gate,
		Documents: document.NewService(store, gate, objects, nil),
		Audit:     audit.New(nil),
	}, WithRateLimit(100, 100))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
		mailer:  mailer,
		issuer:  issuer,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

// tokenFor mints an access token for a stored user.
func (c *apiClient) tokenFor(u auth.User) string {
	c.t.Helper()
	c.store.addUser(u)
	tok, _, err := c.issuer.IssueAccess(u, nil)
	if err != nil {
		c.t.Fatalf("issue token: %v", err)
	}
	return tok
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

var (
	alice = auth.User{ID: "u-alice", Email: "alice@test.com", Active: true}
	bob   = auth.User{ID: "u-bob", Email: "bob@test.com", Active: true}
	carol = auth.User{ID: "u-carol", Email: "carol@test.com", Active: true}
	root  = auth.User{ID: "u-root", Email: "root@test.com", Active: true, Superuser: true}
)

func TestHealthz(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/healthz", nil, "")
	expectStatus(t, resp, http.StatusOK)
	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/v1/me", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	body := decodeBody[map[string]any](t, resp)
	if body["request_id"] == nil {
		t.Fatal("expected request_id in error body")
	}

	resp = c.get("/v1/me", nil, "garbage")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestPasswordLoginAndMe(t *testing.T) {
	c := newTestAPI(t)
	hash, err := auth.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := alice
	u.PasswordHash = hash
	c.store.addUser(u)
	if err := c.store.AddMembership(context.Background(), u.ID, authz.RoleStartup); err != nil {
		t.Fatalf("membership: %v", err)
	}

	resp := c.post("/v1/auth/login", map[string]string{"email": "Alice@test.com", "password": "wrong"}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.post("/v1/auth/login", map[string]string{"email": "Alice@test.com", "password": "s3cret-pass"}, "")
	expectStatus(t, resp, http.StatusOK)
	pair := decodeBody[auth.TokenPair](t, resp)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token pair, got %+v", pair)
	}

	resp = c.get("/v1/me", nil, pair.AccessToken)
	expectStatus(t, resp, http.StatusOK)
	me := decodeBody[meResponse](t, resp)
	if me.ID != u.ID || len(me.Roles) != 1 || me.Roles[0] != authz.RoleStartup {
		t.Fatalf("unexpected me %+v", me)
	}

	resp = c.post("/v1/auth/refresh", map[string]string{"refresh": pair.RefreshToken}, "")
	expectStatus(t, resp, http.StatusOK)
	refreshed := decodeBody[auth.TokenPair](t, resp)
	if refreshed.AccessToken == "" || refreshed.RefreshToken != "" {
		t.Fatalf("refresh must return only an access token, got %+v", refreshed)
	}
}

func TestOTPRoundTrip(t *testing.T) {
	c := newTestAPI(t)
	c.store.addUser(alice)

	resp := c.post("/v1/auth/otp/request", map[string]string{"email": "alice@test.com", "purpose": "login"}, "")
	expectStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()
	code := c.mailer.lastCode()
	if len(code) != 6 {
		t.Fatalf("expected six digit code, got %q", code)
	}

	resp = c.post("/v1/auth/otp/verify", map[string]string{"email": "alice@test.com", "code": code, "purpose": "login"}, "")
	expectStatus(t, resp, http.StatusOK)
	verified := decodeBody[otpVerifyResponse](t, resp)

	resp = c.post("/v1/auth/otp/verify", map[string]string{"email": "alice@test.com", "code": code, "purpose": "login"}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	exchange := map[string]string{"verification_token": verified.VerificationToken, "email": "alice@test.com"}
	resp = c.post("/v1/auth/otp/exchange", exchange, "")
	expectStatus(t, resp, http.StatusOK)
	pair := decodeBody[auth.TokenPair](t, resp)

	resp = c.get("/v1/me", nil, pair.AccessToken)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/v1/auth/otp/exchange", exchange, "")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestOTPRequestPreconditions(t *testing.T) {
	c := newTestAPI(t)
	c.store.addUser(alice)

	cases := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"login unknown account", map[string]string{"email": "nobody@test.com", "purpose": "login"}, http.StatusNotFound},
		{"register existing account", map[string]string{"email": "alice@test.com", "purpose": "register"}, http.StatusBadRequest},
		{"unknown purpose", map[string]string{"email": "alice@test.com", "purpose": "reset"}, http.StatusBadRequest},
		{"unknown field", map[string]string{"email": "alice@test.com", "purpose": "login", "extra": "x"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := c.post("/v1/auth/otp/request", tc.body, "")
			expectStatus(t, resp, tc.status)
			resp.Body.Close()
		})
	}
}

func TestDocumentOwnership(t *testing.T) {
	c := newTestAPI(t)
	aliceTok := c.tokenFor(alice)
	bobTok := c.tokenFor(bob)
	rootTok := c.tokenFor(root)

	resp := c.post("/v1/documents", map[string]any{"filename": "deck.pdf", "content_type": "application/pdf", "size": 1024}, aliceTok)
	expectStatus(t, resp, http.StatusCreated)
	doc := decodeBody[document.Document](t, resp)
	if doc.OwnerID != alice.ID {
		t.Fatalf("unexpected owner %q", doc.OwnerID)
	}

	resp = c.get("/v1/documents/"+doc.ID, nil, aliceTok)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// bob cannot tell alice's document from a missing one
	resp = c.get("/v1/documents/"+doc.ID, nil, bobTok)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/documents/"+doc.ID, nil, bobTok)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.get("/v1/documents/"+doc.ID, nil, rootTok)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/v1/documents", nil, bobTok)
	expectStatus(t, resp, http.StatusOK)
	if docs := decodeBody[[]document.Document](t, resp); len(docs) != 0 {
		t.Fatalf("bob must see no documents, got %d", len(docs))
	}

	resp = c.get("/v1/documents", nil, aliceTok)
	expectStatus(t, resp, http.StatusOK)
	if docs := decodeBody[[]document.Document](t, resp); len(docs) != 1 || docs[0].ID != doc.ID {
		t.Fatalf("alice must see her document, got %+v", docs)
	}

	resp = c.do(http.MethodPatch, "/v1/documents/"+doc.ID, map[string]string{"filename": "pitch.pdf"}, aliceTok)
	expectStatus(t, resp, http.StatusOK)
	if updated := decodeBody[document.Document](t, resp); updated.Filename != "pitch.pdf" {
		t.Fatalf("unexpected filename %q", updated.Filename)
	}

	resp = c.do(http.MethodDelete, "/v1/documents/"+doc.ID, nil, aliceTok)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.get("/v1/documents/"+doc.ID, nil, aliceTok)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestRoleManagementRequiresAdminRole(t *testing.T) {
	c := newTestAPI(t)
	aliceTok := c.tokenFor(alice)
	bobTok := c.tokenFor(bob)
	carolTok := c.tokenFor(carol)
	if err := c.store.AddMembership(context.Background(), carol.ID, authz.RoleAdmin); err != nil {
		t.Fatalf("membership: %v", err)
	}

	resp := c.post("/v1/users/"+bob.ID+"/roles", map[string]string{"role": authz.RoleInvestor}, aliceTok)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// Prime bob's cached role set before the change.
	resp = c.get("/v1/me", nil, bobTok)
	expectStatus(t, resp, http.StatusOK)
	if me := decodeBody[meResponse](t, resp); len(me.Roles) != 0 {
		t.Fatalf("bob starts without roles, got %v", me.Roles)
	}

	resp = c.post("/v1/users/"+bob.ID+"/roles", map[string]string{"role": authz.RoleInvestor}, carolTok)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/v1/me", nil, bobTok)
	expectStatus(t, resp, http.StatusOK)
	if me := decodeBody[meResponse](t, resp); len(me.Roles) != 1 || me.Roles[0] != authz.RoleInvestor {
		t.Fatalf("role change must be visible immediately, got %v", me.Roles)
	}

	resp = c.do(http.MethodDelete, "/v1/users/"+bob.ID+"/roles/"+url.PathEscape(authz.RoleInvestor), nil, carolTok)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/users/"+bob.ID+"/roles/"+url.PathEscape(authz.RoleInvestor), nil, carolTok)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestSuperuserManagesRolesWithoutMembership(t *testing.T) {
	c := newTestAPI(t)
	rootTok := c.tokenFor(root)
	c.store.addUser(bob)

	resp := c.get("/v1/users/"+bob.ID+"/roles", nil, rootTok)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}
