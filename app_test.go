package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/stockauth/internal/cipher"
	"github.com/example/stockauth/internal/token"
)

const (
	testJwtSecret    = "test-jwt-secret"
	testCipherSecret = "test-cipher-secret"
)

// spyStore counts identity lookups so tests can assert the loader was or was
// not consulted.
type spyStore struct {
	Store
	lookups atomic.Int64
}

func (s *spyStore) GetUserByUsername(username string) (*User, error) {
	s.lookups.Add(1)
	return s.Store.GetUserByUsername(username)
}

func newTestApp(t *testing.T) (*App, *spyStore) {
	t.Helper()
	credCipher, err := cipher.New(testCipherSecret)
	require.NoError(t, err)

	store := &spyStore{Store: NewMemoryDB()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	app := &App{
		DB:          store,
		Cipher:      credCipher,
		Tokens:      token.NewService(testJwtSecret),
		Log:         logger,
		rateLimiter: NewRateLimiter(10000),
	}
	app.Loader = NewIdentityLoader(store, credCipher, logger)
	return app, store
}

func newTestServer(t *testing.T) (*httptest.Server, *App, *spyStore) {
	t.Helper()
	app, store := newTestApp(t)
	srv := httptest.NewServer(newRouter(app))
	t.Cleanup(srv.Close)
	return srv, app, store
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest("POST", url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func getWithToken(t *testing.T, url, tok string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func newRecordedRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func jsonDecode(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func registerUser(t *testing.T, srv *httptest.Server, username, password, email string) {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/register", registerRequest{
		Username: username, Password: password, Email: email,
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func loginUser(t *testing.T, srv *httptest.Server, username, password string) string {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/login", loginRequest{Username: username, Password: password}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

// issueExpired creates a token whose 24h lifetime has already elapsed.
func issueExpired(t *testing.T, username, email string) string {
	t.Helper()
	past := time.Now().Add(-token.Lifetime - time.Minute)
	svc := token.NewServiceWithClock(testJwtSecret, func() time.Time { return past })
	tok, err := svc.Issue(username, email)
	require.NoError(t, err)
	return tok
}
