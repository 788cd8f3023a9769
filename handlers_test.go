package main

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterLoginFlow(t *testing.T) {
	srv, app, _ := newTestServer(t)

	registerUser(t, srv, "bobuser", "Secret1!", "bob@example.com")

	// stored credential round-trips through the cipher
	stored, err := app.DB.GetUserByUsername("bobuser")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotEqual(t, "Secret1!", stored.Password)
	plain, err := app.Cipher.Decrypt(stored.Password)
	require.NoError(t, err)
	require.Equal(t, "Secret1!", plain)

	// correct password logs in
	tok := loginUser(t, srv, "bobuser", "Secret1!")
	require.NotEmpty(t, tok)

	// wrong password is rejected
	resp := postJSON(t, srv.URL+"/api/login", loginRequest{Username: "bobuser", Password: "wrong"}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginUnknownUser(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/login", loginRequest{Username: "nobody1", Password: "Secret1!"}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoginCaseSensitive(t *testing.T) {
	srv, _, _ := newTestServer(t)
	registerUser(t, srv, "bobuser", "Secret1!", "bob@example.com")

	// username lookup is exact-match
	resp := postJSON(t, srv.URL+"/api/login", loginRequest{Username: "BobUser", Password: "Secret1!"}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// password comparison is byte-for-byte
	resp = postJSON(t, srv.URL+"/api/login", loginRequest{Username: "bobuser", Password: "secret1!"}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	cases := []struct {
		name string
		req  registerRequest
	}{
		{"short username", registerRequest{Username: "bob", Password: "Secret1!", Email: "b@x.com"}},
		{"bad username chars", registerRequest{Username: "bob user!", Password: "Secret1!", Email: "b@x.com"}},
		{"short password", registerRequest{Username: "bobuser", Password: "S1!", Email: "b@x.com"}},
		{"password missing digit", registerRequest{Username: "bobuser", Password: "Secretic!", Email: "b@x.com"}},
		{"password missing symbol", registerRequest{Username: "bobuser", Password: "Secret123", Email: "b@x.com"}},
		{"bad email", registerRequest{Username: "bobuser", Password: "Secret1!", Email: "not-an-email"}},
		{"empty email", registerRequest{Username: "bobuser", Password: "Secret1!", Email: ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/register", tc.req, nil)
			defer resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestRegisterDuplicates(t *testing.T) {
	srv, _, _ := newTestServer(t)
	registerUser(t, srv, "bobuser", "Secret1!", "bob@example.com")

	// same username
	resp := postJSON(t, srv.URL+"/api/register", registerRequest{
		Username: "bobuser", Password: "Secret1!", Email: "other@example.com",
	}, nil)
	body := decodeBody(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "USERNAME_TAKEN", body["error_code"])

	// same email
	resp = postJSON(t, srv.URL+"/api/register", registerRequest{
		Username: "aliceuser", Password: "Secret1!", Email: "bob@example.com",
	}, nil)
	body = decodeBody(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "EMAIL_TAKEN", body["error_code"])
}

func TestRegisterAssignsDefaultRole(t *testing.T) {
	srv, app, _ := newTestServer(t)
	registerUser(t, srv, "bobuser", "Secret1!", "bob@example.com")

	ident, err := app.Loader.LoadIdentity("bobuser")
	require.NoError(t, err)
	require.Equal(t, []string{"ROLE_USER"}, ident.Authorities)
}

func TestMeEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	registerUser(t, srv, "bobuser", "Secret1!", "bob@example.com")
	tok := loginUser(t, srv, "bobuser", "Secret1!")

	resp := getWithToken(t, srv.URL+"/api/me", tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "bobuser", body["username"])
	require.Equal(t, []interface{}{"ROLE_USER"}, body["authorities"])
	require.Equal(t, "GET", body["method"])
	require.Equal(t, "/api/me", body["path"])
	require.Equal(t, "me", body["handler"])
	require.NotEmpty(t, body["request_id"])
}

func TestListUsersOmitsCredentials(t *testing.T) {
	srv, _, _ := newTestServer(t)
	registerUser(t, srv, "bobuser", "Secret1!", "bob@example.com")
	tok := loginUser(t, srv, "bobuser", "Secret1!")

	req, err := http.NewRequest("GET", srv.URL+"/api/users", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var users []map[string]interface{}
	require.NoError(t, jsonDecode(resp, &users))
	require.Len(t, users, 1)
	require.Equal(t, "bobuser", users[0]["username"])
	_, hasPassword := users[0]["password"]
	require.False(t, hasPassword)
}

func TestRoleEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	registerUser(t, srv, "bobuser", "Secret1!", "bob@example.com")
	tok := loginUser(t, srv, "bobuser", "Secret1!")
	auth := map[string]string{"Authorization": "Bearer " + tok}

	// unknown role name fails the enum parse
	resp := postJSON(t, srv.URL+"/api/roles", map[string]string{"name": "ROLE_WIZARD"}, auth)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// create, lowercase input normalized
	resp = postJSON(t, srv.URL+"/api/roles", map[string]string{"name": "role_admin"}, auth)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// conflict on second create
	resp = postJSON(t, srv.URL+"/api/roles", map[string]string{"name": "ROLE_ADMIN"}, auth)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// assign to an existing user
	resp = postJSON(t, srv.URL+"/api/user-roles", map[string]string{"username": "bobuser", "role": "ROLE_ADMIN"}, auth)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// repeated assignment is a no-op, not an error
	resp = postJSON(t, srv.URL+"/api/user-roles", map[string]string{"username": "bobuser", "role": "ROLE_ADMIN"}, auth)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// unknown user
	resp = postJSON(t, srv.URL+"/api/user-roles", map[string]string{"username": "nobody1", "role": "ROLE_ADMIN"}, auth)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// assigned role shows up on /api/me after a fresh login
	tok2 := loginUser(t, srv, "bobuser", "Secret1!")
	me := getWithToken(t, srv.URL+"/api/me", tok2)
	body := decodeBody(t, me)
	require.ElementsMatch(t, []interface{}{"ROLE_USER", "ROLE_ADMIN"}, body["authorities"])
}
